package render_bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFlusher hands out a fixed set of staged writes once per flush cycle.
type stubFlusher struct {
	mu      sync.Mutex
	staged  uint32
	writes  []BufferWrite
	flushed int
	drained int
}

func (f *stubFlusher) Flush(_ int) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return f.staged
}

func (f *stubFlusher) StagedWrites() []BufferWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained++
	w := f.writes
	f.writes = nil
	return w
}

func TestFlushAll(t *testing.T) {
	t.Run("flushes every pool and sums the staged counts", func(t *testing.T) {
		u := NewUploader(WithFlushWorkers(2))
		defer u.Release()

		a := &stubFlusher{staged: 3, writes: []BufferWrite{{Offset: 0}, {Offset: 64}}}
		b := &stubFlusher{staged: 2, writes: []BufferWrite{{Offset: 128}}}

		total := u.FlushAll(1, a, b)
		assert.Equal(t, uint32(5), total)
		assert.Equal(t, 1, a.flushed)
		assert.Equal(t, 1, b.flushed)
		assert.Equal(t, 1, a.drained)
		assert.Equal(t, 1, b.drained)
	})

	t.Run("returns zero with no pools", func(t *testing.T) {
		u := NewUploader()
		defer u.Release()
		assert.Equal(t, uint32(0), u.FlushAll(1))
	})

	t.Run("drains pools across repeated frames", func(t *testing.T) {
		u := NewUploader(WithFlushWorkers(1))
		defer u.Release()

		f := &stubFlusher{staged: 1, writes: []BufferWrite{{Offset: 0}}}
		require.Equal(t, uint32(1), u.FlushAll(1, f))

		// Second frame: nothing staged anymore.
		f.staged = 0
		assert.Equal(t, uint32(0), u.FlushAll(1, f))
		assert.Equal(t, 2, f.flushed)
	})
}

func TestDetachedMode(t *testing.T) {
	// Without a device the uploader counts and drains but never touches GPU
	// state; init calls are no-ops.
	u := NewUploader()
	defer u.Release()

	provider := NewInstanceBufferProvider("test-part")
	defer provider.Release()

	require.NoError(t, u.InitInstanceBuffer(provider, 1, 64*1024))
	assert.Nil(t, provider.Buffer(1))

	require.NoError(t, u.InitMeshBuffers(provider, []byte{1, 2, 3, 4}, []byte{0, 0}, 2))
	assert.Nil(t, provider.VertexBuffer())
	assert.Nil(t, provider.IndexBuffer())

	// WriteBuffers with staged data must not panic in detached mode.
	u.WriteBuffers([]BufferWrite{{Provider: provider, Binding: 1, Offset: 0, Data: make([]byte, 64)}})
}
