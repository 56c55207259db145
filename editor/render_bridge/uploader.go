package render_bridge

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/cogentcore/webgpu/wgpu"
)

const (
	// flushQueueSize accommodates typical pool counts with headroom.
	flushQueueSize = 256
	// flushIdleTimeout lets idle flush workers exit between editing bursts.
	flushIdleTimeout = 1 * time.Second
)

// Flusher is the contract an instance pool satisfies so the Uploader can drive
// its per-frame staging without importing the pool package. Flush coalesces the
// pool's dirty instance data into staged BufferWrites; StagedWrites drains them.
type Flusher interface {
	// Flush stages the pool's dirty instance data as coalesced buffer writes targeting the given binding.
	//
	// Parameters:
	//   - binding: the bind group binding index for the per-instance matrix buffer
	//
	// Returns:
	//   - uint32: the number of instances that were staged
	Flush(binding int) uint32

	// StagedWrites returns and clears the pool's pending buffer writes.
	//
	// Returns:
	//   - []BufferWrite: the staged writes since the last drain
	StagedWrites() []BufferWrite
}

// uploaderImpl is a concrete implementation of the Uploader.
type uploaderImpl struct {
	mu *sync.Mutex

	device *wgpu.Device
	queue  *wgpu.Queue

	// writePool is a reusable slice for the coalesced per-frame write submission, to avoid heap allocations.
	writePool []BufferWrite

	// flushPool manages a bounded set of reusable goroutines for the parallel
	// flush phase of FlushAll. Workers persist across frames, avoiding
	// per-frame goroutine spawn/teardown overhead.
	flushPool    worker.DynamicWorkerPool
	flushWorkers int
}

// Uploader drains staged buffer writes from instance pools to the GPU queue.
// FlushAll runs every pool's Flush in parallel on a persistent worker pool,
// then collects all staged writes into a single coalesced queue submission.
type Uploader interface {
	// WriteBuffers writes all staged buffer writes to the GPU queue.
	// Writes whose provider has no buffer at the target binding are skipped.
	//
	// Parameters:
	//   - writes: the staged writes to submit
	WriteBuffers(writes []BufferWrite)

	// FlushAll flushes all given pools in parallel, then submits their staged
	// writes to the GPU queue in one pass. Should be called once per frame,
	// after all pool mutations for the frame are complete.
	//
	// Parameters:
	//   - binding: the bind group binding index for the per-instance matrix buffers
	//   - pools: the pools to flush
	//
	// Returns:
	//   - uint32: the total number of instances staged across all pools
	FlushAll(binding int, pools ...Flusher) uint32

	// InitInstanceBuffer creates the GPU storage buffer backing a part's shared
	// instance matrix data and registers it on the provider at the given binding.
	// Safe to call again after a capacity change; the previous buffer is released.
	//
	// Parameters:
	//   - provider: the part's buffer provider
	//   - binding: the binding index for the instance matrix buffer
	//   - size: the buffer size in bytes (capacity × 64)
	//
	// Returns:
	//   - error: error if buffer creation fails
	InitInstanceBuffer(provider InstanceBufferProvider, binding int, size uint64) error

	// InitMeshBuffers creates the GPU vertex and index buffers for a part's
	// geometry and uploads the given data.
	//
	// Parameters:
	//   - provider: the part's buffer provider
	//   - vertexData: raw vertex data bytes (may be empty)
	//   - indexData: raw index data bytes (may be empty)
	//   - indexCount: the number of indices for draw calls
	//
	// Returns:
	//   - error: error if buffer creation fails
	InitMeshBuffers(provider InstanceBufferProvider, vertexData, indexData []byte, indexCount int) error

	// Release drops the uploader's reusable staging state. GPU resources held
	// by providers are released by their owners, not the uploader.
	Release()
}

// compile-time check to ensure uploaderImpl implements Uploader.
var _ Uploader = &uploaderImpl{}

// NewUploader creates a new Uploader configured with the given options.
// Without a WithDevice option the uploader runs in detached mode: staged
// writes are drained and counted but no GPU submission occurs. Detached mode
// is what headless sessions and tests use.
//
// Parameters:
//   - options: functional options to configure the uploader
//
// Returns:
//   - Uploader: the newly created uploader
func NewUploader(options ...UploaderBuilderOption) Uploader {
	u := &uploaderImpl{
		mu:           &sync.Mutex{},
		flushWorkers: defaultFlushWorkers(),
		writePool:    make([]BufferWrite, 0, 8),
	}
	for _, option := range options {
		option(u)
	}
	u.flushPool = worker.NewDynamicWorkerPool(u.flushWorkers, flushQueueSize, flushIdleTimeout)
	return u
}

func (u *uploaderImpl) WriteBuffers(writes []BufferWrite) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.writeBuffersLocked(writes)
}

// writeBuffersLocked submits writes to the GPU queue. Caller must hold u.mu.
func (u *uploaderImpl) writeBuffersLocked(writes []BufferWrite) {
	if u.queue == nil {
		return // detached mode
	}
	for _, w := range writes {
		buf := w.Provider.Buffer(w.Binding)
		if buf == nil {
			continue
		}
		u.queue.WriteBuffer(buf, w.Offset, w.Data)
	}
}

func (u *uploaderImpl) FlushAll(binding int, pools ...Flusher) uint32 {
	// Phase 1: parallel flush — submit each pool's staging work to the worker
	// pool. A WaitGroup provides the per-frame barrier since pool.Wait() blocks
	// until workers idle-exit, which is unsuitable for frame-rate workloads.
	var wg sync.WaitGroup
	var staged atomic.Uint32
	for i, p := range pools {
		wg.Add(1)
		pCap := p // capture for closure
		u.flushPool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				staged.Add(pCap.Flush(binding))
				return nil, nil
			},
		})
	}
	wg.Wait()

	// Phase 2: coalesced GPU submission — collect all buffer writes from all
	// pools into a single slice, then submit once. This reduces queue mutex
	// acquisitions from N to 1 for writes.
	u.mu.Lock()
	defer u.mu.Unlock()
	allWrites := u.writePool[:0]
	for _, p := range pools {
		allWrites = append(allWrites, p.StagedWrites()...)
	}
	u.writePool = allWrites
	u.writeBuffersLocked(allWrites)
	return staged.Load()
}

// defaultFlushWorkers reserves one CPU for the render thread, matching the
// parallel prep worker count the frame loop uses.
func defaultFlushWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

func (u *uploaderImpl) InitInstanceBuffer(provider InstanceBufferProvider, binding int, size uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.device == nil {
		return nil // detached mode
	}

	if old := provider.Buffer(binding); old != nil {
		old.Release()
	}

	buf, err := u.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            provider.Label() + " Instance Buffer",
		Size:             size,
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return err
	}
	provider.SetBuffer(binding, buf)
	return nil
}

func (u *uploaderImpl) InitMeshBuffers(provider InstanceBufferProvider, vertexData, indexData []byte, indexCount int) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.device == nil {
		return nil // detached mode
	}

	if len(vertexData) > 0 {
		buf, err := u.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label:            provider.Label() + " Vertex Buffer",
			Size:             uint64(len(vertexData)),
			Usage:            wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
			MappedAtCreation: false,
		})
		if err != nil {
			return err
		}
		u.queue.WriteBuffer(buf, 0, vertexData)
		provider.SetVertexBuffer(buf)
	}

	if len(indexData) > 0 {
		buf, err := u.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label:            provider.Label() + " Index Buffer",
			Size:             uint64(len(indexData)),
			Usage:            wgpu.BufferUsageIndex | wgpu.BufferUsageCopyDst,
			MappedAtCreation: false,
		})
		if err != nil {
			return err
		}
		u.queue.WriteBuffer(buf, 0, indexData)
		provider.SetIndexBuffer(buf)
	}

	provider.SetIndexCount(indexCount)
	return nil
}

func (u *uploaderImpl) Release() {
	u.mu.Lock()
	defer u.mu.Unlock()
	// Flush workers idle-exit on their own after flushIdleTimeout; only the
	// reusable write slice needs dropping.
	u.writePool = nil
}
