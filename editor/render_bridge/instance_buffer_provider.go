package render_bridge

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// instanceBufferProvider is the unexported implementation of InstanceBufferProvider.
type instanceBufferProvider struct {
	// label is a debug label added for convenience.
	label string

	// The following fields are GPU allocated resources and must be released when no longer needed. They are populated by the Uploader during initialization, not by user-creation.

	// buffers holds the GPU buffers created for this provider, keyed by binding index.
	buffers map[int]*wgpu.Buffer

	// vertexBuffer is the GPU vertex buffer for the part's geometry, or nil if not initialized.
	vertexBuffer *wgpu.Buffer
	// indexBuffer is the GPU index buffer for the part's geometry, or nil if not initialized.
	indexBuffer *wgpu.Buffer
	// indexCount is the number of indices for draw calls, used by the external renderer to issue drawIndexed calls for this provider.
	indexCount int
}

// InstanceBufferProvider holds the GPU-side resources backing one instance part:
// the shared per-instance matrix buffer plus the part's mesh buffers. Instance
// pools stage BufferWrites against a provider; the Uploader resolves the target
// wgpu.Buffer by binding index and performs the queue write. The external
// renderer reads the vertex/index buffers for draw calls and must treat every
// buffer as read-only.
type InstanceBufferProvider interface {
	// Release releases any GPU resources held by this provider.
	Release()

	// Label returns the debug label for this provider.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// Buffer returns the GPU buffer for a specific binding, or nil if not initialized.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - *wgpu.Buffer: the buffer or nil
	Buffer(binding int) *wgpu.Buffer

	// Buffers returns a map of all buffers associated with this provider, keyed by binding index.
	//
	// Returns:
	//   - map[int]*wgpu.Buffer: a map of buffers keyed by binding index
	Buffers() map[int]*wgpu.Buffer

	// VertexBuffer returns the GPU vertex buffer, or nil if not initialized.
	//
	// Returns:
	//   - *wgpu.Buffer: the vertex buffer or nil
	VertexBuffer() *wgpu.Buffer

	// IndexBuffer returns the GPU index buffer, or nil if not initialized.
	//
	// Returns:
	//   - *wgpu.Buffer: the index buffer or nil
	IndexBuffer() *wgpu.Buffer

	// IndexCount returns the number of indices for draw calls.
	//
	// Returns:
	//   - int: the index count
	IndexCount() int

	// SetBuffer sets the GPU buffer for a specific binding.
	// Called by the Uploader after buffer creation.
	//
	// Parameters:
	//   - binding: the binding index
	//   - buf: the created buffer
	SetBuffer(binding int, buf *wgpu.Buffer)

	// SetVertexBuffer sets the GPU vertex buffer for the part's geometry.
	//
	// Parameters:
	//   - buf: the created vertex buffer
	SetVertexBuffer(buf *wgpu.Buffer)

	// SetIndexBuffer sets the GPU index buffer for the part's geometry.
	//
	// Parameters:
	//   - buf: the created index buffer
	SetIndexBuffer(buf *wgpu.Buffer)

	// SetIndexCount sets the number of indices for draw calls.
	//
	// Parameters:
	//   - count: the index count
	SetIndexCount(count int)
}

// compile-time check to ensure instanceBufferProvider implements InstanceBufferProvider.
var _ InstanceBufferProvider = &instanceBufferProvider{}

// NewInstanceBufferProvider creates a new InstanceBufferProvider with the given debug label.
//
// Parameters:
//   - label: a debug label for the provider
//
// Returns:
//   - InstanceBufferProvider: the newly created provider
func NewInstanceBufferProvider(label string) InstanceBufferProvider {
	return &instanceBufferProvider{
		label:   label,
		buffers: make(map[int]*wgpu.Buffer),
	}
}

func (p *instanceBufferProvider) Release() {
	for binding, buf := range p.buffers {
		if buf != nil {
			buf.Release()
		}
		delete(p.buffers, binding)
	}
	if p.vertexBuffer != nil {
		p.vertexBuffer.Release()
		p.vertexBuffer = nil
	}
	if p.indexBuffer != nil {
		p.indexBuffer.Release()
		p.indexBuffer = nil
	}
}

func (p *instanceBufferProvider) Label() string {
	return p.label
}

func (p *instanceBufferProvider) Buffer(binding int) *wgpu.Buffer {
	return p.buffers[binding]
}

func (p *instanceBufferProvider) Buffers() map[int]*wgpu.Buffer {
	return p.buffers
}

func (p *instanceBufferProvider) VertexBuffer() *wgpu.Buffer {
	return p.vertexBuffer
}

func (p *instanceBufferProvider) IndexBuffer() *wgpu.Buffer {
	return p.indexBuffer
}

func (p *instanceBufferProvider) IndexCount() int {
	return p.indexCount
}

func (p *instanceBufferProvider) SetBuffer(binding int, buf *wgpu.Buffer) {
	p.buffers[binding] = buf
}

func (p *instanceBufferProvider) SetVertexBuffer(buf *wgpu.Buffer) {
	p.vertexBuffer = buf
}

func (p *instanceBufferProvider) SetIndexBuffer(buf *wgpu.Buffer) {
	p.indexBuffer = buf
}

func (p *instanceBufferProvider) SetIndexCount(count int) {
	p.indexCount = count
}
