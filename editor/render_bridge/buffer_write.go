package render_bridge

// BufferWrite describes a single GPU buffer write operation targeting a specific binding
// on an InstanceBufferProvider at a given byte offset.
type BufferWrite struct {
	Provider InstanceBufferProvider
	Binding  int
	Offset   uint64
	Data     []byte
}
