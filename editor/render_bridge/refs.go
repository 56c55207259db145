package render_bridge

// GeometryRef identifies one sub-geometry of a renderable asset. The external
// renderer resolves Mesh to the vertex/index buffers for draw calls; the
// instance pool only carries the reference so that all parts of one logical
// asset stay addressable through their shared index space.
type GeometryRef struct {
	// Name is the sub-geometry identifier within the source asset (e.g. "body", "glass").
	Name string
	// Mesh holds the GPU mesh buffers for this geometry, or nil before GPU initialization.
	Mesh InstanceBufferProvider
}

// MaterialRef identifies the material applied to one sub-geometry.
type MaterialRef struct {
	// Name is the material identifier within the source asset.
	Name string
	// Textures holds the GPU texture/sampler resources for this material, or nil before GPU initialization.
	Textures InstanceBufferProvider
}
