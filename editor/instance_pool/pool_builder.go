package instance_pool

import (
	"github.com/stagehand-dev/stagehand/editor/render_bridge"
)

// InstancePoolBuilderOption is a functional option for configuring an InstancePool during construction.
type InstancePoolBuilderOption func(*instancePoolImpl)

// WithMaxInstances sets the initial slot capacity of the pool. The pool still
// auto-grows by doubling when the capacity is exceeded. Values <= 0 leave the default.
//
// Parameters:
//   - maxInstances: the initial slot capacity
//
// Returns:
//   - InstancePoolBuilderOption: functional option to set the capacity
func WithMaxInstances(maxInstances uint32) InstancePoolBuilderOption {
	return func(p *instancePoolImpl) {
		if maxInstances > 0 {
			p.maxInstances = maxInstances
		}
	}
}

// WithPart registers a drawable sub-component during pool construction.
// Equivalent to calling RegisterPart on the finished pool.
//
// Parameters:
//   - name: the sub-geometry identifier within the asset
//   - geometry: the external renderer's geometry reference
//   - material: the external renderer's material reference
//
// Returns:
//   - InstancePoolBuilderOption: functional option to register the part
func WithPart(name string, geometry render_bridge.GeometryRef, material render_bridge.MaterialRef) InstancePoolBuilderOption {
	return func(p *instancePoolImpl) {
		p.pendingParts = append(p.pendingParts, partRegistration{
			name:     name,
			geometry: geometry,
			material: material,
		})
	}
}
