package instance_pool

import (
	"github.com/goki/mat32"

	"github.com/stagehand-dev/stagehand/editor/render_bridge"
)

// instancePart is the unexported implementation of InstancePart.
// All mutation happens through the owning pool; the part itself never writes to
// its matrix mirror on its own, which is what keeps every part of one pool
// index-aligned.
type instancePart struct {
	// owner is the pool this part belongs to. Reads go through the owner so they
	// observe the pool's lock and live instance count.
	owner *instancePoolImpl

	// name is the sub-geometry identifier within the asset (e.g. "body", "glass").
	name string

	// geometry and material are the external renderer's references for this part.
	geometry render_bridge.GeometryRef
	material render_bridge.MaterialRef

	// provider holds the GPU-side resources for this part's shared instance buffer.
	provider render_bridge.InstanceBufferProvider

	// matrices is the CPU-side mirror of the part's shared instance matrix buffer.
	// matrices[i] always represents the same logical object as every sibling
	// part's matrices[i]. Sized to the pool's capacity; the pool's instance count
	// is authoritative for how many slots are live.
	matrices []mat32.Mat4

	// staging is a reusable byte slice for coalesced GPU writes, sized to the
	// pool's capacity. wgpu's queue.WriteBuffer copies data internally before
	// returning, so a single buffer reused every flush is safe.
	staging []byte
}

// InstancePart represents one drawable sub-component of a pooled asset. It
// exposes read-only access to the shared instance matrix mirror; writes go
// through the owning InstancePool so that all parts stay index-aligned.
type InstancePart interface {
	// Name returns the sub-geometry identifier within the asset.
	//
	// Returns:
	//   - string: the part name
	Name() string

	// Geometry returns the external renderer's geometry reference for this part.
	//
	// Returns:
	//   - render_bridge.GeometryRef: the geometry reference
	Geometry() render_bridge.GeometryRef

	// Material returns the external renderer's material reference for this part.
	//
	// Returns:
	//   - render_bridge.MaterialRef: the material reference
	Material() render_bridge.MaterialRef

	// Provider returns the GPU buffer provider backing this part's shared instance buffer.
	//
	// Returns:
	//   - render_bridge.InstanceBufferProvider: the provider
	Provider() render_bridge.InstanceBufferProvider

	// Matrix returns the matrix at the given slot of this part's mirror.
	// The second return is false when the index is outside the pool's live range.
	//
	// Parameters:
	//   - index: the instance slot index
	//
	// Returns:
	//   - mat32.Mat4: the matrix at the slot
	//   - bool: true if the index was within the live range
	Matrix(index uint32) (mat32.Mat4, bool)

	// MatrixData returns the live span of this part's CPU matrix mirror. The
	// external renderer must treat the returned slice as read-only and must
	// re-read it after any pool mutation.
	//
	// Returns:
	//   - []mat32.Mat4: the live matrix span
	MatrixData() []mat32.Mat4

	// Count returns the pool's live instance count. The renderer re-reads this
	// every frame for its instanced draw calls; it is never cached.
	//
	// Returns:
	//   - uint32: the live instance count
	Count() uint32
}

// compile-time check to ensure instancePart implements InstancePart.
var _ InstancePart = &instancePart{}

// newInstancePart creates a part with a CPU mirror and staging slice sized to
// capacity. The pool backfills the mirror when a part is registered after
// instances already exist.
func newInstancePart(pool *instancePoolImpl, name string, geometry render_bridge.GeometryRef, material render_bridge.MaterialRef) *instancePart {
	p := &instancePart{
		owner:    pool,
		name:     name,
		geometry: geometry,
		material: material,
		provider: render_bridge.NewInstanceBufferProvider(pool.assetSignature + "/" + name),
	}
	p.resize(pool.maxInstances)
	return p
}

// resize reallocates the CPU mirror and staging slice to the new capacity,
// preserving existing matrix data. Caller must hold the owning pool's lock.
func (p *instancePart) resize(capacity uint32) {
	next := make([]mat32.Mat4, capacity)
	copy(next, p.matrices)
	p.matrices = next
	p.staging = make([]byte, int(capacity)*matrixByteSize)
}

func (p *instancePart) Name() string {
	return p.name
}

func (p *instancePart) Geometry() render_bridge.GeometryRef {
	return p.geometry
}

func (p *instancePart) Material() render_bridge.MaterialRef {
	return p.material
}

func (p *instancePart) Provider() render_bridge.InstanceBufferProvider {
	return p.provider
}

func (p *instancePart) Matrix(index uint32) (mat32.Mat4, bool) {
	owner := p.owner
	if owner == nil {
		return mat32.Mat4{}, false
	}
	return owner.partMatrix(p, index)
}

func (p *instancePart) MatrixData() []mat32.Mat4 {
	owner := p.owner
	if owner == nil {
		return nil
	}
	return owner.partMatrixData(p)
}

func (p *instancePart) Count() uint32 {
	owner := p.owner
	if owner == nil {
		return 0
	}
	return owner.InstanceCount()
}
