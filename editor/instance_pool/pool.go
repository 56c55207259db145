package instance_pool

import (
	"fmt"
	"sync"

	"github.com/goki/mat32"

	"github.com/stagehand-dev/stagehand/common"
	"github.com/stagehand-dev/stagehand/editor/render_bridge"
)

const (
	// matrixByteSize is the GPU footprint of one mat4x4<f32> instance slot.
	matrixByteSize = 64

	// defaultMaxInstances is the initial slot capacity of a pool. Pools
	// auto-grow by doubling when the capacity is exceeded.
	defaultMaxInstances = 1024
)

// instancePoolImpl is a concrete implementation of the InstancePool.
type instancePoolImpl struct {
	mu *sync.Mutex

	// assetSignature is the deterministic key identifying the renderable asset this pool draws.
	assetSignature string

	// parts holds one entry per drawable sub-component of the asset. Every part's
	// matrix mirror shares a single index space: parts[a].matrices[i] and
	// parts[b].matrices[i] always represent the same logical object.
	parts []*instancePart

	// ids, indexOf, and records maintain the identity-index bijection.
	// indexOf is the exact inverse of ids: indexOf[ids[i]] == i for all live i.
	ids     []string
	indexOf map[string]int
	records map[string]InstanceRecord

	// maxInstances and instanceCount track the current capacity and number of live slots.
	maxInstances, instanceCount uint32

	// Sparse dirty tracking: dirtyIndices holds instance indices that were mutated since
	// the last Flush. dirtyBitset provides O(1) dedup so the same index isn't enqueued twice.
	// This avoids uploading large untouched spans when only a few scattered instances change.
	dirtyIndices []uint32
	dirtyBitset  []uint64 // 1 bit per instance index; word = index/64, bit = index%64

	// stagedWriteData is the slice of BufferWrites staged for the GPU. Flush fills it
	// with one write per part per contiguous dirty run; the Uploader drains it.
	stagedWriteData []render_bridge.BufferWrite

	// needsRebuild is set when the capacity changes and the parts' GPU buffers must
	// be recreated to match. Checked by the session's frame path before uploading.
	needsRebuild bool

	// pendingParts holds WithPart registrations until NewInstancePool finishes
	// applying options, so parts are created after a WithMaxInstances override.
	pendingParts []partRegistration
}

// partRegistration captures a WithPart option until construction completes.
type partRegistration struct {
	name     string
	geometry render_bridge.GeometryRef
	material render_bridge.MaterialRef
}

// InstancePool owns the instances of one renderable asset signature: the
// identity-index bijection, the per-instance records, and the index-aligned
// matrix mirrors of every part. All mutation goes through the pool; a write to
// one part's buffer at an index is always mirrored to every other part at that
// index within the same operation.
type InstancePool interface {
	// AssetSignature returns the deterministic key identifying the asset this pool draws.
	//
	// Returns:
	//   - string: the asset signature
	AssetSignature() string

	// Parts returns the pool's registered parts.
	//
	// Returns:
	//   - []InstancePart: the parts, one per drawable sub-component
	Parts() []InstancePart

	// RegisterPart adds a drawable sub-component to the pool. Called once per
	// distinct sub-geometry, normally when the pool is first created. When
	// instances already exist, the new part's matrix mirror is backfilled from
	// the current records so all parts stay index-aligned.
	//
	// Parameters:
	//   - name: the sub-geometry identifier within the asset
	//   - geometry: the external renderer's geometry reference
	//   - material: the external renderer's material reference
	//
	// Returns:
	//   - InstancePart: the newly registered part
	RegisterPart(name string, geometry render_bridge.GeometryRef, material render_bridge.MaterialRef) InstancePart

	// AddInstance appends a new instance at index = current count, writes its
	// composed matrix into every part, and records the identity-index mapping.
	// O(1) amortized; auto-grows the pool when capacity is exceeded.
	//
	// Parameters:
	//   - rec: the record to add; its identity must be non-empty and unused
	//
	// Returns:
	//   - uint32: the index of the newly added instance
	//   - error: an error if the identity is empty or already present
	AddInstance(rec InstanceRecord) (uint32, error)

	// UpdateInstance merges a partial update into the identified record. When a
	// transform or visibility field changed, the matrix is recomposed and written
	// to every part at the instance's index.
	//
	// Parameters:
	//   - identity: the instance to update
	//   - update: the fields to merge; nil fields are left untouched
	//
	// Returns:
	//   - bool: false if the identity is unknown; callers must check this
	UpdateInstance(identity string, update RecordUpdate) bool

	// DeleteInstance removes the identified instance by swap-remove: the last
	// slot's matrix is copied into the removed slot for every part, the moved
	// identity's index is reassigned, and the live count shrinks by one. O(1).
	// Any raw index held for the previously-last identity becomes stale.
	//
	// Parameters:
	//   - identity: the instance to delete
	//
	// Returns:
	//   - bool: false if the identity is unknown
	DeleteInstance(identity string) bool

	// DuplicateInstance appends a copy of the source instance under a new
	// identity, optionally recomposed with override fields.
	//
	// Parameters:
	//   - sourceIdentity: the instance to copy
	//   - newIdentity: the identity for the copy; must be unused
	//   - override: optional partial record merged into the copy, or nil
	//
	// Returns:
	//   - bool: false if the source is unknown or the new identity is taken
	DuplicateInstance(sourceIdentity, newIdentity string, override *RecordUpdate) bool

	// RemapIdentity atomically moves an instance's slot from one identity to
	// another, leaving the index and buffer contents untouched. Used by the
	// duplication workflow to confirm a temporary identity under the durable
	// identity assigned by the backend. The index is resolved at call time, so
	// the remap lands on the instance's current index even when swap-removes
	// reordered the pool since the instance was created.
	//
	// Parameters:
	//   - currentIdentity: the identity to remap from
	//   - newIdentity: the identity to remap to; must be unused
	//
	// Returns:
	//   - bool: false if currentIdentity is unknown or newIdentity is taken
	RemapIdentity(currentIdentity, newIdentity string) bool

	// Matrix returns the composed matrix at the given slot.
	//
	// Parameters:
	//   - index: the instance slot index
	//
	// Returns:
	//   - mat32.Mat4: the matrix at the slot
	//   - bool: false if the index is outside the live range
	Matrix(index uint32) (mat32.Mat4, bool)

	// SetMatrix writes a matrix to the given slot of every part, never a subset.
	// This is the raw bridge for the transform proxy; committed state must also
	// go through UpdateInstance so the record reflects it.
	//
	// Parameters:
	//   - index: the instance slot index
	//   - m: the matrix to write
	//
	// Returns:
	//   - bool: false if the index is outside the live range
	SetMatrix(index uint32, m mat32.Mat4) bool

	// IndexOf resolves an identity to its current slot index. Indices are not
	// stable across deletions; resolve again before every raw buffer access.
	//
	// Parameters:
	//   - identity: the identity to resolve
	//
	// Returns:
	//   - uint32: the current index
	//   - bool: false if the identity is unknown
	IndexOf(identity string) (uint32, bool)

	// Record returns a copy of the identified record.
	//
	// Parameters:
	//   - identity: the identity to look up
	//
	// Returns:
	//   - InstanceRecord: the record copy
	//   - bool: false if the identity is unknown
	Record(identity string) (InstanceRecord, bool)

	// Identities returns a copy of the identity list in index order.
	//
	// Returns:
	//   - []string: identities such that the value at position i lives at slot i
	Identities() []string

	// InstanceCount returns the current number of live instances.
	//
	// Returns:
	//   - uint32: the live instance count
	InstanceCount() uint32

	// MaxInstances returns the current slot capacity.
	//
	// Returns:
	//   - uint32: the capacity
	MaxInstances() uint32

	// Grow increases the slot capacity to newMax, preserving all instance data.
	// CPU-side mirrors are reallocated, all live slots are marked dirty for
	// re-upload, and the needsRebuild flag is set so GPU buffers get recreated.
	// No-op if newMax is less than or equal to the current capacity.
	//
	// Parameters:
	//   - newMax: the new slot capacity
	Grow(newMax uint32)

	// NeedsRebuild returns whether the parts' GPU buffers must be recreated due
	// to a capacity change.
	//
	// Returns:
	//   - bool: true if GPU buffers are stale
	NeedsRebuild() bool

	// ClearNeedsRebuild resets the rebuild flag after GPU buffers have been recreated.
	ClearNeedsRebuild()

	// Flush stages the dirty instance data of every part as coalesced buffer
	// writes targeting the given binding. Adjacent dirty indices merge into
	// single writes to minimize GPU write commands.
	//
	// Parameters:
	//   - binding: the bind group binding index for the per-instance matrix buffer
	//
	// Returns:
	//   - uint32: the number of instances that were staged
	Flush(binding int) uint32

	// StagedWrites returns and clears the staged buffer writes.
	//
	// Returns:
	//   - []render_bridge.BufferWrite: the writes staged since the last drain
	StagedWrites() []render_bridge.BufferWrite

	// VerifyIntegrity checks the pool's structural invariants: the id list,
	// index map, and record map agree in size and content, every part mirrors
	// the same live range, and every live slot holds the identical matrix in
	// every part. A violation is a programming error that corrupts every
	// subsequent index-based operation, so callers should treat a non-nil
	// return as fatal.
	//
	// Returns:
	//   - error: a description of the first violation found, or nil
	VerifyIntegrity() error

	// Release drops the pool's CPU mirrors and releases every part's GPU resources.
	Release()
}

// compile-time check to ensure instancePoolImpl implements InstancePool.
var _ InstancePool = &instancePoolImpl{}

// NewInstancePool creates a pool for the given asset signature.
//
// Parameters:
//   - assetSignature: the deterministic key identifying the renderable asset
//   - options: functional options to configure the pool
//
// Returns:
//   - InstancePool: the newly created pool
func NewInstancePool(assetSignature string, options ...InstancePoolBuilderOption) InstancePool {
	p := &instancePoolImpl{
		mu:             &sync.Mutex{},
		assetSignature: assetSignature,
		maxInstances:   defaultMaxInstances,
		indexOf:        make(map[string]int),
		records:        make(map[string]InstanceRecord),
	}
	for _, option := range options {
		option(p)
	}
	p.ids = make([]string, 0, p.maxInstances)
	p.dirtyIndices = make([]uint32, 0, p.maxInstances)
	p.dirtyBitset = make([]uint64, (p.maxInstances+63)/64)
	p.stagedWriteData = make([]render_bridge.BufferWrite, 0, 2)
	for _, reg := range p.pendingParts {
		p.parts = append(p.parts, newInstancePart(p, reg.name, reg.geometry, reg.material))
	}
	p.pendingParts = nil
	return p
}

func (p *instancePoolImpl) AssetSignature() string {
	return p.assetSignature
}

func (p *instancePoolImpl) Parts() []InstancePart {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]InstancePart, len(p.parts))
	for i, part := range p.parts {
		out[i] = part
	}
	return out
}

func (p *instancePoolImpl) RegisterPart(name string, geometry render_bridge.GeometryRef, material render_bridge.MaterialRef) InstancePart {
	p.mu.Lock()
	defer p.mu.Unlock()

	part := newInstancePart(p, name, geometry, material)

	// Backfill the new mirror from the current records so the part joins the
	// shared index space already aligned with its siblings.
	for i, id := range p.ids {
		part.matrices[i] = p.records[id].Matrix
	}
	p.parts = append(p.parts, part)

	// Existing slots must reach the new part's GPU buffer on the next flush.
	for i := uint32(0); i < p.instanceCount; i++ {
		p.enqueueDirty(i)
	}
	return part
}

func (p *instancePoolImpl) AddInstance(rec InstanceRecord) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rec.Identity == "" {
		return 0, fmt.Errorf("instance_pool: cannot add an instance with an empty identity")
	}
	if _, exists := p.indexOf[rec.Identity]; exists {
		return 0, fmt.Errorf("instance_pool: identity %q already present in pool %q", rec.Identity, p.assetSignature)
	}

	if p.instanceCount >= p.maxInstances {
		// Auto-grow: double capacity (minimum 8).
		p.growLocked(max(p.maxInstances*2, 8))
	}

	idx := p.instanceCount
	rec.ComposeMatrix()
	p.ids = append(p.ids, rec.Identity)
	p.indexOf[rec.Identity] = int(idx)
	p.records[rec.Identity] = rec
	p.writeMatrixLocked(idx, rec.Matrix)
	p.instanceCount++
	return idx, nil
}

func (p *instancePoolImpl) UpdateInstance(identity string, update RecordUpdate) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, exists := p.indexOf[identity]
	if !exists {
		return false
	}

	rec := p.records[identity]
	if update.apply(&rec) {
		rec.ComposeMatrix()
		p.writeMatrixLocked(uint32(idx), rec.Matrix)
	}
	p.records[identity] = rec
	return true
}

func (p *instancePoolImpl) DeleteInstance(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, exists := p.indexOf[identity]
	if !exists {
		return false
	}

	i := uint32(idx)
	last := p.instanceCount - 1

	if i != last {
		// Swap-remove: copy the last slot's matrix into the removed slot for
		// every part and reassign the moved identity's index. Any proxy holding
		// the moved identity's raw index is now stale and must re-resolve.
		movedID := p.ids[last]
		for _, part := range p.parts {
			part.matrices[i] = part.matrices[last]
		}
		p.ids[i] = movedID
		p.indexOf[movedID] = int(i)
		p.enqueueDirty(i)
	}

	// Zero out the now-unused last slot and shrink.
	for _, part := range p.parts {
		part.matrices[last] = mat32.Mat4{}
	}
	p.ids = p.ids[:last]
	delete(p.indexOf, identity)
	delete(p.records, identity)
	p.instanceCount--
	return true
}

func (p *instancePoolImpl) DuplicateInstance(sourceIdentity, newIdentity string, override *RecordUpdate) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	src, exists := p.records[sourceIdentity]
	if !exists {
		return false
	}
	if newIdentity == "" {
		return false
	}
	if _, taken := p.indexOf[newIdentity]; taken {
		return false
	}

	rec := src
	rec.Identity = newIdentity
	if override != nil && override.apply(&rec) {
		rec.ComposeMatrix()
	}

	if p.instanceCount >= p.maxInstances {
		p.growLocked(max(p.maxInstances*2, 8))
	}

	idx := p.instanceCount
	p.ids = append(p.ids, newIdentity)
	p.indexOf[newIdentity] = int(idx)
	p.records[newIdentity] = rec
	p.writeMatrixLocked(idx, rec.Matrix)
	p.instanceCount++
	return true
}

func (p *instancePoolImpl) RemapIdentity(currentIdentity, newIdentity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, exists := p.indexOf[currentIdentity]
	if !exists {
		return false
	}
	if newIdentity == "" || newIdentity == currentIdentity {
		return false
	}
	if _, taken := p.indexOf[newIdentity]; taken {
		return false
	}

	rec := p.records[currentIdentity]
	rec.Identity = newIdentity

	p.ids[idx] = newIdentity
	p.indexOf[newIdentity] = idx
	p.records[newIdentity] = rec
	delete(p.indexOf, currentIdentity)
	delete(p.records, currentIdentity)
	// Buffer contents and index are untouched: the slot already holds the
	// correct matrix, only the identity naming it changed.
	return true
}

func (p *instancePoolImpl) Matrix(index uint32) (mat32.Mat4, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index >= p.instanceCount || len(p.parts) == 0 {
		return mat32.Mat4{}, false
	}
	return p.parts[0].matrices[index], true
}

func (p *instancePoolImpl) SetMatrix(index uint32, m mat32.Mat4) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index >= p.instanceCount {
		return false
	}
	p.writeMatrixLocked(index, m)
	return true
}

func (p *instancePoolImpl) IndexOf(identity string) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, exists := p.indexOf[identity]
	if !exists {
		return 0, false
	}
	return uint32(idx), true
}

func (p *instancePoolImpl) Record(identity string) (InstanceRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, exists := p.records[identity]
	return rec, exists
}

func (p *instancePoolImpl) Identities() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

func (p *instancePoolImpl) InstanceCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instanceCount
}

func (p *instancePoolImpl) MaxInstances() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInstances
}

func (p *instancePoolImpl) Grow(newMax uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.growLocked(newMax)
}

// growLocked increases the capacity to newMax, preserving all instance data.
// Caller must hold p.mu. No-op if newMax is not larger than the current capacity.
func (p *instancePoolImpl) growLocked(newMax uint32) {
	if newMax <= p.maxInstances {
		return
	}

	for _, part := range p.parts {
		part.resize(newMax)
	}
	p.maxInstances = newMax

	// Mark every live instance dirty for full re-upload after the GPU buffers
	// are rebuilt. The bitset is rebuilt for the new capacity first.
	p.dirtyBitset = make([]uint64, (newMax+63)/64)
	p.dirtyIndices = p.dirtyIndices[:0]
	for i := uint32(0); i < p.instanceCount; i++ {
		p.enqueueDirty(i)
	}

	// Discard stale staged writes and signal rebuild.
	p.stagedWriteData = p.stagedWriteData[:0]
	p.needsRebuild = true
}

func (p *instancePoolImpl) NeedsRebuild() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.needsRebuild
}

func (p *instancePoolImpl) ClearNeedsRebuild() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.needsRebuild = false
}

func (p *instancePoolImpl) Flush(binding int) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dirtyIndices) == 0 || p.needsRebuild {
		return 0
	}

	// Sort dirty indices so adjacent ones coalesce into contiguous buffer
	// writes, minimizing GPU write commands while only uploading mutated data.
	sortUint32(p.dirtyIndices)

	count := uint32(len(p.dirtyIndices))

	runStart := p.dirtyIndices[0]
	runEnd := runStart + 1 // exclusive

	for i := 1; i < len(p.dirtyIndices); i++ {
		idx := p.dirtyIndices[i]
		if idx == runEnd {
			runEnd++
		} else {
			p.flushRange(runStart, runEnd, binding)
			runStart = idx
			runEnd = idx + 1
		}
	}
	p.flushRange(runStart, runEnd, binding)

	// Clear dirty state: reset indices slice and zero the bitset.
	p.dirtyIndices = p.dirtyIndices[:0]
	for i := range p.dirtyBitset {
		p.dirtyBitset[i] = 0
	}

	return count
}

func (p *instancePoolImpl) StagedWrites() []render_bridge.BufferWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.stagedWriteData
	p.stagedWriteData = p.stagedWriteData[:0]
	return w
}

func (p *instancePoolImpl) VerifyIntegrity() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := int(p.instanceCount)
	if len(p.ids) != n || len(p.indexOf) != n || len(p.records) != n {
		return fmt.Errorf("instance_pool: pool %q size mismatch: count=%d ids=%d indexOf=%d records=%d",
			p.assetSignature, n, len(p.ids), len(p.indexOf), len(p.records))
	}
	for i, id := range p.ids {
		idx, exists := p.indexOf[id]
		if !exists || idx != i {
			return fmt.Errorf("instance_pool: pool %q bijection broken: ids[%d]=%q but indexOf[%q]=%d (present=%t)",
				p.assetSignature, i, id, id, idx, exists)
		}
		rec, exists := p.records[id]
		if !exists {
			return fmt.Errorf("instance_pool: pool %q missing record for identity %q", p.assetSignature, id)
		}
		for _, part := range p.parts {
			if part.matrices[i] != rec.Matrix {
				return fmt.Errorf("instance_pool: pool %q part %q desynchronized at index %d for identity %q",
					p.assetSignature, part.name, i, id)
			}
		}
	}
	for _, part := range p.parts {
		if uint32(len(part.matrices)) != p.maxInstances {
			return fmt.Errorf("instance_pool: pool %q part %q capacity mismatch: %d != %d",
				p.assetSignature, part.name, len(part.matrices), p.maxInstances)
		}
	}
	return nil
}

func (p *instancePoolImpl) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, part := range p.parts {
		if part.provider != nil {
			part.provider.Release()
		}
		part.matrices = nil
		part.staging = nil
		part.owner = nil
	}
	p.parts = nil
	p.ids = nil
	p.indexOf = nil
	p.records = nil
	p.dirtyIndices = nil
	p.dirtyBitset = nil
	p.stagedWriteData = nil
	p.instanceCount = 0
}

// writeMatrixLocked writes a matrix to the given slot of every part and marks
// the slot dirty. This is the single fan-out point: no caller may write to a
// subset of parts. Caller must hold p.mu.
func (p *instancePoolImpl) writeMatrixLocked(index uint32, m mat32.Mat4) {
	for _, part := range p.parts {
		part.matrices[index] = m
	}
	p.enqueueDirty(index)
}

// enqueueDirty adds an instance index to the dirty queue if not already present.
// Uses a bitset for O(1) dedup. Caller must hold p.mu.
func (p *instancePoolImpl) enqueueDirty(index uint32) {
	word := index / 64
	bit := uint64(1) << (index % 64)
	if p.dirtyBitset[word]&bit != 0 {
		return // already queued
	}
	p.dirtyBitset[word] |= bit
	p.dirtyIndices = append(p.dirtyIndices, index)
}

// flushRange stages a contiguous run of dirty instance data [start, end) as a
// single GPU buffer write per part. Caller must hold p.mu.
func (p *instancePoolImpl) flushRange(start, end uint32, binding int) {
	offset := uint64(start) * matrixByteSize
	for _, part := range p.parts {
		raw := common.SliceToBytes(part.matrices[start:end])
		buf := part.staging[offset : offset+uint64(len(raw))]
		copy(buf, raw)

		p.stagedWriteData = append(p.stagedWriteData, render_bridge.BufferWrite{
			Provider: part.provider,
			Binding:  binding,
			Offset:   offset,
			Data:     buf,
		})
	}
}

// partMatrix reads one slot of a part's mirror under the pool lock.
func (p *instancePoolImpl) partMatrix(part *instancePart, index uint32) (mat32.Mat4, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index >= p.instanceCount {
		return mat32.Mat4{}, false
	}
	return part.matrices[index], true
}

// partMatrixData returns the live span of a part's mirror.
func (p *instancePoolImpl) partMatrixData(part *instancePart) []mat32.Mat4 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return part.matrices[:p.instanceCount]
}

// sortUint32 sorts a uint32 slice in ascending order using insertion sort.
// For the typical dirty queue sizes (0 to a few hundred), insertion sort
// outperforms sort.Slice due to zero allocation and low overhead.
func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
