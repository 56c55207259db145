// Package transform_proxy bridges a generic "manipulate one object's
// transform" editing tool onto a slot inside a shared instance buffer, which
// has no independent object identity for the tool to grab. A proxy is a
// transient view created when one instance is selected and destroyed when
// selection ends; it holds (pool key, identity) and re-resolves the slot index
// from the pool on every access, since indices are not stable across deletions.
package transform_proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/goki/mat32"

	"github.com/stagehand-dev/stagehand/editor/instance_pool"
	"github.com/stagehand-dev/stagehand/editor/item_service"
)

// ErrInstanceNotFound is returned when the proxy's pool or identity no longer
// exists. Never fatal: the caller aborts the specific interaction.
var ErrInstanceNotFound = errors.New("transform_proxy: instance not found")

// Committer receives the committed transform when a proxy detaches, so the
// edit reaches the backend persistence layer. The duplication/deletion
// workflow satisfies this.
type Committer interface {
	// CommitTransform persists one instance's committed transform.
	//
	// Parameters:
	//   - ctx: the request context
	//   - assetSignature: the instance's pool key
	//   - identity: the instance's stable identity
	//   - transform: the committed placement
	//
	// Returns:
	//   - error: error if persistence fails
	CommitTransform(ctx context.Context, assetSignature, identity string, transform item_service.Transform) error
}

// transformProxy is the unexported implementation of TransformProxy.
type transformProxy struct {
	registry       instance_pool.PoolRegistry
	assetSignature string
	identity       string
	committer      Committer

	// Local transform state the editing tool mutates during a drag. The
	// composed matrix of these fields is the candidate state written through
	// to the pool on Apply.
	pos     mat32.Vec3
	rot     mat32.Quat
	scale   mat32.Vec3
	visible bool

	attached bool
}

// TransformProxy is the ephemeral single-object transform handle an editing
// tool manipulates. It reads and writes exactly one slot of exactly one pool.
// The proxy never caches its slot index: every write re-resolves the index
// from the identity, because a swap-remove of another instance can move this
// instance to a different slot at any time between attach and detach.
type TransformProxy interface {
	// AssetSignature returns the pool key this proxy targets.
	//
	// Returns:
	//   - string: the asset signature
	AssetSignature() string

	// Identity returns the instance identity this proxy targets.
	//
	// Returns:
	//   - string: the identity
	Identity() string

	// Attached returns whether the proxy currently holds a synchronized local transform.
	//
	// Returns:
	//   - bool: true after a successful Attach and before Detach
	Attached() bool

	// Attach resolves the instance's current slot, reads the pool's matrix,
	// and decomposes it into the proxy's local position/rotation/scale. This
	// is the only legitimate synchronization point from pool to proxy; it must
	// be re-run whenever the proxy is freshly pointed at an identity.
	//
	// Returns:
	//   - bool: false if the pool or identity is unknown
	Attach() bool

	// Position returns the proxy's local position.
	//
	// Returns:
	//   - mat32.Vec3: the position
	Position() mat32.Vec3

	// Rotation returns the proxy's local rotation.
	//
	// Returns:
	//   - mat32.Quat: the rotation
	Rotation() mat32.Quat

	// Scale returns the proxy's local scale.
	//
	// Returns:
	//   - mat32.Vec3: the scale
	Scale() mat32.Vec3

	// SetPosition updates the proxy's local position.
	//
	// Parameters:
	//   - x, y, z: new position components
	SetPosition(x, y, z float32)

	// SetRotation updates the proxy's local rotation.
	//
	// Parameters:
	//   - q: the new rotation
	SetRotation(q mat32.Quat)

	// SetRotationEuler updates the proxy's local rotation from XYZ Euler angles in radians.
	//
	// Parameters:
	//   - rx, ry, rz: rotation angles
	SetRotationEuler(rx, ry, rz float32)

	// SetScale updates the proxy's local scale.
	//
	// Parameters:
	//   - sx, sy, sz: new scale factors
	SetScale(sx, sy, sz float32)

	// Apply recomposes the proxy's matrix and writes it through the pool to
	// every part at the instance's current slot. Called each frame during a
	// drag, or at minimum at interaction end. The slot index is re-resolved on
	// every call.
	//
	// Returns:
	//   - bool: false if the proxy is detached or the instance vanished
	Apply() bool

	// Detach commits the interaction: the final matrix is written through,
	// decomposed into the instance's record via UpdateInstance, and emitted to
	// the persistence layer. The proxy is unusable afterwards until the next
	// Attach.
	//
	// Parameters:
	//   - ctx: the request context for backend persistence
	//
	// Returns:
	//   - error: ErrInstanceNotFound if the instance vanished, or a persistence error
	Detach(ctx context.Context) error
}

// compile-time check to ensure transformProxy implements TransformProxy.
var _ TransformProxy = &transformProxy{}

// NewTransformProxy creates a proxy targeting one instance of one pool. The
// proxy starts detached; call Attach before editing.
//
// Parameters:
//   - registry: the session's pool registry (must not be nil)
//   - assetSignature: the pool key of the target instance
//   - identity: the stable identity of the target instance
//   - options: functional options to configure the proxy
//
// Returns:
//   - TransformProxy: the newly created proxy
func NewTransformProxy(registry instance_pool.PoolRegistry, assetSignature, identity string, options ...TransformProxyBuilderOption) TransformProxy {
	if registry == nil {
		panic("transform_proxy: NewTransformProxy requires a non-nil PoolRegistry")
	}
	t := &transformProxy{
		registry:       registry,
		assetSignature: assetSignature,
		identity:       identity,
		scale:          mat32.Vec3{X: 1, Y: 1, Z: 1},
		visible:        true,
	}
	t.rot.SetIdentity()
	for _, option := range options {
		option(t)
	}
	return t
}

func (t *transformProxy) AssetSignature() string {
	return t.assetSignature
}

func (t *transformProxy) Identity() string {
	return t.identity
}

func (t *transformProxy) Attached() bool {
	return t.attached
}

func (t *transformProxy) Attach() bool {
	pool := t.registry.Pool(t.assetSignature)
	if pool == nil {
		return false
	}
	rec, ok := pool.Record(t.identity)
	if !ok {
		return false
	}

	m := rec.Matrix
	if !rec.Visible {
		// Hidden instances hold a collapsed matrix in the buffer; compose the
		// record's true transform so the proxy remains editable while hidden.
		m.SetTransform(rec.Position, mat32.NewQuatEuler(rec.RotationEuler), rec.Scale)
	} else {
		idx, ok := pool.IndexOf(t.identity)
		if !ok {
			return false
		}
		m, ok = pool.Matrix(idx)
		if !ok {
			return false
		}
	}

	pos, quat, scale := m.Decompose()
	t.pos = pos
	t.rot = quat
	t.scale = scale
	t.visible = rec.Visible
	t.attached = true
	return true
}

func (t *transformProxy) Position() mat32.Vec3 {
	return t.pos
}

func (t *transformProxy) Rotation() mat32.Quat {
	return t.rot
}

func (t *transformProxy) Scale() mat32.Vec3 {
	return t.scale
}

func (t *transformProxy) SetPosition(x, y, z float32) {
	t.pos = mat32.Vec3{X: x, Y: y, Z: z}
}

func (t *transformProxy) SetRotation(q mat32.Quat) {
	t.rot = q
}

func (t *transformProxy) SetRotationEuler(rx, ry, rz float32) {
	t.rot = mat32.NewQuatEuler(mat32.Vec3{X: rx, Y: ry, Z: rz})
}

func (t *transformProxy) SetScale(sx, sy, sz float32) {
	t.scale = mat32.Vec3{X: sx, Y: sy, Z: sz}
}

func (t *transformProxy) Apply() bool {
	if !t.attached {
		return false
	}
	pool := t.registry.Pool(t.assetSignature)
	if pool == nil {
		return false
	}
	// Re-resolve the slot on every write: a swap-remove since the last call
	// may have moved this instance.
	idx, ok := pool.IndexOf(t.identity)
	if !ok {
		return false
	}

	var m mat32.Mat4
	if t.visible {
		m.SetTransform(t.pos, t.rot, t.scale)
	}
	return pool.SetMatrix(idx, m)
}

func (t *transformProxy) Detach(ctx context.Context) error {
	if !t.attached {
		return fmt.Errorf("detach of unattached proxy for %q: %w", t.identity, ErrInstanceNotFound)
	}
	t.attached = false

	pool := t.registry.Pool(t.assetSignature)
	if pool == nil {
		return fmt.Errorf("pool %q gone: %w", t.assetSignature, ErrInstanceNotFound)
	}

	// Commit the final transform to the record, not just the raw buffer, so
	// the instance's durable state reflects the interaction.
	var m mat32.Mat4
	m.SetTransform(t.pos, t.rot, t.scale)
	pos, quat, scale := m.Decompose()
	euler := quat.ToEuler()

	update := instance_pool.RecordUpdate{
		Position:      &pos,
		RotationEuler: &euler,
		Scale:         &scale,
	}
	if !pool.UpdateInstance(t.identity, update) {
		return fmt.Errorf("instance %q gone: %w", t.identity, ErrInstanceNotFound)
	}

	if t.committer == nil {
		return nil
	}
	transform := item_service.TransformFromComponents(pos, euler, scale, t.visible)
	if err := t.committer.CommitTransform(ctx, t.assetSignature, t.identity, transform); err != nil {
		return fmt.Errorf("failed to persist committed transform for %q: %w", t.identity, err)
	}
	return nil
}
