package instance_pool

import (
	"github.com/goki/mat32"
)

// InstanceRecord holds one logical object's transform and visibility. Records are
// owned exclusively by the InstancePool that holds them; they are mutated only by
// the pool's own operations and by a TransformProxy writing back through the pool.
// Matrix is derived state: it is recomputed by ComposeMatrix whenever position,
// rotation, or scale change and is never an independent source of truth.
type InstanceRecord struct {
	// Identity is the stable logical identity backing this record. Durable
	// identities are assigned by the backend; temporary identities carry the
	// duplication workflow's namespace prefix until confirmed.
	Identity string

	// Position is the instance's world position.
	Position mat32.Vec3
	// RotationEuler is the instance's rotation as XYZ Euler angles in radians.
	RotationEuler mat32.Vec3
	// Scale is the instance's per-axis scale.
	Scale mat32.Vec3

	// Visible controls whether the instance contributes a drawable matrix to the
	// shared buffers. Hidden instances keep their slot and true transform; only
	// the buffered matrix collapses to zero scale so the renderer draws nothing.
	Visible bool

	// Matrix is the cached composed transform. Derived from the fields above.
	Matrix mat32.Mat4
}

// InstanceRecordOption is a functional option for configuring an InstanceRecord during construction.
type InstanceRecordOption func(*InstanceRecord)

// NewInstanceRecord creates an InstanceRecord for the given identity with unit
// scale, identity rotation, and visibility enabled, then applies the options
// and composes the cached matrix.
//
// Parameters:
//   - identity: the stable logical identity for the record
//   - options: functional options to configure the record
//
// Returns:
//   - InstanceRecord: the configured record with its matrix composed
func NewInstanceRecord(identity string, options ...InstanceRecordOption) InstanceRecord {
	rec := InstanceRecord{
		Identity: identity,
		Scale:    mat32.Vec3{X: 1, Y: 1, Z: 1},
		Visible:  true,
	}
	for _, option := range options {
		option(&rec)
	}
	rec.ComposeMatrix()
	return rec
}

// WithPosition sets the record's position.
//
// Parameters:
//   - x, y, z: position components
//
// Returns:
//   - InstanceRecordOption: functional option to set the position
func WithPosition(x, y, z float32) InstanceRecordOption {
	return func(rec *InstanceRecord) {
		rec.Position = mat32.Vec3{X: x, Y: y, Z: z}
	}
}

// WithRotation sets the record's rotation as XYZ Euler angles in radians.
//
// Parameters:
//   - rx, ry, rz: rotation angles
//
// Returns:
//   - InstanceRecordOption: functional option to set the rotation
func WithRotation(rx, ry, rz float32) InstanceRecordOption {
	return func(rec *InstanceRecord) {
		rec.RotationEuler = mat32.Vec3{X: rx, Y: ry, Z: rz}
	}
}

// WithScale sets the record's scale.
//
// Parameters:
//   - sx, sy, sz: scale factors
//
// Returns:
//   - InstanceRecordOption: functional option to set the scale
func WithScale(sx, sy, sz float32) InstanceRecordOption {
	return func(rec *InstanceRecord) {
		rec.Scale = mat32.Vec3{X: sx, Y: sy, Z: sz}
	}
}

// WithVisible sets the record's visibility.
//
// Parameters:
//   - visible: true to contribute a drawable matrix to the shared buffers
//
// Returns:
//   - InstanceRecordOption: functional option to set the visibility
func WithVisible(visible bool) InstanceRecordOption {
	return func(rec *InstanceRecord) {
		rec.Visible = visible
	}
}

// ComposeMatrix recomputes the cached matrix from position, rotation, and scale.
// Hidden records compose to the zero matrix so their buffer slot draws nothing.
func (rec *InstanceRecord) ComposeMatrix() {
	if !rec.Visible {
		rec.Matrix = mat32.Mat4{}
		return
	}
	rec.Matrix.SetTransform(rec.Position, mat32.NewQuatEuler(rec.RotationEuler), rec.Scale)
}

// RecordUpdate is a partial update merged into an InstanceRecord by
// InstancePool.UpdateInstance. Nil fields are left untouched.
type RecordUpdate struct {
	Position      *mat32.Vec3
	RotationEuler *mat32.Vec3
	Scale         *mat32.Vec3
	Visible       *bool
}

// apply merges the update into rec and reports whether any field affecting the
// composed matrix changed.
func (u RecordUpdate) apply(rec *InstanceRecord) bool {
	changed := false
	if u.Position != nil && *u.Position != rec.Position {
		rec.Position = *u.Position
		changed = true
	}
	if u.RotationEuler != nil && *u.RotationEuler != rec.RotationEuler {
		rec.RotationEuler = *u.RotationEuler
		changed = true
	}
	if u.Scale != nil && *u.Scale != rec.Scale {
		rec.Scale = *u.Scale
		changed = true
	}
	if u.Visible != nil && *u.Visible != rec.Visible {
		rec.Visible = *u.Visible
		changed = true
	}
	return changed
}
