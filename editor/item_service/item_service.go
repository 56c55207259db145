// Package item_service defines the versioned backend item API the editing
// workflows persist through, plus its Redis implementation. The backend is the
// ultimate source of truth for item identity and version; local pools apply
// edits optimistically and reconcile against it.
package item_service

import (
	"context"
	"errors"
	"fmt"

	"github.com/goki/mat32"
	"github.com/redis/go-redis/v9"
)

// ErrVersionConflict is returned when a guarded mutation's expected version no
// longer matches the stored item. The caller surfaces it for user-facing retry
// rather than retrying automatically.
var ErrVersionConflict = errors.New("item_service: version conflict")

// Transform is the wire form of one item's placement.
type Transform struct {
	Position      mat32.Vec3 `json:"position"`
	RotationEuler mat32.Vec3 `json:"rotationEuler"`
	Scale         mat32.Vec3 `json:"scale"`
	Visible       bool       `json:"visible"`
}

// PoolContext carries the asset-identifying fields the backend stores alongside
// a created item, mirroring the pool key derivation on the editor side.
type PoolContext struct {
	Category string `json:"category"`
	Geometry string `json:"geometry"`
	SubModel string `json:"subModel,omitempty"`
}

// Item is one persisted scene item as the backend stores it.
type Item struct {
	ID        string      `json:"id"`
	Version   int64       `json:"version"`
	Pool      PoolContext `json:"pool"`
	Transform Transform   `json:"transform"`
}

// Item event types published on the scene's item events channel.
const (
	EventTypeCreate = "create"
	EventTypeUpdate = "update"
	EventTypeDelete = "delete"
)

// ItemEvent is the delta broadcast after every successful item mutation.
// SessionID identifies the originating editing session so subscribers can skip
// their own echoes.
type ItemEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Item      Item   `json:"item"`
}

// ItemService is the backend item API consumed by the duplication/deletion
// workflow and the transform proxy's commit path. A single attempt is treated
// as authoritative; retries are the caller's responsibility.
type ItemService interface {
	// CreateItem persists a new item and returns its backend-assigned durable identity.
	//
	// Parameters:
	//   - ctx: the request context
	//   - pool: the asset-identifying fields for the new item
	//   - transform: the item's initial placement
	//
	// Returns:
	//   - string: the durable item identity
	//   - error: error if persistence fails
	CreateItem(ctx context.Context, pool PoolContext, transform Transform) (string, error)

	// GetItem retrieves an item by identity. Use IsNotFound to check for missing items.
	//
	// Parameters:
	//   - ctx: the request context
	//   - itemID: the durable item identity
	//
	// Returns:
	//   - *Item: the stored item
	//   - error: error if the item is missing or the read fails
	GetItem(ctx context.Context, itemID string) (*Item, error)

	// UpdateItem overwrites the item's transform and bumps its version.
	//
	// Parameters:
	//   - ctx: the request context
	//   - itemID: the durable item identity
	//   - transform: the committed placement
	//
	// Returns:
	//   - error: error if the item is missing or the write fails
	UpdateItem(ctx context.Context, itemID string, transform Transform) error

	// DeleteItem removes the item, guarded by an optimistic version token. A
	// mismatch returns ErrVersionConflict; the caller surfaces it rather than
	// retrying automatically.
	//
	// Parameters:
	//   - ctx: the request context
	//   - itemID: the durable item identity
	//   - expectedVersion: the version the caller last observed
	//
	// Returns:
	//   - error: error on conflict, missing item, or write failure
	DeleteItem(ctx context.Context, itemID string, expectedVersion int64) error
}

// IsNotFound returns true if the error indicates an item was not found.
// This is the recommended way to check for not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// IsVersionConflict returns true if the error indicates an optimistic version
// guard failed.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// TransformFromComponents assembles a Transform from raw components.
//
// Parameters:
//   - position: the item position
//   - rotationEuler: the rotation as XYZ Euler angles in radians
//   - scale: the per-axis scale
//   - visible: the visibility flag
//
// Returns:
//   - Transform: the assembled transform
func TransformFromComponents(position, rotationEuler, scale mat32.Vec3, visible bool) Transform {
	return Transform{
		Position:      position,
		RotationEuler: rotationEuler,
		Scale:         scale,
		Visible:       visible,
	}
}

// ItemKey returns the Redis key for an item hash.
//
// Parameters:
//   - sceneID: the scene identifier
//   - itemID: the durable item identity
//
// Returns:
//   - string: the namespaced Redis key
func ItemKey(sceneID, itemID string) string {
	return fmt.Sprintf("stagehand:%s:item:%s", sceneID, itemID)
}

// ItemEventsChannel returns the pub/sub channel item mutation events are
// published on for the given scene.
//
// Parameters:
//   - sceneID: the scene identifier
//
// Returns:
//   - string: the namespaced channel name
func ItemEventsChannel(sceneID string) string {
	return fmt.Sprintf("stagehand:%s:item_events", sceneID)
}
