package scene_sync

import (
	"context"
	"log/slog"

	"github.com/goki/mat32"

	"github.com/stagehand-dev/stagehand/editor/instance_pool"
	"github.com/stagehand-dev/stagehand/editor/item_service"
)

// Applier folds remote item events into the local pool registry so every
// connected session converges on the same scene state.
type Applier interface {
	// Apply folds a single item event into the local pools. Events that
	// originated from the applier's own session are skipped; the local state
	// was already mutated optimistically before the event was published.
	//
	// Parameters:
	//   - event: the item event to fold in
	//
	// Returns:
	//   - bool: true if the event changed local state
	Apply(event item_service.ItemEvent) bool

	// Run consumes a subscription until its events channel closes or ctx is
	// cancelled, applying each event as it arrives. Non-fatal subscription
	// errors are logged and skipped.
	//
	// Parameters:
	//   - ctx: the context bounding the consume loop
	//   - sub: the subscription to drain
	Run(ctx context.Context, sub *Subscription)
}

var _ Applier = &applierImpl{}

type applierImpl struct {
	registry  instance_pool.PoolRegistry
	sessionID string
	log       *slog.Logger
}

// NewApplier creates an Applier that folds remote item events into the given
// registry, skipping events published by sessionID.
func NewApplier(registry instance_pool.PoolRegistry, sessionID string, options ...ApplierBuilderOption) Applier {
	if registry == nil {
		panic("registry cannot be nil")
	}
	a := &applierImpl{
		registry:  registry,
		sessionID: sessionID,
		log:       slog.Default(),
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

func (a *applierImpl) Apply(event item_service.ItemEvent) bool {
	if event.SessionID == a.sessionID {
		return false
	}

	signature := instance_pool.AssetSignature(event.Item.Pool.Category, event.Item.Pool.Geometry, event.Item.Pool.SubModel)

	switch event.Type {
	case item_service.EventTypeCreate:
		pool := a.registry.Ensure(signature)
		rec := recordFromItem(event.Item)
		if _, err := pool.AddInstance(rec); err != nil {
			a.log.Warn("failed to apply remote create", "itemID", event.Item.ID, "error", err)
			return false
		}
		return true
	case item_service.EventTypeUpdate:
		pool := a.registry.Pool(signature)
		if pool == nil {
			return false
		}
		t := event.Item.Transform
		return pool.UpdateInstance(event.Item.ID, instance_pool.RecordUpdate{
			Position:      &mat32.Vec3{X: t.Position.X, Y: t.Position.Y, Z: t.Position.Z},
			RotationEuler: &mat32.Vec3{X: t.RotationEuler.X, Y: t.RotationEuler.Y, Z: t.RotationEuler.Z},
			Scale:         &mat32.Vec3{X: t.Scale.X, Y: t.Scale.Y, Z: t.Scale.Z},
			Visible:       &t.Visible,
		})
	case item_service.EventTypeDelete:
		pool := a.registry.Pool(signature)
		if pool == nil {
			return false
		}
		return pool.DeleteInstance(event.Item.ID)
	default:
		a.log.Warn("unknown item event type", "type", event.Type)
		return false
	}
}

func (a *applierImpl) Run(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-sub.Errors():
			if !ok {
				return
			}
			a.log.Warn("scene sync subscription error", "error", err)
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			a.Apply(event)
		}
	}
}

func recordFromItem(item item_service.Item) instance_pool.InstanceRecord {
	t := item.Transform
	return instance_pool.NewInstanceRecord(item.ID,
		instance_pool.WithPosition(t.Position.X, t.Position.Y, t.Position.Z),
		instance_pool.WithRotation(t.RotationEuler.X, t.RotationEuler.Y, t.RotationEuler.Z),
		instance_pool.WithScale(t.Scale.X, t.Scale.Y, t.Scale.Z),
		instance_pool.WithVisible(t.Visible),
	)
}
