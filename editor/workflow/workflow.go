// Package workflow orchestrates the optimistic duplication and deletion of
// pooled instances against the versioned backend item API. Each request runs
// an explicit state machine: the local pool mutation is applied immediately
// (optimistic-applied), the backend call follows (backend-pending), and the
// request either confirms under the backend-assigned durable identity or
// rolls the local mutation back.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/stagehand-dev/stagehand/editor/instance_pool"
	"github.com/stagehand-dev/stagehand/editor/item_service"
)

var (
	// ErrPoolNotFound is returned when no pool exists for the requested asset signature.
	ErrPoolNotFound = errors.New("workflow: pool not found")
	// ErrInstanceNotFound is returned when the requested identity is unknown to its pool.
	ErrInstanceNotFound = errors.New("workflow: instance not found")
)

// TemporaryIdentityPrefix namespaces client-generated identities so a remap
// can never collide with a backend-assigned durable identity.
const TemporaryIdentityPrefix = "tmp-"

// NewTemporaryIdentity generates a locally-unique temporary identity for an
// optimistic duplicate awaiting backend confirmation.
//
// Returns:
//   - string: a prefixed, locally-unique identity
func NewTemporaryIdentity() string {
	return TemporaryIdentityPrefix + uuid.NewString()
}

// IsTemporary reports whether an identity is a client-generated temporary one
// that has not (yet) been confirmed by the backend.
//
// Parameters:
//   - identity: the identity to check
//
// Returns:
//   - bool: true if the identity carries the temporary namespace prefix
func IsTemporary(identity string) bool {
	return strings.HasPrefix(identity, TemporaryIdentityPrefix)
}

// RequestState is the lifecycle state of one duplication or deletion request.
type RequestState int

const (
	// StateOptimisticApplied means the local pool mutation has been applied
	// but the backend call has not started.
	StateOptimisticApplied RequestState = iota
	// StateBackendPending means the backend round trip is in flight.
	StateBackendPending
	// StateConfirmed means the backend accepted the mutation and, for
	// duplications, the temporary identity has been remapped.
	StateConfirmed
	// StateRolledBack means the backend rejected a duplication and the
	// optimistic insert was fully undone.
	StateRolledBack
)

// request tracks one in-flight create/delete round trip.
type request struct {
	temporaryIdentity string
	assetSignature    string
	state             RequestState
}

// workflowImpl is a concrete implementation of the Workflow.
type workflowImpl struct {
	mu *sync.Mutex

	registry instance_pool.PoolRegistry
	items    item_service.ItemService
	log      *slog.Logger

	// poolLocks serializes optimistic mutations per pool. An in-flight
	// duplication and a concurrent deletion both mutate the shared
	// identity-index structures; interleaving them would let a swap-remove
	// change the index a pending remap expects, so each pool's requests run
	// single-flight.
	poolLocks map[string]*sync.Mutex
}

// Workflow is the orchestration layer between the local pools and the backend
// item API. Pool mutations are optimistic: they apply before the backend round
// trip and are reconciled when it returns.
type Workflow interface {
	// Duplicate copies an instance under a temporary identity, persists the
	// copy through the backend, and on success remaps the temporary identity
	// to the backend-assigned durable identity, leaving the slot and buffer
	// contents untouched. On backend failure the optimistic insert is fully
	// undone and the error is returned.
	//
	// The remap re-resolves the temporary identity's index at commit time:
	// deletions that ran while the backend call was in flight may have moved
	// the slot.
	//
	// Parameters:
	//   - ctx: the request context
	//   - assetSignature: the pool key of the source instance
	//   - sourceIdentity: the instance to copy
	//   - override: optional partial record merged into the copy, or nil
	//
	// Returns:
	//   - string: the backend-assigned durable identity
	//   - error: ErrPoolNotFound, ErrInstanceNotFound, or the backend error after rollback
	Duplicate(ctx context.Context, assetSignature, sourceIdentity string, override *instance_pool.RecordUpdate) (string, error)

	// Delete removes an instance locally, then issues the backend delete
	// guarded by the expected version. A backend failure is surfaced but the
	// local deletion is NOT rolled back: the editor's visible state stays
	// monotonic from the user's perspective, and the failure is left to
	// retry/telemetry.
	//
	// Parameters:
	//   - ctx: the request context
	//   - assetSignature: the pool key of the instance
	//   - identity: the instance to delete
	//   - expectedVersion: the backend version the caller last observed
	//
	// Returns:
	//   - error: ErrPoolNotFound, ErrInstanceNotFound, or the surfaced backend error
	Delete(ctx context.Context, assetSignature, identity string, expectedVersion int64) error

	// CommitTransform persists a committed transform for a confirmed instance.
	// Transforms of still-temporary identities are skipped: their backend item
	// does not exist yet, and the create call already carried the transform
	// current at duplication time.
	//
	// Parameters:
	//   - ctx: the request context
	//   - assetSignature: the instance's pool key
	//   - identity: the instance's identity
	//   - transform: the committed placement
	//
	// Returns:
	//   - error: error if backend persistence fails
	CommitTransform(ctx context.Context, assetSignature, identity string, transform item_service.Transform) error
}

// compile-time check to ensure workflowImpl implements Workflow.
var _ Workflow = &workflowImpl{}

// NewWorkflow creates a workflow over the given registry and item service.
// Both are required and NewWorkflow panics if either is nil.
//
// Parameters:
//   - registry: the session's pool registry (must not be nil)
//   - items: the backend item API (must not be nil)
//   - options: functional options to configure the workflow
//
// Returns:
//   - Workflow: the newly created workflow
func NewWorkflow(registry instance_pool.PoolRegistry, items item_service.ItemService, options ...WorkflowBuilderOption) Workflow {
	if registry == nil {
		panic("workflow: NewWorkflow requires a non-nil PoolRegistry")
	}
	if items == nil {
		panic("workflow: NewWorkflow requires a non-nil ItemService")
	}
	w := &workflowImpl{
		mu:        &sync.Mutex{},
		registry:  registry,
		items:     items,
		log:       slog.Default(),
		poolLocks: make(map[string]*sync.Mutex),
	}
	for _, option := range options {
		option(w)
	}
	return w
}

func (w *workflowImpl) Duplicate(ctx context.Context, assetSignature, sourceIdentity string, override *instance_pool.RecordUpdate) (string, error) {
	lock := w.poolLock(assetSignature)
	lock.Lock()
	defer lock.Unlock()

	pool := w.registry.Pool(assetSignature)
	if pool == nil {
		return "", fmt.Errorf("duplicate of %q: %w", assetSignature, ErrPoolNotFound)
	}

	req := &request{
		temporaryIdentity: NewTemporaryIdentity(),
		assetSignature:    assetSignature,
		state:             StateOptimisticApplied,
	}
	if !pool.DuplicateInstance(sourceIdentity, req.temporaryIdentity, override) {
		return "", fmt.Errorf("duplicate of %q in pool %q: %w", sourceIdentity, assetSignature, ErrInstanceNotFound)
	}

	// The optimistic copy is visible before any network round trip. Read its
	// record now: override fields are already merged.
	rec, _ := pool.Record(req.temporaryIdentity)
	req.state = StateBackendPending

	durableID, err := w.items.CreateItem(ctx, w.poolContext(assetSignature), transformFromRecord(rec))
	if err != nil {
		// Full rollback of the optimistic insert. Deletion goes by identity,
		// never by a cached index: the current index is re-resolved inside the
		// pool regardless of what reordering happened since the insert.
		pool.DeleteInstance(req.temporaryIdentity)
		req.state = StateRolledBack
		w.log.Warn("duplication rolled back",
			"pool", assetSignature,
			"source", sourceIdentity,
			"error", err)
		return "", fmt.Errorf("backend create failed, duplicate rolled back: %w", err)
	}

	// Commit: remap resolves the temporary identity's CURRENT index, not the
	// index assigned at creation time.
	if !pool.RemapIdentity(req.temporaryIdentity, durableID) {
		req.state = StateRolledBack
		return "", fmt.Errorf("remap of %q to %q in pool %q: %w",
			req.temporaryIdentity, durableID, assetSignature, ErrInstanceNotFound)
	}
	req.state = StateConfirmed
	return durableID, nil
}

func (w *workflowImpl) Delete(ctx context.Context, assetSignature, identity string, expectedVersion int64) error {
	lock := w.poolLock(assetSignature)
	lock.Lock()
	defer lock.Unlock()

	pool := w.registry.Pool(assetSignature)
	if pool == nil {
		return fmt.Errorf("delete in %q: %w", assetSignature, ErrPoolNotFound)
	}

	req := &request{assetSignature: assetSignature, state: StateOptimisticApplied}
	if !pool.DeleteInstance(identity) {
		return fmt.Errorf("delete of %q in pool %q: %w", identity, assetSignature, ErrInstanceNotFound)
	}

	if IsTemporary(identity) {
		// Nothing persisted yet; the local removal is the whole operation.
		req.state = StateConfirmed
		return nil
	}

	req.state = StateBackendPending
	if err := w.items.DeleteItem(ctx, identity, expectedVersion); err != nil {
		// The local deletion stays: resurrecting an object the user already
		// dismissed would make the visible state non-monotonic. Surface the
		// failure for retry/telemetry instead.
		req.state = StateConfirmed
		w.log.Error("backend delete failed, local deletion kept",
			"pool", assetSignature,
			"identity", identity,
			"error", err)
		return fmt.Errorf("backend delete of %q failed: %w", identity, err)
	}
	req.state = StateConfirmed
	return nil
}

func (w *workflowImpl) CommitTransform(ctx context.Context, assetSignature, identity string, transform item_service.Transform) error {
	if IsTemporary(identity) {
		w.log.Debug("skipping transform commit for unconfirmed duplicate",
			"pool", assetSignature,
			"identity", identity)
		return nil
	}
	if err := w.items.UpdateItem(ctx, identity, transform); err != nil {
		return fmt.Errorf("backend update of %q failed: %w", identity, err)
	}
	return nil
}

// poolLock returns the mutex serializing requests for one pool, creating it on first use.
func (w *workflowImpl) poolLock(assetSignature string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, exists := w.poolLocks[assetSignature]
	if !exists {
		lock = &sync.Mutex{}
		w.poolLocks[assetSignature] = lock
	}
	return lock
}

// poolContext derives the backend's asset-identifying fields from a pool signature.
func (w *workflowImpl) poolContext(assetSignature string) item_service.PoolContext {
	category, geometry, subModel := instance_pool.ParseAssetSignature(assetSignature)
	return item_service.PoolContext{
		Category: category,
		Geometry: geometry,
		SubModel: subModel,
	}
}

// transformFromRecord converts a pool record to the backend wire transform.
func transformFromRecord(rec instance_pool.InstanceRecord) item_service.Transform {
	return item_service.TransformFromComponents(rec.Position, rec.RotationEuler, rec.Scale, rec.Visible)
}
