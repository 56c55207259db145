package editor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stagehand-dev/stagehand/common"
	"github.com/stagehand-dev/stagehand/editor/instance_pool"
	"github.com/stagehand-dev/stagehand/editor/item_service"
	"github.com/stagehand-dev/stagehand/editor/render_bridge"
	"github.com/stagehand-dev/stagehand/editor/scene_sync"
	"github.com/stagehand-dev/stagehand/editor/transform_proxy"
	"github.com/stagehand-dev/stagehand/editor/workflow"
)

// editor implements the Editor interface.
// Coordinates the pool registry, backend item service, mutation workflow,
// GPU uploader, and the remote scene-sync subscription for one editing session.
type editor struct {
	sceneID   string
	sessionID string

	registry instance_pool.PoolRegistry
	uploader render_bridge.Uploader
	items    item_service.ItemService
	flow     workflow.Workflow
	applier  scene_sync.Applier

	rdb *redis.Client

	sub     *scene_sync.Subscription
	syncCtx context.Context
	syncEnd context.CancelFunc
	syncWG  sync.WaitGroup

	poolOptions []instance_pool.InstancePoolBuilderOption
	redisOpts   *redis.Options
	log         *slog.Logger

	closeOnce sync.Once
}

// Editor is the main entry point for an editing session. It owns the local
// instance pools, the versioned backend item service, and the optimistic
// duplication/deletion workflow, and bridges pool mutations to the renderer
// each frame.
type Editor interface {
	// SceneID returns the scene this session is editing.
	//
	// Returns:
	//   - string: the scene identifier
	SceneID() string

	// SessionID returns this session's identifier, stamped on every published
	// item event so remote sessions can skip our echoes.
	//
	// Returns:
	//   - string: the session identifier
	SessionID() string

	// Registry returns the pool registry holding every instance pool in the scene.
	//
	// Returns:
	//   - instance_pool.PoolRegistry: the registry instance
	Registry() instance_pool.PoolRegistry

	// Uploader returns the GPU uploader used to drain staged buffer writes.
	//
	// Returns:
	//   - render_bridge.Uploader: the uploader instance
	Uploader() render_bridge.Uploader

	// Items returns the backend item service.
	//
	// Returns:
	//   - item_service.ItemService: the item service instance
	Items() item_service.ItemService

	// Workflow returns the duplication/deletion workflow.
	//
	// Returns:
	//   - workflow.Workflow: the workflow instance
	Workflow() workflow.Workflow

	// Connect verifies backend connectivity and starts the scene-sync
	// subscription that folds remote item events into the local pools.
	// Safe to skip when the session runs detached from a backend.
	//
	// Parameters:
	//   - ctx: the context bounding the subscription's lifetime
	//
	// Returns:
	//   - error: error if the backend is unreachable or subscribing fails
	Connect(ctx context.Context) error

	// SelectInstance creates a transform proxy attached to the given instance.
	// The proxy commits through the workflow on detach, so gizmo edits reach
	// the backend without the caller touching the item service.
	//
	// Parameters:
	//   - assetSignature: the pool holding the instance
	//   - identity: the instance to edit
	//
	// Returns:
	//   - transform_proxy.TransformProxy: the attached proxy
	//   - bool: false if the instance does not exist
	SelectInstance(assetSignature, identity string) (transform_proxy.TransformProxy, bool)

	// FlushFrame stages every pool's dirty matrix ranges and submits them to
	// the GPU queue in a single pass. Call once per render frame.
	//
	// Parameters:
	//   - binding: the instance buffer binding slot to write
	//
	// Returns:
	//   - uint32: the number of buffer writes submitted
	FlushFrame(binding int) uint32

	// UnloadScene releases every pool and clears the registry. The session
	// stays connected; pools are rebuilt lazily as items stream back in.
	UnloadScene()

	// Close stops the scene-sync subscription, closes the backend connection,
	// and releases GPU resources. Implements io.Closer. Safe to call multiple times.
	//
	// Returns:
	//   - error: error if closing the backend connection fails
	Close() error
}

var _ Editor = &editor{}

// NewEditor creates an editing session for the given scene.
//
// Parameters:
//   - sceneID: the scene to edit (must not be empty)
//   - options: functional options for session configuration
//
// Returns:
//   - Editor: the newly created session
//   - error: error if sceneID is empty or the backend cannot be constructed
func NewEditor(sceneID string, options ...EditorBuilderOption) (Editor, error) {
	if sceneID == "" {
		return nil, fmt.Errorf("scene id cannot be empty")
	}
	e := &editor{
		sceneID: sceneID,
		log:     slog.Default(),
	}
	for _, opt := range options {
		opt(e)
	}
	e.sessionID = common.Coalesce(e.sessionID, "session-"+uuid.NewString())

	if e.registry == nil {
		e.registry = instance_pool.NewPoolRegistry(instance_pool.WithPoolOptions(e.poolOptions...))
	}
	if e.uploader == nil {
		e.uploader = render_bridge.NewUploader()
	}
	if e.items == nil {
		if e.redisOpts == nil {
			return nil, fmt.Errorf("no item service configured: provide WithRedisOptions or WithItemService")
		}
		svc, err := item_service.NewRedisItemService(e.redisOpts, e.sceneID, e.sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to create item service: %w", err)
		}
		e.items = svc
		e.rdb = svc.Client()
	}
	e.flow = workflow.NewWorkflow(e.registry, e.items, workflow.WithLogger(e.log))
	e.applier = scene_sync.NewApplier(e.registry, e.sessionID, scene_sync.WithLogger(e.log))
	return e, nil
}

func (e *editor) SceneID() string {
	return e.sceneID
}

func (e *editor) SessionID() string {
	return e.sessionID
}

func (e *editor) Registry() instance_pool.PoolRegistry {
	return e.registry
}

func (e *editor) Uploader() render_bridge.Uploader {
	return e.uploader
}

func (e *editor) Items() item_service.ItemService {
	return e.items
}

func (e *editor) Workflow() workflow.Workflow {
	return e.flow
}

func (e *editor) Connect(ctx context.Context) error {
	if pinger, ok := e.items.(interface {
		Ping(ctx context.Context) error
	}); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("backend unreachable: %w", err)
		}
	}
	if e.rdb == nil {
		// No shared Redis connection; nothing to subscribe to.
		return nil
	}
	if e.sub != nil {
		return fmt.Errorf("already connected")
	}

	e.syncCtx, e.syncEnd = context.WithCancel(ctx)
	sub, err := scene_sync.Subscribe(e.syncCtx, e.rdb, e.sceneID)
	if err != nil {
		e.syncEnd()
		return fmt.Errorf("failed to subscribe to scene events: %w", err)
	}
	e.sub = sub

	e.syncWG.Add(1)
	go func() {
		defer e.syncWG.Done()
		e.applier.Run(e.syncCtx, sub)
	}()
	return nil
}

func (e *editor) SelectInstance(assetSignature, identity string) (transform_proxy.TransformProxy, bool) {
	proxy := transform_proxy.NewTransformProxy(e.registry, assetSignature, identity,
		transform_proxy.WithCommitter(e.flow))
	if !proxy.Attach() {
		return nil, false
	}
	return proxy, true
}

func (e *editor) FlushFrame(binding int) uint32 {
	pools := e.registry.Pools()
	flushers := make([]render_bridge.Flusher, len(pools))
	for i, p := range pools {
		flushers[i] = p
	}
	return e.uploader.FlushAll(binding, flushers...)
}

func (e *editor) UnloadScene() {
	e.registry.ClearAll()
}

func (e *editor) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.sub != nil {
			e.syncEnd()
			_ = e.sub.Close()
			e.syncWG.Wait()
			e.sub = nil
		}
		if closer, ok := e.items.(interface{ Close() error }); ok {
			err = closer.Close()
		}
		e.uploader.Release()
	})
	return err
}
