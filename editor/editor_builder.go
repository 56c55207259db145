package editor

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/stagehand-dev/stagehand/editor/instance_pool"
	"github.com/stagehand-dev/stagehand/editor/item_service"
	"github.com/stagehand-dev/stagehand/editor/render_bridge"
)

// EditorBuilderOption is a functional option for configuring an Editor.
// Use the With* functions to create options that are applied directly to the session instance.
type EditorBuilderOption func(*editor)

// WithRedisOptions configures the Redis connection backing the item service
// and the scene-sync subscription.
//
// Parameters:
//   - opts: Redis connection options (address, password, DB, etc.)
//
// Returns:
//   - EditorBuilderOption: option function to apply
func WithRedisOptions(opts *redis.Options) EditorBuilderOption {
	return func(e *editor) {
		e.redisOpts = opts
	}
}

// WithItemService sets a pre-configured item service rather than allowing the
// session to create a Redis-backed one internally. When the service is not a
// RedisItemService, Connect skips the scene-sync subscription.
//
// Parameters:
//   - items: a pre-configured ItemService instance
//
// Returns:
//   - EditorBuilderOption: option function to apply
func WithItemService(items item_service.ItemService) EditorBuilderOption {
	return func(e *editor) {
		e.items = items
		if svc, ok := items.(*item_service.RedisItemService); ok {
			e.rdb = svc.Client()
		}
	}
}

// WithSessionID overrides the generated session identifier.
//
// Parameters:
//   - sessionID: the session identifier to stamp on published events
//
// Returns:
//   - EditorBuilderOption: option function to apply
func WithSessionID(sessionID string) EditorBuilderOption {
	return func(e *editor) {
		e.sessionID = sessionID
	}
}

// WithUploader sets a custom configured uploader for the session to use rather
// than allowing the session to create a detached one internally.
//
// Parameters:
//   - u: a pre-configured Uploader instance
//
// Returns:
//   - EditorBuilderOption: option function to apply
func WithUploader(u render_bridge.Uploader) EditorBuilderOption {
	return func(e *editor) {
		e.uploader = u
	}
}

// WithPoolOptions sets the default options applied to every pool the session's
// registry creates.
//
// Parameters:
//   - options: pool builder options forwarded to the registry
//
// Returns:
//   - EditorBuilderOption: option function to apply
func WithPoolOptions(options ...instance_pool.InstancePoolBuilderOption) EditorBuilderOption {
	return func(e *editor) {
		e.poolOptions = options
	}
}

// WithLogger overrides the session logger used by the workflow and scene sync.
//
// Parameters:
//   - log: the logger to use
//
// Returns:
//   - EditorBuilderOption: option function to apply
func WithLogger(log *slog.Logger) EditorBuilderOption {
	return func(e *editor) {
		if log != nil {
			e.log = log
		}
	}
}
