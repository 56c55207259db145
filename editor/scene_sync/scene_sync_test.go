package scene_sync

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-dev/stagehand/editor/item_service"
)

// setupTestSync creates an item service and a shared redis client against a
// miniredis instance.
func setupTestSync(t *testing.T) (*item_service.RedisItemService, *redis.Client) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	svc, err := item_service.NewRedisItemService(&redis.Options{Addr: mr.Addr()}, "test-scene", "remote-session")
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	return svc, svc.Client()
}

func waitForEvent(t *testing.T, sub *Subscription) item_service.ItemEvent {
	t.Helper()
	select {
	case event := <-sub.Events():
		return event
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for event")
		return item_service.ItemEvent{}
	}
}

func TestSubscribe(t *testing.T) {
	t.Run("receives published item events", func(t *testing.T) {
		svc, rdb := setupTestSync(t)
		ctx := context.Background()

		sub, err := Subscribe(ctx, rdb, "test-scene")
		require.NoError(t, err)
		defer sub.Close()

		id, err := svc.CreateItem(ctx, item_service.PoolContext{Category: "props", Geometry: "crate"},
			item_service.Transform{Visible: true})
		require.NoError(t, err)

		event := waitForEvent(t, sub)
		assert.Equal(t, item_service.EventTypeCreate, event.Type)
		assert.Equal(t, "remote-session", event.SessionID)
		assert.Equal(t, id, event.Item.ID)
		assert.Equal(t, int64(1), event.Item.Version)
	})

	t.Run("delivers mutation sequence in order", func(t *testing.T) {
		svc, rdb := setupTestSync(t)
		ctx := context.Background()

		sub, err := Subscribe(ctx, rdb, "test-scene")
		require.NoError(t, err)
		defer sub.Close()

		id, err := svc.CreateItem(ctx, item_service.PoolContext{Category: "props", Geometry: "crate"},
			item_service.Transform{Visible: true})
		require.NoError(t, err)
		require.NoError(t, svc.UpdateItem(ctx, id, item_service.Transform{Visible: false}))
		require.NoError(t, svc.DeleteItem(ctx, id, 2))

		assert.Equal(t, item_service.EventTypeCreate, waitForEvent(t, sub).Type)
		assert.Equal(t, item_service.EventTypeUpdate, waitForEvent(t, sub).Type)
		assert.Equal(t, item_service.EventTypeDelete, waitForEvent(t, sub).Type)
	})

	t.Run("rejects empty scene id", func(t *testing.T) {
		_, rdb := setupTestSync(t)
		_, err := Subscribe(context.Background(), rdb, "")
		assert.Error(t, err)
	})

	t.Run("close stops the event channel", func(t *testing.T) {
		_, rdb := setupTestSync(t)
		sub, err := Subscribe(context.Background(), rdb, "test-scene")
		require.NoError(t, err)

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close(), "close must be idempotent")

		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for channel close")
		}
	})

	t.Run("context cancellation stops the event channel", func(t *testing.T) {
		_, rdb := setupTestSync(t)
		ctx, cancel := context.WithCancel(context.Background())
		sub, err := Subscribe(ctx, rdb, "test-scene")
		require.NoError(t, err)
		defer sub.Close()

		cancel()
		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for channel close")
		}
	})
}
