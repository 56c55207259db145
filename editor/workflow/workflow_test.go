package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/goki/mat32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-dev/stagehand/editor/instance_pool"
	"github.com/stagehand-dev/stagehand/editor/item_service"
	"github.com/stagehand-dev/stagehand/editor/render_bridge"
)

// stubItemService is an in-memory ItemService with scriptable failures.
type stubItemService struct {
	nextID    int
	created   []item_service.PoolContext
	updated   map[string]item_service.Transform
	deleted   []string
	createErr error
	updateErr error
	deleteErr error
}

func newStubItemService() *stubItemService {
	return &stubItemService{updated: make(map[string]item_service.Transform)}
}

func (s *stubItemService) CreateItem(_ context.Context, pool item_service.PoolContext, _ item_service.Transform) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.nextID++
	s.created = append(s.created, pool)
	return fmt.Sprintf("real%d", s.nextID), nil
}

func (s *stubItemService) GetItem(_ context.Context, _ string) (*item_service.Item, error) {
	return nil, errors.New("not implemented")
}

func (s *stubItemService) UpdateItem(_ context.Context, itemID string, transform item_service.Transform) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated[itemID] = transform
	return nil
}

func (s *stubItemService) DeleteItem(_ context.Context, itemID string, _ int64) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, itemID)
	return nil
}

func setupTestWorkflow(t *testing.T) (Workflow, instance_pool.InstancePool, *stubItemService) {
	t.Helper()
	registry := instance_pool.NewPoolRegistry(instance_pool.WithPoolOptions(
		instance_pool.WithPart("body", render_bridge.GeometryRef{Name: "crate/body"}, render_bridge.MaterialRef{Name: "wood"}),
	))
	t.Cleanup(registry.ClearAll)

	pool := registry.Ensure("props/crate#a")
	items := newStubItemService()
	return NewWorkflow(registry, items), pool, items
}

func TestTemporaryIdentities(t *testing.T) {
	id := NewTemporaryIdentity()
	assert.True(t, IsTemporary(id))
	assert.False(t, IsTemporary("item-b1946ac9"))
	assert.NotEqual(t, id, NewTemporaryIdentity())
}

func TestDuplicate(t *testing.T) {
	t.Run("confirms under the backend-assigned identity", func(t *testing.T) {
		flow, pool, items := setupTestWorkflow(t)
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("src", instance_pool.WithPosition(1, 2, 3)))
		require.NoError(t, err)

		durableID, err := flow.Duplicate(context.Background(), "props/crate#a", "src", nil)
		require.NoError(t, err)
		assert.Equal(t, "real1", durableID)

		assert.Equal(t, uint32(2), pool.InstanceCount())
		idx, ok := pool.IndexOf("real1")
		require.True(t, ok)
		assert.Equal(t, uint32(1), idx)

		// No temporary identity survives a confirmed duplication.
		for _, id := range pool.Identities() {
			assert.False(t, IsTemporary(id))
		}

		require.Len(t, items.created, 1)
		assert.Equal(t, item_service.PoolContext{Category: "props", Geometry: "crate", SubModel: "a"}, items.created[0])
		assert.NoError(t, pool.VerifyIntegrity())
	})

	t.Run("applies the override to the copy", func(t *testing.T) {
		flow, pool, _ := setupTestWorkflow(t)
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("src", instance_pool.WithPosition(1, 2, 3)))
		require.NoError(t, err)

		durableID, err := flow.Duplicate(context.Background(), "props/crate#a", "src",
			&instance_pool.RecordUpdate{Position: &mat32.Vec3{X: 10, Y: 2, Z: 3}})
		require.NoError(t, err)

		rec, ok := pool.Record(durableID)
		require.True(t, ok)
		assert.Equal(t, mat32.Vec3{X: 10, Y: 2, Z: 3}, rec.Position)
	})

	t.Run("rolls back the optimistic copy on backend failure", func(t *testing.T) {
		flow, pool, items := setupTestWorkflow(t)
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("src"))
		require.NoError(t, err)
		items.createErr = errors.New("backend down")

		_, err = flow.Duplicate(context.Background(), "props/crate#a", "src", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, items.createErr)

		assert.Equal(t, uint32(1), pool.InstanceCount())
		assert.Equal(t, []string{"src"}, pool.Identities())
		assert.NoError(t, pool.VerifyIntegrity())
	})

	t.Run("fails for unknown pool or source", func(t *testing.T) {
		flow, pool, _ := setupTestWorkflow(t)
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("src"))
		require.NoError(t, err)

		_, err = flow.Duplicate(context.Background(), "props/missing", "src", nil)
		assert.ErrorIs(t, err, ErrPoolNotFound)

		_, err = flow.Duplicate(context.Background(), "props/crate#a", "missing", nil)
		assert.ErrorIs(t, err, ErrInstanceNotFound)
		assert.Equal(t, uint32(1), pool.InstanceCount())
	})
}

func TestDelete(t *testing.T) {
	t.Run("removes locally and from the backend", func(t *testing.T) {
		flow, pool, items := setupTestWorkflow(t)
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("item-1"))
		require.NoError(t, err)

		require.NoError(t, flow.Delete(context.Background(), "props/crate#a", "item-1", 3))
		assert.Equal(t, uint32(0), pool.InstanceCount())
		assert.Equal(t, []string{"item-1"}, items.deleted)
	})

	t.Run("keeps the local deletion when the backend fails", func(t *testing.T) {
		flow, pool, items := setupTestWorkflow(t)
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("item-1"))
		require.NoError(t, err)
		items.deleteErr = errors.New("version conflict")

		err = flow.Delete(context.Background(), "props/crate#a", "item-1", 3)
		require.Error(t, err)
		assert.ErrorIs(t, err, items.deleteErr)

		// The instance is gone despite the failure; it never resurrects.
		assert.Equal(t, uint32(0), pool.InstanceCount())
		_, ok := pool.IndexOf("item-1")
		assert.False(t, ok)
	})

	t.Run("skips the backend for temporary identities", func(t *testing.T) {
		flow, pool, items := setupTestWorkflow(t)
		tempID := NewTemporaryIdentity()
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord(tempID))
		require.NoError(t, err)
		items.deleteErr = errors.New("must not be called")

		require.NoError(t, flow.Delete(context.Background(), "props/crate#a", tempID, 0))
		assert.Equal(t, uint32(0), pool.InstanceCount())
		assert.Empty(t, items.deleted)
	})

	t.Run("fails for unknown identity", func(t *testing.T) {
		flow, _, _ := setupTestWorkflow(t)
		err := flow.Delete(context.Background(), "props/crate#a", "missing", 0)
		assert.ErrorIs(t, err, ErrInstanceNotFound)
	})
}

func TestCommitTransform(t *testing.T) {
	t.Run("persists for durable identities", func(t *testing.T) {
		flow, _, items := setupTestWorkflow(t)
		transform := item_service.Transform{Position: mat32.Vec3{X: 1}, Scale: mat32.Vec3{X: 1, Y: 1, Z: 1}, Visible: true}

		require.NoError(t, flow.CommitTransform(context.Background(), "props/crate#a", "item-1", transform))
		assert.Equal(t, transform, items.updated["item-1"])
	})

	t.Run("skips temporary identities", func(t *testing.T) {
		flow, _, items := setupTestWorkflow(t)
		items.updateErr = errors.New("must not be called")

		err := flow.CommitTransform(context.Background(), "props/crate#a", NewTemporaryIdentity(), item_service.Transform{})
		require.NoError(t, err)
		assert.Empty(t, items.updated)
	})

	t.Run("wraps backend errors", func(t *testing.T) {
		flow, _, items := setupTestWorkflow(t)
		items.updateErr = errors.New("backend down")

		err := flow.CommitTransform(context.Background(), "props/crate#a", "item-1", item_service.Transform{})
		assert.ErrorIs(t, err, items.updateErr)
	})
}

func TestDuplicateConcurrentDeleteRemap(t *testing.T) {
	// A deletion between the optimistic insert and the backend response must
	// not derail the remap: the durable identity lands on the copy's current
	// slot. The stub deletes an unrelated instance inside CreateItem to
	// simulate reordering while the round trip is in flight.
	registry := instance_pool.NewPoolRegistry(instance_pool.WithPoolOptions(
		instance_pool.WithPart("body", render_bridge.GeometryRef{Name: "crate/body"}, render_bridge.MaterialRef{Name: "wood"}),
	))
	t.Cleanup(registry.ClearAll)
	pool := registry.Ensure("props/crate#a")

	items := newStubItemService()
	flow := NewWorkflow(registry, &reorderingItemService{stubItemService: items, pool: pool, deleteDuringCreate: "A"})

	_, err := pool.AddInstance(instance_pool.NewInstanceRecord("A"))
	require.NoError(t, err)
	_, err = pool.AddInstance(instance_pool.NewInstanceRecord("B", instance_pool.WithPosition(2, 0, 0)))
	require.NoError(t, err)

	durableID, err := flow.Duplicate(context.Background(), "props/crate#a", "B", nil)
	require.NoError(t, err)

	// The copy started at slot 2; deleting A swap-moved it to slot 0.
	idx, ok := pool.IndexOf(durableID)
	require.True(t, ok)
	assert.Equal(t, uint32(0), idx)

	recB, _ := pool.Record("B")
	m, ok := pool.Matrix(idx)
	require.True(t, ok)
	assert.Equal(t, recB.Matrix, m)
	assert.NoError(t, pool.VerifyIntegrity())
}

// reorderingItemService deletes a pool instance mid-create to exercise
// commit-time index re-resolution.
type reorderingItemService struct {
	*stubItemService
	pool               instance_pool.InstancePool
	deleteDuringCreate string
}

func (s *reorderingItemService) CreateItem(ctx context.Context, pool item_service.PoolContext, transform item_service.Transform) (string, error) {
	s.pool.DeleteInstance(s.deleteDuringCreate)
	return s.stubItemService.CreateItem(ctx, pool, transform)
}
