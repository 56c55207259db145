package transform_proxy

import (
	"context"
	"errors"
	"testing"

	"github.com/goki/mat32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-dev/stagehand/editor/instance_pool"
	"github.com/stagehand-dev/stagehand/editor/item_service"
	"github.com/stagehand-dev/stagehand/editor/render_bridge"
)

// recordingCommitter captures committed transforms for assertions.
type recordingCommitter struct {
	signature string
	identity  string
	transform item_service.Transform
	calls     int
	err       error
}

func (c *recordingCommitter) CommitTransform(_ context.Context, assetSignature, identity string, transform item_service.Transform) error {
	c.calls++
	c.signature = assetSignature
	c.identity = identity
	c.transform = transform
	return c.err
}

func setupTestRegistry(t *testing.T) instance_pool.PoolRegistry {
	t.Helper()
	registry := instance_pool.NewPoolRegistry(instance_pool.WithPoolOptions(
		instance_pool.WithPart("body", render_bridge.GeometryRef{Name: "crate/body"}, render_bridge.MaterialRef{Name: "wood"}),
	))
	t.Cleanup(registry.ClearAll)
	return registry
}

func TestAttach(t *testing.T) {
	t.Run("decomposes the pool matrix into local state", func(t *testing.T) {
		registry := setupTestRegistry(t)
		pool := registry.Ensure("props/crate")
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("A", instance_pool.WithPosition(1.5, 2.25, -3.5)))
		require.NoError(t, err)

		proxy := NewTransformProxy(registry, "props/crate", "A")
		require.True(t, proxy.Attach())
		assert.True(t, proxy.Attached())
		assert.Equal(t, mat32.Vec3{X: 1.5, Y: 2.25, Z: -3.5}, proxy.Position())
		assert.Equal(t, mat32.Vec3{X: 1, Y: 1, Z: 1}, proxy.Scale())
	})

	t.Run("fails on unknown pool or identity", func(t *testing.T) {
		registry := setupTestRegistry(t)
		registry.Ensure("props/crate")

		assert.False(t, NewTransformProxy(registry, "props/missing", "A").Attach())
		assert.False(t, NewTransformProxy(registry, "props/crate", "missing").Attach())
	})

	t.Run("hidden instance stays editable from its record transform", func(t *testing.T) {
		registry := setupTestRegistry(t)
		pool := registry.Ensure("props/crate")
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("ghost",
			instance_pool.WithPosition(4, 5, 6), instance_pool.WithVisible(false)))
		require.NoError(t, err)

		proxy := NewTransformProxy(registry, "props/crate", "ghost")
		require.True(t, proxy.Attach())
		assert.Equal(t, mat32.Vec3{X: 4, Y: 5, Z: 6}, proxy.Position())
	})
}

func TestApply(t *testing.T) {
	t.Run("writes the composed matrix through the pool", func(t *testing.T) {
		registry := setupTestRegistry(t)
		pool := registry.Ensure("props/crate")
		idx, err := pool.AddInstance(instance_pool.NewInstanceRecord("A"))
		require.NoError(t, err)

		proxy := NewTransformProxy(registry, "props/crate", "A")
		require.True(t, proxy.Attach())
		proxy.SetPosition(10, 0, 0)
		require.True(t, proxy.Apply())

		m, ok := pool.Matrix(idx)
		require.True(t, ok)
		var want mat32.Mat4
		want.SetTransform(mat32.Vec3{X: 10}, proxy.Rotation(), proxy.Scale())
		assert.Equal(t, want, m)
	})

	t.Run("re-resolves the slot after a swap-remove moved the instance", func(t *testing.T) {
		registry := setupTestRegistry(t)
		pool := registry.Ensure("props/crate")
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("A"))
		require.NoError(t, err)
		_, err = pool.AddInstance(instance_pool.NewInstanceRecord("B", instance_pool.WithPosition(2, 0, 0)))
		require.NoError(t, err)

		proxy := NewTransformProxy(registry, "props/crate", "B")
		require.True(t, proxy.Attach())

		// Deleting A swap-moves B from slot 1 to slot 0 mid-interaction.
		require.True(t, pool.DeleteInstance("A"))
		idx, ok := pool.IndexOf("B")
		require.True(t, ok)
		require.Equal(t, uint32(0), idx)

		proxy.SetPosition(9, 9, 9)
		require.True(t, proxy.Apply())

		m, ok := pool.Matrix(0)
		require.True(t, ok)
		var want mat32.Mat4
		want.SetTransform(mat32.Vec3{X: 9, Y: 9, Z: 9}, proxy.Rotation(), proxy.Scale())
		assert.Equal(t, want, m)
	})

	t.Run("fails when detached or the instance vanished", func(t *testing.T) {
		registry := setupTestRegistry(t)
		pool := registry.Ensure("props/crate")
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("A"))
		require.NoError(t, err)

		proxy := NewTransformProxy(registry, "props/crate", "A")
		assert.False(t, proxy.Apply(), "detached proxy must not write")

		require.True(t, proxy.Attach())
		require.True(t, pool.DeleteInstance("A"))
		assert.False(t, proxy.Apply())
	})
}

func TestDetach(t *testing.T) {
	t.Run("commits the final transform to record and backend", func(t *testing.T) {
		registry := setupTestRegistry(t)
		pool := registry.Ensure("props/crate")
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("A"))
		require.NoError(t, err)

		committer := &recordingCommitter{}
		proxy := NewTransformProxy(registry, "props/crate", "A", WithCommitter(committer))
		require.True(t, proxy.Attach())
		proxy.SetPosition(5, 6, 7)

		require.NoError(t, proxy.Detach(context.Background()))
		assert.False(t, proxy.Attached())

		rec, ok := pool.Record("A")
		require.True(t, ok)
		assert.Equal(t, mat32.Vec3{X: 5, Y: 6, Z: 7}, rec.Position)

		assert.Equal(t, 1, committer.calls)
		assert.Equal(t, "props/crate", committer.signature)
		assert.Equal(t, "A", committer.identity)
		assert.Equal(t, float32(5), committer.transform.Position.X)
	})

	t.Run("round trip without edits leaves the record unchanged", func(t *testing.T) {
		registry := setupTestRegistry(t)
		pool := registry.Ensure("props/crate")
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("A", instance_pool.WithPosition(1.5, -2.25, 4)))
		require.NoError(t, err)
		before, _ := pool.Record("A")

		proxy := NewTransformProxy(registry, "props/crate", "A")
		require.True(t, proxy.Attach())
		require.NoError(t, proxy.Detach(context.Background()))

		after, ok := pool.Record("A")
		require.True(t, ok)
		assert.Equal(t, before, after)
		assert.NoError(t, pool.VerifyIntegrity())
	})

	t.Run("wraps committer errors", func(t *testing.T) {
		registry := setupTestRegistry(t)
		pool := registry.Ensure("props/crate")
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("A"))
		require.NoError(t, err)

		backendErr := errors.New("backend down")
		committer := &recordingCommitter{err: backendErr}
		proxy := NewTransformProxy(registry, "props/crate", "A", WithCommitter(committer))
		require.True(t, proxy.Attach())
		proxy.SetPosition(1, 0, 0)

		err = proxy.Detach(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, backendErr)

		// The local record keeps the committed edit even when persistence fails.
		rec, _ := pool.Record("A")
		assert.Equal(t, mat32.Vec3{X: 1}, rec.Position)
	})

	t.Run("returns ErrInstanceNotFound when the instance vanished", func(t *testing.T) {
		registry := setupTestRegistry(t)
		pool := registry.Ensure("props/crate")
		_, err := pool.AddInstance(instance_pool.NewInstanceRecord("A"))
		require.NoError(t, err)

		proxy := NewTransformProxy(registry, "props/crate", "A")
		require.True(t, proxy.Attach())
		require.True(t, pool.DeleteInstance("A"))

		err = proxy.Detach(context.Background())
		assert.ErrorIs(t, err, ErrInstanceNotFound)
	})
}
