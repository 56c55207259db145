package instance_pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-dev/stagehand/editor/render_bridge"
)

func TestAssetSignature(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		a := AssetSignature("props", "crate", "lid")
		b := AssetSignature("props", "crate", "lid")
		assert.Equal(t, a, b)
	})

	t.Run("distinguishes sub-models", func(t *testing.T) {
		assert.NotEqual(t,
			AssetSignature("props", "crate", "lid"),
			AssetSignature("props", "crate", "body"))
		assert.NotEqual(t,
			AssetSignature("props", "crate", ""),
			AssetSignature("props", "crate", "lid"))
	})

	t.Run("round-trips through ParseAssetSignature", func(t *testing.T) {
		tests := []struct {
			category, geometry, subModel string
		}{
			{"props", "crate", "lid"},
			{"props", "crate", ""},
			{"actors", "models/guard", "helmet"},
		}
		for _, tt := range tests {
			sig := AssetSignature(tt.category, tt.geometry, tt.subModel)
			cat, geom, sub := ParseAssetSignature(sig)
			assert.Equal(t, tt.category, cat, sig)
			assert.Equal(t, tt.geometry, geom, sig)
			assert.Equal(t, tt.subModel, sub, sig)
		}
	})
}

func TestPoolRegistry(t *testing.T) {
	t.Run("Ensure creates lazily and returns the same pool", func(t *testing.T) {
		registry := NewPoolRegistry()
		t.Cleanup(registry.ClearAll)

		assert.Nil(t, registry.Pool("props/crate"))

		pool := registry.Ensure("props/crate")
		require.NotNil(t, pool)
		assert.Same(t, pool, registry.Ensure("props/crate"))
		assert.Same(t, pool, registry.Pool("props/crate"))
	})

	t.Run("applies default pool options", func(t *testing.T) {
		registry := NewPoolRegistry(WithPoolOptions(WithMaxInstances(16)))
		t.Cleanup(registry.ClearAll)

		pool := registry.Ensure("props/crate")
		assert.Equal(t, uint32(16), pool.MaxInstances())
	})

	t.Run("RegisterPart ensures the pool", func(t *testing.T) {
		registry := NewPoolRegistry()
		t.Cleanup(registry.ClearAll)

		part := registry.RegisterPart("props/crate", "body",
			render_bridge.GeometryRef{Name: "crate/body"}, render_bridge.MaterialRef{Name: "wood"})
		require.NotNil(t, part)

		pool := registry.Pool("props/crate")
		require.NotNil(t, pool)
		require.Len(t, pool.Parts(), 1)
		assert.Equal(t, "body", pool.Parts()[0].Name())
	})

	t.Run("Clear removes one pool, ClearAll removes everything", func(t *testing.T) {
		registry := NewPoolRegistry()
		registry.Ensure("props/crate")
		registry.Ensure("props/barrel")
		assert.ElementsMatch(t, []string{"props/crate", "props/barrel"}, registry.Signatures())

		registry.Clear("props/crate")
		assert.Nil(t, registry.Pool("props/crate"))
		assert.NotNil(t, registry.Pool("props/barrel"))

		registry.ClearAll()
		assert.Empty(t, registry.Signatures())
		assert.Empty(t, registry.Pools())
	})
}
