package instance_pool

import (
	"strings"
	"sync"

	"github.com/stagehand-dev/stagehand/editor/render_bridge"
)

// poolRegistryImpl is a concrete implementation of the PoolRegistry.
type poolRegistryImpl struct {
	mu *sync.RWMutex

	// pools maps asset signature to its pool. Pools are created lazily on first use.
	pools map[string]InstancePool

	// poolOptions are applied to every lazily created pool.
	poolOptions []InstancePoolBuilderOption
}

// PoolRegistry is the session-scoped collection of instance pools, keyed by
// asset signature. It lives as long as the editing session and is cleared on
// scene unload. Beyond dictionary semantics it only offers part registration,
// which delegates to the pool.
type PoolRegistry interface {
	// Ensure returns the pool for the given signature, creating it lazily.
	//
	// Parameters:
	//   - assetSignature: the deterministic asset key
	//
	// Returns:
	//   - InstancePool: the existing or newly created pool
	Ensure(assetSignature string) InstancePool

	// Pool returns the pool for the given signature, or nil if none exists.
	//
	// Parameters:
	//   - assetSignature: the deterministic asset key
	//
	// Returns:
	//   - InstancePool: the pool or nil
	Pool(assetSignature string) InstancePool

	// RegisterPart ensures the signature's pool exists and registers a drawable
	// sub-component on it. Called once per distinct sub-geometry the first time
	// a pool is created.
	//
	// Parameters:
	//   - assetSignature: the deterministic asset key
	//   - partName: the sub-geometry identifier within the asset
	//   - geometry: the external renderer's geometry reference
	//   - material: the external renderer's material reference
	//
	// Returns:
	//   - InstancePart: the newly registered part
	RegisterPart(assetSignature, partName string, geometry render_bridge.GeometryRef, material render_bridge.MaterialRef) InstancePart

	// Signatures returns the signatures of all registered pools.
	//
	// Returns:
	//   - []string: the registered asset signatures
	Signatures() []string

	// Pools returns all registered pools.
	//
	// Returns:
	//   - []InstancePool: the registered pools
	Pools() []InstancePool

	// Clear releases and removes the pool for the given signature, if any.
	//
	// Parameters:
	//   - assetSignature: the deterministic asset key
	Clear(assetSignature string)

	// ClearAll releases and removes every pool. Called on scene unload.
	ClearAll()
}

// compile-time check to ensure poolRegistryImpl implements PoolRegistry.
var _ PoolRegistry = &poolRegistryImpl{}

// NewPoolRegistry creates an empty pool registry.
//
// Parameters:
//   - options: functional options to configure the registry
//
// Returns:
//   - PoolRegistry: the newly created registry
func NewPoolRegistry(options ...PoolRegistryBuilderOption) PoolRegistry {
	r := &poolRegistryImpl{
		mu:    &sync.RWMutex{},
		pools: make(map[string]InstancePool),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// AssetSignature derives the deterministic pool key from an item's category,
// base geometry reference, and optional named sub-model. Logically identical
// renderable objects always hash to the same pool regardless of which logical
// item created it first.
//
// Parameters:
//   - category: the item's category key from the scene manifest
//   - geometry: the base geometry reference
//   - subModel: the named sub-model within the geometry, or "" for the whole asset
//
// Returns:
//   - string: the asset signature
func AssetSignature(category, geometry, subModel string) string {
	sig := category + "/" + geometry
	if subModel != "" {
		sig += "#" + subModel
	}
	return sig
}

// ParseAssetSignature splits a signature produced by AssetSignature back into
// its components. Signatures without a category separator yield an empty
// category with the whole signature as geometry.
//
// Parameters:
//   - signature: the asset signature to split
//
// Returns:
//   - category: the item category key
//   - geometry: the base geometry reference
//   - subModel: the named sub-model, or "" if the signature has none
func ParseAssetSignature(signature string) (category, geometry, subModel string) {
	if i := strings.Index(signature, "#"); i >= 0 {
		signature, subModel = signature[:i], signature[i+1:]
	}
	if i := strings.Index(signature, "/"); i >= 0 {
		category, geometry = signature[:i], signature[i+1:]
	} else {
		geometry = signature
	}
	return
}

func (r *poolRegistryImpl) Ensure(assetSignature string) InstancePool {
	r.mu.RLock()
	pool, exists := r.pools[assetSignature]
	r.mu.RUnlock()
	if exists {
		return pool
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock: another caller may have created it.
	if pool, exists = r.pools[assetSignature]; exists {
		return pool
	}
	pool = NewInstancePool(assetSignature, r.poolOptions...)
	r.pools[assetSignature] = pool
	return pool
}

func (r *poolRegistryImpl) Pool(assetSignature string) InstancePool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pools[assetSignature]
}

func (r *poolRegistryImpl) RegisterPart(assetSignature, partName string, geometry render_bridge.GeometryRef, material render_bridge.MaterialRef) InstancePart {
	return r.Ensure(assetSignature).RegisterPart(partName, geometry, material)
}

func (r *poolRegistryImpl) Signatures() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pools))
	for sig := range r.pools {
		out = append(out, sig)
	}
	return out
}

func (r *poolRegistryImpl) Pools() []InstancePool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]InstancePool, 0, len(r.pools))
	for _, pool := range r.pools {
		out = append(out, pool)
	}
	return out
}

func (r *poolRegistryImpl) Clear(assetSignature string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pool, exists := r.pools[assetSignature]; exists {
		pool.Release()
		delete(r.pools, assetSignature)
	}
}

func (r *poolRegistryImpl) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sig, pool := range r.pools {
		pool.Release()
		delete(r.pools, sig)
	}
}
