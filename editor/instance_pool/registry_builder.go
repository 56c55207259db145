package instance_pool

// PoolRegistryBuilderOption is a functional option for configuring a PoolRegistry during construction.
type PoolRegistryBuilderOption func(*poolRegistryImpl)

// WithPoolOptions sets the options applied to every pool the registry creates lazily.
//
// Parameters:
//   - options: pool builder options forwarded to NewInstancePool
//
// Returns:
//   - PoolRegistryBuilderOption: functional option to set the pool options
func WithPoolOptions(options ...InstancePoolBuilderOption) PoolRegistryBuilderOption {
	return func(r *poolRegistryImpl) {
		r.poolOptions = options
	}
}
