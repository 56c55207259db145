package scene_sync

import "log/slog"

type ApplierBuilderOption func(*applierImpl)

// WithLogger overrides the applier's logger.
//
// Parameters:
//   - log: the logger to use for skipped and failed events
//
// Returns:
//   - ApplierBuilderOption: the option to apply
func WithLogger(log *slog.Logger) ApplierBuilderOption {
	return func(a *applierImpl) {
		if log != nil {
			a.log = log
		}
	}
}
