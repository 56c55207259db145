package workflow

import "log/slog"

// WorkflowBuilderOption is a functional option for configuring a Workflow during construction.
type WorkflowBuilderOption func(*workflowImpl)

// WithLogger sets the logger used for backend failure reporting. Defaults to slog.Default().
//
// Parameters:
//   - log: the logger to use
//
// Returns:
//   - WorkflowBuilderOption: functional option to set the logger
func WithLogger(log *slog.Logger) WorkflowBuilderOption {
	return func(w *workflowImpl) {
		if log != nil {
			w.log = log
		}
	}
}
