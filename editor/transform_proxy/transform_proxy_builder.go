package transform_proxy

// TransformProxyBuilderOption is a functional option for configuring a TransformProxy during construction.
type TransformProxyBuilderOption func(*transformProxy)

// WithCommitter sets the persistence sink that receives the committed
// transform when the proxy detaches. Without it, Detach only updates the
// local record.
//
// Parameters:
//   - c: the committer, normally the session's workflow
//
// Returns:
//   - TransformProxyBuilderOption: functional option to set the committer
func WithCommitter(c Committer) TransformProxyBuilderOption {
	return func(t *transformProxy) {
		t.committer = c
	}
}
