package render_bridge

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// UploaderBuilderOption is a functional option for configuring an Uploader during construction.
type UploaderBuilderOption func(*uploaderImpl)

// WithDevice attaches the GPU device and queue the uploader submits writes to.
// Without this option the uploader runs in detached (headless) mode.
//
// Parameters:
//   - device: the wgpu device used for buffer creation
//   - queue: the wgpu queue used for buffer writes
//
// Returns:
//   - UploaderBuilderOption: functional option to set the GPU device and queue
func WithDevice(device *wgpu.Device, queue *wgpu.Queue) UploaderBuilderOption {
	return func(u *uploaderImpl) {
		u.device = device
		u.queue = queue
	}
}

// WithFlushWorkers overrides the number of worker goroutines used for the
// parallel flush phase. Values <= 0 leave the default (NumCPU-1).
//
// Parameters:
//   - workers: the worker count
//
// Returns:
//   - UploaderBuilderOption: functional option to set the flush worker count
func WithFlushWorkers(workers int) UploaderBuilderOption {
	return func(u *uploaderImpl) {
		if workers > 0 {
			u.flushWorkers = workers
		}
	}
}
