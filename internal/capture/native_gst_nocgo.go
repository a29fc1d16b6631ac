//go:build !cgo

// Stub mirroring native_gst.go's API surface when CGO is unavailable,
// exactly as the teacher's gst_pipeline_nocgo.go stubs gst_pipeline.go.
package capture

import (
	"context"
	"errors"
)

// ErrCGORequired is returned by openNative when the binary was built
// without CGO, so the native accelerated/fused backends are absent.
var ErrCGORequired = errors.New("capture: native backend requires a CGO build")

func nativeAvailable() bool { return false }

func openNative(ctx context.Context, opts Options) (Source, error) {
	return nil, ErrCGORequired
}
