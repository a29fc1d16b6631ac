// Package capture implements the frame source (C1): a capability
// interface uniform across backends (native accelerated, portable CPU;
// the fused-pipeline probe, Fused(), reports false for both), selection
// at construction, transient-retry, and cursor overlay.
//
// Backend hierarchy grounded on core/capture.py's CaptureFactory and
// the teacher's own never-link-a-pixel-library idiom (gst_pipeline.go,
// screenshot.go): the native backend runs a GStreamer appsink pipeline
// via go-gst; the portable backend shells to an external capture tool
// and decodes the result with the standard image/png package, exactly
// as screenshot.go does for its own still-image path.
package capture

import (
	"context"
	"image"
	"time"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/tile"
)

// Identity strings are kept verbatim from the original Python naming
// so blacklist-trigger string matching in the server core (spec.md
// §4.8 step 5) continues to recognize the portable backend.
const (
	IdentityNative   = "VeloxRustCapture"
	IdentityPortable = "MSS"
	IdentityFused    = "gst-appsink"
)

// Resolution is either "full" or an explicit WxH, per spec.md §6.5.
type Resolution struct {
	Full          bool
	Width, Height int
}

// Source is the capability interface spec.md §9 calls for:
// {open, frames, set_fps, close, identity}.
type Source interface {
	// Frames returns a channel of frames; restartable by closing and
	// re-opening a fresh Source. The channel is closed when the
	// backend stops producing (fatal failure or Close()).
	Frames() <-chan FrameOrError
	SetTargetFPS(fps int)
	Close() error
	Identity() string
	// Fused reports whether this backend can bypass C2+C3 entirely by
	// emitting ready-made wire tiles (spec.md §4.2's fused fast path).
	Fused() bool
}

// FrameOrError lets a backend report a transient failure on the
// stream without closing it, per spec.md §4.1's failure model.
type FrameOrError struct {
	Frame *tile.Frame
	Err   error
}

// Options configure Open.
type Options struct {
	MonitorID               int
	TargetFPS               int
	Resolution              Resolution
	DrawCursor              bool
	PreferNative            bool
	OptimizeCapturePipeline bool
}

// Open selects the highest-tier available backend in order {native
// accelerated, portable CPU}, per spec.md §4.1. If PreferNative is set
// but the native path is unavailable, Open silently falls back and the
// caller discovers this by inspecting the returned Source's Identity()
// — mirroring core/capture.py's CaptureFactory try/except.
func Open(ctx context.Context, opts Options) (Source, error) {
	if opts.PreferNative && opts.OptimizeCapturePipeline && nativeAvailable() {
		src, err := openNative(ctx, opts)
		if err == nil {
			return src, nil
		}
		// Fall through to portable on native construction failure,
		// matching CaptureFactory's except-ImportError-then-MSS path.
	}
	return openPortable(ctx, opts)
}

// cursorOverlay composites a small glyph centred at (cx, cy) onto dst.
// Grounded on core/capture.py's
// _draw_cursor, implemented with golang.org/x/image/draw instead of
// PIL/NumPy's dual path.
func cursorOverlay(dst *image.RGBA, cx, cy int) {
	drawCursorGlyph(dst, cx, cy)
}

// retryDelay is the floor on retry spacing after a transient capture
// error (spec.md §4.1: "retries after ≥1 s").
const retryDelay = 1 * time.Second
