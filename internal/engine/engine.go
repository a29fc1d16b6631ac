// Package engine implements the engine (C5): binds C1–C4 for one
// monitor, exposing next_payload/keyframe_payload/snapshot/stop with a
// single-flight lock, grounded on core/engine.py's StreamEngine.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/capture"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/encode"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/tile"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/velerr"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/wire"
)

// Config is an immutable per-engine snapshot (spec.md §9: "one
// immutable snapshot per engine; governor mutates per-engine
// parameters only, never the snapshot").
type Config struct {
	MonitorID  int
	InitialFPS int
	Quality    int
	TileSize   int
	DrawCursor bool
}

// Engine owns one capture backend exclusively.
type Engine struct {
	monitorID int
	source    capture.Source
	partition *tile.Partitioner
	encoder   *encode.Encoder

	mu sync.Mutex // single-flight: next_payload/keyframe_payload/stop mutually exclusive

	quality  int
	tileSize int
	fps      int

	lastFrame *tile.Frame

	stopped bool
}

// New constructs an engine bound to an already-open capture source.
func New(source capture.Source, cfg Config) *Engine {
	return &Engine{
		monitorID: cfg.MonitorID,
		source:    source,
		partition: tile.New(cfg.TileSize),
		encoder:   encode.New(),
		quality:   cfg.Quality,
		tileSize:  cfg.TileSize,
		fps:       cfg.InitialFPS,
	}
}

// Identity exposes the bound capture backend's reported identity, used
// by the server core to detect native-to-portable downgrades
// (spec.md §4.8 step 5).
func (e *Engine) Identity() string { return e.source.Identity() }

// MonitorID returns the bound monitor id.
func (e *Engine) MonitorID() int { return e.monitorID }

// FPS returns the currently configured target frame rate.
func (e *Engine) FPS() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fps
}

// SetQuality applies a governor-driven quality update, effective on
// the next frame (spec.md §4.5).
func (e *Engine) SetQuality(q int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quality = q
}

// SetTileSize applies a governor-driven tile-size update.
func (e *Engine) SetTileSize(s int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tileSize = s
	e.partition.SetTileSize(s)
}

// SetFPS applies a governor-driven frame-rate update.
func (e *Engine) SetFPS(f int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fps = f
	e.source.SetTargetFPS(f)
}

// Quality returns the currently configured quality.
func (e *Engine) Quality() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quality
}

// TileSize returns the currently configured tile size.
func (e *Engine) TileSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tileSize
}

// grabFrame pulls one frame (or classified error) off the capture
// source's channel, blocking until one arrives or ctx is cancelled.
func (e *Engine) grabFrame(ctx context.Context) (*tile.Frame, error) {
	select {
	case fe, ok := <-e.source.Frames():
		if !ok {
			return nil, fmt.Errorf("%w: capture stream closed", velerr.ErrFatalCaptureDriver)
		}
		if fe.Err != nil {
			return nil, fe.Err
		}
		return fe.Frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NextPayload returns the next delta payload, or (nil, false, nil)
// when no tiles changed. last_frame is updated on every successful
// grab, regardless of whether any tile changed (spec.md §4.5).
func (e *Engine) NextPayload(ctx context.Context) ([]byte, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil, false, nil
	}

	frame, err := e.grabFrame(ctx)
	if err != nil {
		return nil, false, err
	}
	e.lastFrame = frame

	df, err := e.partition.PartitionAndDetectChanges(ctx, frame, false)
	if err != nil {
		return nil, false, err
	}
	if !df.FullFrameFallback && len(df.Tiles) == 0 {
		return nil, false, nil
	}

	ed, err := e.encoder.EncodeDelta(ctx, df, frame.Format, e.quality)
	if err != nil {
		return nil, false, err
	}
	if df.FullFrameFallback {
		ed.FullW, ed.FullH = frame.Width, frame.Height
	}

	payload, err := wire.EncodeDelta(ed, time.Now())
	if err != nil {
		return nil, false, err
	}

	return payload, true, nil
}

// KeyframePayload forces a full-frame delta and returns it with
// type_tag already rewritten to 0x02.
func (e *Engine) KeyframePayload(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil, fmt.Errorf("engine: stopped")
	}

	frame := e.lastFrame
	if frame == nil {
		f, err := e.grabFrame(ctx)
		if err != nil {
			return nil, err
		}
		frame = f
		e.lastFrame = frame
	}

	df := e.partition.CreateFullFrameDelta(frame)
	ed, err := e.encoder.EncodeDelta(ctx, df, frame.Format, e.quality)
	if err != nil {
		return nil, err
	}
	ed.FullW, ed.FullH = frame.Width, frame.Height

	payload, err := wire.EncodeDelta(ed, time.Now())
	if err != nil {
		return nil, err
	}

	return wire.Keyframe(payload), nil
}

// Snapshot returns the last captured frame as a JPEG-decodable image,
// or performs a short bounded retry (3 attempts, 2s timeout, 500ms
// backoff) if cold — mirroring core/engine.py's get_snapshot_image.
func (e *Engine) Snapshot(ctx context.Context) (image.Image, error) {
	e.mu.Lock()
	frame := e.lastFrame
	e.mu.Unlock()
	if frame != nil {
		return frameToImage(frame), nil
	}

	const attempts = 3
	for i := 0; i < attempts; i++ {
		grabCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		f, err := e.grabFrame(grabCtx)
		cancel()
		if err == nil {
			e.mu.Lock()
			e.lastFrame = f
			e.mu.Unlock()
			return frameToImage(f), nil
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("engine: no frame available for snapshot")
}

// Stop is idempotent and safe to call concurrently with a pending
// NextPayload/KeyframePayload via the single-flight lock.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	e.stopped = true
	return e.source.Close()
}

func frameToImage(f *tile.Frame) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	bpp := f.Format.BytesPerPixel()
	stride := f.Width * bpp
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			off := y*stride + x*bpp
			if off+2 >= len(f.Pix) {
				continue
			}
			dst := img.PixOffset(x, y)
			if f.Format == tile.FormatBGRA {
				img.Pix[dst], img.Pix[dst+1], img.Pix[dst+2] = f.Pix[off+2], f.Pix[off+1], f.Pix[off]
			} else {
				img.Pix[dst], img.Pix[dst+1], img.Pix[dst+2] = f.Pix[off], f.Pix[off+1], f.Pix[off+2]
			}
			img.Pix[dst+3] = 0xFF
		}
	}
	return img
}

// EncodeJPEGThumbnail is a small helper the HTTP snapshot handler uses
// to produce the ≤480x270 JPEG contract from spec.md §6.3: a larger
// image is scaled down, keeping its aspect ratio, before encoding.
func EncodeJPEGThumbnail(img image.Image, quality int) ([]byte, error) {
	const maxW, maxH = 480, 270
	if b := img.Bounds(); b.Dx() > maxW || b.Dy() > maxH {
		w, h := maxW, b.Dy()*maxW/b.Dx()
		if h > maxH {
			w, h = b.Dx()*maxH/b.Dy(), maxH
		}
		dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
