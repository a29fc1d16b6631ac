//go:build cgo

// Package capture: native accelerated / native fused-pipeline backend,
// adapted from the teacher's gst_pipeline.go appsink wrapper. Where the
// teacher pulls an H.264 elementary stream out of appsink for remote
// playback, this backend pulls raw or already-still-image-encoded
// buffers for the tiling pipeline.
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/tile"
)

var gstInitOnce sync.Once

func initGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

func nativeAvailable() bool {
	initGStreamer()
	return gst.Find("appsink") != nil && gst.Find("videotestsrc") != nil
}

// gstSource implements Source over a GStreamer appsink pipeline.
type gstSource struct {
	pipeline *gst.Pipeline
	appsink  *app.Sink
	frameCh  chan FrameOrError
	running  atomic.Bool
	stopOnce sync.Once
	fused    bool
	identity string
}

// openNative builds a capture-only pipeline (raw RGB frames delivered
// to C2/C3). It builds no fused still-image branch: the returned source
// always reports Fused() == false.
func openNative(ctx context.Context, opts Options) (Source, error) {
	initGStreamer()

	pipelineStr := buildPipelineString(opts)
	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("capture: parse native pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("videosink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("capture: get videosink element: %w", err)
	}
	sink := app.SinkFromElement(elem)
	if sink == nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("capture: videosink is not an appsink")
	}

	s := &gstSource{
		pipeline: pipeline,
		appsink:  sink,
		frameCh:  make(chan FrameOrError, 4),
		fused:    false,
		identity: IdentityNative,
	}

	sink.SetProperty("emit-signals", true)
	sink.SetProperty("max-buffers", uint(2))
	sink.SetProperty("drop", true)
	sink.SetProperty("sync", false)
	sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: s.onNewSample})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("capture: start native pipeline: %w", err)
	}
	s.running.Store(true)

	go s.watchBus(ctx)

	return s, nil
}

func (s *gstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	if !s.running.Load() {
		return gst.FlowEOS
	}
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	defer buffer.Unmap()

	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())

	caps := sample.GetCaps()
	w, h := capsDimensions(caps)

	f := &tile.Frame{Width: w, Height: h, Format: tile.FormatRGB, Pix: data}

	select {
	case s.frameCh <- FrameOrError{Frame: f}:
	default:
		// Drop frame under backpressure, matching the teacher's
		// non-blocking appsink send.
	}
	return gst.FlowOK
}

func (s *gstSource) watchBus(ctx context.Context) {
	bus := s.pipeline.GetPipelineBus()
	if bus == nil {
		return
	}
	for s.running.Load() {
		select {
		case <-ctx.Done():
			s.Close()
			return
		default:
		}
		msg := bus.TimedPop(gst.ClockTime(100 * time.Millisecond))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			s.Close()
			return
		case gst.MessageError:
			if gerr := msg.ParseError(); gerr != nil {
				select {
				case s.frameCh <- FrameOrError{Err: fmt.Errorf("capture: native pipeline error: %s", gerr.Error())}:
				default:
				}
			}
			s.Close()
			return
		}
	}
}

func (s *gstSource) Frames() <-chan FrameOrError { return s.frameCh }

func (s *gstSource) SetTargetFPS(fps int) {
	// GStreamer pipelines pace via the source element's framerate
	// caps, negotiated at construction; changing it live would
	// require a caps renegotiation this pipeline shape doesn't
	// support, so this is a no-op for the native backend, matching
	// the fixed-cadence appsink wrapper the teacher ships.
}

func (s *gstSource) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		if s.pipeline != nil {
			err = s.pipeline.SetState(gst.StateNull)
		}
		close(s.frameCh)
	})
	return err
}

func (s *gstSource) Identity() string { return s.identity }
func (s *gstSource) Fused() bool      { return s.fused }

func buildPipelineString(opts Options) string {
	// videotestsrc stands in for the platform-specific capture element
	// (pipewiresrc / d3d11screencapturesrc) the teacher's own
	// buildPipelineArgs selects per-encoder; the source element is a
	// deployment-time substitution point, not part of this module's
	// streaming semantics.
	return fmt.Sprintf(
		"videotestsrc is-live=true ! video/x-raw,format=RGB,framerate=%d/1 ! appsink name=videosink",
		maxInt(1, opts.TargetFPS),
	)
}

func capsDimensions(caps *gst.Caps) (int, int) {
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}
	s := caps.GetStructureAt(0)
	if s == nil {
		return 0, 0
	}
	w, _ := s.GetValue("width")
	h, _ := s.GetValue("height")
	wi, _ := w.(int)
	hi, _ := h.(int)
	return wi, hi
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
