package server

import (
	"context"
	"errors"
	"time"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/velerr"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/viewer"
)

// congestionSkipDelay is the sleep when any current viewer is already
// sending (spec.md §4.8 video broadcast loop step 2).
const congestionSkipDelay = 10 * time.Millisecond

// keyframeSettleDelay follows a forced-keyframe broadcast before the
// loop resumes its normal cadence (spec.md §4.8 step 3).
const keyframeSettleDelay = 100 * time.Millisecond

// recoveryKeyframeAfter is the "no change for N seconds" threshold
// that triggers one recovery keyframe (spec.md §4.8 step 5).
const recoveryKeyframeAfter = 2 * time.Second

// videoBroadcastLoop runs while the slot exists, implementing spec.md
// §4.8's six-step algorithm, grounded on air_server_app.py's
// _engine_broadcast_loop.
func (s *Server) videoBroadcastLoop(ctx context.Context, monitorID int, slot *EngineSlot) {
	lastChange := time.Now()
	recoverySent := false

	for {
		if ctx.Err() != nil {
			return
		}

		viewers := slot.viewerList()

		// Step 1: idle when no viewers, still sample at 1Hz so
		// dashboard snapshots stay fresh.
		if len(viewers) == 0 {
			_, _, _ = slot.engine.NextPayload(ctx)
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		// Step 2: congestion skip.
		if anyInFlight(viewers) {
			if !sleepCtx(ctx, congestionSkipDelay) {
				return
			}
			continue
		}

		// Step 3: forced keyframe.
		if slot.forceKeyframe.Load() {
			kf, err := slot.engine.KeyframePayload(ctx)
			if err == nil {
				for _, v := range viewers {
					go safeSend(v, kf)
				}
				slot.forceKeyframe.Store(false)
			} else if s.handleLoopError(ctx, monitorID, err) {
				return
			}
			if !sleepCtx(ctx, keyframeSettleDelay) {
				return
			}
			continue
		}

		// Step 4: next payload.
		payload, changed, err := slot.engine.NextPayload(ctx)
		if err != nil {
			if s.handleLoopError(ctx, monitorID, err) {
				return
			}
			if !sleepCtx(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}

		if changed {
			lastChange = time.Now()
			recoverySent = false
			for _, v := range viewers {
				if !v.InFlight() {
					go safeSend(v, payload)
				}
			}
		} else if !recoverySent && time.Since(lastChange) > recoveryKeyframeAfter {
			// Step 5: recovery keyframe after 2s of silence.
			kf, err := slot.engine.KeyframePayload(ctx)
			if err == nil {
				for _, v := range viewers {
					go safeSend(v, kf)
				}
				recoverySent = true
			}
		}

		// Step 6.
		fps := slot.engine.FPS()
		if fps <= 0 {
			fps = 30
		}
		if !sleepCtx(ctx, time.Second/time.Duration(fps)) {
			return
		}
	}
}

// audioBroadcastLoop paces a low-frequency tick per engine. Only the
// 0x05 envelope is normative (spec.md §9 open question); this module
// does not implement or mandate an audio codec, so the loop currently
// has no payload source to broadcast and exists to preserve the
// task-lifecycle shape (cancel-on-stop, visible to software reset)
// that a future codec integration would hang off of.
func (s *Server) audioBroadcastLoop(ctx context.Context, monitorID int, slot *EngineSlot) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, 500*time.Millisecond) {
			return
		}
	}
}

// handleLoopError implements spec.md §4.8's failure handling: a known
// driver fault schedules a forced-portable rebuild and exits the loop;
// anything else is logged and the loop continues.
func (s *Server) handleLoopError(ctx context.Context, monitorID int, err error) bool {
	if errors.Is(err, velerr.ErrFatalCaptureDriver) {
		s.logger.Warn("driver fault, rebuilding on portable backend", "monitor_id", monitorID, "error", err)
		s.recordFault(monitorID, err.Error())
		go func() {
			if _, rebuildErr := s.GetOrCreateEngine(context.Background(), monitorID, true); rebuildErr != nil {
				s.logger.Error("portable rebuild failed", "monitor_id", monitorID, "error", rebuildErr)
			}
		}()
		return true
	}
	s.logger.Debug("broadcast loop transient error", "monitor_id", monitorID, "error", err)
	return false
}

func anyInFlight(viewers []*viewer.Session) bool {
	for _, v := range viewers {
		if v.InFlight() {
			return true
		}
	}
	return false
}

// safeSend wraps a single viewer send, swallowing network errors per
// spec.md §7's ViewerSend policy: drop the in-flight slot, keep the
// viewer connected.
func safeSend(v *viewer.Session, payload []byte) {
	_, _ = v.TrySend(payload)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
