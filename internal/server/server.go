// Package server implements the server core (C8): the engine registry,
// the driver-fault blacklist, dashboard subscribers, and the session
// lifecycle — broadcast loops, monitor switch, software reset.
// Grounded end-to-end on air_server_app.py.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/capture"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/config"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/engine"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/governor"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/state"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/viewer"
)

// blacklistCooldown is the cool-down window for a blacklisted monitor
// (spec.md §5).
const blacklistCooldown = 60 * time.Second

// driverSettleDelay is the pause after stopping an engine before the
// replacement is constructed ("driver settling", spec.md §4.8 step 3).
const driverSettleDelay = 500 * time.Millisecond

// softResetSettleDelay is the pause before the post-reset engine is
// recreated (spec.md §4.8 step "Software reset").
const softResetSettleDelay = 2 * time.Second

// EngineSlot binds one engine to its viewers and control structures
// (spec.md §3).
type EngineSlot struct {
	engine   *engine.Engine
	governor *governor.Governor

	mu       sync.Mutex
	viewers  map[*viewer.Session]struct{}

	forceKeyframe atomic.Bool

	videoCancel context.CancelFunc
	audioCancel context.CancelFunc
	done        chan struct{} // closed once the audio loop has exited
}

func newEngineSlot(e *engine.Engine, g *governor.Governor) *EngineSlot {
	return &EngineSlot{
		engine:  e,
		governor: g,
		viewers: make(map[*viewer.Session]struct{}),
		done:    make(chan struct{}),
	}
}

func (s *EngineSlot) addViewer(v *viewer.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers[v] = struct{}{}
}

func (s *EngineSlot) removeViewer(v *viewer.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.viewers, v)
}

func (s *EngineSlot) viewerList() []*viewer.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*viewer.Session, 0, len(s.viewers))
	for v := range s.viewers {
		out = append(out, v)
	}
	return out
}

func (s *EngineSlot) viewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// Server is the process-wide streaming coordinator.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	state  *state.Store

	mu      sync.Mutex // registry serializer: single owner of all registry mutations
	engines map[int]*EngineSlot

	blacklist *ristretto.Cache[int, time.Time]
	faults    *gocache.Cache

	dashMu     sync.Mutex
	dashboards map[*viewer.Session]struct{}

	wg sync.WaitGroup
}

// New constructs a server core. cfg and logger are injected, matching
// the teacher's constructor-injection style (desktop.NewServer).
func New(cfg *config.Config, logger *slog.Logger, stateDir string) (*Server, error) {
	bl, err := ristretto.NewCache(&ristretto.Config[int, time.Time]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("server: build blacklist cache: %w", err)
	}

	return &Server{
		cfg:        cfg,
		logger:     logger,
		state:      state.New(stateDir),
		engines:    make(map[int]*EngineSlot),
		blacklist:  bl,
		faults:     gocache.New(10*time.Minute, 10*time.Minute),
		dashboards: make(map[*viewer.Session]struct{}),
	}, nil
}

// isBlacklisted reports whether monitorID is currently forced-portable.
func (s *Server) isBlacklisted(monitorID int) bool {
	until, ok := s.blacklist.Get(monitorID)
	if !ok {
		return false
	}
	return time.Now().Before(until)
}

func (s *Server) blacklistMonitor(monitorID int) {
	until := time.Now().Add(blacklistCooldown)
	s.blacklist.SetWithTTL(monitorID, until, 1, blacklistCooldown)
	s.blacklist.Wait()
	s.logger.Warn("monitor blacklisted", "monitor_id", monitorID, "until", until)
}

func (s *Server) recordFault(monitorID int, msg string) {
	key := fmt.Sprintf("fault:%d:%d", monitorID, time.Now().UnixNano())
	s.faults.Set(key, msg, gocache.DefaultExpiration)
}

// buildEngineConfig clones the server config into a per-engine
// snapshot, applying the low-power-tier policy override: the unstable
// fallback flag is forced off whenever tier is AIR, regardless of its
// configured value, and left user-configurable otherwise (spec.md §9
// open question decision, DESIGN.md).
func (s *Server) buildEngineConfig(monitorID int, forcePortable bool) capture.Options {
	enableDXCAM := s.cfg.Server.EnableDXCAMFallback
	if s.cfg.Server.Tier == config.TierAir {
		enableDXCAM = false
	}
	_ = enableDXCAM // retained on the config snapshot surface; no native DXCAM-equivalent backend is wired in this module (see DESIGN.md capture notes)

	return capture.Options{
		MonitorID:               monitorID,
		TargetFPS:               s.cfg.Server.FrameRate,
		Resolution:              capture.Resolution{Full: s.cfg.Server.Resolution == "full"},
		DrawCursor:              true,
		PreferNative:            true,
		OptimizeCapturePipeline: !forcePortable && s.cfg.Server.OptimizeCapturePipeline,
	}
}

// GetOrCreateEngine implements spec.md §4.8's registry algorithm under
// the single registry mutex.
func (s *Server) GetOrCreateEngine(ctx context.Context, monitorID int, forcePortable bool) (*EngineSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateEngineLocked(ctx, monitorID, forcePortable, false)
}

func (s *Server) getOrCreateEngineLocked(ctx context.Context, monitorID int, forcePortable bool, retried bool) (*EngineSlot, error) {
	// Step 1.
	if !forcePortable && s.isBlacklisted(monitorID) {
		forcePortable = true
	}

	// Step 2.
	if existing, ok := s.engines[monitorID]; ok {
		if !forcePortable {
			return existing, nil
		}
		// Step 3: replace.
		s.stopSlotLocked(monitorID, existing)
		time.Sleep(driverSettleDelay)
	}

	// Step 4: construct with cloned config.
	opts := s.buildEngineConfig(monitorID, forcePortable)
	src, err := capture.Open(ctx, opts)
	if err != nil {
		s.blacklistMonitor(monitorID)
		if !retried {
			return s.getOrCreateEngineLocked(ctx, monitorID, true, true)
		}
		return nil, fmt.Errorf("server: engine construction poisoned: %w", err)
	}

	// Step 5: native requested but source reports portable identity.
	if !forcePortable && opts.OptimizeCapturePipeline && src.Identity() == capture.IdentityPortable {
		s.blacklistMonitor(monitorID)
	}

	eng := engine.New(src, engine.Config{
		MonitorID:  monitorID,
		InitialFPS: s.cfg.Server.FrameRate,
		Quality:    s.cfg.Server.WebPQuality,
		TileSize:   128,
		DrawCursor: opts.DrawCursor,
	})

	// Step 6: governor.
	gov := governor.New(s.cfg.Server.Mode, s.cfg.Server.Tier)

	slot := newEngineSlot(eng, gov)
	slot.forceKeyframe.Store(true)

	// Step 7: spawn broadcast tasks.
	videoCtx, videoCancel := context.WithCancel(ctx)
	audioCtx, audioCancel := context.WithCancel(ctx)
	slot.videoCancel = videoCancel
	slot.audioCancel = audioCancel

	s.engines[monitorID] = slot

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.videoBroadcastLoop(videoCtx, monitorID, slot)
	}()
	go func() {
		defer s.wg.Done()
		s.audioBroadcastLoop(audioCtx, monitorID, slot)
		close(slot.done)
	}()

	return slot, nil
}

// stopSlotLocked cancels a slot's tasks and stops its engine. Must be
// called with s.mu held; engine.Stop and the cancellations do not
// themselves touch the registry so this cannot deadlock against the
// broadcast loops (spec.md §5: "the registry mutex MUST NOT be held
// across a cancellation boundary" — the cancellation signal itself is
// non-blocking; only this function's caller holds the mutex while the
// loops unwind, mirroring core/server_app.py's synchronous stop()).
func (s *Server) stopSlotLocked(monitorID int, slot *EngineSlot) {
	if slot.videoCancel != nil {
		slot.videoCancel()
	}
	if slot.audioCancel != nil {
		slot.audioCancel()
	}
	_ = slot.engine.Stop()
	delete(s.engines, monitorID)
}

// Stop shuts down every engine and waits for all broadcast loops to
// exit, mirroring core/server_app.py's stop().
func (s *Server) Stop() {
	s.mu.Lock()
	for id, slot := range s.engines {
		s.stopSlotLocked(id, slot)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
