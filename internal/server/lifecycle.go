package server

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/state"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/viewer"
)

// broadcastEvent sends a SYS_EVENT to every dashboard subscriber
// (spec.md §4.8 "Dashboard subscribers").
func (s *Server) broadcastEvent(message, level string) {
	s.dashMu.Lock()
	dashboards := make([]*viewer.Session, 0, len(s.dashboards))
	for d := range s.dashboards {
		dashboards = append(dashboards, d)
	}
	s.dashMu.Unlock()

	msg := sysEventMsg{Type: "SYS_EVENT", Message: message, Level: level}
	for _, d := range dashboards {
		_ = d.SendJSON(msg)
	}
}

func (s *Server) addDashboard(v *viewer.Session) {
	s.dashMu.Lock()
	defer s.dashMu.Unlock()
	s.dashboards[v] = struct{}{}
}

func (s *Server) removeDashboard(v *viewer.Session) {
	s.dashMu.Lock()
	defer s.dashMu.Unlock()
	delete(s.dashboards, v)
}

// SwitchMonitor implements spec.md §4.8's "Monitor switch": collect all
// viewers of all engines, clear memberships, stop every engine that is
// not the target, ensure the target exists, reassign viewers, persist
// the selection, and notify each viewer of its new monitor id.
func (s *Server) SwitchMonitor(ctx context.Context, newMonitor int) error {
	s.mu.Lock()

	var collected []*viewer.Session
	for id, slot := range s.engines {
		for _, v := range slot.viewerList() {
			collected = append(collected, v)
			slot.removeViewer(v)
		}
		if id != newMonitor {
			s.stopSlotLocked(id, slot)
		}
	}

	slot, err := s.getOrCreateEngineLocked(ctx, newMonitor, false, false)
	if err == nil {
		s.cfg.Server.MonitorID = newMonitor
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for _, v := range collected {
		slot.addViewer(v)
		v.SetMembership(newMonitor)
		_ = v.SendJSON(versionMsg{
			Type:      "VERSION",
			Version:   protocolVersion,
			MonitorID: newMonitor,
			Tier:      string(s.cfg.Server.Tier),
			Language:  s.cfg.Server.Language,
		})
	}

	return s.state.Save(state.Runtime{LastMonitorID: newMonitor})
}

// SoftwareReset implements spec.md §4.8's seven-step purge.
func (s *Server) SoftwareReset(ctx context.Context) error {
	s.broadcastEvent("SOFTWARE RESET INITIATED", "error")

	s.mu.Lock()
	lastMonitor := s.cfg.Server.MonitorID
	var allViewers []*viewer.Session
	for _, slot := range s.engines {
		allViewers = append(allViewers, slot.viewerList()...)
	}

	// Step 1: close viewer channels with reset close code.
	for _, v := range allViewers {
		_ = v.Close(1001, "SOFTWARE_RESET")
	}

	// Step 2: cancel broadcast tasks, stop every engine.
	for id, slot := range s.engines {
		s.stopSlotLocked(id, slot)
	}
	s.mu.Unlock()

	s.wg.Wait()

	// Step 3: clear blacklist. (In-flight tracking is per-viewer and
	// died with the closed sessions above, so there is nothing
	// separate to clear.)
	s.blacklist.Clear()

	// Step 4: GC hint.
	debug.FreeOSMemory()

	// Step 5.
	time.Sleep(softResetSettleDelay)

	// Step 6: recreate the engine for the last active monitor.
	if _, err := s.GetOrCreateEngine(ctx, lastMonitor, false); err != nil {
		return err
	}

	// Step 7.
	s.broadcastEvent("SYSTEM RECOVERED", "info")
	return nil
}

// ForceRefresh sets force_keyframe on every engine (DASHBOARD_CMD
// FORCE_REFRESH, spec.md §4.7).
func (s *Server) ForceRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.engines {
		slot.forceKeyframe.Store(true)
	}
}

// EngineCount returns the number of live engine slots, used by the
// reset-purity test and the stats handler.
func (s *Server) EngineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.engines)
}
