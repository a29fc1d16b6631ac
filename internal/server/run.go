package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/state"
)

// bindCandidates tries base, base+1, base+2 and returns the first
// listener that succeeds, per spec.md §6.6's port-seeking rule.
func bindCandidates(base int) (net.Listener, int, error) {
	var lastErr error
	for i := 0; i < 3; i++ {
		port := base + i
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return ln, port, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("server: no candidate port available in [%d,%d]: %w", base, base+2, lastErr)
}

// Run starts the HTTP/WebSocket listener with port-seeking, a periodic
// runtime-state/heartbeat job, and blocks until ctx is cancelled, then
// shuts down gracefully — grounded on desktop.go's Run(ctx) shape
// (goroutine + errCh, select on ctx.Done/errCh, bounded Shutdown).
func (s *Server) Run(ctx context.Context, staticDir string) error {
	rt, err := s.state.Load()
	if err != nil {
		s.logger.Warn("failed to load runtime state, starting at monitor 0", "error", err)
	}
	s.cfg.Server.MonitorID = rt.LastMonitorID

	ln, boundPort, err := bindCandidates(s.cfg.Server.Port)
	if err != nil {
		return err
	}
	s.logger.Info("bound", "port", boundPort)

	httpServer := &http.Server{Handler: s.Mux(staticDir)}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("server: build scheduler: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() {
			s.mu.Lock()
			last := s.cfg.Server.MonitorID
			count := len(s.engines)
			s.mu.Unlock()
			if err := s.state.Save(state.Runtime{LastMonitorID: last}); err != nil {
				s.logger.Warn("runtime state flush failed", "error", err)
			}
			s.logger.Debug("heartbeat", "engines", count)
		}),
	); err != nil {
		return fmt.Errorf("server: schedule heartbeat job: %w", err)
	}
	scheduler.Start()

	if _, err := s.GetOrCreateEngine(ctx, s.cfg.Server.MonitorID, false); err != nil {
		s.logger.Error("initial engine construction failed", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.Stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = scheduler.Shutdown()

	s.Stop()
	return nil
}
