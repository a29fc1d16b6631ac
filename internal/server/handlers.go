package server

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/engine"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/governor"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/viewer"
)

// upgrader accepts any origin, matching the teacher's HandleStreamWebSocket
// (LAN-trust model, consistent with spec.md's "authentication beyond
// transport-level trust" non-goal).
var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Mux builds the HTTP surface described in spec.md §6.3 (contract
// only; static asset content itself is an external collaborator).
func (s *Server) Mux(staticDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	if staticDir != "" {
		mux.Handle("/client/", http.StripPrefix("/client/", http.FileServer(http.Dir(staticDir))))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/client/index.html", http.StatusFound)
	})
	return mux
}

type clientDetail struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	FPS     float64 `json:"fps"`
	Battery float64 `json:"battery"`
	Charging bool   `json:"is_charging"`
}

type hostStats struct {
	CPU    int    `json:"cpu"`
	RAM    int    `json:"ram"`
	Uptime string `json:"uptime"`
}

type monitorInfo struct {
	ID int `json:"id"`
	W  int `json:"w"`
	H  int `json:"h"`
}

type statsResponse struct {
	Clients       int            `json:"clients"`
	ClientDetails []clientDetail `json:"client_details"`
	Monitors      []monitorInfo  `json:"monitors"`
	Host          hostStats      `json:"host"`
}

var startTime = time.Now()

// handleStats serves GET /api/stats (spec.md §6.3).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	total := 0
	var details []clientDetail
	var monitors []monitorInfo
	for id, slot := range s.engines {
		vs := slot.viewerList()
		total += len(vs)
		for _, v := range vs {
			details = append(details, clientDetail{
				ID:       v.ID,
				Name:     v.DeviceName(),
				FPS:      slot.governor.LastFPS,
				Battery:  slot.governor.LastBattery,
				Charging: slot.governor.LastCharging,
			})
		}
		monitors = append(monitors, monitorInfo{ID: id})
	}
	s.mu.Unlock()

	resp := statsResponse{
		Clients:       total,
		ClientDetails: details,
		Monitors:      monitors,
		Host: hostStats{
			CPU:    runtime.NumCPU(),
			RAM:    0,
			Uptime: time.Since(startTime).String(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleSnapshot serves GET /api/snapshot?monitor_id=N. Per spec.md
// §6.3 it MUST NOT 5xx: on any failure it falls back to a "no signal"
// placeholder of the contract dimensions, grounded on
// air_server_app.py's _handle_snapshot_api triple fallback.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	monitorID := 0
	if v := r.URL.Query().Get("monitor_id"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			monitorID = n
		}
	}

	s.mu.Lock()
	slot, ok := s.engines[monitorID]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if img, err := slot.engine.Snapshot(ctx); err == nil {
			if data, err := engine.EncodeJPEGThumbnail(img, 70); err == nil {
				_, _ = w.Write(data)
				return
			}
		}
	}

	_, _ = w.Write(noSignalPlaceholder())
}

func noSignalPlaceholder() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 480, 270))
	navy := color.RGBA{R: 0, G: 0, B: 0x40, A: 0xFF}
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := 0; x < img.Bounds().Dx(); x++ {
			img.Set(x, y, navy)
		}
	}
	data, err := engine.EncodeJPEGThumbnail(img, 40)
	if err != nil {
		// Absolute last resort: a tiny embedded 1x1 JPEG-shaped byte
		// slice rather than an empty body, mirroring
		// air_server_app.py's bare except wrapping the entire handler.
		return []byte{0xFF, 0xD8, 0xFF, 0xD9}
	}
	return data
}

// handleWS upgrades to a bidirectional message stream and runs the
// viewer session state machine from spec.md §4.7.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", "error", err)
		return
	}

	sess := viewer.New(conn, r.RemoteAddr)
	sess.SetState(viewer.StateConnecting)

	initialMonitor := s.cfg.Server.MonitorID

	if err := sess.SendJSON(versionMsg{
		Type:      "VERSION",
		Version:   protocolVersion,
		MonitorID: initialMonitor,
		Tier:      string(s.cfg.Server.Tier),
		Language:  s.cfg.Server.Language,
	}); err != nil {
		_ = conn.Close()
		return
	}
	sess.SetState(viewer.StateHandshook)

	slot, err := s.GetOrCreateEngine(r.Context(), initialMonitor, false)
	if err != nil {
		s.logger.Error("engine unavailable", "monitor_id", initialMonitor, "error", err)
		_ = conn.Close()
		return
	}
	slot.addViewer(sess)
	sess.SetState(viewer.StateMember)
	sess.SetMembership(initialMonitor)

	s.sendInitialKeyframe(slot, sess)

	defer func() {
		s.mu.Lock()
		if sl, ok := s.engines[sess.Membership()]; ok {
			sl.removeViewer(sess)
		}
		s.mu.Unlock()
		s.removeDashboard(sess)
		_ = conn.Close()
	}()

	s.readLoop(r.Context(), sess)
}

// sendInitialKeyframe fetches and sends a keyframe within a 2s soft
// timeout; failure is logged and non-fatal (spec.md §4.7).
func (s *Server) sendInitialKeyframe(slot *EngineSlot, sess *viewer.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	kf, err := slot.engine.KeyframePayload(ctx)
	if err != nil {
		s.logger.Warn("initial keyframe failed", "viewer", sess.ID, "error", err)
		return
	}
	if _, err := sess.TrySend(kf); err != nil {
		s.logger.Warn("initial keyframe send failed", "viewer", sess.ID, "error", err)
	}
}

func (s *Server) readLoop(ctx context.Context, sess *viewer.Session) {
	conn := sess.Conn()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.handleBinaryMessage(data)
		case websocket.TextMessage:
			s.handleTextMessage(ctx, sess, data)
		}
	}
}

// handleBinaryMessage forwards input events opaquely to the external
// input-injection collaborator (spec.md §1, §6.1). The first byte
// (0x03/0x04) distinguishes event kinds but this module does not
// implement the injection side itself.
func (s *Server) handleBinaryMessage(data []byte) {
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case 0x03, 0x04:
		// Opaque forward point; see package doc.
	}
}

func (s *Server) handleTextMessage(ctx context.Context, sess *viewer.Session, data []byte) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("malformed viewer message", "viewer", sess.ID, "error", err)
		return
	}

	switch envelope.Type {
	case "CLIENT_STATS":
		var m clientStatsMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		s.applyClientStats(sess, sess.Membership(), m)

	case "DASHBOARD_IDENT":
		s.mu.Lock()
		if sl, ok := s.engines[sess.Membership()]; ok {
			sl.removeViewer(sess)
		}
		s.mu.Unlock()
		sess.SetState(viewer.StateDashboard)
		s.addDashboard(sess)

	case "DASHBOARD_CMD":
		var m dashboardCmdMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		s.handleDashboardCmd(ctx, sess, m)

	case "HEARTBEAT":
		var m heartbeatMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		_ = sess.SendJSON(heartbeatAckMsg{Type: "HEARTBEAT_ACK", Timestamp: m.Timestamp})

	default:
		s.logger.Debug("unknown viewer message type", "type", envelope.Type)
	}
}

func (s *Server) applyClientStats(sess *viewer.Session, monitorID int, m clientStatsMsg) {
	sess.SetDeviceName(m.DeviceName)

	s.mu.Lock()
	slot, ok := s.engines[monitorID]
	s.mu.Unlock()
	if !ok {
		return
	}

	superEco := m.Mode == "SUPER_ECO"

	slot.governor.Update(governor.Telemetry{
		FPS:           m.FPS,
		AvgDecodeMs:   m.AvgDecodeMs,
		PendingTiles:  m.PendingTiles,
		Battery:       m.Battery,
		IsCharging:    m.IsCharging,
		BandwidthKbps: m.BandwidthKbps,
		Backpressure:  governor.Backpressure(m.Backpressure),
		DeviceName:    m.DeviceName,
		SuperEco:      superEco,
	})

	newQuality := slot.governor.GetQuality()
	if newQuality != slot.engine.Quality() {
		slot.engine.SetQuality(newQuality)
	}
	newTileSize := slot.governor.GetTileSize()
	if newTileSize != slot.engine.TileSize() {
		slot.engine.SetTileSize(newTileSize)
	}
	newFPS := slot.governor.GetTargetFPS()
	if newFPS != slot.engine.FPS() {
		slot.engine.SetFPS(newFPS)
	}
}

func (s *Server) handleDashboardCmd(ctx context.Context, sess *viewer.Session, m dashboardCmdMsg) {
	switch m.Command {
	case cmdSoftwareReset:
		go func() {
			if err := s.SoftwareReset(context.Background()); err != nil {
				s.logger.Error("software reset failed", "error", err)
			}
		}()
	case cmdForceRefresh:
		s.ForceRefresh()
	case cmdSwitchMonitor:
		go func() {
			if err := s.SwitchMonitor(context.Background(), m.MonitorID); err != nil {
				s.logger.Error("monitor switch failed", "error", err)
			}
		}()
	}
}
