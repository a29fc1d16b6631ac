// Package viewer implements the viewer session (C7): one per connected
// client, owning a send slot, in-flight send tracking, device
// metadata, and engine membership. Grounded on air_server_app.py's
// _ws_handler state machine and the teacher's session_registry.go
// ConnectedClient shape (mutex-guarded per-client record).
package viewer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the viewer session state machine (spec.md §4.7):
// Connecting -> Handshook -> Member(monitor_id) -> {Member(monitor_id'), Dashboard, Closed}.
type State int

const (
	StateConnecting State = iota
	StateHandshook
	StateMember
	StateDashboard
	StateClosed
)

// SendTimeout is the hard cap on a single viewer send (spec.md §5).
const SendTimeout = 1 * time.Second

// Session is one connected viewer or dashboard subscriber.
type Session struct {
	ID         string
	RemoteAddr string
	conn       *websocket.Conn

	writeMu sync.Mutex // gorilla/websocket requires a single writer goroutine
	sending atomic.Bool

	mu          sync.Mutex
	state       State
	membership  int // current monitor_id, meaningful when state == StateMember
	deviceName  string
	lastSeen    time.Time
}

// New wraps a live websocket connection as a fresh session in the
// Connecting state.
func New(conn *websocket.Conn, remoteAddr string) *Session {
	return &Session{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		conn:       conn,
		state:      StateConnecting,
		lastSeen:   time.Now(),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session's state machine. Callers are
// responsible for only issuing valid transitions (spec.md §4.7); this
// method does not itself validate the edge, mirroring the teacher's
// preference for explicit caller-driven state over an enforced FSM.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Membership returns the monitor_id this viewer currently belongs to.
func (s *Session) Membership() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.membership
}

// SetMembership records the monitor_id this viewer now belongs to.
func (s *Session) SetMembership(monitorID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.membership = monitorID
}

// DeviceName returns the cached device/mode metadata from the most
// recent CLIENT_STATS message.
func (s *Session) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceName
}

// SetDeviceName updates the cached device metadata.
func (s *Session) SetDeviceName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceName = name
	s.lastSeen = time.Now()
}

// InFlight reports whether a binary payload send is currently pending
// to this viewer.
func (s *Session) InFlight() bool {
	return s.sending.Load()
}

// TrySend attempts to claim the single in-flight send slot and, if
// successful, writes payload as a binary message with a 1s deadline.
// A payload for a viewer already sending is dropped at the source
// (spec.md §4.7): TrySend returns (false, nil) without touching the
// connection. On timeout or transport error the slot is cleared and
// the viewer remains connected — callers should treat any returned
// error as non-fatal to the session.
func (s *Session) TrySend(payload []byte) (sent bool, err error) {
	if !s.sending.CompareAndSwap(false, true) {
		return false, nil
	}
	defer s.sending.Store(false)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(SendTimeout)); err != nil {
		return false, err
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return false, err
	}
	return true, nil
}

// SendJSON writes a text control frame (VERSION, SYS_EVENT, CLIPBOARD,
// HEARTBEAT_ACK). Control frames are not subject to the binary
// payload's single-in-flight rule, matching air_server_app.py sending
// JSON control messages independent of frame backpressure.
func (s *Session) SendJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(SendTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// Close closes the underlying connection with the given close code and
// reason, used by software reset (spec.md §4.8 step 1, code 1001).
func (s *Session) Close(code int, reason string) error {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(SendTimeout))
	s.writeMu.Unlock()

	return s.conn.Close()
}

// Conn exposes the underlying connection for the read loop owned by
// the server core.
func (s *Session) Conn() *websocket.Conn { return s.conn }
