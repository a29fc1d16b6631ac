package viewer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialPair(t *testing.T) (*Session, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var serverConn *websocket.Conn
	var wg sync.WaitGroup
	wg.Add(1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = c
		wg.Done()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientConn.Close() })

	wg.Wait()
	return New(serverConn, "127.0.0.1:0"), clientConn
}

func TestTrySend_DropsWhenAlreadyInFlight(t *testing.T) {
	sess, _ := dialPair(t)

	sess.sending.Store(true)
	sent, err := sess.TrySend([]byte{1, 2, 3})

	assert.NoError(t, err)
	assert.False(t, sent)
}

func TestTrySend_DeliversPayloadAndReleasesSlot(t *testing.T) {
	sess, clientConn := dialPair(t)

	sent, err := sess.TrySend([]byte{0xAA, 0xBB})
	require.NoError(t, err)
	assert.True(t, sent)
	assert.False(t, sess.InFlight())

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte{0xAA, 0xBB}, data)
}

func TestTrySend_ClearsSlotOnTransportError(t *testing.T) {
	sess, clientConn := dialPair(t)
	_ = clientConn.Close()

	// Give the server side a moment to observe the closed peer.
	time.Sleep(50 * time.Millisecond)

	_, _ = sess.TrySend([]byte{1})
	assert.False(t, sess.InFlight())
}

func TestStateTransitions(t *testing.T) {
	sess, _ := dialPair(t)
	assert.Equal(t, StateConnecting, sess.State())

	sess.SetState(StateHandshook)
	assert.Equal(t, StateHandshook, sess.State())

	sess.SetState(StateMember)
	sess.SetMembership(3)
	assert.Equal(t, StateMember, sess.State())
	assert.Equal(t, 3, sess.Membership())
}
