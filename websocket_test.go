package sio

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// newWSServer upgrades /websocket/<sid> requests and hands the server side
// of the connection to the handler.
func newWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/websocket/") {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsBaseURL(server *httptest.Server) string {
	return strings.TrimPrefix(server.URL, "http://")
}

func TestWebSocketSend(t *testing.T) {
	received := make(chan string, 1)
	server := newWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)
	})
	defer server.Close()

	tr, err := newWebSocketTransport(&Session{ID: "sid123"}, false, wsBaseURL(server), nil)
	require.NoError(t, err)
	defer tr.Close()

	require.True(t, tr.Connected())
	require.NoError(t, tr.Message("/chat", Text("hello"), nil))

	select {
	case got := <-received:
		assert.Equal(t, "3::/chat:hello", got)
	case <-time.After(time.Second):
		t.Fatal("server never received the packet")
	}
}

func TestWebSocketRecvPackets(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("3::/chat:hello"))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	tr, err := newWebSocketTransport(&Session{ID: "sid123"}, false, wsBaseURL(server), nil)
	require.NoError(t, err)
	defer tr.Close()

	packets, err := tr.RecvPackets()
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, CodeMessage, packets[0].Code)
	assert.Equal(t, "/chat", packets[0].Path)
	assert.Equal(t, "hello", packets[0].Data)
}

func TestWebSocketRecvTimeout(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		// Say nothing; the client read deadline must expire.
		time.Sleep(3 * time.Second)
	})
	defer server.Close()

	tr, err := newWebSocketTransport(&Session{ID: "sid123"}, false, wsBaseURL(server), nil)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.RecvPackets()
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
}

func TestWebSocketRecvRetryAfterTimeout(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		// Stay quiet past the client's deadline, then deliver.
		time.Sleep(2500 * time.Millisecond)
		conn.WriteMessage(websocket.TextMessage, []byte("3::/chat:hello"))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	tr, err := newWebSocketTransport(&Session{ID: "sid123"}, false, wsBaseURL(server), nil)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.RecvPackets()
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.True(t, tr.Connected())

	packets, err := tr.RecvPackets()
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, "3::/chat:hello", packets[0].encode())
	assert.True(t, tr.Connected())
}

func TestWebSocketRecvOnClosedConnection(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		conn.Close()
	})
	defer server.Close()

	tr, err := newWebSocketTransport(&Session{ID: "sid123"}, false, wsBaseURL(server), nil)
	require.NoError(t, err)

	_, err = tr.RecvPackets()
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, tr.Connected())
}

func TestWebSocketDialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := wsBaseURL(server)
	server.Close()

	_, err := newWebSocketTransport(&Session{ID: "sid123"}, false, baseURL, nil)
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
}

func TestWebSocketDisconnectClosesConnection(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tr, err := newWebSocketTransport(&Session{ID: "sid123"}, false, wsBaseURL(server), nil)
	require.NoError(t, err)

	require.NoError(t, tr.Disconnect(""))
	assert.False(t, tr.Connected())

	// A second disconnect on a dead transport is a no-op.
	require.NoError(t, tr.Disconnect(""))
}
