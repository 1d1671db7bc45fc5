package sio

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsRead is one result handed from the reader pump to recv: a packet's
// wire text or the error that ended the connection.
type wsRead struct {
	text string
	err  error
}

// WebSocketTransport holds one persistent full-duplex connection for its
// entire life. Reads block for at most the fixed deadline; a deadline
// expiry is retryable, a closed connection is not.
//
// gorilla caches a connection's first read error, deadline expiries
// included, so per-call read deadlines can never be retried. Reads run on
// an internal pump goroutine instead; recv waits on its channel with the
// fixed timeout.
type WebSocketTransport struct {
	packetSession
	conn   *websocket.Conn
	alive  bool
	closed bool
	reads  chan wsRead
	done   chan struct{}
}

func newWebSocketTransport(sess *Session, secure bool, baseURL string, opts *Options) (*WebSocketTransport, error) {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	endpoint := fmt.Sprintf("%s://%s/websocket/%s", scheme, baseURL, sess.ID)

	dialer := websocket.Dialer{
		HandshakeTimeout: ioTimeout,
		Proxy:            opts.proxyFunc(),
		TLSClientConfig:  opts.tlsConfig(),
	}
	if u, err := url.Parse(endpoint); err == nil {
		dialer.Jar = opts.cookieJar(u)
	}
	conn, resp, err := dialer.Dial(endpoint, opts.header())
	if err != nil {
		if resp != nil {
			return nil, &ConnectionError{
				Detail: fmt.Sprintf("could not open %s", endpoint),
				Status: resp.StatusCode,
				cause:  err,
			}
		}
		return nil, &ConnectionError{Detail: fmt.Sprintf("could not open %s", endpoint), cause: err}
	}

	t := &WebSocketTransport{
		conn:  conn,
		alive: true,
		reads: make(chan wsRead, 32),
		done:  make(chan struct{}),
	}
	log := opts.logger().With().
		Str("transport", TransportWebSocket).
		Str("sid", sess.ID).
		Str("tid", uuid.New().String()).
		Logger()
	t.packetSession = newPacketSession(t, log)
	go t.readPump()
	return t, nil
}

func (t *WebSocketTransport) Name() string { return TransportWebSocket }

func (t *WebSocketTransport) connected() bool { return t.alive }

func (t *WebSocketTransport) send(packetText string) error {
	t.conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(packetText)); err != nil {
		t.alive = false
		return &ConnectionError{Detail: fmt.Sprintf("could not send %s", packetText), cause: err}
	}
	return nil
}

// recv blocks for up to the fixed deadline waiting for one inbound
// message. Each message carries exactly one packet on this transport.
// An expired wait leaves the transport usable; the next recv picks up
// whatever the pump has read in the meantime.
func (t *WebSocketTransport) recv() ([]string, error) {
	timer := time.NewTimer(ioTimeout)
	defer timer.Stop()

	select {
	case r := <-t.reads:
		if r.err != nil {
			t.alive = false
			return nil, &ConnectionError{Detail: "connection closed", cause: r.err}
		}
		return []string{r.text}, nil
	case <-timer.C:
		return nil, &TimeoutError{Op: "receive"}
	}
}

// readPump owns every read on the connection. It parks in ReadMessage
// until the connection dies; closing the transport unblocks it.
func (t *WebSocketTransport) readPump() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case t.reads <- wsRead{err: err}:
			case <-t.done:
			}
			return
		}
		select {
		case t.reads <- wsRead{text: string(data)}:
		case <-t.done:
			return
		}
	}
}

func (t *WebSocketTransport) close() error {
	t.alive = false
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return t.conn.Close()
}
