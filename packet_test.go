package sio

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWire records sends and replays queued receive batches.
type fakeWire struct {
	sent    []string
	batches [][]string
	recvErr error
	open    bool
	closed  bool
}

func (w *fakeWire) send(packetText string) error {
	w.sent = append(w.sent, packetText)
	return nil
}

func (w *fakeWire) recv() ([]string, error) {
	if w.recvErr != nil {
		return nil, w.recvErr
	}
	if len(w.batches) == 0 {
		return nil, nil
	}
	batch := w.batches[0]
	w.batches = w.batches[1:]
	return batch, nil
}

func (w *fakeWire) connected() bool { return w.open }

func (w *fakeWire) close() error {
	w.open = false
	w.closed = true
	return nil
}

func newTestSession() (*packetSession, *fakeWire) {
	w := &fakeWire{open: true}
	s := newPacketSession(w, zerolog.Nop())
	return &s, w
}

func TestSendOperationsWireText(t *testing.T) {
	tests := []struct {
		name string
		op   func(s *packetSession) error
		want string
	}{
		{"connect", func(s *packetSession) error { return s.Connect("/chat") }, "1::/chat:"},
		{"heartbeat", func(s *packetSession) error { return s.SendHeartbeat() }, "2:::"},
		{"noop", func(s *packetSession) error { return s.Noop() }, "8:::"},
		{"text message", func(s *packetSession) error {
			return s.Message("/chat", Text("hello"), nil)
		}, "3::/chat:hello"},
		{"json message", func(s *packetSession) error {
			return s.Message("/chat", JSON(map[string]interface{}{"a": 1}), nil)
		}, `4::/chat:{"a":1}`},
		{"emit", func(s *packetSession) error {
			return s.Emit("/chat", "greet", []interface{}{"x"}, nil)
		}, `5::/chat:{"name":"greet","args":["x"]}`},
		{"ack bare", func(s *packetSession) error { return s.Ack("3+") }, "6:::3"},
		{"ack with args", func(s *packetSession) error { return s.Ack("3+", "ok") }, `6:::3+["ok"]`},
		{"disconnect namespace", func(s *packetSession) error { return s.Disconnect("/chat") }, "0::/chat:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, w := newTestSession()
			require.NoError(t, tt.op(s))
			require.Len(t, w.sent, 1)
			assert.Equal(t, tt.want, w.sent[0])
		})
	}
}

func TestMessagePreservesNonASCII(t *testing.T) {
	s, w := newTestSession()
	require.NoError(t, s.Message("", JSON("héllo ñ 中"), nil))
	assert.Equal(t, `4:::"héllo ñ 中"`, w.sent[0])
}

func TestDisconnect(t *testing.T) {
	t.Run("not connected is a no-op", func(t *testing.T) {
		s, w := newTestSession()
		w.open = false
		require.NoError(t, s.Disconnect(""))
		assert.Empty(t, w.sent)
		assert.False(t, w.closed)
	})

	t.Run("empty path closes the wire", func(t *testing.T) {
		s, w := newTestSession()
		require.NoError(t, s.Disconnect(""))
		assert.Empty(t, w.sent)
		assert.True(t, w.closed)
	})

	t.Run("namespace path keeps the wire open", func(t *testing.T) {
		s, w := newTestSession()
		require.NoError(t, s.Disconnect("/chat"))
		assert.Equal(t, []string{"0::/chat:"}, w.sent)
		assert.False(t, w.closed)
	})
}

func TestAckIDsMonotonic(t *testing.T) {
	s, w := newTestSession()
	noop := func(args ...interface{}) {}

	require.NoError(t, s.Message("/chat", Text("a"), noop))
	require.NoError(t, s.Emit("/chat", "e", nil, noop))
	require.NoError(t, s.Message("/chat", Text("b"), noop))

	assert.Equal(t, "3:1+:/chat:a", w.sent[0])
	assert.True(t, strings.HasPrefix(w.sent[1], "5:2+:/chat:"))
	assert.Equal(t, "3:3+:/chat:b", w.sent[2])
}

func TestClaimAckAtMostOnce(t *testing.T) {
	s, _ := newTestSession()

	called := false
	id := s.registerAck(func(args ...interface{}) { called = true })
	assert.Equal(t, "1+", id)
	assert.True(t, s.HasPendingAcks())

	fn, err := s.ClaimAck("1")
	require.NoError(t, err)
	fn()
	assert.True(t, called)
	assert.False(t, s.HasPendingAcks())

	_, err = s.ClaimAck("1")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestDecodePacket(t *testing.T) {
	t.Run("four fields", func(t *testing.T) {
		p, ok := decodePacket("3:1+:/chat:hello:world")
		require.True(t, ok)
		assert.Equal(t, CodeMessage, p.Code)
		assert.Equal(t, "1+", p.ID)
		assert.Equal(t, "/chat", p.Path)
		assert.Equal(t, "hello:world", p.Data) // data keeps its own colons
		assert.True(t, p.HasData)
	})

	t.Run("three fields omit data", func(t *testing.T) {
		p, ok := decodePacket("1::/chat")
		require.True(t, ok)
		assert.Equal(t, CodeConnect, p.Code)
		assert.Equal(t, "/chat", p.Path)
		assert.False(t, p.HasData)
	})

	t.Run("bare code", func(t *testing.T) {
		p, ok := decodePacket("2")
		require.True(t, ok)
		assert.Equal(t, CodeHeartbeat, p.Code)
		assert.Empty(t, p.ID)
		assert.Empty(t, p.Path)
		assert.False(t, p.HasData)
	})

	t.Run("two fields are malformed", func(t *testing.T) {
		_, ok := decodePacket("2:")
		assert.False(t, ok)
	})

	t.Run("non-numeric code is malformed", func(t *testing.T) {
		_, ok := decodePacket("nope::/chat:hi")
		assert.False(t, ok)
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Packet{Code: CodeEvent, ID: "7+", Path: "/chat", Data: `{"name":"x","args":[]}`, HasData: true}
	out, ok := decodePacket(in.encode())
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestRecvPacketsSkipsMalformed(t *testing.T) {
	s, w := newTestSession()
	w.batches = [][]string{{
		"3::/chat:hello",
		"2:", // malformed split count, skipped
		"5::/chat:" + `{"name":"greet","args":[]}`,
	}}

	packets, err := s.RecvPackets()
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, CodeMessage, packets[0].Code)
	assert.Equal(t, CodeEvent, packets[1].Code)
}

func TestRecvPacketsPropagatesWireError(t *testing.T) {
	s, w := newTestSession()
	w.recvErr = &TimeoutError{Op: "receive"}

	_, err := s.RecvPackets()
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
}

func TestSplitAckData(t *testing.T) {
	t.Run("bare id", func(t *testing.T) {
		id, args, err := SplitAckData("4")
		require.NoError(t, err)
		assert.Equal(t, "4", id)
		assert.Nil(t, args)
	})

	t.Run("id with args", func(t *testing.T) {
		id, args, err := SplitAckData(`4+["ok",2]`)
		require.NoError(t, err)
		assert.Equal(t, "4", id)
		assert.Equal(t, []interface{}{"ok", float64(2)}, args)
	})

	t.Run("bad args json", func(t *testing.T) {
		_, _, err := SplitAckData("4+{oops")
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
	})
}
