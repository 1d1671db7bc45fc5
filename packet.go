package sio

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Packet is one protocol message unit in code:packetId:path:data form.
// HasData distinguishes a wire text that omitted the data field entirely
// from one that carried an empty data field.
type Packet struct {
	Code    PacketCode
	ID      string
	Path    string
	Data    string
	HasData bool
}

func (p Packet) encode() string {
	parts := []string{strconv.Itoa(int(p.Code)), p.ID, p.Path, p.Data}
	return strings.Join(parts, ":")
}

// decodePacket splits wire text on ":" into at most 4 fields. Texts that
// split into 2 fields are malformed; the second return is false for them.
func decodePacket(text string) (Packet, bool) {
	parts := strings.SplitN(text, ":", 4)
	var p Packet
	code, err := strconv.Atoi(parts[0])
	if err != nil {
		return Packet{}, false
	}
	p.Code = PacketCode(code)
	switch len(parts) {
	case 4:
		p.ID, p.Path, p.Data = parts[1], parts[2], parts[3]
		p.HasData = true
	case 3:
		p.ID, p.Path = parts[1], parts[2]
	case 1:
	default:
		return Packet{}, false
	}
	return p, true
}

// wire is the raw I/O capability a concrete transport injects into its
// packetSession: one send and one bounded receive batch per call.
type wire interface {
	send(packetText string) error
	recv() ([]string, error)
	connected() bool
	close() error
}

// eventBody is the JSON value carried by EVENT packets.
type eventBody struct {
	Name string      `json:"name"`
	Args interface{} `json:"args"`
}

// packetSession holds the codec state shared by every transport: the
// packet-id counter and the pending acknowledgment registry. Both are
// unsynchronized; a transport instance belongs to one caller goroutine.
type packetSession struct {
	wire     wire
	log      zerolog.Logger
	packetID int
	acks     map[string]AckFunc
}

func newPacketSession(w wire, log zerolog.Logger) packetSession {
	return packetSession{
		wire: w,
		log:  log,
		acks: map[string]AckFunc{},
	}
}

// Connect emits a CONNECT packet for the given namespace path.
func (s *packetSession) Connect(path string) error {
	return s.sendPacket(CodeConnect, path, "", nil)
}

// Disconnect leaves the given namespace, or closes the transport entirely
// when path is empty. Not connected is a no-op.
func (s *packetSession) Disconnect(path string) error {
	if !s.wire.connected() {
		return nil
	}
	if path != "" {
		return s.sendPacket(CodeDisconnect, path, "", nil)
	}
	return s.wire.close()
}

// SendHeartbeat emits a bare HEARTBEAT packet.
func (s *packetSession) SendHeartbeat() error {
	return s.sendPacket(CodeHeartbeat, "", "", nil)
}

// Message sends raw text as a MESSAGE packet or a JSON payload as a
// JSON_MESSAGE packet. A non-nil ack mints a packet id before send.
func (s *packetSession) Message(path string, data Payload, ack AckFunc) error {
	if !data.structured {
		return s.sendPacket(CodeMessage, path, data.text, ack)
	}
	encoded, err := marshalJSON(data.value)
	if err != nil {
		return &ProtocolError{Detail: "could not encode message data", cause: err}
	}
	return s.sendPacket(CodeJSONMessage, path, encoded, ack)
}

// Emit sends an EVENT packet whose data is {"name":event,"args":args}.
func (s *packetSession) Emit(path, event string, args []interface{}, ack AckFunc) error {
	encoded, err := marshalJSON(eventBody{Name: event, Args: args})
	if err != nil {
		return &ProtocolError{Detail: "could not encode event data", cause: err}
	}
	return s.sendPacket(CodeEvent, path, encoded, ack)
}

// Ack acknowledges the peer's packet id, carrying args back when given.
// The data field is "<id>" or "<id>+<json array>"; ACK packets have no path.
func (s *packetSession) Ack(packetID string, args ...interface{}) error {
	id := strings.TrimRight(packetID, "+")
	data := id
	if len(args) > 0 {
		encoded, err := marshalJSON(args)
		if err != nil {
			return &ProtocolError{Detail: "could not encode ack args", cause: err}
		}
		data = id + "+" + encoded
	}
	return s.sendPacket(CodeAck, "", data, nil)
}

// Noop emits a bare NOOP packet.
func (s *packetSession) Noop() error {
	return s.sendPacket(CodeNoop, "", "", nil)
}

func (s *packetSession) sendPacket(code PacketCode, path, data string, ack AckFunc) error {
	var id string
	if ack != nil {
		id = s.registerAck(ack)
	}
	text := Packet{Code: code, ID: id, Path: path, Data: data}.encode()
	if err := s.wire.send(text); err != nil {
		return err
	}
	s.log.Debug().Str("packet", text).Msg("packet sent")
	return nil
}

// RecvPackets performs one underlying receive and decodes every wire text
// in the batch. Texts with a malformed split count are logged and skipped;
// one bad packet never aborts the batch.
func (s *packetSession) RecvPackets() ([]Packet, error) {
	texts, err := s.wire.recv()
	if err != nil {
		return nil, err
	}
	packets := make([]Packet, 0, len(texts))
	for _, text := range texts {
		s.log.Debug().Str("packet", text).Msg("packet received")
		p, ok := decodePacket(text)
		if !ok {
			s.log.Warn().Str("packet", text).Msg("malformed packet skipped")
			continue
		}
		packets = append(packets, p)
	}
	return packets, nil
}

// registerAck mints the next packet id and stores the callback under it.
// Ids are strictly increasing for the life of the transport, starting at 1;
// the returned form carries the trailing "+" that requests acknowledgment.
func (s *packetSession) registerAck(fn AckFunc) string {
	s.packetID++
	id := strconv.Itoa(s.packetID)
	s.acks[id] = fn
	return id + "+"
}

// ClaimAck looks up and removes the callback registered for the id:
// at-most-once delivery. An unknown id means the peer acknowledged a
// packet that never requested a callback.
func (s *packetSession) ClaimAck(packetID string) (AckFunc, error) {
	fn, ok := s.acks[packetID]
	if !ok {
		return nil, &ProtocolError{Detail: "no ack callback registered", Text: packetID}
	}
	delete(s.acks, packetID)
	return fn, nil
}

// HasPendingAcks reports whether any acknowledgment is still outstanding.
func (s *packetSession) HasPendingAcks() bool {
	return len(s.acks) > 0
}

// Connected reflects the underlying channel state.
func (s *packetSession) Connected() bool { return s.wire.connected() }

// Close shuts the underlying channel unconditionally.
func (s *packetSession) Close() error { return s.wire.close() }

// SplitAckData splits an inbound ACK packet's data field into the
// acknowledged packet id and its optional JSON-encoded arguments:
// "<id>" or "<id>+<json array>".
func SplitAckData(data string) (string, []interface{}, error) {
	id, encoded, found := strings.Cut(data, "+")
	if !found {
		return data, nil, nil
	}
	var args []interface{}
	if err := json.Unmarshal([]byte(encoded), &args); err != nil {
		return "", nil, &ProtocolError{Detail: "unparseable ack args", Text: encoded, cause: err}
	}
	return id, args, nil
}

// marshalJSON encodes with HTML escaping off so non-ASCII text and the
// characters <, >, & pass through verbatim.
func marshalJSON(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
