package sio

// Transport is one concrete network channel bound to one session. All
// operations block with the fixed internal deadline; none are safe to
// call concurrently from multiple goroutines against the same instance.
type Transport interface {
	// Codec operations, shared by every transport.
	Connect(path string) error
	Disconnect(path string) error
	SendHeartbeat() error
	Message(path string, data Payload, ack AckFunc) error
	Emit(path, event string, args []interface{}, ack AckFunc) error
	Ack(packetID string, args ...interface{}) error
	Noop() error
	RecvPackets() ([]Packet, error)
	ClaimAck(packetID string) (AckFunc, error)
	HasPendingAcks() bool

	// Channel lifecycle.
	Connected() bool
	Close() error
	Name() string
}

// Negotiate walks the client's transports in preference order and returns
// the first one the server also advertised, already constructed and bound
// to the session. No mutually supported transport is a NegotiationError
// naming both lists.
func Negotiate(clientTransports []string, sess *Session, secure bool, baseURL string, opts *Options) (Transport, error) {
	log := opts.logger()
	for _, name := range clientTransports {
		if !sess.Supports(name) {
			continue
		}
		log.Debug().Str("transport", name).Msg("transport selected")
		switch name {
		case TransportWebSocket:
			t, err := newWebSocketTransport(sess, secure, baseURL, opts)
			if err != nil {
				return nil, err
			}
			return t, nil
		case TransportXHRPolling:
			return newXHRPollingTransport(sess, secure, baseURL, opts), nil
		case TransportJSONPPolling:
			return newJSONPPollingTransport(sess, secure, baseURL, opts), nil
		}
	}
	return nil, &NegotiationError{Client: clientTransports, Server: sess.SupportedTransports}
}
