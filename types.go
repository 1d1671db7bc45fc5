package sio

import (
	"crypto/tls"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Packet codes of the socket.io wire protocol (generation 0/1).
type PacketCode int

const (
	CodeDisconnect  PacketCode = 0
	CodeConnect     PacketCode = 1
	CodeHeartbeat   PacketCode = 2
	CodeMessage     PacketCode = 3
	CodeJSONMessage PacketCode = 4
	CodeEvent       PacketCode = 5
	CodeAck         PacketCode = 6
	CodeError       PacketCode = 7 // received only, never emitted by this client
	CodeNoop        PacketCode = 8
)

// Transport names as advertised during the handshake.
const (
	TransportWebSocket    = "websocket"
	TransportXHRPolling   = "xhr-polling"
	TransportJSONPPolling = "jsonp-polling"
)

// DefaultTransports is the client preference order used when the caller
// has no opinion of its own.
var DefaultTransports = []string{
	TransportWebSocket,
	TransportXHRPolling,
	TransportJSONPPolling,
}

// ioTimeout bounds every blocking send or receive. It is a design
// constant: expiry surfaces as a TimeoutError so the caller's poll loop
// can retry, unlike a hard connection failure.
const ioTimeout = 2 * time.Second

// AckFunc is a caller-supplied handler invoked when the peer acknowledges
// a specific packet id. Arguments are whatever the peer sent back.
type AckFunc func(args ...interface{})

// Session is the result of the out-of-scope handshake: the allocated
// session id and the transports the server is willing to speak. It is
// immutable for the lifetime of a transport.
type Session struct {
	ID                  string
	SupportedTransports []string
}

// Supports reports whether the server advertised the named transport.
func (s *Session) Supports(name string) bool {
	for _, t := range s.SupportedTransports {
		if t == name {
			return true
		}
	}
	return false
}

// Payload is the data argument of Message: either raw text (sent as a
// MESSAGE packet) or a value to be JSON-encoded (sent as JSON_MESSAGE).
type Payload struct {
	text       string
	value      interface{}
	structured bool
}

// Text builds a raw text payload.
func Text(s string) Payload { return Payload{text: s} }

// JSON builds a payload that will be JSON-encoded on the wire.
func JSON(v interface{}) Payload { return Payload{value: v, structured: true} }

// BasicAuth carries credentials for HTTP basic authentication.
type BasicAuth struct {
	Username string
	Password string
}

// Options are per-transport connection options passed through verbatim to
// the underlying HTTP or WebSocket client.
type Options struct {
	Headers http.Header
	Auth    *BasicAuth
	Proxy   *url.URL
	Params  url.Values
	Cookies []*http.Cookie

	InsecureSkipVerify bool
	ClientCert         *tls.Certificate

	// RoundTripper replaces the HTTP transport entirely when set,
	// analogous to request hooks in other clients.
	RoundTripper http.RoundTripper

	Logger *zerolog.Logger
}

func (o *Options) logger() zerolog.Logger {
	if o != nil && o.Logger != nil {
		return *o.Logger
	}
	return zerolog.Nop()
}

// header clones the configured headers and applies basic auth.
func (o *Options) header() http.Header {
	h := http.Header{}
	if o == nil {
		return h
	}
	for k, vs := range o.Headers {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if o.Auth != nil {
		req := http.Request{Header: h}
		req.SetBasicAuth(o.Auth.Username, o.Auth.Password)
	}
	return h
}

func (o *Options) extraParams() url.Values {
	if o == nil {
		return nil
	}
	return o.Params
}

func (o *Options) tlsConfig() *tls.Config {
	if o == nil || (!o.InsecureSkipVerify && o.ClientCert == nil) {
		return nil
	}
	cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify}
	if o.ClientCert != nil {
		cfg.Certificates = []tls.Certificate{*o.ClientCert}
	}
	return cfg
}

func (o *Options) proxyFunc() func(*http.Request) (*url.URL, error) {
	if o == nil || o.Proxy == nil {
		return http.ProxyFromEnvironment
	}
	return http.ProxyURL(o.Proxy)
}

// cookieJar seeds a jar with the configured cookies for the given URL.
// Returns nil when there is nothing to carry.
func (o *Options) cookieJar(u *url.URL) http.CookieJar {
	if o == nil || len(o.Cookies) == 0 {
		return nil
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil
	}
	cu := *u
	switch cu.Scheme {
	case "ws":
		cu.Scheme = "http"
	case "wss":
		cu.Scheme = "https"
	}
	jar.SetCookies(&cu, o.Cookies)
	return jar
}

// httpClient builds the single HTTP client owned by a polling transport.
func (o *Options) httpClient(u *url.URL) *http.Client {
	var rt http.RoundTripper
	if o != nil && o.RoundTripper != nil {
		rt = o.RoundTripper
	} else {
		rt = &http.Transport{
			Proxy:           o.proxyFunc(),
			TLSClientConfig: o.tlsConfig(),
		}
	}
	return &http.Client{
		Transport: rt,
		Jar:       o.cookieJar(u),
		Timeout:   ioTimeout,
	}
}
