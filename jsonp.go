package sio

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// jsonpPattern matches the script wrapper the server sends around a
// non-framed jsonp-polling body: io.j[<counter>]("<escaped text>");
var jsonpPattern = regexp.MustCompile(`^io\.j\[(\d+)\]\("(.*)"\);`)

// JSONPPollingTransport is the xhr-polling variant for script-tag
// clients: responses arrive wrapped in a JavaScript callback carrying a
// sequence counter, and sends are form-encoded.
type JSONPPollingTransport struct {
	packetSession
	http    *httpChannel
	jsonpID int
}

func newJSONPPollingTransport(sess *Session, secure bool, baseURL string, opts *Options) *JSONPPollingTransport {
	log := opts.logger().With().
		Str("transport", TransportJSONPPolling).
		Str("sid", sess.ID).
		Str("tid", uuid.New().String()).
		Logger()
	t := &JSONPPollingTransport{http: newHTTPChannel(TransportJSONPPolling, sess, secure, baseURL, opts, log)}
	t.packetSession = newPacketSession(t, log)
	return t
}

func (t *JSONPPollingTransport) Name() string { return TransportJSONPPolling }

func (t *JSONPPollingTransport) connected() bool { return t.http.alive }

func (t *JSONPPollingTransport) params() url.Values {
	v := t.http.params()
	v.Set("jsonp", strconv.Itoa(t.jsonpID))
	return v
}

func (t *JSONPPollingTransport) send(packetText string) error {
	body := "d=" + url.QueryEscape(packetText)
	return t.http.post(t.params(), "application/x-www-form-urlencoded", body)
}

func (t *JSONPPollingTransport) recv() ([]string, error) {
	header := http.Header{"Content-Type": []string{"application/javascript"}}
	raw, err := t.http.get(t.params(), header)
	if err != nil {
		return nil, err
	}
	body := string(raw)

	var texts []string
	if !strings.HasPrefix(body, boundary) {
		m := jsonpPattern.FindStringSubmatch(body)
		if m == nil {
			return nil, &ProtocolError{Detail: "unparseable jsonp wrapper", Text: snippet(body)}
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, &ProtocolError{Detail: "unparseable jsonp counter", Text: m[1], cause: err}
		}
		text, err := unescapeJSONString(m[2])
		if err != nil {
			return nil, &ProtocolError{Detail: "unparseable jsonp payload", Text: snippet(m[2]), cause: err}
		}
		t.jsonpID = id
		texts = append(texts, text)
	}
	return append(texts, splitFramed(body, t.http.log)...), nil
}

func (t *JSONPPollingTransport) close() error {
	return t.http.disconnect(t.params())
}

// unescapeJSONString reverses the JSON string escaping applied to the
// wrapper's payload.
func unescapeJSONString(escaped string) (string, error) {
	var text string
	if err := json.Unmarshal([]byte(`"`+escaped+`"`), &text); err != nil {
		return "", err
	}
	return text, nil
}

func snippet(s string) string {
	const max = 64
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
