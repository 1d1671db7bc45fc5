package sio

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// httpChannel is the HTTP plumbing shared by both polling transports: one
// configured client, the polling endpoint, and pass-through query params.
type httpChannel struct {
	endpoint *url.URL
	client   *http.Client
	header   http.Header
	extra    url.Values
	alive    bool
	log      zerolog.Logger
}

func newHTTPChannel(resource string, sess *Session, secure bool, baseURL string, opts *Options, log zerolog.Logger) *httpChannel {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	endpoint, _ := url.Parse(fmt.Sprintf("%s://%s/%s/%s", scheme, baseURL, resource, sess.ID))
	return &httpChannel{
		endpoint: endpoint,
		client:   opts.httpClient(endpoint),
		header:   opts.header(),
		extra:    opts.extraParams(),
		alive:    true,
		log:      log,
	}
}

// params merges the pass-through query params with the cache-busting
// timestamp every polling request carries.
func (h *httpChannel) params() url.Values {
	v := url.Values{}
	for k, vs := range h.extra {
		v[k] = vs
	}
	v.Set("t", timestamp())
	return v
}

func (h *httpChannel) get(params url.Values, header http.Header) ([]byte, error) {
	u := *h.endpoint
	u.RawQuery = params.Encode()
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &ConnectionError{cause: err}
	}
	h.applyHeader(req, header)
	return h.do(req)
}

func (h *httpChannel) post(params url.Values, contentType, body string) error {
	u := *h.endpoint
	u.RawQuery = params.Encode()
	req, err := http.NewRequest(http.MethodPost, u.String(), strings.NewReader(body))
	if err != nil {
		return &ConnectionError{cause: err}
	}
	h.applyHeader(req, nil)
	req.Header.Set("Content-Type", contentType)
	_, err = h.do(req)
	return err
}

func (h *httpChannel) applyHeader(req *http.Request, extra http.Header) {
	for k, vs := range h.header {
		req.Header[k] = vs
	}
	for k, vs := range extra {
		req.Header[k] = vs
	}
}

func (h *httpChannel) do(req *http.Request) ([]byte, error) {
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, translateHTTPError(req.Method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Detail: "could not read response body", cause: err}
	}
	return body, nil
}

// disconnect issues the best-effort disconnect GET. The channel is marked
// dead regardless of how the request fares.
func (h *httpChannel) disconnect(params url.Values) error {
	params.Set("disconnect", "true")
	_, err := h.get(params, nil)
	h.alive = false
	return err
}

// translateHTTPError maps request failures into the client's taxonomy:
// deadline expiry is retryable, a failed TLS negotiation and everything
// else mean the transport is gone.
func translateHTTPError(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Op: op, cause: err}
	}
	if isTLSError(err) {
		return &ConnectionError{Detail: "could not negotiate TLS", cause: err}
	}
	return &ConnectionError{cause: err}
}

func isTLSError(err error) bool {
	var (
		recordErr tls.RecordHeaderError
		verifyErr *tls.CertificateVerificationError
		authErr   x509.UnknownAuthorityError
		hostErr   x509.HostnameError
		certErr   x509.CertificateInvalidError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &authErr) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &certErr)
}

// timestamp is the unix-float cache buster carried as the t query param.
func timestamp() string {
	return strconv.FormatFloat(float64(time.Now().UnixMicro())/1e6, 'f', -1, 64)
}

// packetsFromBody splits one polling body into its packets. A body that
// does not open with the boundary marker is a single packet on its own;
// the boundary scan then adds any multiplexed packets.
func packetsFromBody(body string, log zerolog.Logger) []string {
	var texts []string
	if !strings.HasPrefix(body, boundary) {
		texts = append(texts, body)
	}
	return append(texts, splitFramed(body, log)...)
}

// XHRPollingTransport exchanges packets over plain HTTP long polling. It
// reports connected until explicitly closed; there is no persistent
// connection to lose, only successive short requests.
type XHRPollingTransport struct {
	packetSession
	http *httpChannel
}

func newXHRPollingTransport(sess *Session, secure bool, baseURL string, opts *Options) *XHRPollingTransport {
	log := opts.logger().With().
		Str("transport", TransportXHRPolling).
		Str("sid", sess.ID).
		Str("tid", uuid.New().String()).
		Logger()
	t := &XHRPollingTransport{http: newHTTPChannel(TransportXHRPolling, sess, secure, baseURL, opts, log)}
	t.packetSession = newPacketSession(t, log)
	return t
}

func (t *XHRPollingTransport) Name() string { return TransportXHRPolling }

func (t *XHRPollingTransport) connected() bool { return t.http.alive }

func (t *XHRPollingTransport) send(packetText string) error {
	return t.http.post(t.http.params(), "text/plain;charset=UTF-8", packetText)
}

func (t *XHRPollingTransport) recv() ([]string, error) {
	body, err := t.http.get(t.http.params(), nil)
	if err != nil {
		return nil, err
	}
	return packetsFromBody(string(body), t.http.log), nil
}

func (t *XHRPollingTransport) close() error {
	return t.http.disconnect(t.http.params())
}
