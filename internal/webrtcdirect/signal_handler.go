package webrtcdirect

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync/atomic"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/signalcodec"
)

const signalQueryParam = "signal"

// httpResponder carries exactly one signal: the answer written as the
// response body.
type httpResponder struct {
	sent   atomic.Bool
	answer chan signalcodec.Payload
	failed chan error
}

func newHTTPResponder() *httpResponder {
	return &httpResponder{
		answer: make(chan signalcodec.Payload, 1),
		failed: make(chan error, 1),
	}
}

func (r *httpResponder) sendSignal(p signalcodec.Payload) bool {
	if !r.sent.CompareAndSwap(false, true) {
		return false
	}
	r.answer <- p
	return true
}

func (r *httpResponder) done(err error) {
	if err == nil {
		return
	}
	select {
	case r.failed <- err:
	default:
	}
}

// handleSignal serves GET /?signal=<multibase offer>.
func (l *Listener) handleSignal(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Content-Type", "text/plain; charset=utf-8")

	l.cfg.Metrics.Inc(metrics.SignalRequests)

	if !l.cfg.SignalLimiter.Allow(clientKey(r)) {
		l.cfg.Metrics.Inc(metrics.SignalRateLimited)
		writeText(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	offer, err := l.readOffer(r)
	if err != nil {
		l.cfg.Metrics.Inc(metrics.SignalMalformed)
		l.log.Debug("rejecting signaling request", "remote_addr", r.RemoteAddr, "err", err)
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	raddr, rnet, err := remoteAddrs(r)
	if err != nil {
		l.cfg.Metrics.Inc(metrics.SignalMalformed)
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := newHTTPResponder()
	in, err := l.newInbound(resp, raddr, rnet, false)
	if err != nil {
		writeText(w, signalErrorStatus(err), err.Error())
		return
	}
	in.log.Debug("offer received")
	in.dispatch(inboundEvent{kind: evRemoteSignal, signal: offer})

	select {
	case answer := <-resp.answer:
		writeText(w, http.StatusOK, signalcodec.Encode(answer))
	case err := <-resp.failed:
		writeText(w, signalErrorStatus(err), err.Error())
	case <-r.Context().Done():
		// Without an answer the remote peer cannot connect.
		in.dispatch(inboundEvent{kind: evAbort, err: fmt.Errorf("client went away: %w", r.Context().Err())})
	}
}

func (l *Listener) readOffer(r *http.Request) (signalcodec.Payload, error) {
	raw, err := signalParam(r.URL.RawQuery)
	if err != nil {
		return signalcodec.Payload{}, err
	}
	if raw == "" {
		return signalcodec.Payload{}, fmt.Errorf("%w: missing %q query parameter", ErrMalformedRequest, signalQueryParam)
	}
	if len(raw) > l.cfg.MaxSignalBytes {
		return signalcodec.Payload{}, fmt.Errorf("%w: signal exceeds %d bytes", ErrMalformedRequest, l.cfg.MaxSignalBytes)
	}
	p, err := signalcodec.Decode(raw)
	if err != nil {
		return signalcodec.Payload{}, err
	}
	if p.Type != signalcodec.TypeOffer {
		return signalcodec.Payload{}, fmt.Errorf("%w: expected offer, got %s", ErrMalformedRequest, p.Type)
	}
	return p, nil
}

// signalParam returns the first signal value of a raw query. Unlike
// url.ParseQuery it leaves '+' alone, since base64 multibase text uses it.
func signalParam(rawQuery string) (string, error) {
	for rawQuery != "" {
		var field string
		field, rawQuery, _ = strings.Cut(rawQuery, "&")
		key, value, _ := strings.Cut(field, "=")
		if key != signalQueryParam {
			continue
		}
		v, err := url.PathUnescape(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrMalformedRequest, signalQueryParam, err)
		}
		return v, nil
	}
	return "", nil
}

// signalErrorStatus maps a failed exchange to the HTTP status written when
// no answer has been sent yet.
func signalErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrDecoding):
		return http.StatusBadRequest
	case errors.Is(err, ErrNegotiationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrListenerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// remoteAddrs derives the remote peer's address from the TCP connection
// that carried the signaling request.
func remoteAddrs(r *http.Request) (ma.Multiaddr, net.Addr, error) {
	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: remote address %q: %v", ErrMalformedRequest, r.RemoteAddr, err)
	}
	tcpAddr := net.TCPAddrFromAddrPort(netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()))
	maddr, err := manet.FromNetAddr(tcpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: remote address %q: %v", ErrMalformedRequest, r.RemoteAddr, err)
	}
	return maddr, tcpAddr, nil
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
