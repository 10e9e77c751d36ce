package metrics

import (
	"bufio"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Event names counted by the listener.
const (
	SignalRequests       = "signal_requests"
	SignalMalformed      = "signal_malformed"
	SignalRateLimited    = "signal_rate_limited"
	SignalAnswered       = "signal_answered"
	SignalExtraDropped   = "signal_extra_dropped"
	NegotiationFailed    = "negotiation_failed"
	NegotiationTimeout   = "negotiation_timeout"
	NegotiationAbandoned = "negotiation_abandoned"
	UpgradeFailed        = "upgrade_failed"
	ConnectionsUpgraded  = "connections_upgraded"
	ConnectionsClosed    = "connections_closed"
	WSSignalSessions     = "ws_signal_sessions"
)

// namespace prefixes every exported counter.
const namespace = "webrtc_direct_"

// events lists the listener's counters in exposition order. They are always
// exported, zero or not.
var events = []struct {
	name string
	help string
}{
	{SignalRequests, "Signal requests received."},
	{SignalMalformed, "Signal requests rejected as malformed."},
	{SignalRateLimited, "Signal requests rejected by the per-IP limiter."},
	{SignalAnswered, "Offers answered."},
	{SignalExtraDropped, "Signals dropped after the answer was sent."},
	{NegotiationFailed, "Negotiations that failed before the data channel opened."},
	{NegotiationTimeout, "Negotiations that hit the negotiation timeout."},
	{NegotiationAbandoned, "Negotiations abandoned by the remote side."},
	{UpgradeFailed, "Data channels closed because the upgrade failed."},
	{ConnectionsUpgraded, "Connections handed to the handler."},
	{ConnectionsClosed, "Tracked connections that closed."},
	{WSSignalSessions, "WebSocket signaling sessions accepted."},
}

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is a no-op on a nil registry so callers can leave metrics unset.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// WriteTo writes every counter in the Prometheus text format, one counter
// family per event. Names outside the known set follow in sorted order.
func (m *Metrics) WriteTo(w io.Writer) (int64, error) {
	snap := m.Snapshot()
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	for _, ev := range events {
		writeCounter(bw, ev.name, ev.help, snap[ev.name])
		delete(snap, ev.name)
	}
	extra := make([]string, 0, len(snap))
	for name := range snap {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		writeCounter(bw, name, "", snap[name])
	}

	err := bw.Flush()
	return cw.n, err
}

// Handler serves WriteTo over HTTP.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = m.WriteTo(w)
	})
}

func writeCounter(w *bufio.Writer, event, help string, v uint64) {
	name := metricName(event)
	if help != "" {
		w.WriteString("# HELP " + name + " " + help + "\n")
	}
	w.WriteString("# TYPE " + name + " counter\n")
	w.WriteString(name + " " + strconv.FormatUint(v, 10) + "\n")
}

// metricName maps an event name onto the Prometheus metric name charset.
func metricName(event string) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, r := range event {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteString("_total")
	return b.String()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
