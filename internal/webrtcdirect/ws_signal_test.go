package webrtcdirect

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/metrics"
)

func (env *testEnv) wsURL() string {
	return "wss" + strings.TrimPrefix(env.baseURL, "https") + "/ws"
}

func TestWebSocketSignalingNegotiates(t *testing.T) {
	env := startListener(t, func(c *Config) { c.WebSocketSignaling = true })

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := DialWebSocket(ctx, env.wsURL(), env.dialConfig())
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	var server Conn
	select {
	case server = <-env.handled:
	case <-time.After(10 * time.Second):
		t.Fatalf("handler was not called")
	}

	go func() {
		_, _ = client.Write([]byte("hello"))
	}()
	buf := make([]byte, 5)
	if _, err := readFullWithin(server.(io.Reader), buf, 5*time.Second); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("server read=%q, want hello", buf)
	}

	if got := env.metrics.Get(metrics.WSSignalSessions); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.WSSignalSessions, got)
	}
	if got := env.metrics.Get(metrics.ConnectionsUpgraded); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.ConnectionsUpgraded, got)
	}
	if got := env.l.pendingLen(); got != 0 {
		t.Fatalf("pending=%d, want 0", got)
	}
}

func readFullWithin(r io.Reader, buf []byte, d time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n := 0
		for n < len(buf) {
			m, err := r.Read(buf[n:])
			n += m
			if err != nil {
				ch <- result{n, err}
				return
			}
		}
		ch <- result{n, nil}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(d):
		return 0, errors.New("read timed out")
	}
}

func TestWebSocketSignalingDisabledByDefault(t *testing.T) {
	env := startListener(t, nil)

	resp, err := env.client.Get(env.baseURL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
}

func TestWebSocketSignalingRejectsGarbage(t *testing.T) {
	env := startListener(t, func(c *Config) { c.WebSocketSignaling = true })

	dialer := websocket.Dialer{TLSClientConfig: env.clientTLS, HandshakeTimeout: 5 * time.Second}
	ws, _, err := dialer.Dial(env.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not multibase!")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("read err=%v, want policy violation close", err)
	}

	waitFor(t, "negotiation to end", func() bool { return env.l.pendingLen() == 0 })
	if got := env.metrics.Get(metrics.SignalMalformed); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.SignalMalformed, got)
	}
	if got := env.metrics.Get(metrics.NegotiationAbandoned); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.NegotiationAbandoned, got)
	}
}

func TestTruncateCloseReason(t *testing.T) {
	short := "negotiation timed out"
	if got := truncateCloseReason(short); got != short {
		t.Fatalf("short reason=%q, want unchanged", got)
	}

	// 122 ASCII bytes then a 3-byte rune straddling the limit.
	straddling := strings.Repeat("a", wsMaxCloseReason-1) + "€€"
	if got := truncateCloseReason(straddling); got != strings.Repeat("a", wsMaxCloseReason-1) {
		t.Fatalf("len=%d, want the ASCII prefix only", len(got))
	}

	for _, reason := range []string{
		strings.Repeat("é", 100),
		strings.Repeat("日本", 40),
		strings.Repeat("x", 200),
		"peer: " + strings.Repeat("🙂", 40),
	} {
		got := truncateCloseReason(reason)
		if len(got) > wsMaxCloseReason {
			t.Fatalf("len=%d, want <= %d", len(got), wsMaxCloseReason)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncated reason is not valid UTF-8: %q", got)
		}
		if !strings.HasPrefix(reason, got) || len(got) < wsMaxCloseReason-utf8.UTFMax {
			t.Fatalf("truncated to %d bytes, want close to %d", len(got), wsMaxCloseReason)
		}
	}
}
