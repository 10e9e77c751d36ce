package webrtcdirect

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/signalcodec"
)

const (
	wsWriteWait = 1 * time.Second
	// wsCloseGrace bounds how long a finished session waits for the client's
	// close frame.
	wsCloseGrace = 2 * time.Second
	// RFC 6455 limits a close reason to 123 bytes.
	wsMaxCloseReason = 123
)

// wsSignalSession carries a trickled negotiation over one WebSocket. Every
// text message, in either direction, is one multibase-encoded signal.
type wsSignalSession struct {
	conn *websocket.Conn

	writeMu  sync.Mutex
	doneOnce sync.Once
}

func (s *wsSignalSession) sendSignal(p signalcodec.Payload) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	// A failed write surfaces as a read error on the session loop.
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(signalcodec.Encode(p)))
	return true
}

// done closes the socket with a normal closure; a failure is named in the
// close reason.
func (s *wsSignalSession) done(err error) {
	s.doneOnce.Do(func() {
		reason := "upgraded"
		if err != nil {
			reason = err.Error()
		}
		s.closeWith(websocket.CloseNormalClosure, reason)
		_ = s.conn.SetReadDeadline(time.Now().Add(wsCloseGrace))
	})
}

func (s *wsSignalSession) closeWith(code int, reason string) {
	reason = truncateCloseReason(reason)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// truncateCloseReason cuts reason to wsMaxCloseReason bytes without splitting
// a UTF-8 sequence.
func truncateCloseReason(reason string) string {
	if len(reason) <= wsMaxCloseReason {
		return reason
	}
	end := wsMaxCloseReason
	for end > 0 && !utf8.RuneStart(reason[end]) {
		end--
	}
	return reason[:end]
}

// handleWebSocketSignal serves GET /ws.
func (l *Listener) handleWebSocketSignal(w http.ResponseWriter, r *http.Request) {
	l.cfg.Metrics.Inc(metrics.SignalRequests)
	if !l.cfg.SignalLimiter.Allow(clientKey(r)) {
		l.cfg.Metrics.Inc(metrics.SignalRateLimited)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		writeText(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	raddr, rnet, err := remoteAddrs(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	upgrader := websocket.Upgrader{
		// Signaling is open to any origin, the same as GET /.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	l.cfg.Metrics.Inc(metrics.WSSignalSessions)

	sess := &wsSignalSession{conn: conn}
	in, err := l.newInbound(sess, raddr, rnet, true)
	if err != nil {
		sess.done(err)
		return
	}
	in.log.Debug("websocket signaling session opened")
	in.runWebSocket(sess, int64(l.cfg.MaxSignalBytes))
}

func (in *inbound) runWebSocket(sess *wsSignalSession, maxMessageBytes int64) {
	sess.conn.SetReadLimit(maxMessageBytes)

	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				err = fmt.Errorf("read signal: %w", err)
			}
			in.dispatch(inboundEvent{kind: evAbort, err: err})
			return
		}
		if msgType != websocket.TextMessage {
			sess.closeWith(websocket.CloseUnsupportedData, "expected text message")
			in.dispatch(inboundEvent{kind: evAbort, err: fmt.Errorf("%w: expected text message", ErrMalformedRequest)})
			return
		}

		p, err := signalcodec.Decode(string(data))
		if err != nil {
			in.l.cfg.Metrics.Inc(metrics.SignalMalformed)
			sess.closeWith(websocket.ClosePolicyViolation, "bad signal")
			in.dispatch(inboundEvent{kind: evAbort, err: fmt.Errorf("%w: %w", ErrMalformedRequest, err)})
			return
		}
		in.dispatch(inboundEvent{kind: evRemoteSignal, signal: p})
	}
}
