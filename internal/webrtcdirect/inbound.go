package webrtcdirect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/signalcodec"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/webrtcpeer"
)

type inboundState int

const (
	stateAwaitingSignal inboundState = iota
	stateNegotiating
	stateConnected
	stateUpgrading
	stateUpgraded
	stateFailed
	stateClosed
)

func (s inboundState) String() string {
	switch s {
	case stateAwaitingSignal:
		return "awaiting_signal"
	case stateNegotiating:
		return "negotiating"
	case stateConnected:
		return "connected"
	case stateUpgrading:
		return "upgrading"
	case stateUpgraded:
		return "upgraded"
	case stateFailed:
		return "failed"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("inboundState(%d)", int(s))
	}
}

type inboundEventKind int

const (
	// evRemoteSignal is a payload received from the remote peer.
	evRemoteSignal inboundEventKind = iota + 1
	// evLocalSignal is a payload the local peer wants delivered.
	evLocalSignal
	evConnected
	evPeerError
	evPeerClosed
	evUpgraded
	evUpgradeFailed
	evTimeout
	// evAbort means the signaling channel went away.
	evAbort
	evShutdown
)

type inboundEvent struct {
	kind inboundEventKind

	signal   signalcodec.Payload
	channel  io.ReadWriteCloser
	upgraded Conn
	err      error
}

// signalResponder carries local signals back to the remote peer.
type signalResponder interface {
	// sendSignal reports false when the channel cannot carry the signal.
	sendSignal(signalcodec.Payload) bool
	// done is called once when the negotiation is over. err is nil after a
	// successful upgrade.
	done(err error)
}

// inbound is the state machine of one incoming connection. Every event goes
// through dispatch; transitions happen under mu and return the side effects
// to run once mu is released.
type inbound struct {
	l    *Listener
	log  *slog.Logger
	resp signalResponder
	peer *webrtcpeer.Peer

	// Set by Listener.addPending.
	ctx   context.Context
	laddr ma.Multiaddr
	lnet  net.Addr

	raddr ma.Multiaddr
	rnet  net.Addr

	mu         sync.Mutex
	state      inboundState
	timer      *time.Timer
	conn       *maConn
	finishOnce sync.Once
}

func (l *Listener) newInbound(resp signalResponder, raddr ma.Multiaddr, rnet net.Addr, trickle bool) (*inbound, error) {
	in := &inbound{
		l:     l,
		log:   l.log.With("remote_addr", raddr.String()),
		resp:  resp,
		raddr: raddr,
		rnet:  rnet,
	}
	peer, err := webrtcpeer.NewPeer(webrtcpeer.PeerConfig{
		API:                 l.cfg.API,
		ICEServers:          l.cfg.ICEServers,
		Trickle:             trickle,
		ICEGatheringTimeout: l.cfg.ICEGatheringTimeout,
		Logger:              in.log,
		OnEvent:             in.onPeerEvent,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNegotiation, err)
	}
	in.peer = peer

	if !l.addPending(in) {
		peer.Destroy(nil)
		return nil, ErrListenerClosed
	}

	in.mu.Lock()
	if in.state == stateAwaitingSignal {
		in.timer = time.AfterFunc(l.cfg.NegotiationTimeout, func() {
			in.dispatch(inboundEvent{kind: evTimeout})
		})
	}
	in.mu.Unlock()
	return in, nil
}

func (in *inbound) onPeerEvent(ev webrtcpeer.Event) {
	switch ev.Kind {
	case webrtcpeer.EventSignal:
		in.dispatch(inboundEvent{kind: evLocalSignal, signal: ev.Signal})
	case webrtcpeer.EventConnect:
		in.dispatch(inboundEvent{kind: evConnected, channel: ev.Channel})
	case webrtcpeer.EventError:
		in.dispatch(inboundEvent{kind: evPeerError, err: ev.Err})
	case webrtcpeer.EventClose:
		in.dispatch(inboundEvent{kind: evPeerClosed})
	}
}

func (in *inbound) dispatch(ev inboundEvent) {
	in.mu.Lock()
	effects := in.transition(ev)
	in.mu.Unlock()

	for _, effect := range effects {
		effect()
	}
}

func (in *inbound) currentState() inboundState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

func (in *inbound) transition(ev inboundEvent) []func() {
	switch ev.kind {
	case evRemoteSignal:
		return in.onRemoteSignalLocked(ev.signal)

	case evLocalSignal:
		switch in.state {
		case stateNegotiating, stateConnected, stateUpgrading:
			return []func(){func() { in.deliver(ev.signal) }}
		}

	case evConnected:
		return in.onConnectedLocked(ev.channel)

	case evUpgraded:
		return in.onUpgradedLocked(ev.upgraded)

	case evUpgradeFailed:
		switch in.state {
		case stateUpgrading:
			return in.failLocked(ev.err, metrics.UpgradeFailed)
		case stateClosed:
			// The peer went away mid-upgrade; the upgrade result still counts.
			return []func(){func() { in.report(ev.err, metrics.UpgradeFailed) }}
		}

	case evPeerError:
		switch in.state {
		case stateAwaitingSignal, stateNegotiating, stateConnected:
			return in.failLocked(negotiationError(ev.err), metrics.NegotiationFailed)
		}
		state := in.state
		return []func(){func() {
			in.log.Debug("peer error after negotiation", "state", state.String(), "err", ev.err)
		}}

	case evTimeout:
		switch in.state {
		case stateAwaitingSignal, stateNegotiating, stateConnected:
			return in.failLocked(ErrNegotiationTimeout, metrics.NegotiationTimeout)
		}

	case evAbort:
		switch in.state {
		case stateAwaitingSignal, stateNegotiating:
			err := ev.err
			if err == nil {
				err = errors.New("signaling channel closed")
			}
			return in.failLocked(negotiationError(err), metrics.NegotiationAbandoned)
		}

	case evShutdown:
		switch in.state {
		case stateAwaitingSignal, stateNegotiating, stateConnected, stateUpgrading:
			return in.failLocked(ErrListenerClosed, "")
		}

	case evPeerClosed:
		return in.onPeerClosedLocked()
	}
	return nil
}

func (in *inbound) onRemoteSignalLocked(p signalcodec.Payload) []func() {
	switch in.state {
	case stateAwaitingSignal:
		if p.Type != signalcodec.TypeOffer {
			return in.failLocked(fmt.Errorf("%w: expected offer, got %s", ErrMalformedRequest, p.Type), metrics.SignalMalformed)
		}
		in.state = stateNegotiating
	case stateNegotiating, stateConnected, stateUpgrading:
	default:
		return nil
	}

	return []func(){func() {
		in.log.Debug("signal received", "type", p.Type)
		if err := in.peer.Signal(p); err != nil {
			in.dispatch(inboundEvent{kind: evPeerError, err: err})
		}
	}}
}

func (in *inbound) onConnectedLocked(ch io.ReadWriteCloser) []func() {
	if in.state != stateNegotiating {
		return []func(){func() { _ = ch.Close() }}
	}
	in.state = stateConnected
	in.stopTimerLocked()

	conn := newMaConn(ch, func() { in.peer.Destroy(nil) }, in.laddr, in.raddr, in.lnet, in.rnet)
	in.conn = conn
	in.state = stateUpgrading

	return []func(){func() {
		in.log.Debug("data channel connected; upgrading")
		go in.l.upgrade(in, conn)
	}}
}

func (in *inbound) onUpgradedLocked(upgraded Conn) []func() {
	if in.state != stateUpgrading {
		return []func(){func() { _ = upgraded.Close() }}
	}
	in.state = stateUpgraded
	conn := in.conn

	return []func(){func() {
		in.l.removePending(in)
		in.log.Debug("connection upgraded")
		in.l.admit(conn, upgraded)
		in.peer.Detach()
		in.finish(nil)
	}}
}

func (in *inbound) onPeerClosedLocked() []func() {
	prev := in.state
	if prev == stateClosed {
		return nil
	}
	in.state = stateClosed
	in.stopTimerLocked()
	conn := in.conn

	var err error
	switch prev {
	case stateAwaitingSignal, stateNegotiating, stateConnected:
		err = fmt.Errorf("%w: peer connection closed", ErrNegotiation)
	}

	return []func(){func() {
		in.peer.Detach()
		in.l.removePending(in)
		if conn != nil {
			_ = conn.Close()
		}
		if err != nil {
			in.report(err, metrics.NegotiationFailed)
		}
		in.finish(err)
		in.log.Debug("peer closed", "state", prev.String())
	}}
}

// failLocked moves to Failed. The returned effect reports err, ends the
// signaling exchange and tears the peer down.
func (in *inbound) failLocked(err error, counter string) []func() {
	in.state = stateFailed
	in.stopTimerLocked()
	conn := in.conn

	return []func(){func() {
		in.l.removePending(in)
		in.report(err, counter)
		in.finish(err)
		if conn != nil {
			_ = conn.Close()
		} else {
			in.peer.Destroy(nil)
		}
	}}
}

func (in *inbound) report(err error, counter string) {
	if counter != "" {
		in.l.cfg.Metrics.Inc(counter)
	}
	if errors.Is(err, ErrListenerClosed) {
		in.log.Debug("negotiation cancelled by listener close")
		return
	}
	in.log.Warn("inbound connection failed", "err", err)
	in.l.notifyError(err)
}

func (in *inbound) deliver(p signalcodec.Payload) {
	if in.resp.sendSignal(p) {
		if p.Type == signalcodec.TypeAnswer {
			in.l.cfg.Metrics.Inc(metrics.SignalAnswered)
			in.log.Debug("answer sent")
		}
		return
	}
	in.l.cfg.Metrics.Inc(metrics.SignalExtraDropped)
	in.log.Warn("dropping signal: the signaling channel already carried its answer", "type", p.Type)
}

func (in *inbound) finish(err error) {
	in.finishOnce.Do(func() {
		in.resp.done(err)
	})
}

func (in *inbound) stopTimerLocked() {
	if in.timer != nil {
		in.timer.Stop()
		in.timer = nil
	}
}

func negotiationError(err error) error {
	if errors.Is(err, ErrNegotiation) || errors.Is(err, ErrMalformedRequest) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNegotiation, err)
}
