package webrtcdirect

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/net/netutil"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/metrics"
)

type listenerState int

const (
	listenerIdle listenerState = iota
	listenerListening
	listenerClosing
	listenerClosed
)

func (s listenerState) String() string {
	switch s {
	case listenerIdle:
		return "idle"
	case listenerListening:
		return "listening"
	case listenerClosing:
		return "closing"
	case listenerClosed:
		return "closed"
	default:
		return fmt.Sprintf("listenerState(%d)", int(s))
	}
}

// Listener accepts webrtc-direct connections on one address. It is used
// once: after Close it cannot listen again.
type Listener struct {
	cfg      Config
	log      *slog.Logger
	registry *Registry

	mu        sync.Mutex
	state     listenerState
	addr      ma.Multiaddr
	lnet      net.Addr
	srv       *httpserver.Server
	serveDone chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	pending   map[*inbound]struct{}

	notifyMu  sync.Mutex
	notifiees map[Notifiee]struct{}
}

func New(cfg Config) (*Listener, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	l := &Listener{
		cfg:       cfg,
		log:       cfg.Logger.With("component", "webrtc-direct"),
		pending:   make(map[*inbound]struct{}),
		notifiees: make(map[Notifiee]struct{}),
	}
	l.registry = &Registry{
		onRemove: func(Tracked) { cfg.Metrics.Inc(metrics.ConnectionsClosed) },
	}
	return l, nil
}

// Listen binds the signaling server to the host and TCP port of addr.
// Components after the TCP port (for example /http/p2p-webrtc-direct) are
// kept in the reported address; a zero port is replaced by the bound one.
func (l *Listener) Listen(ctx context.Context, addr ma.Multiaddr) error {
	l.mu.Lock()
	switch l.state {
	case listenerListening:
		l.mu.Unlock()
		return ErrAlreadyListening
	case listenerClosing, listenerClosed:
		l.mu.Unlock()
		return ErrListenerClosed
	}

	bind, err := parseListenAddr(addr)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrBind, err)
	}

	var lc net.ListenConfig
	tcpLn, err := lc.Listen(ctx, "tcp", bind.hostPort())
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}
	tcpAddr, _ := tcpLn.Addr().(*net.TCPAddr)
	bound := addr
	if tcpAddr != nil {
		bound, err = bind.withPort(tcpAddr.Port)
		if err != nil {
			l.mu.Unlock()
			_ = tcpLn.Close()
			return fmt.Errorf("%w: %w", ErrBind, err)
		}
	}

	var ln net.Listener = tcpLn
	if l.cfg.MaxHTTPConns > 0 {
		ln = netutil.LimitListener(ln, l.cfg.MaxHTTPConns)
	}
	ln = tls.NewListener(ln, l.cfg.TLSConfig)

	srv := httpserver.New(l.cfg.Logger, l.cfg.Build, httpserver.Options{
		Metrics:    l.cfg.Metrics,
		ReadyCheck: l.cfg.ReadyCheck,
		ICEServers: l.cfg.ICEServers,
	})
	srv.Mux().HandleFunc("GET /{$}", l.handleSignal)
	if l.cfg.WebSocketSignaling {
		srv.Mux().HandleFunc("GET /ws", l.handleWebSocketSignal)
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.addr = bound
	l.lnet = tcpLn.Addr()
	l.srv = srv
	l.serveDone = make(chan struct{})
	l.state = listenerListening
	done := l.serveDone
	l.mu.Unlock()

	go l.serve(srv, ln, done)

	l.log.Info("listening", "addr", bound.String())
	l.notifyListening(bound)
	return nil
}

func (l *Listener) serve(srv *httpserver.Server, ln net.Listener, done chan<- struct{}) {
	defer close(done)
	err := srv.Serve(ln)
	if err == nil || errors.Is(err, httpserver.ErrServerClosed) {
		return
	}
	l.log.Error("signaling server stopped", "err", err)
	l.notifyError(fmt.Errorf("%w: %w", ErrStop, err))
}

// Close stops the listener: pending negotiations are abandoned, tracked
// connections are closed, then the server shuts down gracefully until ctx
// ends. Calling Close when not listening does nothing.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.state != listenerListening {
		l.mu.Unlock()
		return nil
	}
	l.state = listenerClosing
	pending := make([]*inbound, 0, len(l.pending))
	for in := range l.pending {
		pending = append(pending, in)
	}
	srv, done, cancel := l.srv, l.serveDone, l.cancel
	l.mu.Unlock()

	l.log.Info("closing listener", "pending", len(pending), "connections", l.registry.Len())
	cancel()
	for _, in := range pending {
		in.dispatch(inboundEvent{kind: evShutdown})
	}
	if err := l.registry.CloseAll(ctx); err != nil {
		l.log.Debug("closing tracked connections", "err", err)
	}

	var stopErr error
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		stopErr = fmt.Errorf("%w: %w", ErrStop, err)
	}
	<-done

	l.mu.Lock()
	l.state = listenerClosed
	l.mu.Unlock()

	l.log.Info("listener closed")
	l.notifyClosed()
	return stopErr
}

// Addrs returns the bound address, or nothing before Listen.
func (l *Listener) Addrs() []ma.Multiaddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.addr == nil {
		return nil
	}
	return []ma.Multiaddr{l.addr}
}

func (l *Listener) Registry() *Registry {
	return l.registry
}

func (l *Listener) currentState() listenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Listener) addPending(in *inbound) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != listenerListening {
		return false
	}
	in.ctx = l.ctx
	in.laddr = l.addr
	in.lnet = l.lnet
	l.pending[in] = struct{}{}
	return true
}

func (l *Listener) removePending(in *inbound) {
	l.mu.Lock()
	delete(l.pending, in)
	l.mu.Unlock()
}

func (l *Listener) pendingLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// listenAddr is a listen multiaddr split around its host and TCP port.
type listenAddr struct {
	parts   []ma.Multiaddr
	hostIdx int
	host    string
	port    int
}

func parseListenAddr(addr ma.Multiaddr) (listenAddr, error) {
	if addr == nil {
		return listenAddr{}, errors.New("missing listen address")
	}
	parts := ma.Split(addr)
	for i, part := range parts {
		protos := part.Protocols()
		if len(protos) == 0 {
			continue
		}
		switch code := protos[0].Code; code {
		case ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6:
			host, err := part.ValueForProtocol(code)
			if err != nil {
				return listenAddr{}, err
			}
			if i+1 >= len(parts) {
				return listenAddr{}, fmt.Errorf("%s: missing /tcp after host", addr)
			}
			rawPort, err := parts[i+1].ValueForProtocol(ma.P_TCP)
			if err != nil {
				return listenAddr{}, fmt.Errorf("%s: expected /tcp after host", addr)
			}
			port, err := strconv.Atoi(rawPort)
			if err != nil {
				return listenAddr{}, fmt.Errorf("%s: invalid tcp port: %w", addr, err)
			}
			return listenAddr{parts: parts, hostIdx: i, host: host, port: port}, nil
		}
	}
	return listenAddr{}, fmt.Errorf("%s: no ip4, ip6 or dns host", addr)
}

func (a listenAddr) hostPort() string {
	return net.JoinHostPort(a.host, strconv.Itoa(a.port))
}

// withPort returns the address with its TCP port set to port when it was 0.
func (a listenAddr) withPort(port int) (ma.Multiaddr, error) {
	parts := make([]ma.Multiaddr, len(a.parts))
	copy(parts, a.parts)
	if a.port == 0 {
		tcp, err := ma.NewMultiaddr("/tcp/" + strconv.Itoa(port))
		if err != nil {
			return nil, err
		}
		parts[a.hostIdx+1] = tcp
	}
	return ma.Join(parts...), nil
}
