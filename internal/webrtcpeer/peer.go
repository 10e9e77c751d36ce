package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/signalcodec"
)

const defaultICEGatheringTimeout = 2 * time.Second

var (
	ErrPeerFailed       = errors.New("peer connection failed")
	ErrUnexpectedSignal = errors.New("unexpected signal")
)

type EventKind int

const (
	// EventSignal carries a payload that must reach the remote peer.
	EventSignal EventKind = iota + 1
	// EventConnect carries the first opened data channel, detached as a
	// byte stream.
	EventConnect
	// EventError reports an engine failure. EventClose always follows.
	EventError
	// EventClose is the last event a Peer emits.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventSignal:
		return "signal"
	case EventConnect:
		return "connect"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

type Event struct {
	Kind EventKind

	Signal signalcodec.Payload

	Channel io.ReadWriteCloser
	Label   string

	Err error
}

type PeerConfig struct {
	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	// Trickle emits the answer immediately and every local candidate as its
	// own signal. Without it the answer is held until ICE gathering completes
	// (or ICEGatheringTimeout elapses) and is the only signal emitted.
	Trickle             bool
	ICEGatheringTimeout time.Duration

	Logger *slog.Logger

	// OnEvent receives every event. It is called from pion goroutines and
	// must not block on the Peer itself.
	OnEvent func(Event)
}

// Peer is the answering side of one negotiation.
type Peer struct {
	pc  *webrtc.PeerConnection
	cfg PeerConfig
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// emitMu orders signal emission so trickled candidates never overtake
	// the answer.
	emitMu   sync.Mutex
	answered bool
	pending  []webrtc.ICECandidateInit

	mu        sync.Mutex
	offerSet  bool
	connected bool

	detached atomic.Bool
	closed   atomic.Bool
}

func NewPeer(cfg PeerConfig) (*Peer, error) {
	if cfg.OnEvent == nil {
		return nil, errors.New("webrtcpeer: OnEvent is required")
	}
	if cfg.API == nil {
		cfg.API = webrtc.NewAPI()
	}
	if cfg.ICEGatheringTimeout <= 0 {
		cfg.ICEGatheringTimeout = defaultICEGatheringTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	pc, err := cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		pc:     pc,
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	pc.OnDataChannel(p.handleDataChannel)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			p.Destroy(ErrPeerFailed)
		case webrtc.PeerConnectionStateClosed:
			p.Destroy(nil)
		}
	})
	if cfg.Trickle {
		pc.OnICECandidate(p.handleLocalCandidate)
	}

	return p, nil
}

func (p *Peer) PeerConnection() *webrtc.PeerConnection {
	return p.pc
}

// Signal feeds a remote payload into the negotiation: first the offer, then
// (trickle only) remote candidates.
func (p *Peer) Signal(payload signalcodec.Payload) error {
	if p.closed.Load() {
		return fmt.Errorf("%w: peer closed", ErrUnexpectedSignal)
	}
	switch payload.Type {
	case signalcodec.TypeOffer:
		return p.applyOffer(payload)
	case signalcodec.TypeCandidate:
		return p.addRemoteCandidate(payload)
	default:
		return fmt.Errorf("%w: type %q", ErrUnexpectedSignal, payload.Type)
	}
}

func (p *Peer) applyOffer(payload signalcodec.Payload) error {
	p.mu.Lock()
	if p.offerSet {
		p.mu.Unlock()
		return fmt.Errorf("%w: offer already applied", ErrUnexpectedSignal)
	}
	p.offerSet = true
	p.mu.Unlock()

	offer, err := payload.Description()
	if err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}

	if p.cfg.Trickle {
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		p.emitAnswer()
		return nil
	}

	// The promise must exist before SetLocalDescription starts gathering.
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	go p.awaitGathering(gatherComplete)
	return nil
}

func (p *Peer) awaitGathering(gatherComplete <-chan struct{}) {
	timer := time.NewTimer(p.cfg.ICEGatheringTimeout)
	defer timer.Stop()

	select {
	case <-gatherComplete:
	case <-timer.C:
		p.log.Debug("ice gathering timed out; answering with candidates gathered so far")
	case <-p.ctx.Done():
		return
	}
	p.emitAnswer()
}

func (p *Peer) emitAnswer() {
	local := p.pc.LocalDescription()
	if local == nil {
		p.Destroy(errors.New("missing local description"))
		return
	}

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.answered = true
	p.emitSignal(signalcodec.FromDescription(*local))
	for _, c := range p.pending {
		p.emitSignal(signalcodec.FromCandidate(c))
	}
	p.pending = nil
}

func (p *Peer) handleLocalCandidate(c *webrtc.ICECandidate) {
	// A nil candidate marks the end of gathering.
	if c == nil {
		return
	}
	init := c.ToJSON()

	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if !p.answered {
		p.pending = append(p.pending, init)
		return
	}
	p.emitSignal(signalcodec.FromCandidate(init))
}

func (p *Peer) addRemoteCandidate(payload signalcodec.Payload) error {
	p.mu.Lock()
	offerSet := p.offerSet
	p.mu.Unlock()
	if !offerSet {
		return fmt.Errorf("%w: candidate before offer", ErrUnexpectedSignal)
	}

	init, err := payload.ICECandidate()
	if err != nil {
		return err
	}
	// An empty candidate is the remote end-of-candidates marker.
	if init.Candidate == "" {
		return nil
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (p *Peer) handleDataChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			p.Destroy(fmt.Errorf("detach data channel: %w", err))
			return
		}

		p.mu.Lock()
		first := !p.connected
		p.connected = true
		p.mu.Unlock()

		// Only the first channel carries the connection.
		if !first || p.detached.Load() || p.closed.Load() {
			p.log.Debug("closing extra data channel", "label", dc.Label())
			_ = raw.Close()
			return
		}
		p.cfg.OnEvent(Event{Kind: EventConnect, Channel: raw, Label: dc.Label()})
	})
}

func (p *Peer) emitSignal(payload signalcodec.Payload) {
	if p.detached.Load() || p.closed.Load() {
		return
	}
	p.cfg.OnEvent(Event{Kind: EventSignal, Signal: payload})
}

// Detach stops signal and connect forwarding. Error and close are still
// reported.
func (p *Peer) Detach() {
	p.detached.Store(true)
}

// Destroy closes the peer connection. A non-nil err is reported as an
// EventError before the EventClose. Only the first call has any effect.
func (p *Peer) Destroy(err error) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	if err != nil {
		p.cfg.OnEvent(Event{Kind: EventError, Err: err})
	}
	if cerr := p.pc.Close(); cerr != nil {
		p.log.Debug("peer connection close", "err", cerr)
	}
	p.cfg.OnEvent(Event{Kind: EventClose})
}

func (p *Peer) Closed() bool {
	return p.closed.Load()
}
