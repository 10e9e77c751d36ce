package webrtcpeer

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/signalcodec"
)

func newTestNets(t *testing.T) (answerNet, offerNet *vnet.Net) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	answerNet, err = vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net: %v", err)
	}
	offerNet, err = vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net: %v", err)
	}
	if err := router.AddNet(answerNet); err != nil {
		t.Fatalf("add net: %v", err)
	}
	if err := router.AddNet(offerNet); err != nil {
		t.Fatalf("add net: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	return answerNet, offerNet
}

func newAnswerAPI(t *testing.T, n *vnet.Net) *webrtc.API {
	t.Helper()
	se, err := NewSettingEngine(config.Config{}, nil)
	if err != nil {
		t.Fatalf("NewSettingEngine: %v", err)
	}
	se.SetNet(n)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func newOfferer(t *testing.T, n *vnet.Net) (*webrtc.PeerConnection, *webrtc.DataChannel) {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetNet(n)
	pc, err := webrtc.NewAPI(webrtc.WithSettingEngine(se)).NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new offerer: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	dc, err := pc.CreateDataChannel("data", nil)
	if err != nil {
		t.Fatalf("create data channel: %v", err)
	}
	return pc, dc
}

func gatheredOffer(t *testing.T, pc *webrtc.PeerConnection) signalcodec.Payload {
	t.Helper()
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}
	select {
	case <-gathered:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out gathering offer candidates")
	}
	return signalcodec.FromDescription(*pc.LocalDescription())
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for peer event")
		return Event{}
	}
}

func TestPeer_NonTrickleNegotiation(t *testing.T) {
	answerNet, offerNet := newTestNets(t)

	events := make(chan Event, 16)
	peer, err := NewPeer(PeerConfig{
		API:     newAnswerAPI(t, answerNet),
		OnEvent: func(ev Event) { events <- ev },
	})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	t.Cleanup(func() { peer.Destroy(nil) })

	offerer, dc := newOfferer(t, offerNet)
	if err := peer.Signal(gatheredOffer(t, offerer)); err != nil {
		t.Fatalf("Signal(offer): %v", err)
	}

	ev := nextEvent(t, events)
	if ev.Kind != EventSignal || ev.Signal.Type != signalcodec.TypeAnswer {
		t.Fatalf("first event=%v %q, want signal answer", ev.Kind, ev.Signal.Type)
	}
	if !strings.Contains(ev.Signal.SDP, "a=candidate:") {
		t.Fatalf("non-trickle answer must carry its candidates:\n%s", ev.Signal.SDP)
	}
	answer, err := ev.Signal.Description()
	if err != nil {
		t.Fatalf("Description: %v", err)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	ev = nextEvent(t, events)
	if ev.Kind != EventConnect {
		t.Fatalf("second event=%v, want connect", ev.Kind)
	}
	if ev.Label != "data" {
		t.Fatalf("label=%q, want data", ev.Label)
	}

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatalf("offerer channel did not open")
	}
	if err := dc.Send([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	buf := make([]byte, 16)
	n, err := ev.Channel.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "ping" {
		t.Fatalf("read %q, want ping", got)
	}

	peer.Destroy(nil)
	if ev := nextEvent(t, events); ev.Kind != EventClose {
		t.Fatalf("event after Destroy=%v, want close", ev.Kind)
	}
	if !peer.Closed() {
		t.Fatalf("Closed()=false after Destroy")
	}
	if err := peer.Signal(signalcodec.Payload{Type: signalcodec.TypeOffer, SDP: "v=0\r\n"}); !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("Signal after close err=%v, want ErrUnexpectedSignal", err)
	}
}

func TestPeer_TrickleAnswerPrecedesCandidates(t *testing.T) {
	answerNet, offerNet := newTestNets(t)

	events := make(chan Event, 64)
	peer, err := NewPeer(PeerConfig{
		API:     newAnswerAPI(t, answerNet),
		Trickle: true,
		OnEvent: func(ev Event) { events <- ev },
	})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	t.Cleanup(func() { peer.Destroy(nil) })

	offerer, _ := newOfferer(t, offerNet)
	if err := peer.Signal(gatheredOffer(t, offerer)); err != nil {
		t.Fatalf("Signal(offer): %v", err)
	}

	ev := nextEvent(t, events)
	if ev.Kind != EventSignal || ev.Signal.Type != signalcodec.TypeAnswer {
		t.Fatalf("first event=%v %q, want signal answer", ev.Kind, ev.Signal.Type)
	}
	ev = nextEvent(t, events)
	if ev.Kind != EventSignal || ev.Signal.Type != signalcodec.TypeCandidate {
		t.Fatalf("second event=%v %q, want candidate", ev.Kind, ev.Signal.Type)
	}
}

func TestPeer_SignalOrderingErrors(t *testing.T) {
	peer, err := NewPeer(PeerConfig{OnEvent: func(Event) {}})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	t.Cleanup(func() { peer.Destroy(nil) })

	cand := signalcodec.FromCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.9 9 typ host"})
	if err := peer.Signal(cand); !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("candidate before offer err=%v, want ErrUnexpectedSignal", err)
	}
	if err := peer.Signal(signalcodec.Payload{Type: signalcodec.TypeAnswer, SDP: "v=0\r\n"}); !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("answer input err=%v, want ErrUnexpectedSignal", err)
	}

	bad := signalcodec.Payload{Type: signalcodec.TypeOffer, SDP: "not sdp"}
	if err := peer.Signal(bad); err == nil {
		t.Fatalf("expected error for invalid offer sdp")
	}
	if err := peer.Signal(bad); !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("second offer err=%v, want ErrUnexpectedSignal", err)
	}
}

func TestPeer_DestroyReportsErrorThenClose(t *testing.T) {
	var kinds []EventKind
	peer, err := NewPeer(PeerConfig{OnEvent: func(ev Event) { kinds = append(kinds, ev.Kind) }})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}

	peer.Destroy(ErrPeerFailed)
	peer.Destroy(nil)

	if len(kinds) != 2 || kinds[0] != EventError || kinds[1] != EventClose {
		t.Fatalf("events=%v, want [error close]", kinds)
	}
}

func TestNewPeerRequiresOnEvent(t *testing.T) {
	if _, err := NewPeer(PeerConfig{}); err == nil {
		t.Fatalf("expected error without OnEvent")
	}
}

func TestApplyNetworkSettings_RejectsCandidateType(t *testing.T) {
	se := webrtc.SettingEngine{}
	err := ApplyNetworkSettings(&se, config.Config{
		WebRTCNAT1To1IPs:             []string{"203.0.113.1"},
		WebRTCNAT1To1IPCandidateType: "relay",
	})
	if err == nil {
		t.Fatalf("expected error for invalid candidate type")
	}
}

func TestLoggerFactory(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := NewLoggerFactory(logger).NewLogger("ice")

	l.Tracef("hidden %d", 1)
	l.Debugf("gathering %s", "host")
	l.Warn("lost")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("trace output should be filtered at debug level: %s", out)
	}
	if !strings.Contains(out, "gathering host") || !strings.Contains(out, "scope=ice") {
		t.Fatalf("missing debug line: %s", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("missing warn line: %s", out)
	}
}
