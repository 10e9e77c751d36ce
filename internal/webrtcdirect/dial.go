package webrtcdirect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/signalcodec"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/webrtcpeer"
)

const maxAnswerBytes = 1 << 20

// DialConfig configures the offering side of a webrtc-direct connection.
type DialConfig struct {
	// API must detach data channels. Nil builds one with default settings.
	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	HTTPClient      *http.Client
	WebSocketDialer *websocket.Dialer

	ICEGatheringTimeout time.Duration
	// Label names the data channel. Defaults to "data".
	Label string

	Logger *slog.Logger
}

func (c DialConfig) withDefaults() (DialConfig, error) {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.API == nil {
		api, err := webrtcpeer.NewAPI(config.Config{}, c.Logger)
		if err != nil {
			return DialConfig{}, err
		}
		c.API = api
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.WebSocketDialer == nil {
		c.WebSocketDialer = websocket.DefaultDialer
	}
	if c.ICEGatheringTimeout <= 0 {
		c.ICEGatheringTimeout = DefaultICEGatheringTimeout
	}
	if c.Label == "" {
		c.Label = "data"
	}
	return c, nil
}

// Dial negotiates a connection with the listener at target (an https URL)
// using a single GET /?signal= exchange. It returns once the data channel
// is open.
func Dial(ctx context.Context, target string, cfg DialConfig) (manet.Conn, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	raddr, err := urlMultiaddr(u)
	if err != nil {
		return nil, err
	}

	d, err := newDialPeer(cfg)
	if err != nil {
		return nil, err
	}

	offer, err := d.gatheredOffer(ctx, cfg.ICEGatheringTimeout)
	if err != nil {
		d.close()
		return nil, err
	}
	answer, err := exchangeHTTP(ctx, cfg.HTTPClient, u, offer)
	if err != nil {
		d.close()
		return nil, err
	}
	desc, err := answer.Description()
	if err != nil {
		d.close()
		return nil, err
	}
	if err := d.pc.SetRemoteDescription(desc); err != nil {
		d.close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	return d.awaitOpen(ctx, raddr)
}

// DialWebSocket negotiates over the listener's /ws endpoint (a wss URL),
// trickling candidates in both directions.
func DialWebSocket(ctx context.Context, target string, cfg DialConfig) (manet.Conn, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	raddr, err := urlMultiaddr(u)
	if err != nil {
		return nil, err
	}

	ws, resp, err := cfg.WebSocketDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	d, err := newDialPeer(cfg)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	var (
		writeMu sync.Mutex
		mu      sync.Mutex
		sent    bool
		pending []webrtc.ICECandidateInit
	)
	send := func(p signalcodec.Payload) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return ws.WriteMessage(websocket.TextMessage, []byte(signalcodec.Encode(p)))
	}
	d.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		mu.Lock()
		if !sent {
			pending = append(pending, init)
			mu.Unlock()
			return
		}
		mu.Unlock()
		_ = send(signalcodec.FromCandidate(init))
	})

	offer, err := d.pc.CreateOffer(nil)
	if err == nil {
		err = d.pc.SetLocalDescription(offer)
	}
	if err == nil {
		err = send(signalcodec.FromDescription(*d.pc.LocalDescription()))
	}
	if err != nil {
		_ = ws.Close()
		d.close()
		return nil, err
	}

	mu.Lock()
	sent = true
	flush := pending
	pending = nil
	mu.Unlock()
	for _, c := range flush {
		_ = send(signalcodec.FromCandidate(c))
	}

	go func() {
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := d.applyRemote(string(data)); err != nil {
				d.fail(err)
				return
			}
		}
	}()

	conn, err := d.awaitOpen(ctx, raddr)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	return conn, nil
}

type dialPeer struct {
	pc     *webrtc.PeerConnection
	opened chan io.ReadWriteCloser
	failed chan error
}

func newDialPeer(cfg DialConfig) (*dialPeer, error) {
	pc, err := cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, err
	}
	d := &dialPeer{
		pc:     pc,
		opened: make(chan io.ReadWriteCloser, 1),
		failed: make(chan error, 1),
	}

	dc, err := pc.CreateDataChannel(cfg.Label, nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			d.fail(fmt.Errorf("detach data channel: %w", err))
			return
		}
		d.opened <- raw
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			d.fail(webrtcpeer.ErrPeerFailed)
		}
	})
	return d, nil
}

func (d *dialPeer) gatheredOffer(ctx context.Context, timeout time.Duration) (signalcodec.Payload, error) {
	offer, err := d.pc.CreateOffer(nil)
	if err != nil {
		return signalcodec.Payload{}, fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(d.pc)
	if err := d.pc.SetLocalDescription(offer); err != nil {
		return signalcodec.Payload{}, fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
	case <-ctx.Done():
		return signalcodec.Payload{}, ctx.Err()
	}

	local := d.pc.LocalDescription()
	if local == nil {
		return signalcodec.Payload{}, errors.New("missing local description")
	}
	return signalcodec.FromDescription(*local), nil
}

func (d *dialPeer) applyRemote(text string) error {
	p, err := signalcodec.Decode(text)
	if err != nil {
		return err
	}
	switch p.Type {
	case signalcodec.TypeAnswer:
		desc, err := p.Description()
		if err != nil {
			return err
		}
		return d.pc.SetRemoteDescription(desc)
	case signalcodec.TypeCandidate:
		init, err := p.ICECandidate()
		if err != nil {
			return err
		}
		if init.Candidate == "" {
			return nil
		}
		return d.pc.AddICECandidate(init)
	default:
		return fmt.Errorf("unexpected %s signal from listener", p.Type)
	}
}

func (d *dialPeer) awaitOpen(ctx context.Context, raddr ma.Multiaddr) (manet.Conn, error) {
	select {
	case raw := <-d.opened:
		return newMaConn(raw, d.close, nil, raddr, nil, nil), nil
	case err := <-d.failed:
		d.close()
		return nil, err
	case <-ctx.Done():
		d.close()
		return nil, ctx.Err()
	}
}

func (d *dialPeer) fail(err error) {
	select {
	case d.failed <- err:
	default:
	}
}

func (d *dialPeer) close() {
	_ = d.pc.Close()
}

func exchangeHTTP(ctx context.Context, client *http.Client, u *url.URL, offer signalcodec.Payload) (signalcodec.Payload, error) {
	signalURL := *u
	q := signalURL.Query()
	q.Set(signalQueryParam, signalcodec.Encode(offer))
	signalURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signalURL.String(), nil)
	if err != nil {
		return signalcodec.Payload{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return signalcodec.Payload{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return signalcodec.Payload{}, err
	}
	text := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK {
		return signalcodec.Payload{}, fmt.Errorf("signal: %s: %s", resp.Status, text)
	}

	answer, err := signalcodec.Decode(text)
	if err != nil {
		return signalcodec.Payload{}, err
	}
	if answer.Type != signalcodec.TypeAnswer {
		return signalcodec.Payload{}, fmt.Errorf("signal: expected answer, got %s", answer.Type)
	}
	return answer, nil
}

// urlMultiaddr returns /ip4|ip6|dns/<host>/tcp/<port> for u.
func urlMultiaddr(u *url.URL) (ma.Multiaddr, error) {
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%s: missing host", u)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http", "ws":
			port = "80"
		default:
			port = "443"
		}
	}

	proto := "dns"
	if ip := net.ParseIP(host); ip != nil {
		proto = "ip6"
		if ip.To4() != nil {
			proto = "ip4"
		}
	}
	return ma.NewMultiaddr("/" + proto + "/" + host + "/tcp/" + port)
}
