// Package webrtcdirect accepts inbound webrtc-direct connections.
//
// A remote peer sends its SDP offer as a multibase-encoded query parameter
// (GET /?signal=...). The listener answers in the response body, waits for
// the data channel to open, and hands the channel (as a manet.Conn) to an
// Upgrader. Upgraded connections are tracked until they close and passed to
// the Handler.
package webrtcdirect

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/ratelimit"
)

const (
	DefaultICEGatheringTimeout = 2 * time.Second
	DefaultNegotiationTimeout  = 30 * time.Second
	DefaultUpgradeTimeout      = 15 * time.Second
	DefaultMaxSignalBytes      = 64 << 10
)

// Conn is an upgraded connection.
type Conn interface {
	io.Closer
	LocalMultiaddr() ma.Multiaddr
	RemoteMultiaddr() ma.Multiaddr
}

// Upgrader turns a raw data-channel stream into a secured, multiplexed Conn.
type Upgrader interface {
	UpgradeInbound(ctx context.Context, conn manet.Conn) (Conn, error)
}

// UpgraderFunc adapts a function to Upgrader.
type UpgraderFunc func(ctx context.Context, conn manet.Conn) (Conn, error)

func (f UpgraderFunc) UpgradeInbound(ctx context.Context, conn manet.Conn) (Conn, error) {
	return f(ctx, conn)
}

// Handler receives every upgraded connection exactly once. It runs on the
// upgrade goroutine and should hand long-running work to its own goroutine.
type Handler func(Conn)

type Config struct {
	TLSConfig *tls.Config

	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	Upgrader Upgrader
	Handler  Handler

	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Build      httpserver.BuildInfo
	ReadyCheck func() error

	ICEGatheringTimeout time.Duration
	NegotiationTimeout  time.Duration
	UpgradeTimeout      time.Duration

	MaxSignalBytes int
	// SignalLimiter is keyed by client IP. Nil disables rate limiting.
	SignalLimiter *ratelimit.KeyedLimiter
	// MaxHTTPConns caps concurrent TCP connections on the signaling server.
	// Zero means unlimited.
	MaxHTTPConns int

	// WebSocketSignaling enables GET /ws for trickled multi-round
	// negotiation.
	WebSocketSignaling bool
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ICEGatheringTimeout <= 0 {
		c.ICEGatheringTimeout = DefaultICEGatheringTimeout
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if c.UpgradeTimeout <= 0 {
		c.UpgradeTimeout = DefaultUpgradeTimeout
	}
	if c.MaxSignalBytes <= 0 {
		c.MaxSignalBytes = DefaultMaxSignalBytes
	}
	return c
}

func (c Config) validate() error {
	if c.TLSConfig == nil {
		return fmt.Errorf("%w: missing TLS config", ErrConfig)
	}
	if len(c.TLSConfig.Certificates) == 0 && c.TLSConfig.GetCertificate == nil && c.TLSConfig.GetConfigForClient == nil {
		return fmt.Errorf("%w: TLS config has no certificate", ErrConfig)
	}
	if c.API == nil {
		return fmt.Errorf("%w: missing webrtc API", ErrConfig)
	}
	if c.Upgrader == nil {
		return fmt.Errorf("%w: missing upgrader", ErrConfig)
	}
	if c.Handler == nil {
		return fmt.Errorf("%w: missing handler", ErrConfig)
	}
	return nil
}
