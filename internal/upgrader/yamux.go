// Package upgrader provides the reference Upgrader: it multiplexes a raw
// webrtc-direct channel with yamux. It performs no security handshake; the
// data channel itself is already DTLS-encrypted, but peers are not
// authenticated.
package upgrader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/yamux"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/webrtcdirect"
)

// MuxedConn is a yamux session over one data channel.
type MuxedConn struct {
	*yamux.Session

	laddr, raddr ma.Multiaddr
}

var _ webrtcdirect.Conn = (*MuxedConn)(nil)

func (c *MuxedConn) LocalMultiaddr() ma.Multiaddr  { return c.laddr }
func (c *MuxedConn) RemoteMultiaddr() ma.Multiaddr { return c.raddr }

type Yamux struct {
	Logger *slog.Logger
	// Config overrides the yamux defaults. Its logging fields are replaced.
	Config *yamux.Config
}

var _ webrtcdirect.Upgrader = (*Yamux)(nil)

// UpgradeInbound starts the server side of a session. It returns once the
// remote session answers a ping, or fails when ctx ends first.
func (y *Yamux) UpgradeInbound(ctx context.Context, conn manet.Conn) (webrtcdirect.Conn, error) {
	sess, err := yamux.Server(conn, y.config())
	if err != nil {
		return nil, fmt.Errorf("yamux server: %w", err)
	}
	if err := ping(ctx, sess); err != nil {
		_ = sess.Close()
		return nil, err
	}
	return &MuxedConn{Session: sess, laddr: conn.LocalMultiaddr(), raddr: conn.RemoteMultiaddr()}, nil
}

// Client starts the dialing side of a session.
func (y *Yamux) Client(conn manet.Conn) (*MuxedConn, error) {
	sess, err := yamux.Client(conn, y.config())
	if err != nil {
		return nil, fmt.Errorf("yamux client: %w", err)
	}
	return &MuxedConn{Session: sess, laddr: conn.LocalMultiaddr(), raddr: conn.RemoteMultiaddr()}, nil
}

func (y *Yamux) config() *yamux.Config {
	cfg := yamux.DefaultConfig()
	if y.Config != nil {
		c := *y.Config
		cfg = &c
	}
	logger := y.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.LogOutput = nil
	cfg.Logger = slog.NewLogLogger(logger.With("component", "yamux").Handler(), slog.LevelDebug)
	return cfg
}

func ping(ctx context.Context, sess *yamux.Session) error {
	errCh := make(chan error, 1)
	go func() {
		_, err := sess.Ping()
		errCh <- err
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("yamux ping: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("yamux ping: %w", ctx.Err())
	}
}
