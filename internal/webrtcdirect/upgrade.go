package webrtcdirect

import (
	"context"
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/metrics"
)

// upgrade runs the single upgrade attempt for a connected channel and feeds
// the result back into the inbound state machine.
func (l *Listener) upgrade(in *inbound, conn *maConn) {
	ctx, cancel := context.WithTimeout(in.ctx, l.cfg.UpgradeTimeout)
	defer cancel()

	upgraded, err := l.cfg.Upgrader.UpgradeInbound(ctx, conn)
	if err == nil && upgraded == nil {
		err = errors.New("upgrader returned no connection")
	}
	if err != nil {
		in.dispatch(inboundEvent{kind: evUpgradeFailed, err: fmt.Errorf("%w: %w", ErrUpgrade, err)})
		return
	}
	in.dispatch(inboundEvent{kind: evUpgraded, upgraded: upgraded})
}

// admit tracks an upgraded connection, announces it and hands it to the
// handler.
func (l *Listener) admit(conn *maConn, upgraded Conn) {
	if err := l.registry.Track(conn); err != nil {
		_ = upgraded.Close()
		l.log.Debug("dropping upgraded connection", "remote_addr", conn.RemoteMultiaddr().String(), "err", err)
		return
	}
	l.cfg.Metrics.Inc(metrics.ConnectionsUpgraded)
	l.notifyConnection(upgraded)
	l.cfg.Handler(upgraded)
}
