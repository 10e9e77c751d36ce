package main

import (
	"io"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/upgrader"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/webrtcdirect"
)

// echoHandler serves every yamux stream of a connection by writing back what
// it reads.
func echoHandler(logger *slog.Logger) webrtcdirect.Handler {
	return func(c webrtcdirect.Conn) {
		mc, ok := c.(*upgrader.MuxedConn)
		if !ok {
			logger.Warn("unexpected connection type; closing", "remote_addr", c.RemoteMultiaddr().String())
			_ = c.Close()
			return
		}
		go serveEcho(mc, logger.With("remote_addr", mc.RemoteMultiaddr().String()))
	}
}

func serveEcho(mc *upgrader.MuxedConn, logger *slog.Logger) {
	defer mc.Close()
	for {
		stream, err := mc.AcceptStream()
		if err != nil {
			logger.Debug("connection closed", "err", err)
			return
		}
		go func() {
			defer stream.Close()
			n, err := io.Copy(stream, stream)
			logger.Debug("stream closed", "stream_id", stream.StreamID(), "bytes", n, "err", err)
		}()
	}
}
