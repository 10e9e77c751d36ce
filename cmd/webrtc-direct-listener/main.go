package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/upgrader"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/webrtcdirect"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	tlsCfg, err := config.TLSConfig(cfg)
	if err != nil {
		logger.Error("failed to configure tls", "err", err)
		os.Exit(2)
	}

	// Construct the WebRTC API early so misconfigurations are caught on startup.
	// No sockets are opened until the first offer arrives.
	api, err := webrtcpeer.NewAPI(cfg, logger)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	logger.Info("starting webrtc-direct-listener",
		"listen_addr", cfg.ListenAddr.String(),
		"mode", cfg.Mode,
		"ice_servers", len(cfg.ICEServers),
		"negotiation_timeout", cfg.NegotiationTimeout,
		"upgrade_timeout", cfg.UpgradeTimeout,
		"max_signal_bytes", cfg.MaxSignalBytes,
		"ws_signaling", cfg.WebSocketSignaling,
		"mdns", cfg.MDNS,
	)
	logStartupWarnings(logger, cfg)

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	m := metrics.New()
	muxer := &upgrader.Yamux{Logger: logger}

	l, err := webrtcdirect.New(webrtcdirect.Config{
		TLSConfig:           tlsCfg,
		API:                 api,
		ICEServers:          cfg.ICEServers,
		Upgrader:            muxer,
		Handler:             echoHandler(logger),
		Logger:              logger,
		Metrics:             m,
		Build:               httpserver.BuildInfo{Commit: commit, BuildTime: builtAt},
		ReadyCheck:          cfg.ICEConfigError,
		ICEGatheringTimeout: cfg.ICEGatheringTimeout,
		NegotiationTimeout:  cfg.NegotiationTimeout,
		UpgradeTimeout:      cfg.UpgradeTimeout,
		MaxSignalBytes:      cfg.MaxSignalBytes,
		SignalLimiter:       ratelimit.NewKeyedLimiter(ratelimit.RealClock{}, int64(cfg.SignalRatePerSecond), int64(cfg.SignalBurst), 0),
		MaxHTTPConns:        cfg.MaxHTTPConns,
		WebSocketSignaling:  cfg.WebSocketSignaling,
	})
	if err != nil {
		logger.Error("failed to configure listener", "err", err)
		os.Exit(2)
	}

	serveErr := make(chan error, 1)
	l.Notify(&webrtcdirect.NotifyBundle{
		ErrorF: func(_ *webrtcdirect.Listener, err error) {
			if errors.Is(err, webrtcdirect.ErrStop) {
				select {
				case serveErr <- err:
				default:
				}
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := l.Listen(ctx, cfg.ListenAddr); err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	var adv *advertiser
	if cfg.MDNS {
		adv, err = advertise(zeroconfRegistrar{}, cfg.MDNSInstance, l.Addrs()[0], logger)
		if err != nil {
			// Discovery is optional; the listener keeps serving.
			logger.Warn("mdns advertisement failed", "err", err)
		}
	}

	select {
	case err := <-serveErr:
		logger.Error("listener failed", "err", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	adv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := l.Close(shutdownCtx); err != nil {
		logger.Error("listener shutdown failed", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info (useful
	// for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return commit, buildTime
}
