package main

import (
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /readyz will report unready",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	} else if cfg.Mode == config.ModeProd && len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured while --mode=prod (peers behind NAT may fail to connect)",
			"warning_code", "ice_servers_missing_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.SignalRatePerSecond <= 0 {
		logger.Warn("startup security warning: SIGNAL_RATE is unset/0 (unlimited) while --mode=prod",
			"warning_code", "signal_rate_unlimited_in_prod",
			"signal_rate", cfg.SignalRatePerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxHTTPConns <= 0 {
		logger.Warn("startup security warning: MAX_HTTP_CONNS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_http_conns_unlimited_in_prod",
			"max_http_conns", cfg.MaxHTTPConns,
			"mode", cfg.Mode,
		)
	}

	if cfg.WebSocketSignaling {
		logger.Warn("startup warning: GET /ws multi-round signaling is enabled (not part of the webrtc-direct HTTP exchange; browsers will not use it)",
			"warning_code", "ws_signaling_enabled",
			"mode", cfg.Mode,
		)
	}

	// Large limits weaken the signaling endpoint's DoS hardening.
	if cfg.MaxSignalBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNAL_BYTES is very large (increases per-request allocation risk)",
			"warning_code", "max_signal_bytes_large",
			"max_signal_bytes", cfg.MaxSignalBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.NegotiationTimeout > 2*time.Minute {
		logger.Warn("startup security warning: NEGOTIATION_TIMEOUT is very large (increases half-open peer connection exposure)",
			"warning_code", "negotiation_timeout_large",
			"negotiation_timeout", cfg.NegotiationTimeout,
			"mode", cfg.Mode,
		)
	}
}
