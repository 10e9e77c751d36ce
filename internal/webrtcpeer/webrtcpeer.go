// Package webrtcpeer wraps pion's PeerConnection as an answer-side peer that
// reports negotiation progress as a single stream of events.
package webrtcpeer

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/config"
)

// NewSettingEngine returns the SettingEngine every listener peer is built
// from. Tests adjust it further (for example SetNet with a virtual network)
// before creating an API.
func NewSettingEngine(cfg config.Config, logger *slog.Logger) (webrtc.SettingEngine, error) {
	se := webrtc.SettingEngine{}
	// Peers expose data channels as byte streams.
	se.DetachDataChannels()
	if logger != nil {
		se.LoggerFactory = NewLoggerFactory(logger)
	}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return webrtc.SettingEngine{}, err
	}
	return se, nil
}

func NewAPI(cfg config.Config, logger *slog.Logger) (*webrtc.API, error) {
	se, err := NewSettingEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se)), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.WebRTCNAT1To1IPs) > 0 {
		var candidateType webrtc.ICECandidateType
		switch cfg.WebRTCNAT1To1IPCandidateType {
		case config.NAT1To1CandidateTypeHost, "":
			candidateType = webrtc.ICECandidateTypeHost
		case config.NAT1To1CandidateTypeSrflx:
			candidateType = webrtc.ICECandidateTypeSrflx
		default:
			return fmt.Errorf("invalid NAT 1:1 IP candidate type %q", cfg.WebRTCNAT1To1IPCandidateType)
		}
		se.SetNAT1To1IPs(cfg.WebRTCNAT1To1IPs, candidateType)
	}

	// SettingEngine has no bind-address knob; IPFilter restricts both candidate
	// gathering and socket binding instead.
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return nil
}
