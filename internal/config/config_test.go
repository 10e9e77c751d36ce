package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func withDomain(extra map[string]string) func(string) (string, bool) {
	m := map[string]string{envVarDomain: "node.example.com"}
	for k, v := range extra {
		m[k] = v
	}
	return lookupMap(m)
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(withDomain(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if got := cfg.ListenAddr.String(); got != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", got, DefaultListenAddr)
	}
	if cfg.NegotiationTimeout != DefaultNegotiationTimeout {
		t.Fatalf("NegotiationTimeout=%v, want %v", cfg.NegotiationTimeout, DefaultNegotiationTimeout)
	}
	if cfg.ICEGatheringTimeout != DefaultICEGatherTimeout {
		t.Fatalf("ICEGatheringTimeout=%v, want %v", cfg.ICEGatheringTimeout, DefaultICEGatherTimeout)
	}
	if cfg.MaxSignalBytes != DefaultMaxSignalBytes {
		t.Fatalf("MaxSignalBytes=%d, want %d", cfg.MaxSignalBytes, DefaultMaxSignalBytes)
	}
	if cfg.SignalRatePerSecond != 0 {
		t.Fatalf("SignalRatePerSecond=%d, want 0", cfg.SignalRatePerSecond)
	}
	if cfg.WebSocketSignaling || cfg.MDNS || cfg.TLSAutocert {
		t.Fatalf("optional features should default off: %+v", cfg)
	}
	if cfg.WebRTCUDPPortRange != nil {
		t.Fatalf("expected WebRTCUDPPortRange unset, got %+v", *cfg.WebRTCUDPPortRange)
	}
	if cfg.WebRTCUDPListenIP != nil {
		t.Fatalf("WebRTCUDPListenIP=%v, want unset", cfg.WebRTCUDPListenIP)
	}
	if cfg.WebRTCNAT1To1IPCandidateType != NAT1To1CandidateTypeHost {
		t.Fatalf("WebRTCNAT1To1IPCandidateType=%q, want %q", cfg.WebRTCNAT1To1IPCandidateType, NAT1To1CandidateTypeHost)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v, want nil", cfg.ICEConfigError())
	}
}

func TestDomainDerivesCertbotPaths(t *testing.T) {
	cfg, err := load(withDomain(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want := "/etc/letsencrypt/live/node.example.com/fullchain.pem"; cfg.TLSCertFile != want {
		t.Fatalf("TLSCertFile=%q, want %q", cfg.TLSCertFile, want)
	}
	if want := "/etc/letsencrypt/live/node.example.com/privkey.pem"; cfg.TLSKeyFile != want {
		t.Fatalf("TLSKeyFile=%q, want %q", cfg.TLSKeyFile, want)
	}
}

func TestMissingDomainIsTLSConfigError(t *testing.T) {
	_, err := load(lookupMap(nil), nil)
	if !errors.Is(err, ErrMissingTLSMaterial) {
		t.Fatalf("err=%v, want ErrMissingTLSMaterial", err)
	}
}

func TestExplicitCertFilesWithoutDomain(t *testing.T) {
	cfg, err := load(lookupMap(nil), []string{"--tls-cert-file", "/tmp/cert.pem", "--tls-key-file", "/tmp/key.pem"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TLSCertFile != "/tmp/cert.pem" || cfg.TLSKeyFile != "/tmp/key.pem" {
		t.Fatalf("cert=%q key=%q", cfg.TLSCertFile, cfg.TLSKeyFile)
	}
}

func TestAutocertRequiresDomain(t *testing.T) {
	_, err := load(lookupMap(map[string]string{envVarTLSAutocert: "true"}), nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(withDomain(nil), []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	// Mode-derived defaults are computed from env, so the flag alone keeps the
	// dev log defaults unless they are set explicitly.
	cfg, err = load(withDomain(map[string]string{envVarMode: "prod"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(withDomain(map[string]string{
		envVarNegotiationTimeout: "10s",
		envVarSignalRate:         "5",
	}), []string{"--negotiation-timeout=20s", "--ws-signaling", "--listen-addr", "/ip4/127.0.0.1/tcp/0"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NegotiationTimeout != 20*time.Second {
		t.Fatalf("NegotiationTimeout=%v, want 20s", cfg.NegotiationTimeout)
	}
	if cfg.SignalRatePerSecond != 5 {
		t.Fatalf("SignalRatePerSecond=%d, want 5", cfg.SignalRatePerSecond)
	}
	if !cfg.WebSocketSignaling {
		t.Fatalf("WebSocketSignaling=false, want true")
	}
	if got := cfg.ListenAddr.String(); got != "/ip4/127.0.0.1/tcp/0" {
		t.Fatalf("ListenAddr=%q", got)
	}
}

func TestConfigFileLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listener.yaml")
	body := strings.Join([]string{
		"domain: file.example.com",
		"signal_rate: 7",
		"upgrade_timeout: 3s",
		"ws_signaling: true",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := load(lookupMap(map[string]string{
		envVarSignalRate: "9",
	}), []string{"--config", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("ConfigFile=%q, want %q", cfg.ConfigFile, path)
	}
	if cfg.Domain != "file.example.com" {
		t.Fatalf("Domain=%q, want file value", cfg.Domain)
	}
	if cfg.SignalRatePerSecond != 9 {
		t.Fatalf("SignalRatePerSecond=%d, want env value 9", cfg.SignalRatePerSecond)
	}
	if cfg.UpgradeTimeout != 3*time.Second {
		t.Fatalf("UpgradeTimeout=%v, want 3s", cfg.UpgradeTimeout)
	}
	if !cfg.WebSocketSignaling {
		t.Fatalf("WebSocketSignaling=false, want true")
	}
}

func TestConfigFileAcceptsFullEnvNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listener.yaml")
	body := "WEBRTC_DIRECT_DOMAIN: full.example.com\nsignal_rate: 4\nWebRTC_Direct_Max_HTTP_Conns: 12\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := load(lookupMap(map[string]string{envVarConfigFile: path}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Domain != "full.example.com" {
		t.Fatalf("Domain=%q, want full.example.com", cfg.Domain)
	}
	if cfg.SignalRatePerSecond != 4 {
		t.Fatalf("SignalRatePerSecond=%d, want 4", cfg.SignalRatePerSecond)
	}
	if cfg.MaxHTTPConns != 12 {
		t.Fatalf("MaxHTTPConns=%d, want 12", cfg.MaxHTTPConns)
	}
}

func TestConfigFileRejectsDuplicateKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listener.yaml")
	if err := os.WriteFile(path, []byte("domain: a.example.com\nWEBRTC_DIRECT_DOMAIN: b.example.com\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := load(lookupMap(map[string]string{envVarConfigFile: path}), nil)
	if err == nil || !strings.Contains(err.Error(), "already set") {
		t.Fatalf("err=%v, want duplicate key error", err)
	}
}

func TestConfigFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listener.yaml")
	if err := os.WriteFile(path, []byte("domain: a.example.com\nbogus: 1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := load(lookupMap(map[string]string{envVarConfigFile: path}), nil)
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("err=%v, want unknown key error", err)
	}
}

func TestInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"listen addr":         {envVarListenAddr: "127.0.0.1:9090"},
		"duration":            {envVarUpgradeTimeout: "soon"},
		"bool":                {envVarWSSignaling: "maybe"},
		"negotiation <= ice":  {envVarNegotiationTimeout: "1s", envVarICEGatheringTimeout: "2s"},
		"max signal bytes":    {envVarMaxSignalBytes: "0"},
		"negative rate":       {envVarSignalRate: "-1"},
		"udp port pair":       {envVarWebRTCUDPPortMin: "50000"},
		"udp range too small": {envVarWebRTCUDPPortMin: "50000", envVarWebRTCUDPPortMax: "50010"},
		"udp listen ip":       {envVarWebRTCUDPListenIP: "not-an-ip"},
		"candidate type":      {envVarWebRTCNAT1To1IPs: "203.0.113.1", envVarWebRTCNAT1To1IPCandidateType: "relay"},
		"mode":                {envVarMode: "staging"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := load(withDomain(env), nil); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestUDPPortRangeAndNAT(t *testing.T) {
	cfg, err := load(withDomain(map[string]string{
		envVarWebRTCUDPPortMin:  "50000",
		envVarWebRTCUDPPortMax:  "50199",
		envVarWebRTCNAT1To1IPs:  "203.0.113.1, 203.0.113.2",
		envVarWebRTCUDPListenIP: "10.0.0.5",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebRTCUDPPortRange == nil || cfg.WebRTCUDPPortRange.Min != 50000 || cfg.WebRTCUDPPortRange.Max != 50199 {
		t.Fatalf("WebRTCUDPPortRange=%+v", cfg.WebRTCUDPPortRange)
	}
	if len(cfg.WebRTCNAT1To1IPs) != 2 || cfg.WebRTCNAT1To1IPs[1] != "203.0.113.2" {
		t.Fatalf("WebRTCNAT1To1IPs=%v", cfg.WebRTCNAT1To1IPs)
	}
	if cfg.WebRTCUDPListenIP.String() != "10.0.0.5" {
		t.Fatalf("WebRTCUDPListenIP=%v", cfg.WebRTCUDPListenIP)
	}
}

func TestICEConfigErrorIsDeferred(t *testing.T) {
	cfg, err := load(withDomain(map[string]string{
		envTurnURLs: "turn:turn.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error for TURN without credentials")
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%v, want none", cfg.ICEServers)
	}
}

func TestMDNSInstanceDefaultsToHostname(t *testing.T) {
	cfg, err := load(withDomain(map[string]string{envVarMDNS: "1"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MDNSInstance == "" {
		t.Fatalf("MDNSInstance empty, want hostname fallback")
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
