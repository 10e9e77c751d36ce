package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
)

// envPrefix is shared by every env var. Config file keys may omit it.
const envPrefix = "WEBRTC_DIRECT_"

const (
	envVarConfigFile          = envPrefix + "CONFIG"
	envVarListenAddr          = envPrefix + "LISTEN_ADDR"
	envVarDomain              = envPrefix + "DOMAIN"
	envVarTLSCertFile         = envPrefix + "TLS_CERT_FILE"
	envVarTLSKeyFile          = envPrefix + "TLS_KEY_FILE"
	envVarTLSAutocert         = envPrefix + "TLS_AUTOCERT"
	envVarTLSAutocertCacheDir = envPrefix + "TLS_AUTOCERT_CACHE_DIR"
	envVarMode                = envPrefix + "MODE"
	envVarLogFormat           = envPrefix + "LOG_FORMAT"
	envVarLogLevel            = envPrefix + "LOG_LEVEL"
	envVarShutdownTimeout     = envPrefix + "SHUTDOWN_TIMEOUT"
	envVarICEGatheringTimeout = envPrefix + "ICE_GATHER_TIMEOUT"
	envVarNegotiationTimeout  = envPrefix + "NEGOTIATION_TIMEOUT"
	envVarUpgradeTimeout      = envPrefix + "UPGRADE_TIMEOUT"

	// Signaling endpoint hardening.
	envVarMaxSignalBytes = envPrefix + "MAX_SIGNAL_BYTES"
	envVarSignalRate     = envPrefix + "SIGNAL_RATE"
	envVarSignalBurst    = envPrefix + "SIGNAL_BURST"
	envVarMaxHTTPConns   = envPrefix + "MAX_HTTP_CONNS"
	envVarWSSignaling    = envPrefix + "WS_SIGNALING"

	envVarMDNS         = envPrefix + "MDNS"
	envVarMDNSInstance = envPrefix + "MDNS_INSTANCE"

	envVarWebRTCUDPPortMin             = envPrefix + "UDP_PORT_MIN"
	envVarWebRTCUDPPortMax             = envPrefix + "UDP_PORT_MAX"
	envVarWebRTCUDPListenIP            = envPrefix + "UDP_LISTEN_IP"
	envVarWebRTCNAT1To1IPs             = envPrefix + "NAT_1TO1_IPS"
	envVarWebRTCNAT1To1IPCandidateType = envPrefix + "NAT_1TO1_IP_CANDIDATE_TYPE"
)

const (
	flagWebRTCUDPPortMin             = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax             = "webrtc-udp-port-max"
	flagWebRTCUDPListenIP            = "webrtc-udp-listen-ip"
	flagWebRTCNAT1To1IPs             = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType = "webrtc-nat-1to1-ip-candidate-type"
)

const (
	DefaultListenAddr              = "/ip4/0.0.0.0/tcp/9090/http/p2p-webrtc-direct"
	DefaultShutdown                = 15 * time.Second
	DefaultICEGatherTimeout        = 2 * time.Second
	DefaultNegotiationTimeout      = 30 * time.Second
	DefaultUpgradeTimeout          = 15 * time.Second
	DefaultMaxSignalBytes          = 64 * 1024
	DefaultSignalBurst             = 10
	DefaultTLSAutocertCacheDir     = "autocert-cache"
	DefaultMode               Mode = ModeDev

	// DefaultTLSDir is where certbot keeps the live certificate for a domain.
	DefaultTLSDir = "/etc/letsencrypt/live"
)

// recommendedWebRTCUDPPortRangeSize is a conservative minimum; running out of
// ICE ports shows up as hard-to-debug connectivity failures.
const recommendedWebRTCUDPPortRangeSize = 100

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	ConfigFile string

	ListenAddr ma.Multiaddr
	Domain     string

	TLSCertFile         string
	TLSKeyFile          string
	TLSAutocert         bool
	TLSAutocertCacheDir string

	LogFormat LogFormat
	LogLevel  slog.Level
	Mode      Mode

	ShutdownTimeout     time.Duration
	ICEGatheringTimeout time.Duration
	NegotiationTimeout  time.Duration
	UpgradeTimeout      time.Duration

	MaxSignalBytes      int
	SignalRatePerSecond int
	SignalBurst         int
	MaxHTTPConns        int
	WebSocketSignaling  bool

	MDNS         bool
	MDNSInstance string

	ICEServers []webrtc.ICEServer

	WebRTCUDPPortRange           *UDPPortRange
	WebRTCUDPListenIP            net.IP
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. It is kept
// separate from Load errors so the process can start and report it on
// /readyz.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(envLookup func(string) (string, bool), args []string) (Config, error) {
	configFile := configFilePath(envLookup, args)
	lookup := envLookup
	if configFile != "" {
		fileValues, err := readConfigFile(configFile)
		if err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", configFile, err)
		}
		lookup = layeredLookup(envLookup, fileValues)
	}

	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))
	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	listenAddrStr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	domain := envOrDefault(lookup, envVarDomain, "")
	tlsCertFile := envOrDefault(lookup, envVarTLSCertFile, "")
	tlsKeyFile := envOrDefault(lookup, envVarTLSKeyFile, "")
	tlsAutocertCacheDir := envOrDefault(lookup, envVarTLSAutocertCacheDir, DefaultTLSAutocertCacheDir)
	mdnsInstance := envOrDefault(lookup, envVarMDNSInstance, "")

	ice := readICESettings(lookup)

	tlsAutocert, err := envBoolOrDefault(lookup, envVarTLSAutocert, false)
	if err != nil {
		return Config{}, err
	}
	wsSignaling, err := envBoolOrDefault(lookup, envVarWSSignaling, false)
	if err != nil {
		return Config{}, err
	}
	mdns, err := envBoolOrDefault(lookup, envVarMDNS, false)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	iceGatherTimeout, err := envDurationOrDefault(lookup, envVarICEGatheringTimeout, DefaultICEGatherTimeout)
	if err != nil {
		return Config{}, err
	}
	negotiationTimeout, err := envDurationOrDefault(lookup, envVarNegotiationTimeout, DefaultNegotiationTimeout)
	if err != nil {
		return Config{}, err
	}
	upgradeTimeout, err := envDurationOrDefault(lookup, envVarUpgradeTimeout, DefaultUpgradeTimeout)
	if err != nil {
		return Config{}, err
	}

	maxSignalBytes, err := envIntOrDefault(lookup, envVarMaxSignalBytes, DefaultMaxSignalBytes)
	if err != nil {
		return Config{}, err
	}
	signalRate, err := envIntOrDefault(lookup, envVarSignalRate, 0)
	if err != nil {
		return Config{}, err
	}
	signalBurst, err := envIntOrDefault(lookup, envVarSignalBurst, DefaultSignalBurst)
	if err != nil {
		return Config{}, err
	}
	maxHTTPConns, err := envIntOrDefault(lookup, envVarMaxHTTPConns, 0)
	if err != nil {
		return Config{}, err
	}

	var webrtcUDPPortMin, webrtcUDPPortMax uint
	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMin, raw, err)
		}
		webrtcUDPPortMin = uint(p)
	}
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMax, raw, err)
		}
		webrtcUDPPortMax = uint(p)
	}
	webrtcUDPListenIPStr := envOrDefault(lookup, envVarWebRTCUDPListenIP, "")
	webrtcNAT1To1IPsStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPs, "")
	webrtcNAT1To1CandidateTypeStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))

	fs := pflag.NewFlagSet("webrtc-direct-listener", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&configFile, "config", configFile, "YAML config file (env "+envVarConfigFile+")")
	fs.StringVar(&listenAddrStr, "listen-addr", listenAddrStr, "Listen multiaddr, e.g. /ip4/0.0.0.0/tcp/9090/http/p2p-webrtc-direct")
	fs.StringVar(&domain, "domain", domain, "Domain the TLS certificate is issued for (env "+envVarDomain+")")
	fs.StringVar(&tlsCertFile, "tls-cert-file", tlsCertFile, "TLS certificate chain (default "+DefaultTLSDir+"/<domain>/fullchain.pem)")
	fs.StringVar(&tlsKeyFile, "tls-key-file", tlsKeyFile, "TLS private key (default "+DefaultTLSDir+"/<domain>/privkey.pem)")
	fs.BoolVar(&tlsAutocert, "tls-autocert", tlsAutocert, "Obtain certificates via ACME instead of reading files (env "+envVarTLSAutocert+")")
	fs.StringVar(&tlsAutocertCacheDir, "tls-autocert-cache-dir", tlsAutocertCacheDir, "ACME certificate cache directory")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.DurationVar(&iceGatherTimeout, "ice-gather-timeout", iceGatherTimeout, "Max time to wait for ICE gathering before answering a signal request")
	fs.DurationVar(&negotiationTimeout, "negotiation-timeout", negotiationTimeout, "Max time from offer to open data channel (env "+envVarNegotiationTimeout+")")
	fs.DurationVar(&upgradeTimeout, "upgrade-timeout", upgradeTimeout, "Max time for the connection upgrade (env "+envVarUpgradeTimeout+")")
	fs.IntVar(&maxSignalBytes, "max-signal-bytes", maxSignalBytes, "Max encoded signal size in bytes (env "+envVarMaxSignalBytes+")")
	fs.IntVar(&signalRate, "signal-rate", signalRate, "Signal requests/sec allowed per client IP (0 = unlimited)")
	fs.IntVar(&signalBurst, "signal-burst", signalBurst, "Signal request burst per client IP")
	fs.IntVar(&maxHTTPConns, "max-http-conns", maxHTTPConns, "Max concurrent HTTPS connections (0 = unlimited)")
	fs.BoolVar(&wsSignaling, "ws-signaling", wsSignaling, "Enable multi-round trickle signaling on /ws (env "+envVarWSSignaling+")")
	fs.BoolVar(&mdns, "mdns", mdns, "Advertise the listen address over mDNS (env "+envVarMDNS+")")
	fs.StringVar(&mdnsInstance, "mdns-instance", mdnsInstance, "mDNS instance name (default hostname)")

	ice.bindFlags(fs)

	fs.UintVar(&webrtcUDPPortMin, flagWebRTCUDPPortMin, webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, flagWebRTCUDPPortMax, webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcUDPListenIPStr, flagWebRTCUDPListenIP, webrtcUDPListenIPStr, "Local IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")
	fs.StringVar(&webrtcNAT1To1IPsStr, flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")
	fs.StringVar(&webrtcNAT1To1CandidateTypeStr, flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, "Candidate type for NAT 1:1 IPs: host or srflx")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	listenAddr, err := ma.NewMultiaddr(strings.TrimSpace(listenAddrStr))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--listen-addr %q: %w", envVarListenAddr, listenAddrStr, err)
	}

	domain = strings.TrimSpace(domain)
	if tlsAutocert {
		if domain == "" {
			return Config{}, fmt.Errorf("%s must be set when %s is enabled", envVarDomain, envVarTLSAutocert)
		}
	} else {
		if domain == "" && (tlsCertFile == "" || tlsKeyFile == "") {
			return Config{}, fmt.Errorf("%w: %s must be set (or both %s and %s)", ErrMissingTLSMaterial, envVarDomain, envVarTLSCertFile, envVarTLSKeyFile)
		}
		if tlsCertFile == "" {
			tlsCertFile = DefaultTLSDir + "/" + domain + "/fullchain.pem"
		}
		if tlsKeyFile == "" {
			tlsKeyFile = DefaultTLSDir + "/" + domain + "/privkey.pem"
		}
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if iceGatherTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ice-gather-timeout must be > 0", envVarICEGatheringTimeout)
	}
	if negotiationTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--negotiation-timeout must be > 0", envVarNegotiationTimeout)
	}
	if negotiationTimeout <= iceGatherTimeout {
		return Config{}, fmt.Errorf("%s/--negotiation-timeout must be > %s/--ice-gather-timeout", envVarNegotiationTimeout, envVarICEGatheringTimeout)
	}
	if upgradeTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--upgrade-timeout must be > 0", envVarUpgradeTimeout)
	}
	if maxSignalBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signal-bytes must be > 0", envVarMaxSignalBytes)
	}
	if signalRate < 0 {
		return Config{}, fmt.Errorf("%s/--signal-rate must be >= 0", envVarSignalRate)
	}
	if signalRate > 0 && signalBurst <= 0 {
		return Config{}, fmt.Errorf("%s/--signal-burst must be > 0 when %s is set", envVarSignalBurst, envVarSignalRate)
	}
	if maxHTTPConns < 0 {
		return Config{}, fmt.Errorf("%s/--max-http-conns must be >= 0", envVarMaxHTTPConns)
	}

	var webrtcUDPPortRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("%s/%s and %s/%s must be set together (or both unset)",
				envVarWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin,
				envVarWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax,
			)
		}
		min, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", envVarWebRTCUDPPortMin, "--"+flagWebRTCUDPPortMin, err)
		}
		max, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("%s/%s: %w", envVarWebRTCUDPPortMax, "--"+flagWebRTCUDPPortMax, err)
		}
		if min > max {
			return Config{}, fmt.Errorf("WebRTC UDP port range min (%d) must be <= max (%d)", min, max)
		}
		if size := int(max) - int(min) + 1; size < recommendedWebRTCUDPPortRangeSize {
			return Config{}, fmt.Errorf("WebRTC UDP port range is too small: %d ports (min %d recommended)", size, recommendedWebRTCUDPPortRangeSize)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: min, Max: max}
	}

	var webrtcUDPListenIP net.IP
	if s := strings.TrimSpace(webrtcUDPListenIPStr); s != "" {
		webrtcUDPListenIP = net.ParseIP(s)
		if webrtcUDPListenIP == nil {
			return Config{}, fmt.Errorf("invalid %s/%s %q", envVarWebRTCUDPListenIP, "--"+flagWebRTCUDPListenIP, webrtcUDPListenIPStr)
		}
	}

	var webrtcNAT1To1IPs []string
	if strings.TrimSpace(webrtcNAT1To1IPsStr) != "" {
		webrtcNAT1To1IPs, err = parseIPList(webrtcNAT1To1IPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/%s %q: %w", envVarWebRTCNAT1To1IPs, "--"+flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, err)
		}
	}
	webrtcNAT1To1CandidateType, err := parseCandidateType(webrtcNAT1To1CandidateTypeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/%s %q: %w", envVarWebRTCNAT1To1IPCandidateType, "--"+flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, err)
	}

	if mdns && strings.TrimSpace(mdnsInstance) == "" {
		if host, err := os.Hostname(); err == nil {
			mdnsInstance = host
		} else {
			mdnsInstance = "webrtc-direct"
		}
	}

	cfg := Config{
		ConfigFile: configFile,

		ListenAddr: listenAddr,
		Domain:     domain,

		TLSCertFile:         tlsCertFile,
		TLSKeyFile:          tlsKeyFile,
		TLSAutocert:         tlsAutocert,
		TLSAutocertCacheDir: tlsAutocertCacheDir,

		LogFormat: logFormat,
		LogLevel:  level,
		Mode:      mode,

		ShutdownTimeout:     shutdownTimeout,
		ICEGatheringTimeout: iceGatherTimeout,
		NegotiationTimeout:  negotiationTimeout,
		UpgradeTimeout:      upgradeTimeout,

		MaxSignalBytes:      maxSignalBytes,
		SignalRatePerSecond: signalRate,
		SignalBurst:         signalBurst,
		MaxHTTPConns:        maxHTTPConns,
		WebSocketSignaling:  wsSignaling,

		MDNS:         mdns,
		MDNSInstance: mdnsInstance,

		WebRTCUDPPortRange:           webrtcUDPPortRange,
		WebRTCUDPListenIP:            webrtcUDPListenIP,
		WebRTCNAT1To1IPs:             webrtcNAT1To1IPs,
		WebRTCNAT1To1IPCandidateType: webrtcNAT1To1CandidateType,
	}

	iceServers, err := ice.servers()
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(uint(v))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("unknown candidate type %q", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
