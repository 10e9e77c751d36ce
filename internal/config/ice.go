package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	envICEServersJSON = envPrefix + "ICE_SERVERS_JSON"

	envStunURLs       = envPrefix + "STUN_URLS"
	envTurnURLs       = envPrefix + "TURN_URLS"
	envTurnUsername   = envPrefix + "TURN_USERNAME"
	envTurnCredential = envPrefix + "TURN_CREDENTIAL"
)

var (
	ErrICEScheme = errors.New("ice url scheme must be stun, stuns, turn or turns")
	// ErrTURNCredentials is returned for a turn: or turns: URL configured
	// without both a username and a credential.
	ErrTURNCredentials = errors.New("turn urls require a username and a credential")
)

// iceSettings is the raw ICE server configuration. A server list document
// takes precedence over the stun/turn shorthand. Every field follows the
// usual env, config file, flag layering.
type iceSettings struct {
	document       string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string
}

func readICESettings(lookup func(string) (string, bool)) iceSettings {
	return iceSettings{
		document:       envOrDefault(lookup, envICEServersJSON, ""),
		stunURLs:       envOrDefault(lookup, envStunURLs, ""),
		turnURLs:       envOrDefault(lookup, envTurnURLs, ""),
		turnUsername:   envOrDefault(lookup, envTurnUsername, ""),
		turnCredential: envOrDefault(lookup, envTurnCredential, ""),
	}
}

func (s *iceSettings) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.document, "ice-servers-json", s.document, "ICE server list as JSON or YAML (env "+envICEServersJSON+")")
	fs.StringVar(&s.stunURLs, "stun-urls", s.stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&s.turnURLs, "turn-urls", s.turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&s.turnUsername, "turn-username", s.turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&s.turnCredential, "turn-credential", s.turnCredential, "TURN credential (env "+envTurnCredential+")")
}

func (s iceSettings) servers() ([]webrtc.ICEServer, error) {
	if strings.TrimSpace(s.document) != "" {
		servers, err := parseICEDocument(s.document)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if urls := splitList(s.stunURLs); len(urls) > 0 {
		server, err := newICEServer(urls, "", "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}
	if urls := splitList(s.turnURLs); len(urls) > 0 {
		server, err := newICEServer(urls, s.turnUsername, s.turnCredential)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// iceDocumentEntry mirrors RTCIceServer. urls may be a single string or a
// list.
type iceDocumentEntry struct {
	URLs       yaml.Node `yaml:"urls"`
	Username   string    `yaml:"username"`
	Credential string    `yaml:"credential"`
}

// parseICEDocument reads an RTCIceServer list. JSON is accepted as the YAML
// subset it is, so the same value works in an env var and in the config file.
func parseICEDocument(raw string) ([]webrtc.ICEServer, error) {
	var entries []iceDocumentEntry
	if err := yaml.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, entry := range entries {
		var urls []string
		switch entry.URLs.Kind {
		case yaml.ScalarNode:
			urls = []string{entry.URLs.Value}
		case yaml.SequenceNode:
			if err := entry.URLs.Decode(&urls); err != nil {
				return nil, fmt.Errorf("server %d: urls: %w", i, err)
			}
		case 0:
		default:
			return nil, fmt.Errorf("server %d: urls must be a string or a list", i)
		}

		server, err := newICEServer(urls, entry.Username, entry.Credential)
		if err != nil {
			return nil, fmt.Errorf("server %d: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// newICEServer drops blank URLs and checks what remains.
func newICEServer(urls []string, username, credential string) (webrtc.ICEServer, error) {
	var kept []string
	needsCredentials := false
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		scheme, _, ok := strings.Cut(u, ":")
		if !ok {
			return webrtc.ICEServer{}, fmt.Errorf("%w: %q", ErrICEScheme, u)
		}
		switch strings.ToLower(scheme) {
		case "stun", "stuns":
		case "turn", "turns":
			needsCredentials = true
		default:
			return webrtc.ICEServer{}, fmt.Errorf("%w: %q", ErrICEScheme, u)
		}
		kept = append(kept, u)
	}
	if len(kept) == 0 {
		return webrtc.ICEServer{}, errors.New("no urls")
	}

	username = strings.TrimSpace(username)
	credential = strings.TrimSpace(credential)
	if needsCredentials && (username == "" || credential == "") {
		return webrtc.ICEServer{}, ErrTURNCredentials
	}

	server := webrtc.ICEServer{URLs: kept, Username: username}
	if credential != "" {
		server.Credential = credential
	}
	return server, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
