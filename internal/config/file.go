package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// readConfigFile reads a flat YAML mapping of env var names to values. A key
// may be the full name (WEBRTC_DIRECT_SIGNAL_RATE) or the short form with the
// prefix dropped, in any case (signal_rate).
func readConfigFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(doc))
	for key, node := range doc {
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("key %q: expected a scalar value", key)
		}
		envKey := strings.ToUpper(strings.TrimSpace(key))
		if !strings.HasPrefix(envKey, envPrefix) {
			envKey = envPrefix + envKey
		}
		if _, ok := knownEnvVars[envKey]; !ok {
			return nil, fmt.Errorf("unknown key %q", key)
		}
		if _, dup := out[envKey]; dup {
			return nil, fmt.Errorf("key %q: %s already set", key, envKey)
		}
		out[envKey] = node.Value
	}
	return out, nil
}

// layeredLookup consults the environment first and the config file second.
func layeredLookup(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}

// configFilePath resolves --config before the full flag set is parsed, since
// the file supplies defaults for the other flags.
func configFilePath(lookup func(string) (string, bool), args []string) string {
	path, _ := lookup(envVarConfigFile)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			path = v
			continue
		}
		if arg == "--config" && i+1 < len(args) {
			path = args[i+1]
			i++
		}
	}
	return strings.TrimSpace(path)
}

var knownEnvVars = map[string]struct{}{
	envVarListenAddr:                   {},
	envVarDomain:                       {},
	envVarTLSCertFile:                  {},
	envVarTLSKeyFile:                   {},
	envVarTLSAutocert:                  {},
	envVarTLSAutocertCacheDir:          {},
	envVarMode:                         {},
	envVarLogFormat:                    {},
	envVarLogLevel:                     {},
	envVarShutdownTimeout:              {},
	envVarICEGatheringTimeout:          {},
	envVarNegotiationTimeout:           {},
	envVarUpgradeTimeout:               {},
	envVarMaxSignalBytes:               {},
	envVarSignalRate:                   {},
	envVarSignalBurst:                  {},
	envVarMaxHTTPConns:                 {},
	envVarWSSignaling:                  {},
	envVarMDNS:                         {},
	envVarMDNSInstance:                 {},
	envVarWebRTCUDPPortMin:             {},
	envVarWebRTCUDPPortMax:             {},
	envVarWebRTCUDPListenIP:            {},
	envVarWebRTCNAT1To1IPs:             {},
	envVarWebRTCNAT1To1IPCandidateType: {},
	envICEServersJSON:                  {},
	envStunURLs:                        {},
	envTurnURLs:                        {},
	envTurnUsername:                    {},
	envTurnCredential:                  {},
}
