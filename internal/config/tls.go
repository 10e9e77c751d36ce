package config

import (
	"crypto/tls"
	"errors"
	"fmt"

	"golang.org/x/crypto/acme/autocert"
)

var ErrMissingTLSMaterial = errors.New("missing TLS material")

// TLSConfig builds the server TLS configuration: an ACME autocert manager
// when enabled, otherwise the configured certificate and key files.
func TLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.TLSAutocert {
		if cfg.Domain == "" {
			return nil, fmt.Errorf("%w: autocert requires a domain", ErrMissingTLSMaterial)
		}
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Domain),
			Cache:      autocert.DirCache(cfg.TLSAutocertCacheDir),
		}
		tlsCfg := m.TLSConfig()
		tlsCfg.MinVersion = tls.VersionTLS12
		return tlsCfg, nil
	}

	if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
		return nil, fmt.Errorf("%w: certificate and key files must both be set", ErrMissingTLSMaterial)
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingTLSMaterial, err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
