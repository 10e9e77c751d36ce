package main

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	mdnsService = "_webrtc-direct._tcp"
	mdnsDomain  = "local."
	// mdnsAddrKey names the TXT record carrying the full listen multiaddr.
	mdnsAddrKey = "dnsaddr"
)

type mdnsServer interface {
	Shutdown()
}

// mdnsRegistrar is swapped out in tests.
type mdnsRegistrar interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (mdnsServer, error)
}

type zeroconfRegistrar struct{}

func (zeroconfRegistrar) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (mdnsServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// advertiser publishes the listen address on the local network.
type advertiser struct {
	server mdnsServer
	log    *slog.Logger
}

func advertise(r mdnsRegistrar, instance string, addr ma.Multiaddr, logger *slog.Logger) (*advertiser, error) {
	portStr, err := addr.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return nil, fmt.Errorf("mdns: %s has no tcp port: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("mdns: invalid port %q: %w", portStr, err)
	}
	txt := []string{mdnsAddrKey + "=" + addr.String()}

	server, err := r.Register(instance, mdnsService, mdnsDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns: register %s: %w", mdnsService, err)
	}
	logger.Info("advertising over mdns", "instance", instance, "service", mdnsService, "port", port, "addr", addr.String())
	return &advertiser{server: server, log: logger}, nil
}

// Shutdown withdraws the advertisement. It is safe on a nil advertiser.
func (a *advertiser) Shutdown() {
	if a == nil {
		return
	}
	a.server.Shutdown()
	a.log.Debug("mdns advertisement withdrawn")
}
