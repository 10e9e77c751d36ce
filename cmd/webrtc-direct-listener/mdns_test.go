package main

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	ma "github.com/multiformats/go-multiaddr"
)

type fakeMDNSServer struct {
	shutdowns int
}

func (s *fakeMDNSServer) Shutdown() { s.shutdowns++ }

type fakeRegistrar struct {
	instance, service, domain string
	port                      int
	txt                       []string

	server *fakeMDNSServer
	err    error
}

func (r *fakeRegistrar) Register(instance, service, domain string, port int, txt []string, _ []net.Interface) (mdnsServer, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.instance, r.service, r.domain, r.port, r.txt = instance, service, domain, port, txt
	r.server = &fakeMDNSServer{}
	return r.server, nil
}

func TestAdvertiseRegistersListenAddr(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	addr := ma.StringCast("/ip4/192.168.1.20/tcp/9090/http/p2p-webrtc-direct")
	reg := &fakeRegistrar{}

	adv, err := advertise(reg, "node-a", addr, logger)
	if err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if reg.instance != "node-a" || reg.service != mdnsService || reg.domain != mdnsDomain {
		t.Fatalf("registered instance=%q service=%q domain=%q", reg.instance, reg.service, reg.domain)
	}
	if reg.port != 9090 {
		t.Fatalf("port=%d, want 9090", reg.port)
	}
	want := "dnsaddr=/ip4/192.168.1.20/tcp/9090/http/p2p-webrtc-direct"
	if len(reg.txt) != 1 || reg.txt[0] != want {
		t.Fatalf("txt=%q, want [%q]", reg.txt, want)
	}

	adv.Shutdown()
	if reg.server.shutdowns != 1 {
		t.Fatalf("shutdowns=%d, want 1", reg.server.shutdowns)
	}

	var none *advertiser
	none.Shutdown()
}

func TestAdvertiseErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := advertise(&fakeRegistrar{}, "node-a", ma.StringCast("/ip4/192.168.1.20/udp/9090"), logger); err == nil {
		t.Fatalf("expected an error for an address without a tcp port")
	}

	boom := errors.New("no multicast interface")
	_, err := advertise(&fakeRegistrar{err: boom}, "node-a", ma.StringCast("/ip4/192.168.1.20/tcp/9090"), logger)
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
}
