// Command dial-client-go dials a webrtc-direct listener, opens a yamux
// stream and checks that the listener echoes a message back. It prints OK on
// success and exits non-zero otherwise.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/spf13/pflag"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/upgrader"
	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/webrtcdirect"
)

func main() {
	target := pflag.String("url", envOrDefault("LISTENER_URL", "https://127.0.0.1:9090/"), "Listener URL (https:// for GET /, wss:// for /ws)")
	message := pflag.String("message", "hello webrtc-direct", "Message to echo")
	timeout := pflag.Duration("timeout", 20*time.Second, "Overall deadline")
	insecure := pflag.Bool("insecure", false, "Skip TLS certificate verification (self-signed test listeners)")
	verbose := pflag.Bool("verbose", false, "Log negotiation details to stderr")
	pflag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *target, []byte(*message), *insecure, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func run(ctx context.Context, target string, msg []byte, insecure bool, logger *slog.Logger) error {
	tlsCfg := &tls.Config{InsecureSkipVerify: insecure}
	cfg := webrtcdirect.DialConfig{
		HTTPClient:      &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}},
		WebSocketDialer: &websocket.Dialer{TLSClientConfig: tlsCfg, HandshakeTimeout: 10 * time.Second},
		Logger:          logger,
	}

	var (
		conn manet.Conn
		err  error
	)
	if isWebSocketURL(target) {
		conn, err = webrtcdirect.DialWebSocket(ctx, target, cfg)
	} else {
		conn, err = webrtcdirect.Dial(ctx, target, cfg)
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sess, err := (&upgrader.Yamux{Logger: logger}).Client(conn)
	if err != nil {
		return err
	}
	defer sess.Close()

	stream, err := sess.OpenStream()
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	if _, err := stream.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	got := make([]byte, len(msg))
	if _, err := io.ReadFull(stream, got); err != nil {
		return fmt.Errorf("read echo: %w", err)
	}
	if !bytes.Equal(got, msg) {
		return errors.New("echo mismatch")
	}
	return nil
}

func isWebSocketURL(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme == "wss" || u.Scheme == "ws"
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
