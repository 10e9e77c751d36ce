package webrtcdirect

import (
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-direct/internal/signalcodec"
)

var (
	// ErrConfig is returned by New when the listener cannot be built.
	ErrConfig = errors.New("webrtc-direct: invalid config")

	// ErrMalformedRequest marks a signaling request without a usable signal.
	ErrMalformedRequest = errors.New("malformed signaling request")
	// ErrDecoding marks a signal that is not valid multibase-encoded JSON.
	ErrDecoding = signalcodec.ErrDecoding

	ErrNegotiation        = errors.New("negotiation failed")
	ErrNegotiationTimeout = fmt.Errorf("%w: deadline exceeded", ErrNegotiation)

	ErrUpgrade = errors.New("upgrade failed")

	ErrBind             = errors.New("listener bind failed")
	ErrStop             = errors.New("listener stop failed")
	ErrListenerClosed   = errors.New("listener closed")
	ErrAlreadyListening = errors.New("listener already listening")
)
