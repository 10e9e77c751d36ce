// Package signalcodec encodes WebRTC negotiation payloads as multibase text.
//
// A payload is the JSON a browser produces for RTCSessionDescriptionInit
// ({"type":"offer","sdp":"..."}) or, for multi-round signaling, a trickled
// ICE candidate ({"type":"candidate","candidate":{...}}). The JSON is carried
// as self-describing multibase text so it can travel in a URL query
// parameter or a plain-text HTTP body.
package signalcodec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/pion/webrtc/v4"
)

// DefaultEncoding is the base used by Encode. Its multibase prefix is 'z'.
const DefaultEncoding = multibase.Base58BTC

var ErrDecoding = errors.New("signal decoding failed")

type Type string

const (
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
)

// Candidate mirrors RTCIceCandidateInit.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type Payload struct {
	Type      Type
	SDP       string
	Candidate *Candidate
	// Extra holds any other JSON members. They survive a Decode and Encode
	// unchanged; nothing here interprets them.
	Extra map[string]json.RawMessage
}

type payloadFields struct {
	Type      Type       `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

func isPayloadField(name string) bool {
	return strings.EqualFold(name, "type") || strings.EqualFold(name, "sdp") || strings.EqualFold(name, "candidate")
}

func (p Payload) MarshalJSON() ([]byte, error) {
	known := payloadFields{Type: p.Type, SDP: p.SDP, Candidate: p.Candidate}
	if len(p.Extra) == 0 {
		return json.Marshal(known)
	}

	b, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	members := make(map[string]json.RawMessage, len(p.Extra)+3)
	for k, v := range p.Extra {
		if !isPayloadField(k) {
			members[k] = v
		}
	}
	if err := json.Unmarshal(b, &members); err != nil {
		return nil, err
	}
	return json.Marshal(members)
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	var known payloadFields
	if err := json.Unmarshal(b, &known); err != nil {
		return err
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(b, &members); err != nil {
		return err
	}
	for k := range members {
		if isPayloadField(k) {
			delete(members, k)
		}
	}

	*p = Payload{Type: known.Type, SDP: known.SDP, Candidate: known.Candidate}
	if len(members) > 0 {
		p.Extra = members
	}
	return nil
}

func (p Payload) validate() error {
	switch p.Type {
	case TypeOffer, TypeAnswer:
		if p.SDP == "" {
			return fmt.Errorf("%s payload missing sdp", p.Type)
		}
		if p.Candidate != nil {
			return fmt.Errorf("%s payload has unexpected candidate", p.Type)
		}
	case TypeCandidate:
		if p.Candidate == nil {
			return fmt.Errorf("candidate payload missing candidate")
		}
		if p.SDP != "" {
			return fmt.Errorf("candidate payload has unexpected sdp")
		}
	case "":
		return fmt.Errorf("payload missing type")
	default:
		return fmt.Errorf("unsupported payload type %q", p.Type)
	}
	return nil
}

// Encode returns the base58btc multibase text of p's JSON form.
func Encode(p Payload) string {
	// Only a malformed Extra member can fail to marshal. Its text is dropped
	// rather than sent.
	s, err := EncodeWith(DefaultEncoding, p)
	if err != nil {
		p.Extra = nil
		s, _ = EncodeWith(DefaultEncoding, p)
	}
	return s
}

// EncodeWith is Encode with a caller-chosen base.
func EncodeWith(enc multibase.Encoding, p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return multibase.Encode(enc, b)
}

// Decode parses multibase text in any supported base. Every failure wraps
// ErrDecoding.
func Decode(text string) (Payload, error) {
	if text == "" {
		return Payload{}, fmt.Errorf("%w: empty input", ErrDecoding)
	}
	_, data, err := multibase.Decode(text)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: multibase: %v", ErrDecoding, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("%w: json: %v", ErrDecoding, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Payload{}, fmt.Errorf("%w: unexpected trailing data", ErrDecoding)
	}
	if err := p.validate(); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return p, nil
}

func FromDescription(desc webrtc.SessionDescription) Payload {
	return Payload{Type: Type(desc.Type.String()), SDP: desc.SDP}
}

// Description converts an offer or answer payload to its pion form.
func (p Payload) Description() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch p.Type {
	case TypeOffer:
		t = webrtc.SDPTypeOffer
	case TypeAnswer:
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("payload type %q is not a session description", p.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: p.SDP}, nil
}

func FromCandidate(init webrtc.ICECandidateInit) Payload {
	return Payload{
		Type: TypeCandidate,
		Candidate: &Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		},
	}
}

func (p Payload) ICECandidate() (webrtc.ICECandidateInit, error) {
	if p.Type != TypeCandidate || p.Candidate == nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("payload type %q is not a candidate", p.Type)
	}
	c := p.Candidate
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}, nil
}
