package domain

import (
	"encoding/json"
	"fmt"
)

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescriptor is the wire form of an SDP offer or answer.
type SessionDescriptor struct {
	SDP  string  `json:"sdp"`
	Type SDPType `json:"type"`
}

// IceCandidateDescriptor is the wire form of a trickled ICE candidate.
type IceCandidateDescriptor struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// ParseSessionDescriptor decodes a JSON session descriptor and checks its type.
func ParseSessionDescriptor(data []byte) (SessionDescriptor, error) {
	var desc SessionDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return SessionDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidSessionDescription, err)
	}
	if err := desc.Validate(); err != nil {
		return SessionDescriptor{}, err
	}
	return desc, nil
}

func (d SessionDescriptor) Validate() error {
	if d.Type != SDPTypeOffer && d.Type != SDPTypeAnswer {
		return fmt.Errorf("%w: unexpected type %q", ErrInvalidSessionDescription, d.Type)
	}
	if d.SDP == "" {
		return fmt.Errorf("%w: empty sdp", ErrInvalidSessionDescription)
	}
	return nil
}

// JSON returns the wire encoding of the descriptor.
func (d SessionDescriptor) JSON() string {
	data, _ := json.Marshal(d)
	return string(data)
}

func ParseIceCandidate(data []byte) (IceCandidateDescriptor, error) {
	var c IceCandidateDescriptor
	if err := json.Unmarshal(data, &c); err != nil {
		return IceCandidateDescriptor{}, fmt.Errorf("invalid ice candidate: %w", err)
	}
	return c, nil
}

// SealedSignal is an encrypted signaling payload as ferried by the relay.
type SealedSignal struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Timestamp  int64  `json:"timestamp"`
}
