package protocol

import (
	"encoding/json"
	"fmt"
)

// Call signal types carried inside a call_signal envelope.
const (
	CallOffer  = "call_offer"
	CallAnswer = "call_answer"
	CallICE    = "call_ice"
	CallEnd    = "call_end"
)

// SessionDescription is a serialized SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a serialized ICE connectivity candidate.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// CallSignal is the payload of a call_signal envelope.
type CallSignal struct {
	Type      string              `json:"type"`
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`
	IsVideo   bool                `json:"isVideo,omitempty"`
}

// DecodeCallSignal converts the loosely typed envelope data (a decoded JSON
// value) into a CallSignal.
func DecodeCallSignal(data any) (CallSignal, error) {
	var sig CallSignal
	raw, err := json.Marshal(data)
	if err != nil {
		return sig, fmt.Errorf("encode call signal: %w", err)
	}
	if err := json.Unmarshal(raw, &sig); err != nil {
		return sig, fmt.Errorf("decode call signal: %w", err)
	}
	if sig.Type == "" {
		return sig, fmt.Errorf("call signal without type")
	}
	return sig, nil
}
