package signal

import (
	"encoding/json"
	"fmt"
)

// Envelope types carried over the rendezvous.
const (
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
)

// Envelope addresses one negotiation message from src to dst. The
// rendezvous re-assigns src based on the registered connection, so a
// peer cannot impersonate another.
type Envelope struct {
	DST     string          `json:"dst"`
	SRC     string          `json:"src"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SDPPayload carries an offer or answer.
type SDPPayload struct {
	SDP string `json:"sdp"`
	// Meta travels only on offers so the callee can label the pending
	// peer before any protocol message arrives.
	DisplayName string `json:"display_name,omitempty"`
}

// CandidatePayload carries one trickled ICE candidate.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func MarshalEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}

// NewEnvelope wraps a payload for one destination.
func NewEnvelope(dst, typ string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{DST: dst, Type: typ, Payload: data}, nil
}
