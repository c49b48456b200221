// Package protocol defines the logical envelope format exchanged through a
// room's secure channel, after transport and encryption wrapping is removed.
// The type vocabulary must be preserved exactly for interop with other
// NodeCrypt clients.
package protocol

import "strings"

// Envelope actions.
const (
	// ActionMessage is the inner payload action for both broadcast and
	// private messages.
	ActionMessage = "message"

	// ActionRelayToClient wraps an already client-encrypted payload for
	// server-side relaying to one specific peer.
	ActionRelayToClient = "relay-to-client"
)

// Payload types.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVoice = "voice"

	TypeFileStart  = "file_start"
	TypeFileVolume = "file_volume"
	TypeFileEnd    = "file_end"

	// TypeCallSignal is the outer type for all call signaling; the concrete
	// signal type (call_offer, call_answer, call_ice, call_end) rides inside
	// the payload.
	TypeCallSignal = "call_signal"
)

// Type suffixes.
const (
	// PrivateSuffix is appended by the message router on the outbound
	// private path and stripped again for inbound dispatch. Callers never
	// pass suffixed types.
	PrivateSuffix = "_private"

	// SignalSuffix marks ephemeral effect broadcasts (fireworks_signal etc.)
	// and call signaling.
	SignalSuffix = "_signal"

	filePrefix = "file_"
	callPrefix = "call_"
)

// Envelope is the logical unit delivered by the secure channel after
// decryption, and handed back to it for encryption on send.
type Envelope struct {
	Type       string `json:"type"`
	Data       any    `json:"data,omitempty"`
	SenderID   string `json:"clientId,omitempty"`
	SenderName string `json:"userName,omitempty"`
}

// ClientMessage is the inner payload encrypted under a peer's shared secret
// (private path) or the room's server secret (broadcast path).
type ClientMessage struct {
	Action string `json:"action"`
	Type   string `json:"type"`
	Data   any    `json:"data,omitempty"`
}

// RelayEnvelope wraps a client-encrypted payload for relaying. It is itself
// encrypted under the room's server shared secret.
type RelayEnvelope struct {
	Action   string `json:"action"`
	Payload  []byte `json:"payload"`
	TargetID string `json:"targetId"`
}

// Private returns typ with the private suffix applied. Idempotent.
func Private(typ string) string {
	if IsPrivate(typ) {
		return typ
	}
	return typ + PrivateSuffix
}

// IsPrivate reports whether typ was delivered through the private path.
func IsPrivate(typ string) bool {
	return strings.HasSuffix(typ, PrivateSuffix)
}

// BaseType strips the private suffix, yielding the type used for dispatch.
func BaseType(typ string) string {
	return strings.TrimSuffix(typ, PrivateSuffix)
}

// IsEffectSignal reports whether base names an ephemeral effect broadcast.
// Call signaling also ends in _signal but is never an effect.
func IsEffectSignal(base string) bool {
	return strings.HasSuffix(base, SignalSuffix) && !strings.HasPrefix(base, callPrefix)
}

// EffectName extracts the effect tag from an effect signal type,
// e.g. "fireworks_signal" -> "fireworks".
func EffectName(base string) string {
	return strings.TrimSuffix(base, SignalSuffix)
}

// IsFileChunk reports whether base is part of a chunked file transfer.
func IsFileChunk(base string) bool {
	return strings.HasPrefix(base, filePrefix)
}
