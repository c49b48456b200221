// Package call implements the call signaling coordinator: a single state
// machine per client that drives offer/answer/candidate exchange for one
// peer media session at a time, using a room's private message path as its
// signaling transport. The media transport itself sits behind the Media
// interface; PionMedia is the Pion-backed implementation.
package call

import (
	"errors"
	"fmt"

	"github.com/jensenmasan/NodeCrypt/internal/protocol"
)

// ErrMediaAcquisition is wrapped by every capture failure. The call aborts
// back to idle and the user is told the reason category.
var ErrMediaAcquisition = errors.New("media acquisition failed")

// ErrBusy is returned when a call is started or accepted while another call
// is in progress. Concurrent calls are out of scope.
var ErrBusy = errors.New("a call is already in progress")

// AcquireReason categorizes a capture failure for user display.
type AcquireReason string

const (
	ReasonPermissionDenied AcquireReason = "permission-denied"
	ReasonNotFound         AcquireReason = "not-found"
	ReasonInUse            AcquireReason = "in-use"
	ReasonUnavailable      AcquireReason = "unavailable"
)

// AcquireError reports why local capture could not be acquired.
type AcquireError struct {
	Reason AcquireReason
	Err    error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("media acquisition failed (%s): %v", e.Reason, e.Err)
}

func (e *AcquireError) Unwrap() error { return ErrMediaAcquisition }

// Capture holds acquired local capture devices. Close releases them; it must
// be called on every path back to idle, including failures.
type Capture interface {
	Close()
}

// SessionCallbacks are fired by a media session. Callbacks may arrive after
// the coordinator moved on; the coordinator discards stale ones.
type SessionCallbacks struct {
	// OnCandidate fires for each local connectivity candidate to forward to
	// the remote peer.
	OnCandidate func(protocol.Candidate)
	// OnDisconnected fires once when the underlying transport reports
	// disconnected, failed or closed.
	OnDisconnected func(reason string)
}

// MediaSession is one live peer media session.
type MediaSession interface {
	// CreateOffer produces the local session description for an outgoing call.
	CreateOffer() (protocol.SessionDescription, error)
	// Answer applies the remote offer and produces the local answer.
	Answer(remote protocol.SessionDescription) (protocol.SessionDescription, error)
	// AcceptAnswer applies the remote answer to an outgoing call.
	AcceptAnswer(remote protocol.SessionDescription) error
	// AddCandidate feeds one remote connectivity candidate.
	AddCandidate(protocol.Candidate) error
	// Close destroys the session. Idempotent.
	Close()
}

// Media is the boundary to the peer media transport. Acquisition is separate
// from session creation so an incoming call can ring without touching the
// user's camera or microphone before consent.
type Media interface {
	Acquire(video bool) (Capture, error)
	NewSession(cap Capture, cb SessionCallbacks) (MediaSession, error)
}

// Signaler delivers call signals to a peer through the private path of
// whichever room the peer belongs to.
type Signaler interface {
	SendSignal(peerID string, sig protocol.CallSignal) error
}
