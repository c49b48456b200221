package call

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jensenmasan/NodeCrypt/internal/protocol"
)

// ErrNoIncomingCall is returned by Accept/Reject with nothing ringing.
var ErrNoIncomingCall = errors.New("no incoming call")

// State of the one call session this client can hold.
type State int

const (
	StateIdle State = iota
	StateOutgoingRinging
	StateIncomingRinging
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoingRinging:
		return "outgoing-ringing"
	case StateIncomingRinging:
		return "incoming-ringing"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Events surface call progress to the user interface.
type Events struct {
	// OnIncoming fires when a call offer arrives while idle. The user decides
	// Accept or Reject; no capture device is touched until they do.
	OnIncoming func(peerID, peerName string, video bool)
	// OnStateChange fires after every transition.
	OnStateChange func(state State, peerID string)
	// OnEnded fires once per call with the termination reason.
	OnEnded func(reason string)
}

// Coordinator is the process-wide call state machine. At most one non-idle
// call session exists at any time, across all rooms. Its only jobs are
// transition sequencing and resource lifetime: capture devices are acquired
// at the latest possible moment and released on every path back to idle.
type Coordinator struct {
	media  Media
	sig    Signaler
	events Events
	logger zerolog.Logger

	mu           sync.Mutex
	state        State
	peerID       string
	peerName     string
	isCaller     bool
	isVideo      bool
	capture      Capture
	sess         MediaSession
	pendingOffer *protocol.SessionDescription
	pendingCands []protocol.Candidate

	// gen increments on every return to idle; in-flight setup work and media
	// session callbacks from a previous call compare against it and discard
	// themselves.
	gen uint64
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(media Media, sig Signaler, events Events, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		media:  media,
		sig:    sig,
		events: events,
		logger: logger.With().Str("component", "call").Logger(),
	}
}

// State returns the current call state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Peer returns the counterpart's client id, empty when idle.
func (c *Coordinator) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// ResourcesHeld reports whether local capture devices are currently held.
func (c *Coordinator) ResourcesHeld() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}

// StartCall rings peerID: acquires local capture, creates the media session,
// and sends the offer through the peer's room. Fails with ErrBusy while any
// call is in progress.
func (c *Coordinator) StartCall(peerID, peerName string, video bool) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateOutgoingRinging
	c.peerID = peerID
	c.peerName = peerName
	c.isCaller = true
	c.isVideo = video
	gen := c.gen
	c.mu.Unlock()
	c.emitState()
	c.logger.Info().Str("peer", peerID).Bool("video", video).Msg("calling")

	capture, err := c.media.Acquire(video)
	if err != nil {
		c.abortSetup(gen, fmt.Sprintf("media acquisition failed: %v", err))
		return fmt.Errorf("start call: %w", err)
	}
	sess, err := c.media.NewSession(capture, c.sessionCallbacks(gen))
	if err != nil {
		capture.Close()
		c.abortSetup(gen, "media session failed")
		return fmt.Errorf("start call: %w", err)
	}
	offer, err := sess.CreateOffer()
	if err != nil {
		sess.Close()
		capture.Close()
		c.abortSetup(gen, "negotiation failed")
		return fmt.Errorf("create offer: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateOutgoingRinging {
		// Torn down while we were setting up; nothing was committed.
		c.mu.Unlock()
		sess.Close()
		capture.Close()
		return fmt.Errorf("start call: call ended during setup")
	}
	c.capture = capture
	c.sess = sess
	c.mu.Unlock()

	if err := c.sig.SendSignal(peerID, protocol.CallSignal{
		Type:    protocol.CallOffer,
		SDP:     &offer,
		IsVideo: video,
	}); err != nil {
		c.end("signaling failed", false)
		return fmt.Errorf("send offer: %w", err)
	}
	return nil
}

// Accept answers the ringing incoming call. Capture devices are acquired
// only now, after the user consented.
func (c *Coordinator) Accept() error {
	c.mu.Lock()
	if c.state != StateIncomingRinging || c.pendingOffer == nil {
		c.mu.Unlock()
		return ErrNoIncomingCall
	}
	gen := c.gen
	peerID := c.peerID
	offer := *c.pendingOffer
	video := c.isVideo
	c.mu.Unlock()

	capture, err := c.media.Acquire(video)
	if err != nil {
		c.abortSetup(gen, fmt.Sprintf("media acquisition failed: %v", err))
		return fmt.Errorf("accept call: %w", err)
	}
	sess, err := c.media.NewSession(capture, c.sessionCallbacks(gen))
	if err != nil {
		capture.Close()
		c.abortSetup(gen, "media session failed")
		return fmt.Errorf("accept call: %w", err)
	}
	answer, err := sess.Answer(offer)
	if err != nil {
		sess.Close()
		capture.Close()
		c.abortSetup(gen, "negotiation failed")
		return fmt.Errorf("answer offer: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateIncomingRinging {
		c.mu.Unlock()
		sess.Close()
		capture.Close()
		return fmt.Errorf("accept call: call ended during setup")
	}
	c.capture = capture
	c.sess = sess
	c.state = StateConnected
	queued := c.pendingCands
	c.pendingCands = nil
	c.mu.Unlock()

	for _, cand := range queued {
		if err := sess.AddCandidate(cand); err != nil {
			c.logger.Debug().Err(err).Msg("queued candidate rejected")
		}
	}

	if err := c.sig.SendSignal(peerID, protocol.CallSignal{
		Type: protocol.CallAnswer,
		SDP:  &answer,
	}); err != nil {
		c.end("signaling failed", true)
		return fmt.Errorf("send answer: %w", err)
	}
	c.emitState()
	c.logger.Info().Str("peer", peerID).Msg("call accepted")
	return nil
}

// Reject declines the ringing incoming call. No capture was acquired, so
// nothing is released; the caller is told with a best-effort call_end so
// their side stops ringing instead of timing out silently.
func (c *Coordinator) Reject() error {
	c.mu.Lock()
	if c.state != StateIncomingRinging {
		c.mu.Unlock()
		return ErrNoIncomingCall
	}
	peerID := c.peerID
	c.resetLocked()
	c.mu.Unlock()

	_ = c.sig.SendSignal(peerID, protocol.CallSignal{Type: protocol.CallEnd})
	c.emitEnded("rejected")
	return nil
}

// HangUp ends the current call locally.
func (c *Coordinator) HangUp() {
	c.end("call ended", true)
}

// End terminates the current call with a reason. notify controls whether a
// best-effort call_end is sent to the bound peer; pass false when the
// signaling path itself is gone.
func (c *Coordinator) End(reason string, notify bool) {
	c.end(reason, notify)
}

// HandleSignal processes one inbound call signal from senderID. Signals
// addressed to a peer not bound to the in-progress call are dropped without
// user-visible effect — expected under races.
func (c *Coordinator) HandleSignal(senderID, senderName string, sig protocol.CallSignal) {
	switch sig.Type {
	case protocol.CallOffer:
		c.handleOffer(senderID, senderName, sig)

	case protocol.CallAnswer:
		c.mu.Lock()
		if c.state != StateOutgoingRinging || senderID != c.peerID || c.sess == nil || sig.SDP == nil {
			c.mu.Unlock()
			c.dropSignal(senderID, sig.Type)
			return
		}
		sess := c.sess
		c.mu.Unlock()

		if err := sess.AcceptAnswer(*sig.SDP); err != nil {
			c.logger.Warn().Err(err).Msg("applying remote answer failed")
			c.end("negotiation failed", true)
			return
		}
		c.mu.Lock()
		if c.state == StateOutgoingRinging && senderID == c.peerID {
			c.state = StateConnected
		}
		c.mu.Unlock()
		c.emitState()
		c.logger.Info().Str("peer", senderID).Msg("call connected")

	case protocol.CallICE:
		c.mu.Lock()
		if senderID != c.peerID || sig.Candidate == nil {
			c.mu.Unlock()
			c.dropSignal(senderID, sig.Type)
			return
		}
		if c.sess == nil {
			// Trickle candidates can outrun Accept; hold them until the
			// session exists.
			if c.state == StateIncomingRinging {
				c.pendingCands = append(c.pendingCands, *sig.Candidate)
			}
			c.mu.Unlock()
			return
		}
		sess := c.sess
		c.mu.Unlock()
		if err := sess.AddCandidate(*sig.Candidate); err != nil {
			c.logger.Debug().Err(err).Msg("remote candidate rejected")
		}

	case protocol.CallEnd:
		c.mu.Lock()
		match := c.state != StateIdle && senderID == c.peerID
		c.mu.Unlock()
		if !match {
			c.dropSignal(senderID, sig.Type)
			return
		}
		c.end("remote ended the call", false)

	default:
		c.dropSignal(senderID, sig.Type)
	}
}

func (c *Coordinator) handleOffer(senderID, senderName string, sig protocol.CallSignal) {
	c.mu.Lock()
	if c.state != StateIdle {
		otherPeer := senderID != c.peerID
		c.mu.Unlock()
		if otherPeer {
			// Busy: answer the second caller with call_end so their ring
			// stops. Keeps the wire vocabulary unchanged.
			_ = c.sig.SendSignal(senderID, protocol.CallSignal{Type: protocol.CallEnd})
			c.logger.Debug().Str("peer", senderID).Msg("offer ignored, call in progress")
		}
		return
	}
	if sig.SDP == nil {
		c.mu.Unlock()
		c.dropSignal(senderID, sig.Type)
		return
	}
	c.state = StateIncomingRinging
	c.peerID = senderID
	c.peerName = senderName
	c.isCaller = false
	c.isVideo = sig.IsVideo
	offer := *sig.SDP
	c.pendingOffer = &offer
	c.mu.Unlock()

	c.emitState()
	c.logger.Info().Str("peer", senderID).Bool("video", sig.IsVideo).Msg("incoming call")
	if c.events.OnIncoming != nil {
		c.events.OnIncoming(senderID, senderName, sig.IsVideo)
	}
}

// end drives every path back to idle: media session and capture are released
// exactly once, then the peer is notified best-effort if requested.
func (c *Coordinator) end(reason string, notify bool) {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	peerID := c.peerID
	sess := c.sess
	capture := c.capture
	c.resetLocked()
	c.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	if capture != nil {
		capture.Close()
	}
	if notify && peerID != "" {
		// The call is ending regardless; a failed send changes nothing.
		_ = c.sig.SendSignal(peerID, protocol.CallSignal{Type: protocol.CallEnd})
	}
	c.logger.Info().Str("peer", peerID).Str("reason", reason).Msg("call ended")
	c.emitEnded(reason)
}

// abortSetup returns to idle after a setup failure that committed no
// resources. Ignored when the call already ended underneath the setup.
func (c *Coordinator) abortSetup(gen uint64, reason string) {
	c.mu.Lock()
	if c.gen != gen || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	c.mu.Unlock()
	c.emitEnded(reason)
}

func (c *Coordinator) resetLocked() {
	c.state = StateIdle
	c.peerID = ""
	c.peerName = ""
	c.isCaller = false
	c.isVideo = false
	c.capture = nil
	c.sess = nil
	c.pendingOffer = nil
	c.pendingCands = nil
	c.gen++
}

func (c *Coordinator) sessionCallbacks(gen uint64) SessionCallbacks {
	return SessionCallbacks{
		OnCandidate: func(cand protocol.Candidate) {
			c.mu.Lock()
			peerID := c.peerID
			live := c.gen == gen && peerID != ""
			c.mu.Unlock()
			if !live {
				return
			}
			if err := c.sig.SendSignal(peerID, protocol.CallSignal{
				Type:      protocol.CallICE,
				Candidate: &cand,
			}); err != nil {
				c.logger.Debug().Err(err).Msg("candidate send failed")
			}
		},
		OnDisconnected: func(reason string) {
			c.mu.Lock()
			live := c.gen == gen
			c.mu.Unlock()
			if live {
				c.end(reason, true)
			}
		},
	}
}

func (c *Coordinator) dropSignal(senderID, typ string) {
	c.logger.Debug().Str("peer", senderID).Str("type", typ).Msg("signal dropped")
}

func (c *Coordinator) emitState() {
	if c.events.OnStateChange == nil {
		return
	}
	c.mu.Lock()
	state, peerID := c.state, c.peerID
	c.mu.Unlock()
	c.events.OnStateChange(state, peerID)
}

func (c *Coordinator) emitEnded(reason string) {
	if c.events.OnEnded != nil {
		c.events.OnEnded(reason)
	}
	c.emitState()
}
