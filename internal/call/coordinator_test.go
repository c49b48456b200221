package call

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jensenmasan/NodeCrypt/internal/protocol"
)

type fakeCapture struct {
	mu     sync.Mutex
	closed int
}

func (c *fakeCapture) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

type fakeSession struct {
	mu         sync.Mutex
	closed     int
	candidates []protocol.Candidate
	answered   bool
	accepted   bool
}

func (s *fakeSession) CreateOffer() (protocol.SessionDescription, error) {
	return protocol.SessionDescription{Type: "offer", SDP: "v=0 offer"}, nil
}

func (s *fakeSession) Answer(protocol.SessionDescription) (protocol.SessionDescription, error) {
	s.mu.Lock()
	s.answered = true
	s.mu.Unlock()
	return protocol.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (s *fakeSession) AcceptAnswer(protocol.SessionDescription) error {
	s.mu.Lock()
	s.accepted = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) AddCandidate(c protocol.Candidate) error {
	s.mu.Lock()
	s.candidates = append(s.candidates, c)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

type fakeMedia struct {
	mu         sync.Mutex
	acquires   int
	acquireErr error
	captures   []*fakeCapture
	sessions   []*fakeSession
	callbacks  []SessionCallbacks
}

func (m *fakeMedia) Acquire(bool) (Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquires++
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	c := &fakeCapture{}
	m.captures = append(m.captures, c)
	return c, nil
}

func (m *fakeMedia) NewSession(_ Capture, cb SessionCallbacks) (MediaSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &fakeSession{}
	m.sessions = append(m.sessions, s)
	m.callbacks = append(m.callbacks, cb)
	return s, nil
}

type sentSignal struct {
	peerID string
	sig    protocol.CallSignal
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sentSignal
	err  error
}

func (f *fakeSignaler) SendSignal(peerID string, sig protocol.CallSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentSignal{peerID: peerID, sig: sig})
	return nil
}

func (f *fakeSignaler) last(t *testing.T) sentSignal {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("nothing signaled")
	}
	return f.sent[len(f.sent)-1]
}

type eventLog struct {
	mu       sync.Mutex
	incoming []string
	ended    []string
}

func testCoordinator(t *testing.T) (*Coordinator, *fakeMedia, *fakeSignaler, *eventLog) {
	t.Helper()
	media := &fakeMedia{}
	sig := &fakeSignaler{}
	log := &eventLog{}
	c := NewCoordinator(media, sig, Events{
		OnIncoming: func(peerID, _ string, _ bool) {
			log.mu.Lock()
			log.incoming = append(log.incoming, peerID)
			log.mu.Unlock()
		},
		OnEnded: func(reason string) {
			log.mu.Lock()
			log.ended = append(log.ended, reason)
			log.mu.Unlock()
		},
	}, zerolog.Nop())
	return c, media, sig, log
}

func offerFrom(peer string) (string, string, protocol.CallSignal) {
	return peer, peer + "-name", protocol.CallSignal{
		Type: protocol.CallOffer,
		SDP:  &protocol.SessionDescription{Type: "offer", SDP: "v=0"},
	}
}

func TestStartCallSendsOffer(t *testing.T) {
	c, media, sig, _ := testCoordinator(t)

	if err := c.StartCall("b1", "bob", true); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if got := c.State(); got != StateOutgoingRinging {
		t.Fatalf("state = %v, want outgoing-ringing", got)
	}
	if !c.ResourcesHeld() {
		t.Fatal("no capture held while ringing out")
	}
	if media.acquires != 1 {
		t.Fatalf("acquires = %d, want 1", media.acquires)
	}

	last := sig.last(t)
	if last.peerID != "b1" || last.sig.Type != protocol.CallOffer || !last.sig.IsVideo || last.sig.SDP == nil {
		t.Fatalf("offer = %+v, want video offer to b1", last)
	}
}

func TestStartCallWhileBusy(t *testing.T) {
	c, _, _, _ := testCoordinator(t)

	if err := c.StartCall("b1", "bob", false); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := c.StartCall("c1", "carol", false); !errors.Is(err, ErrBusy) {
		t.Fatalf("second StartCall = %v, want ErrBusy", err)
	}
}

func TestStartCallAcquireFailureReturnsToIdle(t *testing.T) {
	c, media, _, log := testCoordinator(t)
	media.acquireErr = &AcquireError{Reason: ReasonInUse, Err: errors.New("device busy")}

	err := c.StartCall("b1", "bob", false)
	if !errors.Is(err, ErrMediaAcquisition) {
		t.Fatalf("StartCall = %v, want ErrMediaAcquisition", err)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
	if c.ResourcesHeld() {
		t.Fatal("capture held after failed acquisition")
	}
	if len(log.ended) != 1 {
		t.Fatalf("ended events = %d, want 1", len(log.ended))
	}

	// The failure reason category is recoverable from the error chain.
	var ae *AcquireError
	if !errors.As(err, &ae) || ae.Reason != ReasonInUse {
		t.Fatalf("reason not preserved in %v", err)
	}
}

func TestIncomingOfferRingsWithoutTouchingDevices(t *testing.T) {
	c, media, _, log := testCoordinator(t)

	c.HandleSignal(offerFrom("b1"))

	if got := c.State(); got != StateIncomingRinging {
		t.Fatalf("state = %v, want incoming-ringing", got)
	}
	if media.acquires != 0 {
		t.Fatalf("acquires = %d before consent, want 0", media.acquires)
	}
	if len(log.incoming) != 1 || log.incoming[0] != "b1" {
		t.Fatalf("incoming events = %v, want [b1]", log.incoming)
	}
}

func TestAcceptConnectsAndReplaysEarlyCandidates(t *testing.T) {
	c, media, sig, _ := testCoordinator(t)

	c.HandleSignal(offerFrom("b1"))

	// A trickle candidate arriving before consent must not be lost.
	early := protocol.Candidate{Candidate: "candidate:1"}
	c.HandleSignal("b1", "bob", protocol.CallSignal{Type: protocol.CallICE, Candidate: &early})

	if err := c.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
	if media.acquires != 1 {
		t.Fatalf("acquires = %d, want 1", media.acquires)
	}

	sess := media.sessions[0]
	if !sess.answered {
		t.Fatal("remote offer never answered")
	}
	if len(sess.candidates) != 1 || sess.candidates[0].Candidate != "candidate:1" {
		t.Fatalf("replayed candidates = %v, want the early one", sess.candidates)
	}

	last := sig.last(t)
	if last.peerID != "b1" || last.sig.Type != protocol.CallAnswer {
		t.Fatalf("signal = %+v, want answer to b1", last)
	}
}

func TestAcceptWithoutIncomingCall(t *testing.T) {
	c, _, _, _ := testCoordinator(t)
	if err := c.Accept(); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("Accept = %v, want ErrNoIncomingCall", err)
	}
	if err := c.Reject(); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("Reject = %v, want ErrNoIncomingCall", err)
	}
}

func TestRejectAnswersWithEnd(t *testing.T) {
	c, media, sig, log := testCoordinator(t)

	c.HandleSignal(offerFrom("b1"))
	if err := c.Reject(); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
	if media.acquires != 0 {
		t.Fatalf("acquires = %d, want 0", media.acquires)
	}
	last := sig.last(t)
	if last.peerID != "b1" || last.sig.Type != protocol.CallEnd {
		t.Fatalf("signal = %+v, want call_end to b1", last)
	}
	if len(log.ended) != 1 || log.ended[0] != "rejected" {
		t.Fatalf("ended events = %v, want [rejected]", log.ended)
	}
}

func TestSecondOfferAnsweredBusy(t *testing.T) {
	c, _, sig, _ := testCoordinator(t)

	c.HandleSignal(offerFrom("b1"))
	c.HandleSignal(offerFrom("c1"))

	if got := c.Peer(); got != "b1" {
		t.Fatalf("peer = %q, want b1 untouched", got)
	}
	last := sig.last(t)
	if last.peerID != "c1" || last.sig.Type != protocol.CallEnd {
		t.Fatalf("signal = %+v, want call_end to the second caller", last)
	}
}

func TestAnswerConnectsOutgoingCall(t *testing.T) {
	c, media, _, _ := testCoordinator(t)

	if err := c.StartCall("b1", "bob", false); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	c.HandleSignal("b1", "bob", protocol.CallSignal{
		Type: protocol.CallAnswer,
		SDP:  &protocol.SessionDescription{Type: "answer", SDP: "v=0"},
	})

	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
	if !media.sessions[0].accepted {
		t.Fatal("remote answer not applied")
	}
}

func TestAnswerFromWrongPeerDropped(t *testing.T) {
	c, media, _, _ := testCoordinator(t)

	if err := c.StartCall("b1", "bob", false); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	c.HandleSignal("c1", "carol", protocol.CallSignal{
		Type: protocol.CallAnswer,
		SDP:  &protocol.SessionDescription{Type: "answer", SDP: "v=0"},
	})

	if got := c.State(); got != StateOutgoingRinging {
		t.Fatalf("state = %v, want still outgoing-ringing", got)
	}
	if media.sessions[0].accepted {
		t.Fatal("stranger's answer applied")
	}
}

func TestRemoteEndReleasesResources(t *testing.T) {
	c, media, sig, log := testCoordinator(t)

	if err := c.StartCall("b1", "bob", false); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	sentBefore := len(sig.sent)

	c.HandleSignal("b1", "bob", protocol.CallSignal{Type: protocol.CallEnd})

	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
	if media.sessions[0].closed != 1 || media.captures[0].closed != 1 {
		t.Fatal("session or capture not released")
	}
	// No call_end echo back to a peer that already hung up.
	if len(sig.sent) != sentBefore {
		t.Fatalf("signals after remote end = %d, want %d", len(sig.sent), sentBefore)
	}
	if len(log.ended) != 1 {
		t.Fatalf("ended events = %v, want one", log.ended)
	}
}

func TestHangUpNotifiesPeer(t *testing.T) {
	c, media, sig, _ := testCoordinator(t)

	if err := c.StartCall("b1", "bob", false); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	c.HangUp()

	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
	if media.sessions[0].closed != 1 || media.captures[0].closed != 1 {
		t.Fatal("session or capture not released")
	}
	last := sig.last(t)
	if last.peerID != "b1" || last.sig.Type != protocol.CallEnd {
		t.Fatalf("signal = %+v, want call_end to b1", last)
	}

	// Idempotent once idle.
	c.HangUp()
	if got := c.State(); got != StateIdle {
		t.Fatalf("state after second hangup = %v, want idle", got)
	}
}

func TestStaleSessionCallbacksDiscarded(t *testing.T) {
	c, media, sig, _ := testCoordinator(t)

	if err := c.StartCall("b1", "bob", false); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	cb := media.callbacks[0]
	c.HangUp()
	sentBefore := len(sig.sent)

	// Callbacks from the torn-down session must not leak signals or end a
	// future call.
	cb.OnCandidate(protocol.Candidate{Candidate: "candidate:zombie"})
	cb.OnDisconnected("ice gave up")

	if len(sig.sent) != sentBefore {
		t.Fatal("stale candidate escaped")
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
}

func TestLiveCandidateForwarded(t *testing.T) {
	c, media, sig, _ := testCoordinator(t)

	if err := c.StartCall("b1", "bob", false); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	media.callbacks[0].OnCandidate(protocol.Candidate{Candidate: "candidate:live"})

	last := sig.last(t)
	if last.peerID != "b1" || last.sig.Type != protocol.CallICE || last.sig.Candidate.Candidate != "candidate:live" {
		t.Fatalf("signal = %+v, want forwarded candidate", last)
	}
}

func TestTransportFailureEndsCall(t *testing.T) {
	c, media, _, log := testCoordinator(t)

	if err := c.StartCall("b1", "bob", false); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	media.callbacks[0].OnDisconnected("connection lost")

	if got := c.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
	if len(log.ended) != 1 || log.ended[0] != "connection lost" {
		t.Fatalf("ended events = %v, want [connection lost]", log.ended)
	}
	if media.captures[0].closed != 1 {
		t.Fatal("capture not released")
	}
}
