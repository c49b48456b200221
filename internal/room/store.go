package room

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jensenmasan/NodeCrypt/internal/channel"
	"github.com/jensenmasan/NodeCrypt/internal/protocol"
	"github.com/jensenmasan/NodeCrypt/internal/util"
)

var (
	// ErrPrivateTargetUnavailable means a private send was attempted toward
	// a peer without a completed key exchange. The payload is not sent.
	ErrPrivateTargetUnavailable = errors.New("private target unavailable")

	// ErrNoActiveRoom means an operation needing an active room ran with none.
	ErrNoActiveRoom = errors.New("no active room")

	// ErrPeerNotFound means no joined room contains the addressed peer.
	ErrPeerNotFound = errors.New("peer not found in any room")

	// ErrRoomIndex means a room index was out of range.
	ErrRoomIndex = errors.New("room index out of range")
)

// UI receives render notifications. The store suppresses per-room render
// calls for rooms that are not active; only RoomsChanged and Notify fire for
// background rooms.
type UI interface {
	// RoomsChanged fires when the room list or an unread badge changed.
	RoomsChanged()
	// ActiveRoomChanged fires when another room became active; the UI
	// re-renders header, roster and chat pane for it.
	ActiveRoomChanged(s *Session)
	// RosterChanged fires when the active room's participant list changed.
	RosterChanged(s *Session)
	// MessageAppended fires when the active room appended a renderable entry.
	MessageAppended(s *Session, m *Message)
	// TransientNotice shows an ephemeral effect notice in the active room.
	// It is not part of the durable history.
	TransientNotice(s *Session, text string)
	// TransferUpdated fires on file chunk progress in the active room.
	TransferUpdated(s *Session, t Transfer)
	// Notify raises a system notification regardless of the active room.
	Notify(roomName, kind, text, sender string)
}

// NopUI discards all notifications.
type NopUI struct{}

func (NopUI) RoomsChanged()                         {}
func (NopUI) ActiveRoomChanged(*Session)            {}
func (NopUI) RosterChanged(*Session)                {}
func (NopUI) MessageAppended(*Session, *Message)    {}
func (NopUI) TransientNotice(*Session, string)      {}
func (NopUI) TransferUpdated(*Session, Transfer)    {}
func (NopUI) Notify(string, string, string, string) {}

// CallHandler receives unwrapped call signals and room teardown notice. The
// call coordinator implements it via a small adapter in main, the only place
// that imports both packages.
type CallHandler interface {
	HandleSignal(s *Session, senderID string, sig protocol.CallSignal)
	// RoomClosed fires when a room's channel dropped or the room was exited;
	// any in-progress call bound to that room must end.
	RoomClosed(s *Session)
}

type nopCalls struct{}

func (nopCalls) HandleSignal(*Session, string, protocol.CallSignal) {}
func (nopCalls) RoomClosed(*Session)                                {}

// Config assembles a Store.
type Config struct {
	Channels    channel.Factory
	UI          UI
	Calls       CallHandler
	Effects     *EffectRegistry
	HistorySize int
	Logger      zerolog.Logger
}

const defaultHistorySize = 500

// Store holds the ordered list of joined room sessions and the index of the
// active one. All mutation goes through its methods; channel callbacks feed
// it concurrently, one goroutine per room.
type Store struct {
	mu       sync.RWMutex
	sessions []*Session
	active   int

	channels    channel.Factory
	ui          UI
	calls       CallHandler
	effects     *EffectRegistry
	historySize int
	logger      zerolog.Logger
}

// NewStore creates an empty store.
func NewStore(cfg Config) *Store {
	st := &Store{
		active:      -1,
		channels:    cfg.Channels,
		ui:          cfg.UI,
		calls:       cfg.Calls,
		effects:     cfg.Effects,
		historySize: cfg.HistorySize,
		logger:      cfg.Logger.With().Str("component", "rooms").Logger(),
	}
	if st.ui == nil {
		st.ui = NopUI{}
	}
	if st.calls == nil {
		st.calls = nopCalls{}
	}
	if st.effects == nil {
		st.effects = NewEffectRegistry(cfg.Logger)
	}
	if st.historySize <= 0 {
		st.historySize = defaultHistorySize
	}
	return st
}

// SetCalls wires the call handler after construction. Must be called before
// any room is created.
func (st *Store) SetCalls(h CallHandler) {
	st.calls = h
}

// CreateRoom joins a new room: it appends a session, connects its channel and
// makes it active. It returns before the secure handshake completes; the room
// is "connecting" until the secured notice arrives.
func (st *Store) CreateRoom(userName, roomName, password string) (int, error) {
	userName, err := util.ValidateName(userName)
	if err != nil {
		return -1, fmt.Errorf("user name: %w", err)
	}
	roomName, err = util.ValidateName(roomName)
	if err != nil {
		return -1, fmt.Errorf("room name: %w", err)
	}

	s := newSession(userName, roomName, password, st.historySize)
	ch, err := st.channels(channel.Callbacks{
		OnServerClosed:  func() { st.handleServerClosed(s) },
		OnServerSecured: func() { st.handleServerSecured(s) },
		OnClientSecured: func(u channel.User) { st.handleClientSecured(s, u) },
		OnClientList:    func(list []channel.User, selfID string) { st.handleClientList(s, list, selfID) },
		OnClientLeft:    func(id string) { st.handleClientLeft(s, id) },
		OnClientMessage: func(env protocol.Envelope) { st.handleClientMessage(s, env) },
	})
	if err != nil {
		return -1, fmt.Errorf("create channel: %w", err)
	}
	ch.SetCredentials(userName, roomName, password)
	s.ch = ch

	st.mu.Lock()
	st.sessions = append(st.sessions, s)
	idx := len(st.sessions) - 1
	st.active = idx
	st.mu.Unlock()

	go func() {
		if err := ch.Connect(); err != nil {
			st.logger.Warn().Err(err).Str("room", roomName).Msg("connect failed")
			st.handleServerClosed(s)
		}
	}()

	st.logger.Info().Str("room", roomName).Str("user", userName).Msg("joining room")
	st.ui.RoomsChanged()
	st.ui.ActiveRoomChanged(s)
	return idx, nil
}

// Active returns the active session and its index, or nil and -1.
func (st *Store) Active() (*Session, int) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.active < 0 {
		return nil, -1
	}
	return st.sessions[st.active], st.active
}

// Sessions returns the joined sessions in join order.
func (st *Store) Sessions() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, len(st.sessions))
	copy(out, st.sessions)
	return out
}

// SwitchActive activates the room at index. This is the only place the
// unread counter is cleared. Other rooms' state is untouched.
func (st *Store) SwitchActive(index int) error {
	st.mu.Lock()
	if index < 0 || index >= len(st.sessions) {
		st.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrRoomIndex, index)
	}
	st.active = index
	s := st.sessions[index]
	st.mu.Unlock()

	s.clearUnread()
	st.ui.RoomsChanged()
	st.ui.ActiveRoomChanged(s)
	return nil
}

// ExitActive tears down the active room's channel and removes the room.
// It reports whether any room remains; if so index 0 becomes active.
func (st *Store) ExitActive() bool {
	st.mu.Lock()
	if st.active < 0 {
		st.mu.Unlock()
		return false
	}
	s := st.sessions[st.active]
	st.sessions = append(st.sessions[:st.active], st.sessions[st.active+1:]...)
	var next *Session
	if len(st.sessions) > 0 {
		st.active = 0
		next = st.sessions[0]
	} else {
		st.active = -1
	}
	st.mu.Unlock()

	s.ch.Destruct()
	st.calls.RoomClosed(s)
	st.logger.Info().Str("room", s.RoomName).Msg("left room")

	st.ui.RoomsChanged()
	if next == nil {
		return false
	}
	next.clearUnread()
	st.ui.ActiveRoomChanged(next)
	return true
}

// TogglePrivateTarget pins or unpins the 1:1 recipient for subsequent sends
// in s. Pinning the already pinned target unpins it.
func (st *Store) TogglePrivateTarget(s *Session, targetID string) error {
	s.mu.Lock()
	if s.privateTargetID == targetID {
		s.privateTargetID = ""
		s.privateTargetName = ""
	} else {
		rec, ok := s.userMap[targetID]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrPeerNotFound, targetID)
		}
		s.privateTargetID = targetID
		s.privateTargetName = rec.UserName
	}
	s.mu.Unlock()

	if st.isActive(s) {
		st.ui.RosterChanged(s)
	}
	return nil
}

// FindRoomWithUser returns the first joined room (in join order) whose roster
// contains peerID. Client ids are not stable across rooms, so the first match
// wins when the same id appears twice.
func (st *Store) FindRoomWithUser(peerID string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, s := range st.sessions {
		if s.HasUser(peerID) {
			return s
		}
	}
	return nil
}

// SendSignalTo routes a call signal through the private path of whichever
// room contains peerID.
func (st *Store) SendSignalTo(peerID string, sig protocol.CallSignal) error {
	s := st.FindRoomWithUser(peerID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
	}
	return st.sendPrivateTo(s, peerID, protocol.TypeCallSignal, sig)
}

func (st *Store) isActive(s *Session) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.active >= 0 && st.sessions[st.active] == s
}

func (st *Store) handleServerSecured(s *Session) {
	s.mu.Lock()
	s.secured = true
	s.closed = false
	s.mu.Unlock()

	m := newSystemMessage("connection secured")
	s.push(m)
	st.logger.Info().Str("room", s.RoomName).Msg("channel secured")
	if st.isActive(s) {
		st.ui.MessageAppended(s, m)
		st.ui.RosterChanged(s)
	}
}

func (st *Store) handleServerClosed(s *Session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.secured = false
	s.mu.Unlock()

	m := newSystemMessage("connection closed")
	s.push(m)
	st.logger.Warn().Str("room", s.RoomName).Msg("channel closed")
	st.calls.RoomClosed(s)
	if st.isActive(s) {
		st.ui.MessageAppended(s, m)
		st.ui.RosterChanged(s)
	}
}
