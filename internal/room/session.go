// Package room implements the multi-room session layer: the room session
// store, the presence reconciler that turns roster snapshots into join/leave
// events, and the message router that classifies envelopes between the
// broadcast and private encryption paths.
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jensenmasan/NodeCrypt/internal/channel"
	"github.com/jensenmasan/NodeCrypt/internal/protocol"
	"github.com/jensenmasan/NodeCrypt/internal/util"
)

// Kind classifies a history entry.
type Kind string

const (
	KindSystem Kind = "system" // join/leave/status notices
	KindSelf   Kind = "self"   // locally composed echo
	KindPeer   Kind = "peer"   // received from another participant
)

// Message is one entry in a room's history.
type Message struct {
	ID        string
	Kind      Kind
	Type      string // payload type; keeps the _private suffix when delivered privately
	Sender    string
	Data      any
	Timestamp time.Time
}

// UserRecord is one participant as known to a room session.
type UserRecord struct {
	ClientID string
	UserName string

	// SharedSecretPresent is true once the per-peer key exchange with this
	// user completed. Private sends require it.
	SharedSecretPresent bool
}

// Transfer tracks one in-flight chunked file transfer within a room.
type Transfer struct {
	FileID         string
	FileName       string
	Size           int64
	Private        bool
	ReceivedChunks int
	TotalChunks    int
	Done           bool
	StartedAt      time.Time
}

// bootstrapPhase gates join announcements. The first roster snapshot arrives
// before the secure handshake settles and is unreliable; only after the
// second snapshot does the roster become the zero point for presence diffs.
type bootstrapPhase int

const (
	phaseConnecting    bootstrapPhase = iota // no roster snapshot yet
	phaseBootstrapping                       // first snapshot seen
	phaseReady                               // second snapshot seen, roster settled
)

// Session is one joined room: its channel, roster, history and unread state.
// Channel callbacks for one session always run on that channel's delivery
// goroutine, so events within a room are processed strictly in arrival order
// while different rooms never block each other.
type Session struct {
	RoomName   string
	Password   string
	MyUserName string

	// ch is assigned once during CreateRoom, before any callback can fire.
	ch channel.Provider

	mu                sync.Mutex
	myUserID          string
	userList          []*UserRecord
	userMap           map[string]*UserRecord
	messages          *util.RingBuffer[*Message]
	unread            int
	privateTargetID   string
	privateTargetName string
	known             map[string]struct{}
	phase             bootstrapPhase
	secured           bool
	closed            bool
	transfers         map[string]*Transfer
}

func newSession(userName, roomName, password string, historySize int) *Session {
	return &Session{
		RoomName:   roomName,
		Password:   password,
		MyUserName: userName,
		userMap:    make(map[string]*UserRecord),
		messages:   util.NewRingBuffer[*Message](historySize),
		known:      make(map[string]struct{}),
		transfers:  make(map[string]*Transfer),
	}
}

func newMessage(kind Kind, typ, sender string, data any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Type:      typ,
		Sender:    sender,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func newSystemMessage(text string) *Message {
	return newMessage(KindSystem, "system", "", text)
}

// MyUserID returns the relay-assigned client id, empty until the first
// roster snapshot.
func (s *Session) MyUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.myUserID
}

// Users returns the roster in last-known order.
func (s *Session) Users() []UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UserRecord, len(s.userList))
	for i, u := range s.userList {
		out[i] = *u
	}
	return out
}

// User looks up one participant by client id.
func (s *Session) User(clientID string) (UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.userMap[clientID]; ok {
		return *u, true
	}
	return UserRecord{}, false
}

// HasUser reports whether clientID is currently in the roster.
func (s *Session) HasUser(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.userMap[clientID]
	return ok
}

// Messages returns a copy of the room history, oldest first.
func (s *Session) Messages() []*Message {
	return s.messages.Snapshot()
}

// UnreadCount returns the number of qualifying envelopes received while the
// room was inactive. Reset to zero only when the room becomes active.
func (s *Session) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// PrivateTarget returns the pinned 1:1 recipient, if any.
func (s *Session) PrivateTarget() (id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.privateTargetID, s.privateTargetName
}

// Secured reports whether the server handshake has completed and the channel
// is still up.
func (s *Session) Secured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secured
}

// Transfers returns a copy of the in-room file transfer state.
func (s *Session) Transfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transfer, 0, len(s.transfers))
	for _, t := range s.transfers {
		out = append(out, *t)
	}
	return out
}

func (s *Session) clearUnread() {
	s.mu.Lock()
	s.unread = 0
	s.mu.Unlock()
}

func (s *Session) push(m *Message) {
	s.messages.Push(m)
}

// senderName resolves a display name for an envelope, falling back to the
// roster when the wire envelope lacks one.
func (s *Session) senderName(clientID, wireName string) string {
	if wireName != "" {
		return wireName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.userMap[clientID]; ok && u.UserName != "" {
		return u.UserName
	}
	return "Anonymous"
}

// updateTransferLocked applies one file chunk to the transfer table and
// returns a copy of the updated entry.
func (s *Session) updateTransfer(base string, meta protocol.FileMeta, private bool) Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[meta.FileID]
	if !ok {
		t = &Transfer{
			FileID:    meta.FileID,
			FileName:  meta.FileName,
			Size:      meta.FileSize,
			Private:   private,
			StartedAt: time.Now(),
		}
		s.transfers[meta.FileID] = t
	}
	switch base {
	case protocol.TypeFileVolume:
		t.ReceivedChunks++
		if meta.TotalChunks > 0 {
			t.TotalChunks = meta.TotalChunks
		}
	case protocol.TypeFileEnd:
		t.Done = true
	default:
		if meta.FileName != "" {
			t.FileName = meta.FileName
		}
		if meta.FileSize > 0 {
			t.Size = meta.FileSize
		}
		if meta.TotalChunks > 0 {
			t.TotalChunks = meta.TotalChunks
		}
	}
	return *t
}
