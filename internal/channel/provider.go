// Package channel defines the secure channel contract a room session uses to
// reach its relay, plus the websocket transport the channel runs on.
//
// The cryptographic engine that performs the handshake and derives the server
// and per-peer shared secrets lives outside this module; it plugs in behind
// the Provider interface. PlainProvider is the development stand-in.
package channel

import (
	"errors"

	"github.com/jensenmasan/NodeCrypt/internal/protocol"
)

var (
	// ErrNoSharedSecret means no per-peer key exchange has completed with the
	// addressed peer, so a client-encrypted payload cannot be produced.
	ErrNoSharedSecret = errors.New("no shared secret with peer")

	// ErrNotSecured means the channel has no server shared secret yet
	// (or anymore).
	ErrNotSecured = errors.New("channel not secured")
)

// User is one roster entry as reported by the channel.
type User struct {
	ClientID string `json:"clientId"`
	UserName string `json:"userName"`

	// SharedSecret is true once the per-peer key exchange with this user has
	// completed. Private sends to a user without it must fail.
	SharedSecret bool `json:"sharedSecret"`
}

// Callbacks are fired by a Provider as channel events arrive. All callbacks
// for one channel are invoked sequentially from a single goroutine, in
// arrival order. Channels of different rooms never share that goroutine.
type Callbacks struct {
	OnServerClosed  func()
	OnServerSecured func()
	OnClientSecured func(User)
	OnClientList    func(list []User, selfID string)
	OnClientLeft    func(clientID string)
	OnClientMessage func(protocol.Envelope)
}

// Credentials identify the client within one room.
type Credentials struct {
	UserName string
	RoomName string
	Password string
}

// Provider is one room's secure channel. One instance per joined room.
type Provider interface {
	SetCredentials(userName, roomName, password string)

	// Connect starts the transport and the secure handshake. It does not
	// block until the handshake settles; OnServerSecured signals that.
	Connect() error

	// SendMessage transmits an already encrypted frame to the relay.
	SendMessage(opaque []byte) error

	// EncryptClientMessage seals a payload under the shared secret of peerID.
	// Fails with ErrNoSharedSecret when no key exchange completed.
	EncryptClientMessage(payload any, peerID string) ([]byte, error)

	// EncryptServerMessage seals a payload under the room's server secret.
	EncryptServerMessage(payload any) ([]byte, error)

	// Destruct tears the channel down. Idempotent.
	Destruct()
}

// Factory builds a Provider for a new room session.
type Factory func(cb Callbacks) (Provider, error)
