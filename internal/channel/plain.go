package channel

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jensenmasan/NodeCrypt/internal/protocol"
)

// Plain relay frame actions. The plaintext frame protocol mirrors the
// callback vocabulary one-to-one so the production engine can replace
// PlainProvider without touching anything above it.
const (
	frameJoin          = "join"
	frameSecured       = "secured"
	frameClientList    = "client-list"
	frameClientSecured = "client-secured"
	frameClientLeft    = "client-left"
	frameMessage       = "message"
)

type plainFrame struct {
	Action   string            `json:"action"`
	UserName string            `json:"userName,omitempty"`
	RoomName string            `json:"roomName,omitempty"`
	Password string            `json:"password,omitempty"`
	Clients  []User            `json:"clients,omitempty"`
	Client   *User             `json:"client,omitempty"`
	ClientID string            `json:"clientId,omitempty"`
	SelfID   string            `json:"selfId,omitempty"`
	Message  protocol.Envelope `json:"message,omitempty"`
}

// PlainProvider is the development Provider: it speaks the relay frame
// protocol over a websocket Transport but performs no encryption — the
// Encrypt methods are JSON pass-throughs. The production crypto engine
// implements the same Provider interface with real sealing; nothing above
// this package can tell the difference.
type PlainProvider struct {
	url    string
	logger zerolog.Logger
	cb     Callbacks

	mu      sync.Mutex
	creds   Credentials
	tr      *Transport
	secured bool
	secrets map[string]bool // peers with a completed key exchange
}

// NewPlainProvider creates an unconnected provider for the relay at url.
func NewPlainProvider(url string, cb Callbacks, logger zerolog.Logger) *PlainProvider {
	return &PlainProvider{
		url:     url,
		cb:      cb,
		logger:  logger.With().Str("component", "channel").Logger(),
		secrets: make(map[string]bool),
	}
}

func (p *PlainProvider) SetCredentials(userName, roomName, password string) {
	p.mu.Lock()
	p.creds = Credentials{UserName: userName, RoomName: roomName, Password: password}
	p.mu.Unlock()
}

// Connect dials the relay and announces the join. The roster and secured
// signal arrive asynchronously through the callbacks.
func (p *PlainProvider) Connect() error {
	p.mu.Lock()
	creds := p.creds
	p.mu.Unlock()

	tr, err := Dial(p.url, p.handleFrame, p.handleClosed, p.logger)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.tr = tr
	p.mu.Unlock()

	hello, err := json.Marshal(plainFrame{
		Action:   frameJoin,
		UserName: creds.UserName,
		RoomName: creds.RoomName,
		Password: creds.Password,
	})
	if err != nil {
		return fmt.Errorf("encode join: %w", err)
	}
	return tr.Send(hello)
}

func (p *PlainProvider) SendMessage(opaque []byte) error {
	p.mu.Lock()
	tr := p.tr
	p.mu.Unlock()
	if tr == nil {
		return ErrTransportClosed
	}
	return tr.Send(opaque)
}

func (p *PlainProvider) EncryptClientMessage(payload any, peerID string) ([]byte, error) {
	p.mu.Lock()
	ok := p.secrets[peerID]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("peer %s: %w", peerID, ErrNoSharedSecret)
	}
	return json.Marshal(payload)
}

func (p *PlainProvider) EncryptServerMessage(payload any) ([]byte, error) {
	p.mu.Lock()
	secured := p.secured
	p.mu.Unlock()
	if !secured {
		return nil, ErrNotSecured
	}
	return json.Marshal(payload)
}

func (p *PlainProvider) Destruct() {
	p.mu.Lock()
	tr := p.tr
	p.tr = nil
	p.secured = false
	p.mu.Unlock()
	if tr != nil {
		tr.Close()
	}
}

// handleFrame runs on the transport reader goroutine, preserving arrival
// order for everything a room session observes.
func (p *PlainProvider) handleFrame(raw []byte) {
	var f plainFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		p.logger.Warn().Err(err).Msg("malformed relay frame")
		return
	}

	switch f.Action {
	case frameSecured:
		p.mu.Lock()
		p.secured = true
		p.mu.Unlock()
		if p.cb.OnServerSecured != nil {
			p.cb.OnServerSecured()
		}
	case frameClientList:
		p.mu.Lock()
		for _, u := range f.Clients {
			if u.SharedSecret {
				p.secrets[u.ClientID] = true
			}
		}
		p.mu.Unlock()
		if p.cb.OnClientList != nil {
			p.cb.OnClientList(f.Clients, f.SelfID)
		}
	case frameClientSecured:
		if f.Client == nil {
			return
		}
		p.mu.Lock()
		p.secrets[f.Client.ClientID] = true
		p.mu.Unlock()
		u := *f.Client
		u.SharedSecret = true
		if p.cb.OnClientSecured != nil {
			p.cb.OnClientSecured(u)
		}
	case frameClientLeft:
		p.mu.Lock()
		delete(p.secrets, f.ClientID)
		p.mu.Unlock()
		if p.cb.OnClientLeft != nil {
			p.cb.OnClientLeft(f.ClientID)
		}
	case frameMessage:
		if p.cb.OnClientMessage != nil {
			p.cb.OnClientMessage(f.Message)
		}
	default:
		p.logger.Debug().Str("action", f.Action).Msg("unknown relay frame")
	}
}

func (p *PlainProvider) handleClosed(err error) {
	p.mu.Lock()
	p.secured = false
	p.tr = nil
	p.mu.Unlock()
	if err != nil {
		p.logger.Debug().Err(err).Msg("channel closed")
	}
	if p.cb.OnServerClosed != nil {
		p.cb.OnServerClosed()
	}
}
