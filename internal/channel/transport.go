package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrTransportClosed is returned by Send after the connection dropped.
var ErrTransportClosed = errors.New("transport closed")

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 16 << 20 // file chunks ride as base64 text frames
	dialTimeout  = 15 * time.Second
)

// Transport is one websocket connection to the relay. Inbound frames are
// delivered in arrival order from a single reader goroutine; writes are
// serialized. It carries opaque frames only — encryption happens above it.
type Transport struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	onFrame  func([]byte)
	onClosed func(error)

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay at url and starts the read and ping loops.
// onFrame fires for every inbound frame, onClosed exactly once when the
// connection ends for any reason.
func Dial(url string, onFrame func([]byte), onClosed func(error), logger zerolog.Logger) (*Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	t := &Transport{
		conn:     conn,
		logger:   logger.With().Str("component", "transport").Logger(),
		onFrame:  onFrame,
		onClosed: onClosed,
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go t.readLoop()
	go t.pingLoop()
	return t, nil
}

// Send writes one frame. Safe for concurrent use.
func (t *Transport) Send(frame []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close shuts the connection down. Idempotent; onClosed still fires once.
func (t *Transport) Close() {
	t.shutdown(nil)
}

func (t *Transport) shutdown(err error) {
	t.closeOnce.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		t.writeMu.Unlock()
		_ = t.conn.Close()
		if t.onClosed != nil {
			t.onClosed(err)
		}
	})
}

func (t *Transport) readLoop() {
	for {
		_, frame, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug().Err(err).Msg("relay connection dropped")
			}
			t.shutdown(err)
			return
		}
		if t.onFrame != nil {
			t.onFrame(frame)
		}
	}
}

func (t *Transport) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			t.writeMu.Unlock()
			if err != nil {
				t.shutdown(err)
				return
			}
		}
	}
}
