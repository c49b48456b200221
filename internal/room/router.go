package room

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jensenmasan/NodeCrypt/internal/channel"
	"github.com/jensenmasan/NodeCrypt/internal/protocol"
)

// fileChunkBytes is the raw chunk size before base64 expansion; the encoded
// envelope stays well under the transport frame limit.
const fileChunkBytes = 64 * 1024

// SendUserAction routes an outbound user action. With a pinned private
// target the envelope goes through the double-wrapped private relay path;
// otherwise it is broadcast to the room. Either way the locally composed
// message is echoed into the room history, because the relay never echoes
// sends back to their sender.
//
// typ is the unsuffixed payload type; the private suffix is applied here and
// nowhere else.
func (st *Store) SendUserAction(s *Session, typ string, data any) error {
	s.mu.Lock()
	targetID, targetName := s.privateTargetID, s.privateTargetName
	if targetID != "" {
		rec, ok := s.userMap[targetID]
		if !ok || !rec.SharedSecretPresent {
			s.mu.Unlock()
			st.privateGateNotice(s, targetName)
			return fmt.Errorf("%s: %w", targetName, ErrPrivateTargetUnavailable)
		}
		s.mu.Unlock()

		if err := st.sendPrivateTo(s, targetID, typ, data); err != nil {
			if errors.Is(err, ErrPrivateTargetUnavailable) {
				st.privateGateNotice(s, targetName)
			}
			return err
		}
		st.echo(s, protocol.Private(typ), data)
		return nil
	}
	s.mu.Unlock()

	opaque, err := s.ch.EncryptServerMessage(protocol.ClientMessage{
		Action: protocol.ActionMessage,
		Type:   typ,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("encrypt broadcast: %w", err)
	}
	if err := s.ch.SendMessage(opaque); err != nil {
		return fmt.Errorf("send broadcast: %w", err)
	}
	st.echo(s, typ, data)
	return nil
}

// privateGateNotice tells the composer their private message could not be
// delivered. The notice is display-only; a failed send never enters the
// durable room history.
func (st *Store) privateGateNotice(s *Session, targetName string) {
	text := fmt.Sprintf("cannot send private message to %s: no completed key exchange", targetName)
	if st.isActive(s) {
		st.ui.TransientNotice(s, text)
		return
	}
	st.ui.Notify(s.RoomName, "system", text, "")
}

// sendPrivateTo performs the double wrap: the inner payload is sealed under
// the target's per-peer secret, then the relay envelope around it under the
// room's server secret.
func (st *Store) sendPrivateTo(s *Session, targetID, typ string, data any) error {
	inner := protocol.ClientMessage{
		Action: protocol.ActionMessage,
		Type:   protocol.Private(typ),
		Data:   data,
	}
	sealed, err := s.ch.EncryptClientMessage(inner, targetID)
	if err != nil {
		if errors.Is(err, channel.ErrNoSharedSecret) {
			return fmt.Errorf("peer %s: %w", targetID, ErrPrivateTargetUnavailable)
		}
		return fmt.Errorf("encrypt private message: %w", err)
	}
	opaque, err := s.ch.EncryptServerMessage(protocol.RelayEnvelope{
		Action:   protocol.ActionRelayToClient,
		Payload:  sealed,
		TargetID: targetID,
	})
	if err != nil {
		return fmt.Errorf("encrypt relay envelope: %w", err)
	}
	if err := s.ch.SendMessage(opaque); err != nil {
		return fmt.Errorf("send private message: %w", err)
	}
	return nil
}

// echo appends the locally composed message, except for payload kinds that
// have no history representation: signals are ephemeral, and of a chunked
// file only the opening envelope is recorded.
func (st *Store) echo(s *Session, typ string, data any) {
	base := protocol.BaseType(typ)
	if base == protocol.TypeCallSignal || protocol.IsEffectSignal(base) ||
		base == protocol.TypeFileVolume || base == protocol.TypeFileEnd {
		return
	}
	m := newMessage(KindSelf, typ, s.MyUserName, data)
	s.push(m)
	if st.isActive(s) {
		st.ui.MessageAppended(s, m)
	}
}

// SendFile streams a local file into the room as a chunked transfer: one
// file_start envelope carrying the metadata, one file_volume per
// base64-encoded chunk, then file_end. Routing (broadcast or pinned private
// target) follows SendUserAction; only the opening envelope reaches the
// local history.
func (st *Store) SendFile(s *Session, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	total := (len(raw) + fileChunkBytes - 1) / fileChunkBytes
	if total == 0 {
		total = 1
	}
	meta := protocol.FileMeta{
		FileID:      uuid.NewString(),
		FileName:    filepath.Base(path),
		FileSize:    int64(len(raw)),
		TotalChunks: total,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := st.SendUserAction(s, protocol.TypeFileStart, meta); err != nil {
		return err
	}
	for i := 0; i < total; i++ {
		end := (i + 1) * fileChunkBytes
		if end > len(raw) {
			end = len(raw)
		}
		chunk := protocol.FileMeta{
			FileID:      meta.FileID,
			Chunk:       i,
			TotalChunks: total,
			Data:        base64.StdEncoding.EncodeToString(raw[i*fileChunkBytes : end]),
		}
		if err := st.SendUserAction(s, protocol.TypeFileVolume, chunk); err != nil {
			return err
		}
	}
	return st.SendUserAction(s, protocol.TypeFileEnd, protocol.FileMeta{FileID: meta.FileID})
}

// TriggerEffect fires the named visual effect locally and signals it to the
// room (or the pinned private target).
func (st *Store) TriggerEffect(s *Session, effect string) error {
	st.effects.Trigger(effect)
	return st.SendUserAction(s, effect+protocol.SignalSuffix, struct{}{})
}

// handleClientMessage classifies one inbound envelope for dispatch.
func (st *Store) handleClientMessage(s *Session, env protocol.Envelope) {
	if env.Type == "" {
		env.Type = protocol.TypeText
	}
	base := protocol.BaseType(env.Type)
	isPrivate := protocol.IsPrivate(env.Type)

	// The relay reflects broadcasts to everyone including the sender; drop
	// our own reflections. Private self-addressed messages are the one
	// exception and are delivered normally.
	if env.SenderID != "" && env.SenderID == s.MyUserID() && !isPrivate {
		return
	}

	switch {
	case base == protocol.TypeCallSignal:
		sig, err := protocol.DecodeCallSignal(env.Data)
		if err != nil {
			st.logger.Debug().Err(err).Str("room", s.RoomName).Msg("dropping malformed call signal")
			return
		}
		// Call signals never reach the history or the unread counter.
		st.calls.HandleSignal(s, env.SenderID, sig)

	case protocol.IsEffectSignal(base):
		st.handleEffectSignal(s, env, base)

	case protocol.IsFileChunk(base):
		st.handleFileChunk(s, env, base, isPrivate)

	default:
		st.handleChat(s, env, base, isPrivate)
	}
}

// handleEffectSignal triggers the locally registered effect and leaves only
// an ephemeral notice. Effect notices increment the unread counter of an
// inactive room but are not required to survive a reload.
func (st *Store) handleEffectSignal(s *Session, env protocol.Envelope, base string) {
	effect := protocol.EffectName(base)
	st.effects.Trigger(effect)

	sender := s.senderName(env.SenderID, env.SenderName)
	text := fmt.Sprintf("%s triggered %s", sender, st.effects.DisplayName(effect))

	if st.isActive(s) {
		st.ui.TransientNotice(s, text)
		return
	}
	s.push(newSystemMessage(text))
	s.mu.Lock()
	s.unread++
	s.mu.Unlock()
	st.ui.RoomsChanged()
}

// handleFileChunk updates in-room transfer state. Only the opening chunk of
// a transfer enters the history and the unread counter; the volume chunks
// that follow must not spam either.
func (st *Store) handleFileChunk(s *Session, env protocol.Envelope, base string, isPrivate bool) {
	meta, err := protocol.DecodeFileMeta(env.Data)
	if err != nil {
		st.logger.Debug().Err(err).Str("room", s.RoomName).Msg("dropping malformed file chunk")
		return
	}
	sender := s.senderName(env.SenderID, env.SenderName)

	if base == protocol.TypeFileStart {
		historyType := "file"
		if isPrivate {
			historyType = "file_private"
		}
		duplicate := s.messages.Any(func(m *Message) bool {
			fm, ok := m.Data.(protocol.FileMeta)
			return ok && m.Type == historyType && m.Sender == sender && fm.FileID == meta.FileID
		})
		if !duplicate {
			m := newMessage(KindPeer, historyType, sender, meta)
			s.push(m)
			if st.isActive(s) {
				st.ui.MessageAppended(s, m)
			}
		}
		if meta.FileName != "" {
			kind := "file"
			if isPrivate {
				kind = "private file"
			}
			st.ui.Notify(s.RoomName, kind, meta.FileName, sender)
		}
	}

	if st.isActive(s) {
		st.ui.TransferUpdated(s, s.updateTransfer(base, meta, isPrivate))
	} else if base == protocol.TypeFileStart {
		s.mu.Lock()
		s.unread++
		s.mu.Unlock()
		st.ui.RoomsChanged()
	}
}

// handleChat appends a regular chat envelope to the durable history.
func (st *Store) handleChat(s *Session, env protocol.Envelope, base string, isPrivate bool) {
	// Legacy clients send inline images as untyped data URLs.
	if !isPrivate && base == protocol.TypeText {
		if str, ok := env.Data.(string); ok && strings.HasPrefix(str, "data:image/") {
			base = protocol.TypeImage
			env.Type = protocol.TypeImage
		}
	}

	sender := s.senderName(env.SenderID, env.SenderName)
	m := newMessage(KindPeer, env.Type, sender, env.Data)
	s.push(m)

	if st.isActive(s) {
		st.ui.MessageAppended(s, m)
	} else {
		s.mu.Lock()
		s.unread++
		s.mu.Unlock()
		st.ui.RoomsChanged()
	}

	kind := base
	if isPrivate {
		kind = "private " + base
	}
	preview := ""
	if str, ok := env.Data.(string); ok {
		preview = str
	}
	st.ui.Notify(s.RoomName, kind, preview, sender)
}
