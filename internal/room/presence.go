package room

import (
	"fmt"

	"github.com/jensenmasan/NodeCrypt/internal/channel"
)

// handleClientList reconciles a full roster snapshot. Users who disappeared
// since the previous snapshot are treated as left. The room stays in its
// bootstrap window until the second snapshot; until then no join
// announcements are synthesized — the first snapshot is the server's own
// bookkeeping delivered before the handshake settles, and announcing it
// would produce a false "joined" storm for every pre-existing participant.
func (st *Store) handleClientList(s *Session, list []channel.User, selfID string) {
	s.mu.Lock()

	newIDs := make(map[string]struct{}, len(list))
	for _, u := range list {
		newIDs[u.ClientID] = struct{}{}
	}
	var departedMsgs []*Message
	for _, old := range s.userList {
		if _, ok := newIDs[old.ClientID]; !ok {
			if m := s.removeUserLocked(old.ClientID); m != nil {
				departedMsgs = append(departedMsgs, m)
			}
		}
	}

	users := make([]*UserRecord, 0, len(list))
	userMap := make(map[string]*UserRecord, len(list))
	for _, u := range list {
		rec := &UserRecord{
			ClientID:            u.ClientID,
			UserName:            u.UserName,
			SharedSecretPresent: u.SharedSecret,
		}
		// Key exchanges do not un-complete; keep what we already knew.
		if prev, ok := s.userMap[u.ClientID]; ok && prev.SharedSecretPresent {
			rec.SharedSecretPresent = true
		}
		users = append(users, rec)
		userMap[u.ClientID] = rec
	}
	s.userList = users
	s.userMap = userMap
	s.myUserID = selfID

	switch s.phase {
	case phaseConnecting:
		s.phase = phaseBootstrapping
	case phaseBootstrapping:
		s.phase = phaseReady
		s.known = make(map[string]struct{}, len(list))
		for _, u := range list {
			s.known[u.ClientID] = struct{}{}
		}
	}
	s.mu.Unlock()

	for _, m := range departedMsgs {
		s.push(m)
	}
	if st.isActive(s) {
		for _, m := range departedMsgs {
			st.ui.MessageAppended(s, m)
		}
		st.ui.RosterChanged(s)
	}
}

// handleClientSecured upserts a participant whose key exchange completed.
// A join announcement fires only after bootstrap and only for ids not yet
// announced — at most once per id over the room's lifetime.
func (st *Store) handleClientSecured(s *Session, u channel.User) {
	s.mu.Lock()
	rec, ok := s.userMap[u.ClientID]
	if ok {
		rec.UserName = u.UserName
		rec.SharedSecretPresent = true
	} else {
		rec = &UserRecord{ClientID: u.ClientID, UserName: u.UserName, SharedSecretPresent: true}
		s.userList = append(s.userList, rec)
		s.userMap[u.ClientID] = rec
	}

	var joined *Message
	if s.phase == phaseReady {
		if _, seen := s.known[u.ClientID]; !seen {
			s.known[u.ClientID] = struct{}{}
			name := u.UserName
			if name == "" {
				name = "Anonymous"
			}
			joined = newSystemMessage(fmt.Sprintf("%s joined the conversation", name))
		}
	}
	s.mu.Unlock()

	if joined != nil {
		s.push(joined)
		if st.isActive(s) {
			st.ui.MessageAppended(s, joined)
		}
		st.ui.Notify(s.RoomName, "system", joined.Data.(string), "")
	}
	if st.isActive(s) {
		st.ui.RosterChanged(s)
	}
}

// handleClientLeft removes a participant and announces the departure once
// the room is bootstrapped. A departing pinned private target is unpinned.
func (st *Store) handleClientLeft(s *Session, clientID string) {
	s.mu.Lock()
	m := s.removeUserLocked(clientID)
	s.mu.Unlock()

	if m != nil {
		s.push(m)
	}
	if st.isActive(s) {
		if m != nil {
			st.ui.MessageAppended(s, m)
		}
		st.ui.RosterChanged(s)
	}
}

// removeUserLocked drops clientID from the roster, clears a matching private
// pin and returns a departure announcement when the room is bootstrapped.
// The id stays in the announced set so a stale rejoin of the same id never
// produces a second "joined" message.
func (s *Session) removeUserLocked(clientID string) *Message {
	if s.privateTargetID == clientID {
		s.privateTargetID = ""
		s.privateTargetName = ""
	}

	name := "Anonymous"
	if u, ok := s.userMap[clientID]; ok && u.UserName != "" {
		name = u.UserName
	}
	delete(s.userMap, clientID)
	for i, u := range s.userList {
		if u.ClientID == clientID {
			s.userList = append(s.userList[:i], s.userList[i+1:]...)
			break
		}
	}

	if s.phase != phaseReady {
		return nil
	}
	return newSystemMessage(fmt.Sprintf("%s left the conversation", name))
}
