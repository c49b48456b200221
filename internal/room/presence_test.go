package room

import (
	"strings"
	"testing"

	"github.com/jensenmasan/NodeCrypt/internal/channel"
)

func countContaining(msgs []*Message, substr string) int {
	n := 0
	for _, m := range msgs {
		if text, ok := m.Data.(string); ok && strings.Contains(text, substr) {
			n++
		}
	}
	return n
}

func TestBootstrapSuppressesJoinStorm(t *testing.T) {
	st, _, _ := testStore(t)
	idx, err := st.CreateRoom("alice", "lounge", "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	s := st.Sessions()[idx]
	f := s.ch.(*fakeChannel)

	roster := []channel.User{
		{ClientID: "me", UserName: "alice"},
		{ClientID: "b1", UserName: "bob", SharedSecret: true},
		{ClientID: "c1", UserName: "carol", SharedSecret: true},
	}

	// Neither roster snapshot announces the pre-existing participants.
	f.cb.OnClientList(roster, "me")
	if n := countContaining(s.Messages(), "joined"); n != 0 {
		t.Fatalf("joins after first snapshot = %d, want 0", n)
	}
	f.cb.OnClientList(roster, "me")
	if n := countContaining(s.Messages(), "joined"); n != 0 {
		t.Fatalf("joins after second snapshot = %d, want 0", n)
	}

	// A genuinely new participant after bootstrap announces exactly once.
	f.cb.OnClientSecured(channel.User{ClientID: "d1", UserName: "dave", SharedSecret: true})
	if n := countContaining(s.Messages(), "dave joined"); n != 1 {
		t.Fatalf("dave joins = %d, want 1", n)
	}

	// Re-securing the same id is idempotent.
	f.cb.OnClientSecured(channel.User{ClientID: "d1", UserName: "dave", SharedSecret: true})
	if n := countContaining(s.Messages(), "dave joined"); n != 1 {
		t.Fatalf("dave joins after repeat = %d, want 1", n)
	}

	// Leaving does not forget the id: a stale rejoin of the same id stays
	// silent.
	f.cb.OnClientLeft("d1")
	f.cb.OnClientSecured(channel.User{ClientID: "d1", UserName: "dave", SharedSecret: true})
	if n := countContaining(s.Messages(), "dave joined"); n != 1 {
		t.Fatalf("dave joins after rejoin = %d, want 1", n)
	}
}

func TestSecuredBeforeBootstrapStaysSilent(t *testing.T) {
	st, _, _ := testStore(t)
	idx, _ := st.CreateRoom("alice", "lounge", "")
	s := st.Sessions()[idx]
	f := s.ch.(*fakeChannel)

	// Key exchange can complete before any snapshot arrives.
	f.cb.OnClientSecured(channel.User{ClientID: "b1", UserName: "bob", SharedSecret: true})
	if n := countContaining(s.Messages(), "joined"); n != 0 {
		t.Fatalf("joins before bootstrap = %d, want 0", n)
	}
	if !s.HasUser("b1") {
		t.Fatal("secured user missing from roster")
	}

	f.cb.OnClientList([]channel.User{{ClientID: "b1", UserName: "bob"}}, "me")
	f.cb.OnClientSecured(channel.User{ClientID: "b1", UserName: "bob", SharedSecret: true})
	if n := countContaining(s.Messages(), "joined"); n != 0 {
		t.Fatalf("joins during bootstrap = %d, want 0", n)
	}
}

func TestDeparturesOnlyAnnouncedWhenReady(t *testing.T) {
	st, _, _ := testStore(t)
	idx, _ := st.CreateRoom("alice", "lounge", "")
	s := st.Sessions()[idx]
	f := s.ch.(*fakeChannel)

	roster := []channel.User{
		{ClientID: "me", UserName: "alice"},
		{ClientID: "b1", UserName: "bob"},
	}
	f.cb.OnClientList(roster, "me")

	// Departure during bootstrap stays silent.
	f.cb.OnClientLeft("b1")
	if n := countContaining(s.Messages(), "left"); n != 0 {
		t.Fatalf("lefts during bootstrap = %d, want 0", n)
	}

	f.cb.OnClientList(roster, "me")
	f.cb.OnClientList(roster, "me") // now ready; roster has bob again

	f.cb.OnClientLeft("b1")
	if n := countContaining(s.Messages(), "bob left"); n != 1 {
		t.Fatalf("bob lefts = %d, want 1", n)
	}
	if s.HasUser("b1") {
		t.Fatal("departed user still on roster")
	}
}

func TestSnapshotDiffSynthesizesDepartures(t *testing.T) {
	st, _, _ := testStore(t)
	roster := []channel.User{
		{ClientID: "me", UserName: "alice"},
		{ClientID: "b1", UserName: "bob"},
	}
	s, f, _ := joinRoom(t, st, "lounge", roster, "me")

	// A snapshot missing bob is a departure even without client-left.
	f.cb.OnClientList([]channel.User{{ClientID: "me", UserName: "alice"}}, "me")
	if n := countContaining(s.Messages(), "bob left"); n != 1 {
		t.Fatalf("bob lefts = %d, want 1", n)
	}
}

func TestDepartedPrivateTargetUnpinned(t *testing.T) {
	st, _, _ := testStore(t)
	roster := []channel.User{
		{ClientID: "me", UserName: "alice"},
		{ClientID: "b1", UserName: "bob", SharedSecret: true},
	}
	s, f, _ := joinRoom(t, st, "lounge", roster, "me")

	if err := st.TogglePrivateTarget(s, "b1"); err != nil {
		t.Fatalf("pin: %v", err)
	}
	f.cb.OnClientLeft("b1")
	if id, _ := s.PrivateTarget(); id != "" {
		t.Fatalf("private target after departure = %q, want empty", id)
	}
}

func TestKeyExchangeSurvivesSnapshot(t *testing.T) {
	st, _, _ := testStore(t)
	idx, _ := st.CreateRoom("alice", "lounge", "")
	s := st.Sessions()[idx]
	f := s.ch.(*fakeChannel)

	f.cb.OnClientList([]channel.User{{ClientID: "b1", UserName: "bob"}}, "me")
	f.cb.OnClientSecured(channel.User{ClientID: "b1", UserName: "bob", SharedSecret: true})

	// The next snapshot reports bob without the flag; completion must stick.
	f.cb.OnClientList([]channel.User{{ClientID: "b1", UserName: "bob"}}, "me")

	u, ok := s.User("b1")
	if !ok || !u.SharedSecretPresent {
		t.Fatalf("user after snapshot = %+v, want completed key exchange", u)
	}
}

func TestSelfIDLearnedFromSnapshot(t *testing.T) {
	st, _, _ := testStore(t)
	s, _, _ := joinRoom(t, st, "lounge", []channel.User{{ClientID: "me", UserName: "alice"}}, "me")

	if got := s.MyUserID(); got != "me" {
		t.Fatalf("MyUserID = %q, want me", got)
	}
}
