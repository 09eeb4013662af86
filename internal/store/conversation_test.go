package store

import "testing"

func TestSaveAndGetConversation(t *testing.T) {
	s := testStore(t)

	c := &Conversation{
		SessionID:       "05aa",
		Kind:            ConversationContact,
		Name:            "Alice",
		ShouldBeVisible: true,
		PinnedPriority:  3,
	}
	if err := s.SaveConversation(c); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConversation("05aa")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected conversation, got nil")
	}
	if !got.ShouldBeVisible || got.PinnedPriority != 3 {
		t.Errorf("visibility/priority = %v/%d, want true/3", got.ShouldBeVisible, got.PinnedPriority)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	s := testStore(t)

	got, err := s.GetConversation("05ff")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestDisappearingConfigLastWriterWins(t *testing.T) {
	s := testStore(t)

	base := &DisappearingConfig{
		ConversationID:  "05aa",
		IsEnabled:       true,
		DurationSeconds: 300,
		Type:            DisappearAfterRead,
		LastChangeMs:    100,
	}
	applied, err := s.SetDisappearingConfig(base)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("initial config not applied")
	}

	// Equal timestamp: tie favors existing state.
	tie := *base
	tie.DurationSeconds = 60
	applied, err = s.SetDisappearingConfig(&tie)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("candidate with equal timestamp was applied")
	}

	// Older timestamp: discarded.
	older := *base
	older.LastChangeMs = 99
	applied, err = s.SetDisappearingConfig(&older)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("candidate with older timestamp was applied")
	}

	got, err := s.GetDisappearingConfig("05aa")
	if err != nil {
		t.Fatal(err)
	}
	if got.DurationSeconds != 300 {
		t.Errorf("duration = %d, want 300", got.DurationSeconds)
	}

	// Strictly newer timestamp: applied.
	newer := *base
	newer.LastChangeMs = 101
	newer.DurationSeconds = 60
	applied, err = s.SetDisappearingConfig(&newer)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Error("candidate with newer timestamp was discarded")
	}

	got, err = s.GetDisappearingConfig("05aa")
	if err != nil {
		t.Fatal(err)
	}
	if got.DurationSeconds != 60 || got.LastChangeMs != 101 {
		t.Errorf("config = %+v, want duration 60 at 101", got)
	}
}

func TestEnsureSelfContactIdempotent(t *testing.T) {
	s := testStore(t)

	if err := s.EnsureSelfContact("05self"); err != nil {
		t.Fatal(err)
	}
	c, err := s.GetContact("05self")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || !c.IsTrusted || !c.IsApproved || !c.DidApproveMe {
		t.Fatalf("self contact = %+v, want trusted+approved+approvedMe", c)
	}

	// A second call must not clobber existing fields.
	c.Name = "me"
	if err := s.SaveContact(c); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureSelfContact("05self"); err != nil {
		t.Fatal(err)
	}
	c, err = s.GetContact("05self")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "me" {
		t.Errorf("name = %q, want %q", c.Name, "me")
	}
}

func TestPurgeConversationContent(t *testing.T) {
	s := testStore(t)

	if err := s.SaveMessage(&Message{ID: "m1", ConversationID: "05aa", Body: "hi", TimestampMs: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAttachment(&Attachment{ID: "a1", MessageID: "m1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveConversation(&Conversation{SessionID: "05aa"}); err != nil {
		t.Fatal(err)
	}

	if err := s.PurgeConversationContent("05aa"); err != nil {
		t.Fatal(err)
	}

	m, err := s.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Error("message survived purge")
	}
	a, err := s.GetAttachment("a1")
	if err != nil {
		t.Fatal(err)
	}
	if a != nil {
		t.Error("attachment survived purge")
	}

	// Tombstone remains.
	c, err := s.GetConversation("05aa")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Error("conversation record removed by purge")
	}
}
