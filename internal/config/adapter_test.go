package config

import (
	"path/filepath"
	"testing"

	"github.com/sesh-im/sesh-go/internal/protocol"
	"github.com/sesh-im/sesh-go/internal/store"
)

const selfID = "05self"

type countingPurger struct {
	calls []string
}

func (p *countingPurger) Purge(conversationID string) error {
	p.calls = append(p.calls, conversationID)
	return nil
}

func testAdapter(t *testing.T) (*Adapter, *store.Store, *countingPurger) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	purger := &countingPurger{}
	return NewAdapter(s, selfID, purger, nil), s, purger
}

func i32(v int32) *int32 { return &v }

func validSnapshot() *Snapshot {
	return &Snapshot{ProfileName: "Alice", NoteToSelfPriority: i32(0)}
}

func TestApplyDiscardsSnapshotWithoutName(t *testing.T) {
	a, s, _ := testAdapter(t)

	snap := validSnapshot()
	snap.ProfileName = ""
	snap.ProfilePicURL = "https://files.example/pic"
	if err := a.ApplyMergedSnapshot(snap, 100); err != nil {
		t.Fatal(err)
	}

	// The whole update must be discarded, not just the name.
	p, err := s.LoadProfile()
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Errorf("profile = %+v, want untouched nil", p)
	}
	c, err := s.GetConversation(selfID)
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("conversation created from malformed snapshot")
	}
}

func TestApplyProfileUnconditionally(t *testing.T) {
	a, s, _ := testAdapter(t)

	// Pre-existing local profile; remote wins with no timestamp gate.
	if err := s.SaveProfile(&store.Profile{Name: "Old", PicURL: "https://x/old"}); err != nil {
		t.Fatal(err)
	}

	snap := validSnapshot()
	snap.ProfilePicURL = "" // remove sentinel
	if err := a.ApplyMergedSnapshot(snap, 1); err != nil {
		t.Fatal(err)
	}

	p, err := s.LoadProfile()
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Alice" || p.PicURL != "" {
		t.Errorf("profile = %+v, want name Alice, no avatar", p)
	}
}

func TestApplyDisappearingConfigTimestampGate(t *testing.T) {
	a, s, _ := testAdapter(t)

	if _, err := s.SetDisappearingConfig(&store.DisappearingConfig{
		ConversationID: selfID, IsEnabled: true, DurationSeconds: 300,
		Type: store.DisappearAfterSend, LastChangeMs: 100,
	}); err != nil {
		t.Fatal(err)
	}

	snap := validSnapshot()
	snap.Conversations = []ConversationSettings{
		{SessionID: selfID, ExpiryMode: ExpiryModeAfterRead, ExpirySeconds: 60},
	}

	// sentAt 100: tie, candidate discarded.
	if err := a.ApplyMergedSnapshot(snap, 100); err != nil {
		t.Fatal(err)
	}
	cfg, err := s.GetDisappearingConfig(selfID)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DurationSeconds != 300 {
		t.Errorf("duration = %d, want 300 (tie must favor stored)", cfg.DurationSeconds)
	}

	// sentAt 101: strictly newer, candidate applied.
	if err := a.ApplyMergedSnapshot(snap, 101); err != nil {
		t.Fatal(err)
	}
	cfg, err = s.GetDisappearingConfig(selfID)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DurationSeconds != 60 || cfg.Type != store.DisappearAfterRead || cfg.LastChangeMs != 101 {
		t.Errorf("config = %+v, want 60s afterRead at 101", cfg)
	}
}

func TestPriorityMergeHiddenToVisible(t *testing.T) {
	a, s, purger := testAdapter(t)

	if err := s.SaveConversation(&store.Conversation{
		SessionID: selfID, ShouldBeVisible: false, PinnedPriority: -1,
	}); err != nil {
		t.Fatal(err)
	}

	snap := validSnapshot()
	snap.NoteToSelfPriority = i32(5)
	if err := a.ApplyMergedSnapshot(snap, 1); err != nil {
		t.Fatal(err)
	}

	c, err := s.GetConversation(selfID)
	if err != nil {
		t.Fatal(err)
	}
	if !c.ShouldBeVisible || c.PinnedPriority != 5 {
		t.Errorf("conversation = %+v, want visible at priority 5", c)
	}
	if len(purger.calls) != 0 {
		t.Errorf("purge ran %d times on unhide, want 0", len(purger.calls))
	}
}

func TestPriorityMergeVisibleToHiddenPurgesOnce(t *testing.T) {
	a, s, purger := testAdapter(t)

	if err := s.SaveConversation(&store.Conversation{
		SessionID: selfID, ShouldBeVisible: true, PinnedPriority: 5,
	}); err != nil {
		t.Fatal(err)
	}

	snap := validSnapshot()
	snap.NoteToSelfPriority = i32(-1)
	if err := a.ApplyMergedSnapshot(snap, 1); err != nil {
		t.Fatal(err)
	}

	c, err := s.GetConversation(selfID)
	if err != nil {
		t.Fatal(err)
	}
	if c.ShouldBeVisible || c.PinnedPriority != -1 {
		t.Errorf("conversation = %+v, want hidden at priority -1", c)
	}
	if len(purger.calls) != 1 {
		t.Errorf("purge ran %d times, want exactly 1", len(purger.calls))
	}
}

func TestCreatedAlreadyHiddenIsPurged(t *testing.T) {
	a, s, purger := testAdapter(t)

	snap := validSnapshot()
	snap.NoteToSelfPriority = i32(-2)
	if err := a.ApplyMergedSnapshot(snap, 1); err != nil {
		t.Fatal(err)
	}

	c, err := s.GetConversation(selfID)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.ShouldBeVisible {
		t.Fatalf("conversation = %+v, want created hidden", c)
	}
	if len(purger.calls) != 1 {
		t.Errorf("purge ran %d times for brand-new hidden conversation, want 1", len(purger.calls))
	}
}

func TestApplyWithoutPriorityLeavesVisibilityAlone(t *testing.T) {
	a, s, purger := testAdapter(t)

	if err := s.SaveConversation(&store.Conversation{
		SessionID: selfID, ShouldBeVisible: false, PinnedPriority: -1,
	}); err != nil {
		t.Fatal(err)
	}

	// A profile-only push carries no visibility authority.
	snap := &Snapshot{ProfileName: "Morgan"}
	if err := a.ApplyMergedSnapshot(snap, 1); err != nil {
		t.Fatal(err)
	}

	c, err := s.GetConversation(selfID)
	if err != nil {
		t.Fatal(err)
	}
	if c.ShouldBeVisible || c.PinnedPriority != -1 {
		t.Errorf("conversation = %+v, want still hidden at -1", c)
	}
	if len(purger.calls) != 0 {
		t.Errorf("purge ran %d times on profile-only snapshot, want 0", len(purger.calls))
	}
}

func TestApplyBootstrapsSelfContact(t *testing.T) {
	a, s, _ := testAdapter(t)

	if err := a.ApplyMergedSnapshot(validSnapshot(), 1); err != nil {
		t.Fatal(err)
	}

	c, err := s.GetContact(selfID)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || !c.IsTrusted || !c.IsApproved || !c.DidApproveMe {
		t.Fatalf("self contact = %+v, want trusted+approved+approvedMe", c)
	}
}

func TestProjectProfile(t *testing.T) {
	a, _, _ := testAdapter(t)

	snap := &Snapshot{}
	a.ProjectProfile(&store.Profile{Name: "Bob", PicURL: "https://x/p", PicKey: []byte{9}}, snap)
	if snap.ProfileName != "Bob" || snap.ProfilePicURL != "https://x/p" {
		t.Errorf("snapshot = %+v", snap)
	}

	// Clearing the avatar projects empty sentinels.
	a.ProjectProfile(&store.Profile{Name: "Bob"}, snap)
	if snap.ProfilePicURL != "" || snap.ProfilePicKey != nil {
		t.Errorf("avatar not cleared: %+v", snap)
	}
}

func TestProjectNoteToSelf(t *testing.T) {
	a, _, _ := testAdapter(t)

	snap := &Snapshot{}
	priority := int32(7)
	cfg := &store.DisappearingConfig{
		IsEnabled: true, DurationSeconds: 120, Type: store.DisappearAfterRead,
	}
	a.ProjectNoteToSelf(&priority, cfg, snap)

	if snap.NoteToSelfPriority == nil || *snap.NoteToSelfPriority != 7 {
		t.Errorf("priority = %v, want 7", snap.NoteToSelfPriority)
	}
	cs := snap.conversation(selfID)
	if cs == nil || cs.ExpiryMode != ExpiryModeAfterRead || cs.ExpirySeconds != 120 {
		t.Errorf("settings = %+v, want afterRead 120s", cs)
	}
}

func TestProjectConfigurationCarriesNoteToSelf(t *testing.T) {
	a, s, _ := testAdapter(t)

	if err := s.SaveProfile(&store.Profile{Name: "Alice", PicURL: "https://x/p"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveConversation(&store.Conversation{
		SessionID: selfID, ShouldBeVisible: true, PinnedPriority: 3,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetDisappearingConfig(&store.DisappearingConfig{
		ConversationID: selfID, IsEnabled: true, DurationSeconds: 60,
		Type: store.DisappearAfterSend, LastChangeMs: 1,
	}); err != nil {
		t.Fatal(err)
	}

	msg, err := a.ProjectConfiguration()
	if err != nil {
		t.Fatal(err)
	}
	if msg.DisplayName != "Alice" || msg.ProfilePicURL != "https://x/p" {
		t.Errorf("profile = %q %q", msg.DisplayName, msg.ProfilePicURL)
	}
	if msg.NoteToSelfPriority == nil || *msg.NoteToSelfPriority != 3 {
		t.Errorf("priority = %v, want 3", msg.NoteToSelfPriority)
	}
	if msg.NoteToSelfExpiry == nil || msg.NoteToSelfExpiry.Mode != int(ExpiryModeAfterSend) ||
		msg.NoteToSelfExpiry.Seconds != 60 {
		t.Errorf("expiry = %+v, want afterSend 60s", msg.NoteToSelfExpiry)
	}
}

func TestProjectConfigurationWithoutConversation(t *testing.T) {
	a, s, _ := testAdapter(t)

	if err := s.SaveProfile(&store.Profile{Name: "Alice"}); err != nil {
		t.Fatal(err)
	}

	msg, err := a.ProjectConfiguration()
	if err != nil {
		t.Fatal(err)
	}
	if msg.NoteToSelfPriority != nil {
		t.Errorf("priority = %v, want absent when no note-to-self exists", msg.NoteToSelfPriority)
	}
	if msg.NoteToSelfExpiry != nil {
		t.Errorf("expiry = %+v, want absent", msg.NoteToSelfExpiry)
	}
}

func TestSnapshotFromConfigurationPreservesAbsence(t *testing.T) {
	msg := &protocol.ConfigurationMessage{DisplayName: "Morgan"}
	snap := SnapshotFromConfiguration(msg, selfID)
	if snap.ProfileName != "Morgan" {
		t.Errorf("name = %q", snap.ProfileName)
	}
	if snap.NoteToSelfPriority != nil {
		t.Errorf("priority = %v, want nil for profile-only message", snap.NoteToSelfPriority)
	}

	msg.NoteToSelfPriority = i32(-1)
	msg.NoteToSelfExpiry = &protocol.ExpirySettings{Mode: int(ExpiryModeAfterRead), Seconds: 120}
	snap = SnapshotFromConfiguration(msg, selfID)
	if snap.NoteToSelfPriority == nil || *snap.NoteToSelfPriority != -1 {
		t.Errorf("priority = %v, want -1", snap.NoteToSelfPriority)
	}
	cs := snap.conversation(selfID)
	if cs == nil || cs.ExpiryMode != ExpiryModeAfterRead || cs.ExpirySeconds != 120 {
		t.Errorf("settings = %+v, want afterRead 120s", cs)
	}
}

func TestProjectNoteToSelfUnmappedTypeIsNoOp(t *testing.T) {
	a, _, _ := testAdapter(t)

	snap := &Snapshot{}
	cfg := &store.DisappearingConfig{
		IsEnabled: true, DurationSeconds: 120, Type: store.DisappearType(99),
	}
	a.ProjectNoteToSelf(nil, cfg, snap)

	if cs := snap.conversation(selfID); cs != nil {
		t.Errorf("unmapped type wrote settings: %+v", cs)
	}
}
