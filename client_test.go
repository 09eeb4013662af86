package sesh

import (
	"bytes"
	"context"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/sesh-im/sesh-go/internal/mnemonic"
	"github.com/sesh-im/sesh-go/internal/protocol"
	"github.com/sesh-im/sesh-go/internal/store"
	"github.com/sesh-im/sesh-go/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	sent []*protocol.Envelope
}

func (s *captureSender) Send(_ context.Context, env *protocol.Envelope, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

// stubFileServer keeps facade tests off the network. Downloads always
// fail permanently, so queued download jobs settle instead of retrying.
type stubFileServer struct{}

func (stubFileServer) Upload(context.Context, []byte) (string, error) {
	return "", &transport.ServerError{Status: 403, Body: "stubbed"}
}

func (stubFileServer) Download(context.Context, string) ([]byte, error) {
	return nil, &transport.ServerError{Status: 404, Body: "stubbed"}
}

func testClient(t *testing.T) (*Client, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	c, err := Open(
		WithDataDir(t.TempDir()),
		WithMessageSender(sender),
		WithFileServer(stubFileServer{}),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, sender
}

func TestRestoreAccountIsDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 16)

	c1, _ := testClient(t)
	sid1, err := c1.RestoreAccount(seed)
	if err != nil {
		t.Fatalf("RestoreAccount: %v", err)
	}

	c2, _ := testClient(t)
	sid2, err := c2.RestoreAccount(seed)
	if err != nil {
		t.Fatalf("RestoreAccount: %v", err)
	}

	if sid1 != sid2 {
		t.Fatalf("same seed produced different session IDs: %s vs %s", sid1, sid2)
	}
	if len(sid1) != 66 || sid1[:2] != "05" {
		t.Fatalf("malformed session ID: %s", sid1)
	}
}

func TestSessionIDWithoutAccount(t *testing.T) {
	c, _ := testClient(t)
	if _, err := c.SessionID(); err != ErrNoAccount {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
}

func TestRecoveryPhraseRoundTrip(t *testing.T) {
	c, _ := testClient(t)
	seed := bytes.Repeat([]byte{0x07}, 16)
	if _, err := c.RestoreAccount(seed); err != nil {
		t.Fatalf("RestoreAccount: %v", err)
	}

	phrase, err := c.RecoveryPhrase()
	if err != nil {
		t.Fatalf("RecoveryPhrase: %v", err)
	}
	got, err := mnemonic.ToHex(phrase)
	if err != nil {
		t.Fatalf("ToHex: %v", err)
	}
	if got != hex.EncodeToString(seed) {
		t.Fatalf("phrase does not decode back to seed: %s", got)
	}
}

func TestRecoveryPhraseWithoutAccount(t *testing.T) {
	c, _ := testClient(t)
	if _, err := c.RecoveryPhrase(); err != ErrNoAccount {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
}

func TestSendMessageNonDurable(t *testing.T) {
	c, sender := testClient(t)
	if _, err := c.NewAccount(); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	id, err := c.SendMessage(context.Background(), "05dest", "hello", false)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	sender.mu.Lock()
	n := len(sender.sent)
	sender.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 envelope, got %d", n)
	}
	msg, err := c.store.GetMessage(id)
	if err != nil || msg == nil {
		t.Fatalf("message not persisted: %v", err)
	}
}

func TestSendMessageDurableQueuesJob(t *testing.T) {
	c, _ := testClient(t)
	if _, err := c.NewAccount(); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	id, err := c.SendMessage(context.Background(), "05dest", "hello", true)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	msg, err := c.store.GetMessage(id)
	if err != nil || msg == nil {
		t.Fatalf("message not stamped: %v", err)
	}
	if msg.ConversationID != "05dest" {
		t.Fatalf("message missing destination: %+v", msg)
	}
}

func TestHandleDataEnvelopeStoresMessageAndPointers(t *testing.T) {
	c, _ := testClient(t)
	if _, err := c.NewAccount(); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	env := &Envelope{
		Type:        protocol.EnvelopeData,
		Source:      "05peer",
		TimestampMs: 5000,
		Data: &protocol.DataMessage{
			Body: "look at this",
			Attachments: []protocol.AttachmentPointer{
				{URL: "https://files.test/blob", Key: []byte("k"), Digest: []byte("d")},
			},
		},
	}
	if err := c.HandleEnvelope(context.Background(), env); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}
	msgs, err := c.store.MessagesForConversation("05peer")
	if err != nil {
		t.Fatalf("MessagesForConversation: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(msgs))
	}
	if msgs[0].Body != "look at this" {
		t.Fatalf("unexpected stored message: %+v", msgs[0])
	}
	atts, err := c.store.AttachmentsForMessage(msgs[0].ID)
	if err != nil {
		t.Fatalf("AttachmentsForMessage: %v", err)
	}
	if len(atts) != 1 || atts[0].URL != "https://files.test/blob" {
		t.Fatalf("expected 1 pointer record, got %+v", atts)
	}
}

func TestHandleConfigEnvelopeAppliesProfile(t *testing.T) {
	c, _ := testClient(t)
	if _, err := c.NewAccount(); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	env := &Envelope{
		Type:        protocol.EnvelopeConfig,
		Source:      c.sessionID,
		TimestampMs: 9000,
		Config: &protocol.ConfigurationMessage{
			DisplayName:   "Morgan",
			ProfilePicURL: "https://files.test/avatar",
		},
	}
	if err := c.HandleEnvelope(context.Background(), env); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}
	profile, err := c.store.LoadProfile()
	if err != nil || profile == nil {
		t.Fatalf("profile not applied: %v", err)
	}
	if profile.Name != "Morgan" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestHandleConfigEnvelopeProfileOnlyKeepsNoteToSelfHidden(t *testing.T) {
	c, _ := testClient(t)
	if _, err := c.NewAccount(); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	if err := c.store.SaveConversation(&store.Conversation{
		SessionID: c.sessionID, ShouldBeVisible: false, PinnedPriority: -1,
	}); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	env := &Envelope{
		Type:        protocol.EnvelopeConfig,
		Source:      c.sessionID,
		TimestampMs: 9000,
		Config:      &protocol.ConfigurationMessage{DisplayName: "Morgan"},
	}
	if err := c.HandleEnvelope(context.Background(), env); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}

	conv, err := c.store.GetConversation(c.sessionID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.ShouldBeVisible || conv.PinnedPriority != -1 {
		t.Fatalf("conversation = %+v, want still hidden at -1", conv)
	}
}

func TestHandleDataEnvelopeFriendRequestMarksContact(t *testing.T) {
	c, _ := testClient(t)
	if _, err := c.NewAccount(); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	env := &Envelope{
		Type:        protocol.EnvelopeData,
		Source:      "05peer",
		TimestampMs: 5000,
		Data:        &protocol.DataMessage{Body: "hey", FriendRequest: true},
	}
	if err := c.HandleEnvelope(context.Background(), env); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}

	contact, err := c.store.GetContact("05peer")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if contact == nil || contact.FriendRequestStatus != store.FriendRequestReceived {
		t.Fatalf("contact = %+v, want friend request received", contact)
	}
}

func TestFriendRequestAcceptedByContactSync(t *testing.T) {
	c, sender := testClient(t)
	if _, err := c.NewAccount(); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	req := &Envelope{
		Type:        protocol.EnvelopeData,
		Source:      "05peer",
		TimestampMs: 5000,
		Data:        &protocol.DataMessage{Body: "hey", FriendRequest: true},
	}
	if err := c.HandleEnvelope(context.Background(), req); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}

	if err := c.store.SetLinkedDevices([]store.LinkedDevice{
		{DeviceID: "05master", IsMaster: true},
	}); err != nil {
		t.Fatalf("SetLinkedDevices: %v", err)
	}
	syncEnv := &Envelope{
		Type:        protocol.EnvelopeSync,
		Source:      "05master",
		TimestampMs: 6000,
		Data: &protocol.DataMessage{
			Contacts: []protocol.ContactDetails{{SessionID: "05peer", Name: "Peer"}},
		},
	}
	if err := c.HandleEnvelope(context.Background(), syncEnv); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}

	contact, err := c.store.GetContact("05peer")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if contact.FriendRequestStatus != store.FriendRequestAccepted || !contact.IsApproved || !contact.DidApproveMe {
		t.Fatalf("contact = %+v, want accepted+approved", contact)
	}
	sender.mu.Lock()
	n := len(sender.sent)
	sender.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one acceptance message, got %d", n)
	}
}

func TestHandleSyncEnvelopeFromUnlinkedDeviceIsDropped(t *testing.T) {
	c, _ := testClient(t)
	if _, err := c.NewAccount(); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	env := &Envelope{
		Type:        protocol.EnvelopeSync,
		Source:      "05stranger",
		TimestampMs: 5000,
		Data: &protocol.DataMessage{
			Contacts: []protocol.ContactDetails{{SessionID: "05somebody", Name: "Sam"}},
		},
	}
	if err := c.HandleEnvelope(context.Background(), env); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}
	contact, err := c.store.GetContact("05somebody")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if contact != nil {
		t.Fatal("contact sync from unlinked device must not apply")
	}
}
