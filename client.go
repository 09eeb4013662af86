// Package sesh provides a high-level client for a Session-style
// encrypted messenger account: identity keys, configuration sync,
// multi-device sync messages and durable message dispatch.
package sesh

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sesh-im/sesh-go/internal/config"
	"github.com/sesh-im/sesh-go/internal/dispatch"
	"github.com/sesh-im/sesh-go/internal/identity"
	"github.com/sesh-im/sesh-go/internal/mnemonic"
	"github.com/sesh-im/sesh-go/internal/protocol"
	"github.com/sesh-im/sesh-go/internal/store"
	"github.com/sesh-im/sesh-go/internal/syncmsg"
	"github.com/sesh-im/sesh-go/internal/transport"
)

// Re-exported types so callers rarely need the internal packages.
type (
	Envelope    = protocol.Envelope
	GroupUpdate = protocol.GroupUpdate
	Message     = store.Message
	Attachment  = store.Attachment
	Snapshot    = config.Snapshot
	SyncResult  = dispatch.SyncResult
)

// Sync results.
const (
	SyncQueued           = dispatch.SyncQueued
	SyncDelivered        = dispatch.SyncDelivered
	SyncBestEffortFailed = dispatch.SyncBestEffortFailed
)

// ErrNoAccount is returned by operations that need a provisioned
// identity when none has been created yet.
var ErrNoAccount = errors.New("sesh: no account provisioned")

const (
	defaultFileServerURL = "https://files.sesh.im"
	defaultSwarmURL      = "https://swarm.sesh.im"
	defaultWSURL         = "wss://swarm.sesh.im"
)

// Client is the main entry point for operating a messenger account.
type Client struct {
	fileServerURL string
	swarmURL      string
	wsURL         string
	tlsConfig     *tls.Config
	dbPath        string
	dataDir       string
	logger        *log.Logger

	sessions   syncmsg.SessionEstablisher
	sender     transport.MessageSender
	fileServer transport.FileServer

	store     *store.Store
	pipeline  *dispatch.Pipeline
	gateway   *syncmsg.Gateway
	adapter   *config.Adapter
	sessionID string

	queueCancel context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithFileServerURL overrides the default attachment file server.
func WithFileServerURL(url string) Option {
	return func(c *Client) { c.fileServerURL = url }
}

// WithSwarmURL overrides the default swarm endpoint.
func WithSwarmURL(url string) Option {
	return func(c *Client) { c.swarmURL = url }
}

// WithWSURL overrides the default receive WebSocket endpoint.
func WithWSURL(url string) Option {
	return func(c *Client) { c.wsURL = url }
}

// WithTLSConfig sets a custom TLS config (e.g. for pinning).
func WithTLSConfig(tc *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = tc }
}

// WithDataDir overrides the default data directory. The database and
// downloaded attachment streams live under it.
func WithDataDir(dir string) Option {
	return func(c *Client) { c.dataDir = dir }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSessionEstablisher sets the collaborator that performs key
// agreement with new peers. Without one, session setup is a no-op.
func WithSessionEstablisher(se syncmsg.SessionEstablisher) Option {
	return func(c *Client) { c.sessions = se }
}

// WithMessageSender replaces the swarm HTTP sender. Used in tests and
// by embedders that own their transport.
func WithMessageSender(s transport.MessageSender) Option {
	return func(c *Client) { c.sender = s }
}

// WithFileServer replaces the HTTP file server client.
func WithFileServer(fs transport.FileServer) Option {
	return func(c *Client) { c.fileServer = fs }
}

// noopSessions is the default SessionEstablisher.
type noopSessions struct{}

func (noopSessions) EnsureSession(context.Context, string) error { return nil }

// storePurger adapts the store's content purge to the config package's
// purger boundary.
type storePurger struct {
	st *store.Store
}

func (p storePurger) Purge(conversationID string) error {
	return p.st.PurgeConversationContent(conversationID)
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Open opens (creating if necessary) the account database and wires the
// client. The job queue starts draining immediately, so sends persisted
// by a previous run resume without further calls.
func Open(opts ...Option) (*Client, error) {
	c := &Client{
		fileServerURL: defaultFileServerURL,
		swarmURL:      defaultSwarmURL,
		wsURL:         defaultWSURL,
		dataDir:       store.DefaultDataDir(),
		sessions:      noopSessions{},
	}
	for _, o := range opts {
		o(c)
	}
	c.dbPath = filepath.Join(c.dataDir, "sesh.db")

	st, err := store.Open(c.dbPath)
	if err != nil {
		return nil, err
	}
	c.store = st

	// A fresh database has no identity yet; sessionID stays empty until
	// NewAccount or RestoreAccount runs.
	sid, err := st.SessionID()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		st.Close()
		return nil, err
	}
	c.sessionID = sid

	if c.sender == nil {
		c.sender = transport.NewSwarmClient(c.swarmURL, c.tlsConfig)
	}
	if c.fileServer == nil {
		c.fileServer = transport.NewFileServerClient(c.fileServerURL, c.tlsConfig)
	}

	c.rewire(c.sessionID)
	return c, nil
}

// Close stops the job queue and closes the database.
func (c *Client) Close() error {
	if c.queueCancel != nil {
		c.queueCancel()
		<-c.pipeline.Queue().Done()
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// NewAccount generates a fresh identity from a random 16-byte seed and
// persists it. Returns the account's session ID.
func (c *Client) NewAccount() (string, error) {
	seed := make([]byte, identity.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("sesh: generate seed: %w", err)
	}
	return c.RestoreAccount(seed)
}

// RestoreAccount derives the identity from seed and persists it. The
// same seed always restores the same account.
func (c *Client) RestoreAccount(seed []byte) (string, error) {
	ed, x, err := identity.Generate(seed)
	if err != nil {
		return "", err
	}
	if err := c.store.SaveIdentity(seed, ed, x); err != nil {
		return "", err
	}
	sid := identity.SessionID(x.Public)
	if err := c.store.EnsureSelfContact(sid); err != nil {
		return "", err
	}
	c.rewire(sid)
	return sid, nil
}

// rewire rebuilds the components that bake in the session ID and
// restarts the job queue. Called from Open and on account creation.
func (c *Client) rewire(sessionID string) {
	if c.queueCancel != nil {
		c.queueCancel()
		<-c.pipeline.Queue().Done()
	}

	c.sessionID = sessionID
	c.adapter = config.NewAdapter(c.store, sessionID, storePurger{st: c.store}, c.logger)
	c.pipeline = dispatch.NewPipeline(dispatch.Config{
		Store:      c.store,
		FileServer: c.fileServer,
		Community: func(server string) transport.Community {
			return transport.NewCommunityClient(server, c.tlsConfig)
		},
		Sender:    c.sender,
		ConfigSrc: c.adapter,
		SessionID: sessionID,
		DataDir:   c.dataDir,
		Logger:    c.logger,
	})
	c.gateway = syncmsg.NewGateway(c.store, c.pipeline, c.sessions, c.logger)

	queueCtx, cancel := context.WithCancel(context.Background())
	c.queueCancel = cancel
	c.pipeline.Queue().Start(queueCtx)
}

// SessionID returns the account's public identifier, or ErrNoAccount.
func (c *Client) SessionID() (string, error) {
	if c.sessionID == "" {
		return "", ErrNoAccount
	}
	return c.sessionID, nil
}

// RecoveryPhrase returns the account's mnemonic. Accounts created from
// a seed encode the seed; older accounts restored without one fall back
// to encoding the stored private key.
func (c *Client) RecoveryPhrase() (string, error) {
	seed, err := c.store.GetSeed()
	if err != nil {
		return "", err
	}
	if seed == nil {
		seed, err = c.store.GetPrivateKey()
		if err != nil {
			return "", err
		}
	}
	if seed == nil {
		return "", ErrNoAccount
	}
	return mnemonic.FromHex(hex.EncodeToString(seed))
}

// SendMessage sends a text message. Durable sends survive restarts via
// the job queue; non-durable sends resolve within the call.
func (c *Client) SendMessage(ctx context.Context, destination, body string, durable bool) (string, error) {
	if c.sessionID == "" {
		return "", ErrNoAccount
	}
	msg := &store.Message{
		ID:          uuid.NewString(),
		Body:        body,
		TimestampMs: nowMs(),
		Variant:     store.MessageStandard,
	}
	if durable {
		return msg.ID, c.pipeline.SendDurably(msg, destination)
	}
	msg.ConversationID = destination
	msg.IsOutgoing = true
	if err := c.store.SaveMessage(msg); err != nil {
		return "", err
	}
	return msg.ID, c.pipeline.SendNonDurably(ctx, msg, nil, destination)
}

// SendAttachments sends a message carrying local files. Uploads run
// concurrently; if any fails the message body is never transmitted.
func (c *Client) SendAttachments(ctx context.Context, destination, body string, paths []string) (string, error) {
	if c.sessionID == "" {
		return "", ErrNoAccount
	}
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: destination,
		Body:           body,
		TimestampMs:    nowMs(),
		IsOutgoing:     true,
		Variant:        store.MessageStandard,
	}
	if err := c.store.SaveMessage(msg); err != nil {
		return "", err
	}
	atts := make([]*store.Attachment, 0, len(paths))
	for _, path := range paths {
		att := &store.Attachment{
			ID:        uuid.NewString(),
			MessageID: msg.ID,
			LocalPath: path,
		}
		if err := c.store.SaveAttachment(att); err != nil {
			return "", err
		}
		atts = append(atts, att)
	}
	return msg.ID, c.pipeline.SendNonDurably(ctx, msg, atts, destination)
}

// SyncConfiguration pushes the account configuration to its own swarm.
// See dispatch.SyncResult for how the outcome is reported.
func (c *Client) SyncConfiguration(ctx context.Context, forceNow bool) (SyncResult, error) {
	if c.sessionID == "" {
		return 0, ErrNoAccount
	}
	return c.pipeline.SyncConfiguration(ctx, forceNow)
}

// ApplySnapshot applies an externally merged configuration snapshot.
func (c *Client) ApplySnapshot(snap *Snapshot, sentAtMs uint64) error {
	return c.adapter.ApplyMergedSnapshot(snap, sentAtMs)
}

// HandleEnvelope routes one inbound envelope. Sync envelopes pass the
// linked-device and duplicate gates before any handler runs; drops are
// silent.
func (c *Client) HandleEnvelope(ctx context.Context, env *Envelope) error {
	switch env.Type {
	case protocol.EnvelopeConfig:
		return c.handleConfigEnvelope(env)
	case protocol.EnvelopeSync:
		return c.handleSyncEnvelope(ctx, env)
	case protocol.EnvelopeData:
		return c.handleDataEnvelope(env)
	default:
		logf(c.logger, "sesh: dropping envelope with unknown type %q", env.Type)
		return nil
	}
}

func (c *Client) handleConfigEnvelope(env *Envelope) error {
	if env.Config == nil {
		logf(c.logger, "sesh: dropping config envelope without payload")
		return nil
	}
	snap := config.SnapshotFromConfiguration(env.Config, c.sessionID)
	return c.adapter.ApplyMergedSnapshot(snap, env.TimestampMs)
}

func (c *Client) handleSyncEnvelope(ctx context.Context, env *Envelope) error {
	valid, err := c.gateway.IsValidSyncMessage(env)
	if err != nil {
		return err
	}
	if !valid {
		logf(c.logger, "sesh: dropping sync message from unlinked device %s", env.Source)
		return nil
	}
	if c.gateway.IsDuplicate(env.TimestampMs, env.Source) {
		return nil
	}
	dm := env.Data
	if dm == nil {
		return nil
	}

	if dm.Profile != nil {
		if err := c.gateway.PropagateProfileIfFromMaster(dm, env); err != nil {
			return err
		}
	}
	if len(dm.Contacts) > 0 {
		if err := c.gateway.HandleContactSync(ctx, dm.Contacts, env); err != nil {
			return err
		}
	}
	if len(dm.ClosedGroups) > 0 {
		if err := c.gateway.HandleClosedGroupSync(ctx, dm.ClosedGroups, env); err != nil {
			return err
		}
	}
	if len(dm.OpenGroups) > 0 {
		if err := c.gateway.HandleOpenGroupSync(dm.OpenGroups, env); err != nil {
			return err
		}
	}
	return nil
}

// handleDataEnvelope stores an incoming user message and queues
// downloads for its attachment pointers.
func (c *Client) handleDataEnvelope(env *Envelope) error {
	dm := env.Data
	if dm == nil {
		return nil
	}
	variant := store.MessageStandard
	if dm.FriendRequest {
		variant = store.MessageFriendRequest
		if err := c.recordFriendRequest(env.Source); err != nil {
			return err
		}
	}
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: env.Source,
		Body:           dm.Body,
		TimestampMs:    env.TimestampMs,
		Variant:        variant,
	}
	if err := c.store.SaveMessage(msg); err != nil {
		return err
	}
	for _, ptr := range dm.Attachments {
		att := &store.Attachment{
			ID:        uuid.NewString(),
			MessageID: msg.ID,
			URL:       ptr.URL,
			Key:       ptr.Key,
			Digest:    ptr.Digest,
		}
		if err := c.store.SaveAttachment(att); err != nil {
			return err
		}
		if err := c.pipeline.EnqueueAttachmentDownload(att.ID, msg.ID); err != nil {
			return err
		}
	}
	return nil
}

// recordFriendRequest marks the sender's contact as having an incoming
// friend request, so a later contact sync naming them accepts it. A
// request already sent or settled is left alone.
func (c *Client) recordFriendRequest(sessionID string) error {
	contact, err := c.store.GetContact(sessionID)
	if err != nil {
		return err
	}
	if contact == nil {
		contact = &store.Contact{SessionID: sessionID}
	}
	if contact.FriendRequestStatus != store.FriendRequestNone {
		return nil
	}
	contact.FriendRequestStatus = store.FriendRequestReceived
	return c.store.SaveContact(contact)
}

// HandleGroupUpdate replays a decoded closed-group membership or name
// change. The envelope carries the claimed sender for the master gate.
func (c *Client) HandleGroupUpdate(ctx context.Context, update *protocol.GroupUpdate, env *Envelope) error {
	return c.gateway.HandleClosedGroupUpdate(ctx, update, env)
}

// HandleGroupQuit replays a closed-group departure by the named member.
func (c *Client) HandleGroupQuit(groupID, member string, env *Envelope) error {
	return c.gateway.HandleClosedGroupQuit(groupID, member, env)
}

// Receive connects to the swarm WebSocket and yields inbound envelopes,
// handling each one before yielding it. The iterator ends when ctx is
// cancelled.
func (c *Client) Receive(ctx context.Context) iter.Seq2[*Envelope, error] {
	return func(yield func(*Envelope, error) bool) {
		conn, err := transport.DialWS(ctx, c.wsURL, c.tlsConfig,
			transport.WithWSLogger(c.logger))
		if err != nil {
			yield(nil, err)
			return
		}
		defer conn.Close()

		for env, err := range conn.Envelopes(ctx) {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if herr := c.HandleEnvelope(ctx, env); herr != nil {
				logf(c.logger, "sesh: handle envelope from %s: %v", env.Source, herr)
			}
			if !yield(env, nil) {
				return
			}
		}
	}
}

// logf logs a message if the logger is non-nil.
func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
