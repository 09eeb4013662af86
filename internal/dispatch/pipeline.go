// Package dispatch is the durable outbound message and attachment
// substrate: send paths, the persisted job queue, and retry
// classification. Network I/O always happens outside storage
// transactions — transactions hold only the before/after state changes.
package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sesh-im/sesh-go/internal/attachcrypto"
	"github.com/sesh-im/sesh-go/internal/protocol"
	"github.com/sesh-im/sesh-go/internal/store"
	"github.com/sesh-im/sesh-go/internal/transport"
)

// CommunityResolver returns the client for a community server.
type CommunityResolver func(server string) transport.Community

// ConfigurationSource assembles the account's current configuration
// message. When a pipeline has one, configuration syncs carry the full
// projection instead of a bare profile.
type ConfigurationSource interface {
	ProjectConfiguration() (*protocol.ConfigurationMessage, error)
}

// Pipeline is the common send/receive substrate of the core.
type Pipeline struct {
	store      *store.Store
	fileServer transport.FileServer
	community  CommunityResolver
	sender     transport.MessageSender
	configSrc  ConfigurationSource
	queue      *Queue
	sessionID  string // the account's own public identifier
	dataDir    string // permanent attachment streams live here
	logger     *log.Logger
}

// Config holds the collaborators a Pipeline needs.
type Config struct {
	Store      *store.Store
	FileServer transport.FileServer
	Community  CommunityResolver
	Sender     transport.MessageSender
	ConfigSrc  ConfigurationSource
	SessionID  string
	DataDir    string
	Logger     *log.Logger
}

// NewPipeline creates a dispatch pipeline and its job queue. Call
// (*Pipeline).Queue().Start to begin draining persisted jobs.
func NewPipeline(cfg Config) *Pipeline {
	p := &Pipeline{
		store:      cfg.Store,
		fileServer: cfg.FileServer,
		community:  cfg.Community,
		sender:     cfg.Sender,
		configSrc:  cfg.ConfigSrc,
		sessionID:  cfg.SessionID,
		dataDir:    cfg.DataDir,
		logger:     cfg.Logger,
	}
	p.queue = newQueue(cfg.Store, p, cfg.Logger)
	return p
}

// Queue returns the pipeline's job queue.
func (p *Pipeline) Queue() *Queue {
	return p.queue
}

// SendDurably stamps the message with its destination and enqueues a
// send job in one storage transaction: a message is never stamped
// without being queued, and never queued without being stamped.
func (p *Pipeline) SendDurably(msg *store.Message, destination string) error {
	body, err := encodeJobBody(&sendJobBody{
		SchemaVersion: jobSchemaVersion,
		MessageID:     msg.ID,
		Destination:   destination,
	})
	if err != nil {
		return err
	}

	msg.ConversationID = destination
	msg.IsOutgoing = true

	err = p.store.WithTx(func(tx *sql.Tx) error {
		if err := p.store.SaveMessageTx(tx, msg); err != nil {
			return err
		}
		return p.store.InsertJobTx(tx, &store.JobRecord{
			ID:   uuid.NewString(),
			Kind: KindSend,
			Body: body,
		})
	})
	if err != nil {
		return fmt.Errorf("dispatch: send durably: %w", err)
	}

	p.queue.Notify()
	return nil
}

// SendNonDurably uploads any pending attachments concurrently, waits for
// all of them to settle, and only then transmits the message body. If
// any upload failed the whole send fails with the first error and the
// body is never transmitted.
func (p *Pipeline) SendNonDurably(ctx context.Context, msg *store.Message, attachments []*store.Attachment, destination string) error {
	var pending []*store.Attachment
	for _, att := range attachments {
		if !att.IsUploaded() {
			pending = append(pending, att)
		}
	}

	if len(pending) > 0 {
		conv, err := p.store.GetConversation(destination)
		if err != nil {
			return fmt.Errorf("dispatch: load destination: %w", err)
		}

		// Fan out and join: waiting for every upload to settle avoids
		// orphaned in-flight uploads when one of them fails early.
		errs := make([]error, len(pending))
		var wg sync.WaitGroup
		for i, att := range pending {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = p.uploadAttachment(ctx, att, conv)
			}()
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return fmt.Errorf("dispatch: upload attachment: %w", err)
			}
		}
	}

	env := p.envelopeFor(msg, attachments)
	if err := p.sender.Send(ctx, env, destination); err != nil {
		return fmt.Errorf("dispatch: transmit: %w", err)
	}
	return nil
}

// uploadAttachment routes one upload: community-bound conversations get
// plaintext via the community endpoint, everything else is encrypted
// and pushed to the default file server. The updated pointer is persisted.
func (p *Pipeline) uploadAttachment(ctx context.Context, att *store.Attachment, conv *store.Conversation) error {
	data, err := p.readAttachmentStream(att)
	if err != nil {
		return err
	}

	if err := p.store.SetAttachmentState(att.ID, store.AttachmentTransferring); err != nil {
		return err
	}

	var url string
	if conv != nil && conv.IsCommunity() {
		url, err = p.community(conv.CommunityServer).Upload(ctx, conv.CommunityRoom, data)
		if err != nil {
			p.markAttachmentFailure(att.ID, err)
			return err
		}
		att.Key = nil
		att.Digest = nil
	} else {
		key, err := attachcrypto.GenerateKey()
		if err != nil {
			return permanent(err)
		}
		ciphertext, digest, err := attachcrypto.Encrypt(data, key)
		if err != nil {
			return permanent(err)
		}
		url, err = p.fileServer.Upload(ctx, ciphertext)
		if err != nil {
			p.markAttachmentFailure(att.ID, err)
			return err
		}
		att.Key = key
		att.Digest = digest
	}

	att.URL = url
	att.State = store.AttachmentSucceeded
	return p.store.SaveAttachment(att)
}

// SyncResult distinguishes how a configuration sync settled.
type SyncResult int

const (
	// SyncQueued means a durable job guarantees eventual delivery.
	SyncQueued SyncResult = iota
	// SyncDelivered means a forced sync reached the swarm.
	SyncDelivered
	// SyncBestEffortFailed means a forced sync failed and the failure was
	// deliberately swallowed: remote copies are refreshed often enough
	// that one missed push stays within the tolerated staleness window.
	SyncBestEffortFailed
)

// SyncConfiguration pushes a self-addressed configuration message. When
// forceNow is set it is sent immediately and failure is absorbed into
// the result; otherwise a durable job guarantees delivery with the
// configuration rebuilt at send time.
func (p *Pipeline) SyncConfiguration(ctx context.Context, forceNow bool) (SyncResult, error) {
	if forceNow {
		if err := p.sendConfiguration(ctx); err != nil {
			logf(p.logger, "dispatch: forced configuration sync failed (tolerated): %v", err)
			return SyncBestEffortFailed, nil
		}
		return SyncDelivered, nil
	}

	body, err := encodeJobBody(&configSyncJobBody{SchemaVersion: jobSchemaVersion})
	if err != nil {
		return 0, err
	}
	if err := p.store.InsertJob(&store.JobRecord{
		ID:   uuid.NewString(),
		Kind: KindConfigSync,
		Body: body,
	}); err != nil {
		return 0, fmt.Errorf("dispatch: queue configuration sync: %w", err)
	}
	p.queue.Notify()
	return SyncQueued, nil
}

// sendConfiguration builds the current configuration message and pushes
// it to the account's own swarm.
func (p *Pipeline) sendConfiguration(ctx context.Context) error {
	var cfg *protocol.ConfigurationMessage
	if p.configSrc != nil {
		var err error
		cfg, err = p.configSrc.ProjectConfiguration()
		if err != nil {
			return err
		}
	} else {
		profile, err := p.store.LoadProfile()
		if err != nil {
			return err
		}
		cfg = &protocol.ConfigurationMessage{}
		if profile != nil {
			cfg.DisplayName = profile.Name
			cfg.ProfilePicURL = profile.PicURL
			cfg.ProfileKey = profile.PicKey
		}
	}

	env := &protocol.Envelope{
		Type:        protocol.EnvelopeConfig,
		Source:      p.sessionID,
		TimestampMs: uint64(time.Now().UnixMilli()),
		Config:      cfg,
	}
	return p.sender.Send(ctx, env, p.sessionID)
}

// runConfigSyncJob replays a queued configuration sync against current
// state.
func (p *Pipeline) runConfigSyncJob(ctx context.Context, rec *store.JobRecord) error {
	if _, err := decodeConfigSyncJob(rec); err != nil {
		return err
	}
	return p.sendConfiguration(ctx)
}

// envelopeFor builds the outbound envelope for a message and its
// uploaded attachment pointers.
func (p *Pipeline) envelopeFor(msg *store.Message, attachments []*store.Attachment) *protocol.Envelope {
	dm := &protocol.DataMessage{
		Body:          msg.Body,
		FriendRequest: msg.Variant == store.MessageFriendRequest,
	}
	for _, att := range attachments {
		dm.Attachments = append(dm.Attachments, protocol.AttachmentPointer{
			URL:    att.URL,
			Key:    att.Key,
			Digest: att.Digest,
		})
	}
	return &protocol.Envelope{
		Type:        protocol.EnvelopeData,
		Source:      p.sessionID,
		TimestampMs: msg.TimestampMs,
		Data:        dm,
	}
}

// markAttachmentFailure records the failure state matching the error's
// retry classification. Best effort; the job outcome carries the error.
func (p *Pipeline) markAttachmentFailure(attachmentID string, err error) {
	state := store.AttachmentFailed
	if isPermanent(err) {
		state = store.AttachmentPermanentlyFailed
	}
	if serr := p.store.SetAttachmentState(attachmentID, state); serr != nil {
		logf(p.logger, "dispatch: mark attachment %s failed: %v", attachmentID, serr)
	}
}

// logf logs a formatted message if the logger is non-nil.
func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
