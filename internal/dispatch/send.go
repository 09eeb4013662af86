package dispatch

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/sesh-im/sesh-go/internal/store"
)

// runSendJob replays a durable send: load the stamped message, upload
// whatever attachments still lack pointers, then transmit. Each retry
// resumes where the last attempt stopped because uploaded pointers are
// persisted as they settle.
func (p *Pipeline) runSendJob(ctx context.Context, rec *store.JobRecord) error {
	body, err := decodeSendJob(rec)
	if err != nil {
		return err
	}

	msg, err := p.store.GetMessage(body.MessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		// The message was deleted while the job was queued. Nothing
		// left to send.
		return permanentf("dispatch: message %s no longer exists", body.MessageID)
	}

	attachments, err := p.store.AttachmentsForMessage(msg.ID)
	if err != nil {
		return err
	}

	return p.SendNonDurably(ctx, msg, attachments, body.Destination)
}

// readAttachmentStream loads the local bytes of an attachment that is
// about to be uploaded.
func (p *Pipeline) readAttachmentStream(att *store.Attachment) ([]byte, error) {
	if att.LocalPath == "" {
		return nil, ErrMissingAttachment
	}
	data, err := os.ReadFile(att.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissingAttachment
		}
		return nil, fmt.Errorf("dispatch: read attachment stream: %w", err)
	}
	return data, nil
}

// EnqueueAttachmentUpload persists an upload job for an attachment not
// yet carried by a send. Used when media is prepared ahead of the
// message that will reference it.
func (p *Pipeline) EnqueueAttachmentUpload(attachmentID, messageID string) error {
	return p.enqueueAttachmentJob(KindAttachmentUpload, attachmentID, messageID)
}

// EnqueueAttachmentDownload persists a download job for an incoming
// attachment pointer.
func (p *Pipeline) EnqueueAttachmentDownload(attachmentID, messageID string) error {
	return p.enqueueAttachmentJob(KindAttachmentDownload, attachmentID, messageID)
}

func (p *Pipeline) enqueueAttachmentJob(kind, attachmentID, messageID string) error {
	body, err := encodeJobBody(&attachmentJobBody{
		SchemaVersion: jobSchemaVersion,
		AttachmentID:  attachmentID,
		MessageID:     messageID,
	})
	if err != nil {
		return err
	}
	if err := p.store.InsertJob(&store.JobRecord{
		ID:   uuid.NewString(),
		Kind: kind,
		Body: body,
	}); err != nil {
		return fmt.Errorf("dispatch: enqueue %s: %w", kind, err)
	}
	p.queue.Notify()
	return nil
}
