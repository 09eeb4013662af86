package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sesh-im/sesh-go/internal/attachcrypto"
	"github.com/sesh-im/sesh-go/internal/store"
)

// runDownloadJob materializes an incoming attachment pointer into a
// local stream. A missing record or pointer is permanent and makes no
// network calls. The stream is written to a temp file first and renamed
// into place only when complete; the temp file never survives a failure.
func (p *Pipeline) runDownloadJob(ctx context.Context, rec *store.JobRecord) error {
	body, err := decodeAttachmentJob(rec)
	if err != nil {
		return err
	}

	att, err := p.store.GetAttachment(body.AttachmentID)
	if err != nil {
		return err
	}
	if att == nil {
		return ErrMissingAttachment
	}
	if att.IsDownloaded() {
		// A previous attempt finished after the job was re-queued.
		return nil
	}
	if att.URL == "" {
		p.markAttachmentFailure(att.ID, ErrMissingAttachment)
		return ErrMissingAttachment
	}

	if err := p.store.SetAttachmentState(att.ID, store.AttachmentTransferring); err != nil {
		return err
	}

	plaintext, err := p.fetchAttachment(ctx, att)
	if err != nil {
		p.markAttachmentFailure(att.ID, err)
		return err
	}

	path, err := p.writeAttachmentStream(att.ID, plaintext)
	if err != nil {
		p.markAttachmentFailure(att.ID, err)
		return err
	}

	att.LocalPath = path
	att.State = store.AttachmentSucceeded
	return p.store.SaveAttachment(att)
}

// fetchAttachment retrieves and, for non-community pointers, decrypts
// the attachment stream. Decryption failure is permanent: the stored
// key and digest will never start matching the remote blob.
func (p *Pipeline) fetchAttachment(ctx context.Context, att *store.Attachment) ([]byte, error) {
	conv, err := p.conversationForAttachment(att)
	if err != nil {
		return nil, err
	}

	if conv != nil && conv.IsCommunity() {
		data, err := p.community(conv.CommunityServer).Download(ctx, conv.CommunityRoom, att.URL)
		if err != nil {
			return nil, err
		}
		return data, nil
	}

	ciphertext, err := p.fileServer.Download(ctx, att.URL)
	if err != nil {
		return nil, err
	}
	plaintext, err := attachcrypto.Decrypt(ciphertext, att.Key, att.Digest)
	if err != nil {
		return nil, permanent(err)
	}
	return plaintext, nil
}

func (p *Pipeline) conversationForAttachment(att *store.Attachment) (*store.Conversation, error) {
	msg, err := p.store.GetMessage(att.MessageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	return p.store.GetConversation(msg.ConversationID)
}

// writeAttachmentStream persists plaintext under the data directory,
// via temp file and rename.
func (p *Pipeline) writeAttachmentStream(attachmentID string, plaintext []byte) (string, error) {
	dir := filepath.Join(p.dataDir, "attachments")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("dispatch: create attachment dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "stream-*")
	if err != nil {
		return "", fmt.Errorf("dispatch: create temp stream: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(plaintext); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("dispatch: write stream: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("dispatch: close stream: %w", err)
	}

	final := filepath.Join(dir, attachmentID)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("dispatch: finalize stream: %w", err)
	}
	return final, nil
}

// runUploadJob pushes a locally-prepared attachment and persists its
// pointer. Already-uploaded attachments succeed without network calls.
func (p *Pipeline) runUploadJob(ctx context.Context, rec *store.JobRecord) error {
	body, err := decodeAttachmentJob(rec)
	if err != nil {
		return err
	}

	att, err := p.store.GetAttachment(body.AttachmentID)
	if err != nil {
		return err
	}
	if att == nil {
		return ErrMissingAttachment
	}
	if att.IsUploaded() {
		return nil
	}

	conv, err := p.conversationForAttachment(att)
	if err != nil {
		return err
	}
	return p.uploadAttachment(ctx, att, conv)
}
