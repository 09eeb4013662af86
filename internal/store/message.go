package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Message variants.
type MessageVariant int

const (
	MessageStandard MessageVariant = iota
	MessageInfo                    // synthetic informational message (group change, departure)
	MessageFriendRequest           // transient control message, removed once settled
)

// Message is one stored message row. Only the fields the core needs are
// modeled; rendering state lives elsewhere.
type Message struct {
	ID             string
	ConversationID string
	Body           string
	TimestampMs    uint64
	IsOutgoing     bool
	Variant        MessageVariant
}

// SaveMessage upserts a message row.
func (s *Store) SaveMessage(m *Message) error {
	return saveMessage(s.db, m)
}

// SaveMessageTx upserts a message row inside an existing transaction.
func (s *Store) SaveMessageTx(tx *sql.Tx, m *Message) error {
	return saveMessage(tx, m)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func saveMessage(db execer, m *Message) error {
	ts := m.TimestampMs
	if ts == 0 {
		ts = uint64(time.Now().UnixMilli())
	}
	_, err := db.Exec(
		`INSERT OR REPLACE INTO message (id, conversation_id, body, timestamp_ms, is_outgoing, variant)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Body, ts, boolToInt(m.IsOutgoing), int(m.Variant),
	)
	if err != nil {
		return fmt.Errorf("store: save message: %w", err)
	}
	return nil
}

// GetMessage returns a message by ID, or nil if not found.
func (s *Store) GetMessage(id string) (*Message, error) {
	var m Message
	var outgoing, variant int
	err := s.db.QueryRow(
		"SELECT id, conversation_id, body, timestamp_ms, is_outgoing, variant FROM message WHERE id = ?",
		id,
	).Scan(&m.ID, &m.ConversationID, &m.Body, &m.TimestampMs, &outgoing, &variant)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get message: %w", err)
	}
	m.IsOutgoing = outgoing != 0
	m.Variant = MessageVariant(variant)
	return &m, nil
}

// MessagesForConversation returns a conversation's messages in timestamp
// order.
func (s *Store) MessagesForConversation(conversationID string) ([]*Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, body, timestamp_ms, is_outgoing, variant
		 FROM message WHERE conversation_id = ? ORDER BY timestamp_ms, id`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: messages for conversation: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		var outgoing, variant int
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Body, &m.TimestampMs, &outgoing, &variant); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.IsOutgoing = outgoing != 0
		m.Variant = MessageVariant(variant)
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}
	return msgs, nil
}

// DeleteMessage removes a message row. Used for transient control
// messages (friend requests) once they settle.
func (s *Store) DeleteMessage(id string) error {
	_, err := s.db.Exec("DELETE FROM message WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: delete message: %w", err)
	}
	return nil
}

// PurgeConversationContent deletes all messages and attachment rows of a
// conversation while retaining the conversation record as a tombstone.
func (s *Store) PurgeConversationContent(conversationID string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`DELETE FROM attachment WHERE message_id IN
			 (SELECT id FROM message WHERE conversation_id = ?)`, conversationID,
		); err != nil {
			return fmt.Errorf("store: purge attachments: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM message WHERE conversation_id = ?", conversationID); err != nil {
			return fmt.Errorf("store: purge messages: %w", err)
		}
		return nil
	})
}

// Attachment transfer states.
type AttachmentState int

const (
	AttachmentPending AttachmentState = iota
	AttachmentTransferring
	AttachmentSucceeded
	AttachmentFailed
	AttachmentPermanentlyFailed
)

// Attachment is a stored attachment record. LocalPath is empty until the
// stream has been materialized on disk; URL is empty until uploaded.
type Attachment struct {
	ID        string
	MessageID string
	State     AttachmentState
	URL       string
	Key       []byte
	Digest    []byte
	LocalPath string
}

// IsUploaded reports whether the attachment already has a remote pointer.
func (a *Attachment) IsUploaded() bool {
	return a.URL != ""
}

// IsDownloaded reports whether the attachment stream is materialized locally.
func (a *Attachment) IsDownloaded() bool {
	return a.LocalPath != "" && a.State == AttachmentSucceeded
}

// SaveAttachment upserts an attachment record.
func (s *Store) SaveAttachment(a *Attachment) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO attachment (id, message_id, state, url, key, digest, local_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.MessageID, int(a.State), a.URL, a.Key, a.Digest, a.LocalPath,
	)
	if err != nil {
		return fmt.Errorf("store: save attachment: %w", err)
	}
	return nil
}

// GetAttachment returns an attachment by ID, or nil if not found.
func (s *Store) GetAttachment(id string) (*Attachment, error) {
	var a Attachment
	var state int
	err := s.db.QueryRow(
		"SELECT id, message_id, state, url, key, digest, local_path FROM attachment WHERE id = ?",
		id,
	).Scan(&a.ID, &a.MessageID, &state, &a.URL, &a.Key, &a.Digest, &a.LocalPath)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get attachment: %w", err)
	}
	a.State = AttachmentState(state)
	return &a, nil
}

// AttachmentsForMessage returns all attachment records referencing a message.
func (s *Store) AttachmentsForMessage(messageID string) ([]*Attachment, error) {
	rows, err := s.db.Query(
		"SELECT id, message_id, state, url, key, digest, local_path FROM attachment WHERE message_id = ?",
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: attachments for message: %w", err)
	}
	defer rows.Close()

	var atts []*Attachment
	for rows.Next() {
		var a Attachment
		var state int
		if err := rows.Scan(&a.ID, &a.MessageID, &state, &a.URL, &a.Key, &a.Digest, &a.LocalPath); err != nil {
			return nil, fmt.Errorf("store: scan attachment: %w", err)
		}
		a.State = AttachmentState(state)
		atts = append(atts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate attachments: %w", err)
	}
	return atts, nil
}

// SetAttachmentState writes only the transfer state.
func (s *Store) SetAttachmentState(id string, state AttachmentState) error {
	_, err := s.db.Exec("UPDATE attachment SET state = ? WHERE id = ?", int(state), id)
	if err != nil {
		return fmt.Errorf("store: set attachment state: %w", err)
	}
	return nil
}
