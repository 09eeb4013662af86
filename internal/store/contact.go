package store

import (
	"database/sql"
	"fmt"
)

// Friend-request states for the legacy multi-device contact replay.
type FriendRequestStatus int

const (
	FriendRequestNone FriendRequestStatus = iota
	FriendRequestSent
	FriendRequestReceived
	FriendRequestAccepted
)

// Contact represents a known account and its trust/approval flags.
type Contact struct {
	SessionID           string
	Name                string
	ProfileKey          []byte
	IsTrusted           bool
	IsApproved          bool
	DidApproveMe        bool
	FriendRequestStatus FriendRequestStatus
}

// SaveContact upserts a single contact.
func (s *Store) SaveContact(c *Contact) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO contact
		 (session_id, name, profile_key, is_trusted, is_approved, did_approve_me, friend_request_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Name, c.ProfileKey,
		boolToInt(c.IsTrusted), boolToInt(c.IsApproved), boolToInt(c.DidApproveMe),
		int(c.FriendRequestStatus),
	)
	if err != nil {
		return fmt.Errorf("store: save contact: %w", err)
	}
	return nil
}

// GetContact returns the contact for the given session ID, or nil if not found.
func (s *Store) GetContact(sessionID string) (*Contact, error) {
	var c Contact
	var trusted, approved, approvedMe, frStatus int
	err := s.db.QueryRow(
		`SELECT session_id, name, profile_key, is_trusted, is_approved, did_approve_me, friend_request_status
		 FROM contact WHERE session_id = ?`, sessionID,
	).Scan(&c.SessionID, &c.Name, &c.ProfileKey, &trusted, &approved, &approvedMe, &frStatus)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get contact: %w", err)
	}
	c.IsTrusted = trusted != 0
	c.IsApproved = approved != 0
	c.DidApproveMe = approvedMe != 0
	c.FriendRequestStatus = FriendRequestStatus(frStatus)
	return &c, nil
}

// EnsureSelfContact idempotently creates the account's own contact record
// and marks it trusted, approved and approved-by-peer. Guards against an
// inconsistent bootstrap state; existing name and profile key are kept.
func (s *Store) EnsureSelfContact(sessionID string) error {
	existing, err := s.GetContact(sessionID)
	if err != nil {
		return err
	}
	if existing != nil && existing.IsTrusted && existing.IsApproved && existing.DidApproveMe {
		return nil
	}
	c := &Contact{SessionID: sessionID}
	if existing != nil {
		c = existing
	}
	c.IsTrusted = true
	c.IsApproved = true
	c.DidApproveMe = true
	return s.SaveContact(c)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
