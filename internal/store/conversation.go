package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Conversation kinds.
type ConversationKind int

const (
	ConversationContact ConversationKind = iota
	ConversationClosedGroup
	ConversationCommunity
)

// Conversation holds per-thread visibility and pinning state.
// Derived rule: PinnedPriority < 0 means hidden, >= 0 visible.
type Conversation struct {
	SessionID       string
	Kind            ConversationKind
	Name            string
	ShouldBeVisible bool
	PinnedPriority  int32
	CommunityServer string
	CommunityRoom   string
	CreatedAt       time.Time
}

// IsCommunity reports whether the conversation is bound to a community
// (shared group server); attachments for such conversations travel as
// plaintext through the community's own endpoints.
func (c *Conversation) IsCommunity() bool {
	return c.Kind == ConversationCommunity
}

// SaveConversation upserts a conversation record.
func (s *Store) SaveConversation(c *Conversation) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO conversation
		 (session_id, kind, name, should_be_visible, pinned_priority, community_server, community_room, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, int(c.Kind), c.Name, boolToInt(c.ShouldBeVisible), c.PinnedPriority,
		c.CommunityServer, c.CommunityRoom, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation for the given session ID, or
// nil if not found.
func (s *Store) GetConversation(sessionID string) (*Conversation, error) {
	var c Conversation
	var kind, visible int
	var createdAt int64
	err := s.db.QueryRow(
		`SELECT session_id, kind, name, should_be_visible, pinned_priority, community_server, community_room, created_at
		 FROM conversation WHERE session_id = ?`, sessionID,
	).Scan(&c.SessionID, &kind, &c.Name, &visible, &c.PinnedPriority,
		&c.CommunityServer, &c.CommunityRoom, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	c.Kind = ConversationKind(kind)
	c.ShouldBeVisible = visible != 0
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}

// UpdateConversationVisibility writes only the visibility flag.
func (s *Store) UpdateConversationVisibility(sessionID string, visible bool) error {
	_, err := s.db.Exec(
		"UPDATE conversation SET should_be_visible = ? WHERE session_id = ?",
		boolToInt(visible), sessionID,
	)
	if err != nil {
		return fmt.Errorf("store: update visibility: %w", err)
	}
	return nil
}

// UpdateConversationPriority writes only the pinned priority.
func (s *Store) UpdateConversationPriority(sessionID string, priority int32) error {
	_, err := s.db.Exec(
		"UPDATE conversation SET pinned_priority = ? WHERE session_id = ?",
		priority, sessionID,
	)
	if err != nil {
		return fmt.Errorf("store: update priority: %w", err)
	}
	return nil
}

// Disappearing-message types.
type DisappearType int

const (
	DisappearAfterSend DisappearType = iota
	DisappearAfterRead
)

// DisappearingConfig is a conversation's disappearing-message setting.
// LastChangeMs strictly increases on every accepted change.
type DisappearingConfig struct {
	ConversationID  string
	IsEnabled       bool
	DurationSeconds uint32
	Type            DisappearType
	LastChangeMs    uint64
}

// GetDisappearingConfig returns the stored config for a conversation, or
// nil if none has been set.
func (s *Store) GetDisappearingConfig(conversationID string) (*DisappearingConfig, error) {
	var c DisappearingConfig
	var enabled, typ int
	err := s.db.QueryRow(
		`SELECT conversation_id, is_enabled, duration_seconds, type, last_change_ms
		 FROM disappearing_config WHERE conversation_id = ?`, conversationID,
	).Scan(&c.ConversationID, &enabled, &c.DurationSeconds, &typ, &c.LastChangeMs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get disappearing config: %w", err)
	}
	c.IsEnabled = enabled != 0
	c.Type = DisappearType(typ)
	return &c, nil
}

// SetDisappearingConfig applies candidate using last-writer-wins: it is
// stored only if its LastChangeMs is strictly greater than the stored
// one. Ties favor existing state. Reports whether the candidate won.
func (s *Store) SetDisappearingConfig(candidate *DisappearingConfig) (bool, error) {
	stored, err := s.GetDisappearingConfig(candidate.ConversationID)
	if err != nil {
		return false, err
	}
	if stored != nil && candidate.LastChangeMs <= stored.LastChangeMs {
		return false, nil
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO disappearing_config
		 (conversation_id, is_enabled, duration_seconds, type, last_change_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		candidate.ConversationID, boolToInt(candidate.IsEnabled),
		candidate.DurationSeconds, int(candidate.Type), candidate.LastChangeMs,
	)
	if err != nil {
		return false, fmt.Errorf("store: set disappearing config: %w", err)
	}
	return true, nil
}
