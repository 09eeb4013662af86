package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ClosedGroup represents a legacy closed group stored locally.
type ClosedGroup struct {
	GroupID   string
	Name      string
	Members   []string
	UpdatedAt time.Time
}

// SaveClosedGroup stores or updates a closed group record.
func (s *Store) SaveClosedGroup(g *ClosedGroup) error {
	members, err := json.Marshal(g.Members)
	if err != nil {
		return fmt.Errorf("store: marshal members: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO closed_group (group_id, name, members, updated_at)
		 VALUES (?, ?, ?, ?)`,
		g.GroupID, g.Name, members, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save closed group: %w", err)
	}
	return nil
}

// GetClosedGroup retrieves a closed group by its group ID, or nil if not found.
func (s *Store) GetClosedGroup(groupID string) (*ClosedGroup, error) {
	var g ClosedGroup
	var members []byte
	var updatedAt int64
	err := s.db.QueryRow(
		"SELECT group_id, name, members, updated_at FROM closed_group WHERE group_id = ?",
		groupID,
	).Scan(&g.GroupID, &g.Name, &members, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get closed group: %w", err)
	}
	if err := json.Unmarshal(members, &g.Members); err != nil {
		return nil, fmt.Errorf("store: unmarshal members: %w", err)
	}
	g.UpdatedAt = time.Unix(updatedAt, 0)
	return &g, nil
}
