package store

import (
	"database/sql"
	"fmt"
)

// LinkedDevice is one entry of the account's legacy multi-device set.
type LinkedDevice struct {
	DeviceID string
	IsMaster bool
}

// SetLinkedDevices replaces the linked device set.
func (s *Store) SetLinkedDevices(devices []LinkedDevice) error {
	return s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM linked_device"); err != nil {
			return fmt.Errorf("store: delete linked devices: %w", err)
		}
		stmt, err := tx.Prepare("INSERT INTO linked_device (device_id, is_master) VALUES (?, ?)")
		if err != nil {
			return fmt.Errorf("store: prepare: %w", err)
		}
		defer stmt.Close()

		for _, d := range devices {
			if _, err := stmt.Exec(d.DeviceID, boolToInt(d.IsMaster)); err != nil {
				return fmt.Errorf("store: insert linked device %q: %w", d.DeviceID, err)
			}
		}
		return nil
	})
}

// IsLinkedDevice reports whether deviceID is in the linked device set.
func (s *Store) IsLinkedDevice(deviceID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM linked_device WHERE device_id = ?", deviceID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: is linked device: %w", err)
	}
	return n > 0, nil
}

// MasterDevice returns the designated master device ID, or "" if none is
// recorded.
func (s *Store) MasterDevice() (string, error) {
	var id string
	err := s.db.QueryRow(
		"SELECT device_id FROM linked_device WHERE is_master = 1 LIMIT 1",
	).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("store: master device: %w", err)
	}
	return id, nil
}
