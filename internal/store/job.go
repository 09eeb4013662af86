package store

import (
	"database/sql"
	"fmt"
	"time"
)

// JobRecord is one persisted job-queue entry. The body is an opaque
// versioned encoding owned by the dispatch package; it must round-trip
// exactly across process restarts.
type JobRecord struct {
	ID           string
	Kind         string
	Body         []byte
	FailureCount uint32
	Deferred     bool
	CreatedAt    time.Time
}

// InsertJob persists a new job record.
func (s *Store) InsertJob(j *JobRecord) error {
	return insertJob(s.db, j)
}

// InsertJobTx persists a new job record inside an existing transaction.
// Used by durable sends to stamp the message and enqueue atomically.
func (s *Store) InsertJobTx(tx *sql.Tx, j *JobRecord) error {
	return insertJob(tx, j)
}

func insertJob(db execer, j *JobRecord) error {
	createdAt := j.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := db.Exec(
		`INSERT OR REPLACE INTO job (id, kind, body, failure_count, deferred, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		j.ID, j.Kind, j.Body, j.FailureCount, boolToInt(j.Deferred), createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: insert job: %w", err)
	}
	return nil
}

// DeleteJob removes a job record once it reaches a terminal state.
func (s *Store) DeleteJob(id string) error {
	_, err := s.db.Exec("DELETE FROM job WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: delete job: %w", err)
	}
	return nil
}

// SetJobFailureCount updates the failure counter of a job.
func (s *Store) SetJobFailureCount(id string, count uint32) error {
	_, err := s.db.Exec("UPDATE job SET failure_count = ? WHERE id = ?", count, id)
	if err != nil {
		return fmt.Errorf("store: set job failure count: %w", err)
	}
	return nil
}

// SetJobDeferred parks or resumes a job.
func (s *Store) SetJobDeferred(id string, deferred bool) error {
	_, err := s.db.Exec("UPDATE job SET deferred = ? WHERE id = ?", boolToInt(deferred), id)
	if err != nil {
		return fmt.Errorf("store: set job deferred: %w", err)
	}
	return nil
}

// PendingJobs returns all non-deferred jobs in insertion order.
func (s *Store) PendingJobs() ([]*JobRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, body, failure_count, deferred, created_at
		 FROM job WHERE deferred = 0 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		var j JobRecord
		var deferred int
		var createdAt int64
		if err := rows.Scan(&j.ID, &j.Kind, &j.Body, &j.FailureCount, &deferred, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		j.Deferred = deferred != 0
		j.CreatedAt = time.Unix(createdAt, 0)
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate jobs: %w", err)
	}
	return jobs, nil
}

// GetJob returns a job by ID, or nil if not found.
func (s *Store) GetJob(id string) (*JobRecord, error) {
	var j JobRecord
	var deferred int
	var createdAt int64
	err := s.db.QueryRow(
		"SELECT id, kind, body, failure_count, deferred, created_at FROM job WHERE id = ?", id,
	).Scan(&j.ID, &j.Kind, &j.Body, &j.FailureCount, &deferred, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	j.Deferred = deferred != 0
	j.CreatedAt = time.Unix(createdAt, 0)
	return &j, nil
}
