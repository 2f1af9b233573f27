package store

import (
	"database/sql"
	"fmt"

	"github.com/hiveplane/hiveplane/internal/models"
)

// A lock instance's database holds at most one lock row; the resource path is
// the actor key, stored redundantly for inspection.

// GetLockRow returns the stored lock row without expiry interpretation, or
// nil when the resource is unlocked. Expiry is the lock actor's concern.
func (s *Store) GetLockRow() (*models.Lock, error) {
	l := &models.Lock{}
	var resourceType, reason sql.NullString
	err := s.db.QueryRow(
		`SELECT resource_path, resource_type, locked_by, reason, locked_at, expires_at FROM lock LIMIT 1`,
	).Scan(&l.ResourcePath, &resourceType, &l.LockedBy, &reason, &l.LockedAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lock: %w", err)
	}
	l.ResourceType = resourceType.String
	l.Reason = reason.String
	return l, nil
}

// PutLockRow grants or renews the lock.
func (s *Store) PutLockRow(l models.Lock) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO lock (resource_path, resource_type, locked_by, reason, locked_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.ResourcePath, nullable(l.ResourceType), l.LockedBy, nullable(l.Reason), l.LockedAt, l.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("put lock: %w", err)
	}
	return nil
}

// DeleteLockRow releases the lock.
func (s *Store) DeleteLockRow() error {
	_, err := s.db.Exec(`DELETE FROM lock`)
	if err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}

// AppendLockEvent logs a release to the history, trimmed to limit entries.
func (s *Store) AppendLockEvent(owner, reason string, limit int) error {
	_, err := s.db.Exec(
		`INSERT INTO history (owner, reason, released_at) VALUES (?, ?, ?)`,
		owner, reason, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append lock event: %w", err)
	}
	_, err = s.db.Exec(
		`DELETE FROM history WHERE seq NOT IN (SELECT seq FROM history ORDER BY seq DESC LIMIT ?)`,
		limit,
	)
	if err != nil {
		return fmt.Errorf("trim lock history: %w", err)
	}
	return nil
}

// ListLockEvents returns the release history, most recent first.
func (s *Store) ListLockEvents() ([]models.LockEvent, error) {
	rows, err := s.db.Query(`SELECT owner, reason, released_at FROM history ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("query lock history: %w", err)
	}
	defer rows.Close()

	var events []models.LockEvent
	for rows.Next() {
		var e models.LockEvent
		if err := rows.Scan(&e.Owner, &e.Reason, &e.ReleasedAt); err != nil {
			return nil, fmt.Errorf("scan lock event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
