package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/everhouse/clubsync/internal/model"
	"github.com/everhouse/clubsync/internal/util"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database with typed queries for the replica schema.
type Store struct {
	db *sql.DB
}

// New creates a Store over an opened database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Snapshot is a persisted resource payload with its fetch metadata.
type Snapshot struct {
	Key       string
	Data      []byte
	ETag      string
	UpdatedAt time.Time
}

// GetSnapshot returns the persisted snapshot for a resource key.
func (s *Store) GetSnapshot(ctx context.Context, key string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, data, etag, updated_at FROM resource_cache WHERE key = ?`, key)

	var snap Snapshot
	if err := row.Scan(&snap.Key, &snap.Data, &snap.ETag, &snap.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting snapshot %q: %w", key, err)
	}
	return &snap, nil
}

// PutSnapshot inserts or replaces the snapshot for a resource key.
func (s *Store) PutSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resource_cache (key, data, etag, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, etag = excluded.etag, updated_at = excluded.updated_at`,
		snap.Key, snap.Data, snap.ETag, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("putting snapshot %q: %w", snap.Key, err)
	}
	return nil
}

// DeleteSnapshot removes a persisted resource snapshot.
func (s *Store) DeleteSnapshot(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resource_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting snapshot %q: %w", key, err)
	}
	return nil
}

// GetIdentity returns the last persisted authenticated identity, bridging
// restarts until the session probe completes.
func (s *Store) GetIdentity(ctx context.Context) (*model.MemberProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT profile FROM identity_cache WHERE id = 1`)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting identity: %w", err)
	}

	var profile model.MemberProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("decoding identity: %w", err)
	}
	return &profile, nil
}

// PutIdentity persists the authoritative identity, replacing any previous one.
func (s *Store) PutIdentity(ctx context.Context, profile *model.MemberProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encoding identity: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identity_cache (id, email, profile, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET email = excluded.email, profile = excluded.profile, updated_at = excluded.updated_at`,
		util.CanonicalEmail(profile.Email), raw, time.Now())
	if err != nil {
		return fmt.Errorf("putting identity: %w", err)
	}
	return nil
}

// ClearIdentity removes the persisted identity.
func (s *Store) ClearIdentity(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identity_cache WHERE id = 1`); err != nil {
		return fmt.Errorf("clearing identity: %w", err)
	}
	return nil
}

// DismissedNotices returns the dismissed announcement ids for a member email.
func (s *Store) DismissedNotices(ctx context.Context, email string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT notice_id FROM dismissed_notices WHERE email = ? ORDER BY dismissed_at`,
		util.CanonicalEmail(email))
	if err != nil {
		return nil, fmt.Errorf("listing dismissed notices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning dismissed notice: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddDismissedNotice records a dismissed announcement id for a member.
// Duplicate dismissals are silently absorbed.
func (s *Store) AddDismissedNotice(ctx context.Context, email, noticeID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dismissed_notices (email, notice_id, dismissed_at) VALUES (?, ?, ?)
		 ON CONFLICT (email, notice_id) DO NOTHING`,
		util.CanonicalEmail(email), noticeID, time.Now())
	if err != nil {
		return fmt.Errorf("adding dismissed notice: %w", err)
	}
	return nil
}

// ReplaceDismissedNotices overwrites a member's dismissed set with the
// server's authoritative list.
func (s *Store) ReplaceDismissedNotices(ctx context.Context, email string, ids []string) error {
	canonical := util.CanonicalEmail(email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replacing dismissed notices: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dismissed_notices WHERE email = ?`, canonical); err != nil {
		return fmt.Errorf("replacing dismissed notices: %w", err)
	}

	now := time.Now()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dismissed_notices (email, notice_id, dismissed_at) VALUES (?, ?, ?)`,
			canonical, id, now); err != nil {
			return fmt.Errorf("replacing dismissed notices: %w", err)
		}
	}

	return tx.Commit()
}

// LogEvent appends an entry to the local event log.
func (s *Store) LogEvent(ctx context.Context, level, message, metadata string) error {
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log (level, message, metadata, created_at) VALUES (?, ?, ?, ?)`,
		level, message, metadata, time.Now())
	if err != nil {
		return fmt.Errorf("logging event: %w", err)
	}
	return nil
}

// PruneEventLog deletes log entries older than the cutoff.
func (s *Store) PruneEventLog(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM event_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning event log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
