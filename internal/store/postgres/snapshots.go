package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/mailmind/internal/domain"
)

// PutSnapshot persists an organized snapshot and prunes history beyond
// retain. Snapshots are append-only per id; retention keeps the last N for
// diffing and rollback.
func (s *Store) PutSnapshot(ctx context.Context, snap *domain.OrganizedSnapshot, retain int) error {
	if err := insertSnapshot(ctx, s.db, snap); err != nil {
		return err
	}
	if retain > 0 {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM intel_snapshots
			WHERE account_id = $1 AND id NOT IN (
				SELECT id FROM intel_snapshots
				WHERE account_id = $1
				ORDER BY generated_at DESC LIMIT $2
			) AND id NOT IN (SELECT snapshot_id FROM intel_trees WHERE account_id = $1)
		`, snap.AccountID, retain)
		if err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertSnapshot(ctx context.Context, ex execer, snap *domain.OrganizedSnapshot) error {
	topics, err := json.Marshal(snap.Topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	contactTopics, _ := json.Marshal(snap.ContactTopics)
	topicContacts, _ := json.Marshal(snap.TopicContacts)

	_, err = ex.ExecContext(ctx, `
		INSERT INTO intel_snapshots (
			id, account_id, generated_at, message_count, max_timestamp,
			topics, contact_topics, topic_contacts, fingerprint
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, snap.ID, snap.AccountID, snap.GeneratedAt, snap.MessageCount, snap.MaxTimestamp,
		topics, contactTopics, topicContacts, snap.Fingerprint)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// GetLatestSnapshot returns the most recent snapshot for an account, or
// ErrNotFound when none exists yet.
func (s *Store) GetLatestSnapshot(ctx context.Context, accountID string) (*domain.OrganizedSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, generated_at, message_count, max_timestamp,
		       topics, contact_topics, topic_contacts, fingerprint
		FROM intel_snapshots
		WHERE account_id = $1
		ORDER BY generated_at DESC
		LIMIT 1
	`, accountID)
	return scanSnapshot(row)
}

// GetSnapshot returns one snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, accountID, id string) (*domain.OrganizedSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, generated_at, message_count, max_timestamp,
		       topics, contact_topics, topic_contacts, fingerprint
		FROM intel_snapshots
		WHERE account_id = $1 AND id = $2
	`, accountID, id)
	return scanSnapshot(row)
}

func scanSnapshot(row *sql.Row) (*domain.OrganizedSnapshot, error) {
	var snap domain.OrganizedSnapshot
	var topics, contactTopics, topicContacts []byte
	err := row.Scan(&snap.ID, &snap.AccountID, &snap.GeneratedAt, &snap.MessageCount,
		&snap.MaxTimestamp, &topics, &contactTopics, &topicContacts, &snap.Fingerprint)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if err := json.Unmarshal(topics, &snap.Topics); err != nil {
		return nil, fmt.Errorf("unmarshal topics: %w", err)
	}
	json.Unmarshal(contactTopics, &snap.ContactTopics)
	json.Unmarshal(topicContacts, &snap.TopicContacts)
	return &snap, nil
}
