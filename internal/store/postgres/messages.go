package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/mailmind/internal/domain"
)

// UpsertMessage inserts a message if it is new. Messages are immutable, so
// a conflicting (account_id, external_id) insert is a no-op: the message is
// either fully upserted or not at all.
func (s *Store) UpsertMessage(ctx context.Context, m domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intel_messages (
			id, account_id, external_id, thread_id, direction,
			sender, to_addrs, cc_addrs, bcc_addrs, subject, body, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account_id, external_id) DO NOTHING
	`, m.ID, m.AccountID, m.ExternalID, m.ThreadID, m.Direction,
		m.Sender, pq.Array(m.To), pq.Array(m.Cc), pq.Array(m.Bcc),
		m.Subject, m.Body, m.SentAt)
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ExternalID, err)
	}
	return nil
}

// MessageFilter narrows GetMessages. Zero values mean "no constraint".
type MessageFilter struct {
	ContactEmail string
	Direction    domain.Direction
	Since        time.Time
	Until        time.Time
	Limit        int
}

// GetMessages returns messages for an account ordered by timestamp ascending.
// When ContactEmail is set, only messages touching that address are returned.
func (s *Store) GetMessages(ctx context.Context, accountID string, f MessageFilter) ([]domain.Message, error) {
	query := `
		SELECT id, account_id, external_id, thread_id, direction,
		       sender, to_addrs, cc_addrs, bcc_addrs, subject, body, sent_at
		FROM intel_messages
		WHERE account_id = $1`
	args := []interface{}{accountID}

	if f.ContactEmail != "" {
		args = append(args, f.ContactEmail)
		query += fmt.Sprintf(` AND (sender = $%d OR $%d = ANY(to_addrs) OR $%d = ANY(cc_addrs) OR $%d = ANY(bcc_addrs))`,
			len(args), len(args), len(args), len(args))
	}
	if f.Direction != "" {
		args = append(args, string(f.Direction))
		query += fmt.Sprintf(` AND direction = $%d`, len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(` AND sent_at >= $%d`, len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		query += fmt.Sprintf(` AND sent_at < $%d`, len(args))
	}
	query += ` ORDER BY sent_at ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.AccountID, &m.ExternalID, &m.ThreadID, &m.Direction,
			&m.Sender, pq.Array(&m.To), pq.Array(&m.Cc), pq.Array(&m.Bcc),
			&m.Subject, &m.Body, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessages returns the total message count for an account.
func (s *Store) CountMessages(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM intel_messages WHERE account_id = $1`, accountID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// CountInboundFrom reports how many inbound messages the account has received
// from the given address. The extractor uses this to tell tier1 from tier2.
func (s *Store) CountInboundFrom(ctx context.Context, accountID, address string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM intel_messages
		WHERE account_id = $1 AND direction = 'inbound' AND sender = $2
	`, accountID, address).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count inbound from: %w", err)
	}
	return n, nil
}
