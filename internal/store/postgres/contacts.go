package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/mailmind/internal/domain"
)

// UpsertContact creates or refreshes a contact discovered by the extractor.
// Outbound count and tier reflect the latest scan; inbound count,
// relationship status, and engagement score are owned by the analyzer and
// left untouched on conflict.
func (s *Store) UpsertContact(ctx context.Context, c domain.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.StatusCold
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intel_contacts (
			id, account_id, email, display_name, domain,
			first_seen, last_seen, outbound_count, inbound_count,
			trust_tier, status, engagement_score, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (account_id, email) DO UPDATE SET
			display_name   = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE intel_contacts.display_name END,
			first_seen     = LEAST(intel_contacts.first_seen, EXCLUDED.first_seen),
			last_seen      = GREATEST(intel_contacts.last_seen, EXCLUDED.last_seen),
			outbound_count = EXCLUDED.outbound_count,
			trust_tier     = EXCLUDED.trust_tier,
			updated_at     = NOW()
	`, c.ID, c.AccountID, c.Email, c.DisplayName, c.Domain,
		c.FirstSeen, c.LastSeen, c.OutboundCount, c.InboundCount,
		c.TrustTier, c.Status, c.EngagementScore)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// ContactFilter narrows ListContacts.
type ContactFilter struct {
	Tiers    []domain.TrustTier
	Statuses []domain.RelationshipStatus
	Limit    int
	Offset   int
}

// ListContacts returns contacts ordered by engagement score descending,
// then email for a stable order.
func (s *Store) ListContacts(ctx context.Context, accountID string, f ContactFilter) ([]domain.Contact, error) {
	query := `
		SELECT id, account_id, email, display_name, domain,
		       first_seen, last_seen, outbound_count, inbound_count,
		       trust_tier, status, engagement_score,
		       enrichment, enrichment_status, last_ingested_at, created_at, updated_at
		FROM intel_contacts
		WHERE account_id = $1`
	args := []interface{}{accountID}

	if len(f.Tiers) > 0 {
		tiers := make([]string, len(f.Tiers))
		for i, t := range f.Tiers {
			tiers[i] = string(t)
		}
		args = append(args, pq.Array(tiers))
		query += fmt.Sprintf(` AND trust_tier = ANY($%d)`, len(args))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	query += ` ORDER BY engagement_score DESC, email ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetContact fetches one contact by address.
func (s *Store) GetContact(ctx context.Context, accountID, email string) (*domain.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, email, display_name, domain,
		       first_seen, last_seen, outbound_count, inbound_count,
		       trust_tier, status, engagement_score,
		       enrichment, enrichment_status, last_ingested_at, created_at, updated_at
		FROM intel_contacts
		WHERE account_id = $1 AND email = $2
	`, accountID, email)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateClassification writes the analyzer's verdict back on the contact.
// Message-derived counters are refreshed at the same time so the row always
// reflects the timeline the classification was computed from.
func (s *Store) UpdateClassification(ctx context.Context, accountID, email string,
	status domain.RelationshipStatus, score float64, outbound, inbound int, lastSeen time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE intel_contacts
		SET status = $3, engagement_score = $4,
		    outbound_count = $5, inbound_count = $6,
		    last_seen = GREATEST(last_seen, $7), updated_at = NOW()
		WHERE account_id = $1 AND email = $2
	`, accountID, email, status, score, outbound, inbound, lastSeen)
	if err != nil {
		return fmt.Errorf("update classification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetIngestCursor records the per-address ingest high-water mark so re-runs
// are incremental.
func (s *Store) SetIngestCursor(ctx context.Context, accountID, email string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE intel_contacts SET last_ingested_at = $3, updated_at = NOW()
		WHERE account_id = $1 AND email = $2
	`, accountID, email, at)
	if err != nil {
		return fmt.Errorf("set ingest cursor: %w", err)
	}
	return nil
}

// SetEnrichment records the (opaque) enrichment payload or the failure state.
func (s *Store) SetEnrichment(ctx context.Context, accountID, email string, record json.RawMessage, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE intel_contacts SET enrichment = $3, enrichment_status = $4, updated_at = NOW()
		WHERE account_id = $1 AND email = $2
	`, accountID, email, []byte(record), status)
	if err != nil {
		return fmt.Errorf("set enrichment: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContact(r rowScanner) (domain.Contact, error) {
	var c domain.Contact
	var enrichment []byte
	var enrichmentStatus sql.NullString
	var lastIngested sql.NullTime
	err := r.Scan(&c.ID, &c.AccountID, &c.Email, &c.DisplayName, &c.Domain,
		&c.FirstSeen, &c.LastSeen, &c.OutboundCount, &c.InboundCount,
		&c.TrustTier, &c.Status, &c.EngagementScore,
		&enrichment, &enrichmentStatus, &lastIngested, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, err
	}
	if err != nil {
		return c, fmt.Errorf("scan contact: %w", err)
	}
	if len(enrichment) > 0 {
		c.Enrichment = json.RawMessage(enrichment)
	}
	if enrichmentStatus.Valid {
		c.EnrichmentStatus = enrichmentStatus.String
	}
	if lastIngested.Valid {
		t := lastIngested.Time
		c.LastIngestedAt = &t
	}
	return c, nil
}
