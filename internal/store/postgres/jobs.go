package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/mailmind/internal/domain"
)

// CreateJob persists a new job row.
func (s *Store) CreateJob(ctx context.Context, j domain.Job) error {
	resume, partial := marshalJobExtras(j)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intel_jobs (
			id, account_id, kind, state, progress, phase, message,
			error_kind, partial_result, resume_info, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, j.ID, j.AccountID, j.Kind, j.State, j.Progress, j.Phase, j.Message,
		string(j.ErrorKind), partial, resume)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// UpdateJob rewrites the job's mutable fields. The supervisor is the only
// writer; the HTTP layer only reads.
func (s *Store) UpdateJob(ctx context.Context, j domain.Job) error {
	resume, partial := marshalJobExtras(j)
	res, err := s.db.ExecContext(ctx, `
		UPDATE intel_jobs
		SET state = $2, progress = $3, phase = $4, message = $5,
		    error_kind = $6, partial_result = $7, resume_info = $8, updated_at = NOW()
		WHERE id = $1
	`, j.ID, j.State, j.Progress, j.Phase, j.Message,
		string(j.ErrorKind), partial, resume)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, kind, state, progress, phase, message,
		       error_kind, partial_result, resume_info, created_at, updated_at
		FROM intel_jobs
		WHERE id = $1
	`, id)

	var j domain.Job
	var errorKind string
	var partial, resume []byte
	err := row.Scan(&j.ID, &j.AccountID, &j.Kind, &j.State, &j.Progress, &j.Phase,
		&j.Message, &errorKind, &partial, &resume, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.ErrorKind = domain.ErrorKind(errorKind)
	if len(partial) > 0 {
		j.PartialResult = json.RawMessage(partial)
	}
	if len(resume) > 0 {
		var r domain.ResumeInfo
		if err := json.Unmarshal(resume, &r); err == nil {
			j.Resume = &r
		}
	}
	return &j, nil
}

// ListJobs returns the most recent jobs for an account, newest first.
func (s *Store) ListJobs(ctx context.Context, accountID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, kind, state, progress, phase, message,
		       error_kind, partial_result, resume_info, created_at, updated_at
		FROM intel_jobs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		var j domain.Job
		var errorKind string
		var partial, resume []byte
		if err := rows.Scan(&j.ID, &j.AccountID, &j.Kind, &j.State, &j.Progress, &j.Phase,
			&j.Message, &errorKind, &partial, &resume, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.ErrorKind = domain.ErrorKind(errorKind)
		if len(partial) > 0 {
			j.PartialResult = json.RawMessage(partial)
		}
		if len(resume) > 0 {
			var r domain.ResumeInfo
			if err := json.Unmarshal(resume, &r); err == nil {
				j.Resume = &r
			}
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func marshalJobExtras(j domain.Job) (resume, partial []byte) {
	if j.Resume != nil {
		resume, _ = json.Marshal(j.Resume)
	} else {
		resume = []byte("null")
	}
	if len(j.PartialResult) > 0 {
		partial = []byte(j.PartialResult)
	} else {
		partial = []byte("null")
	}
	return resume, partial
}
