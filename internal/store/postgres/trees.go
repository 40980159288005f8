package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/mailmind/internal/domain"
)

// PutTree persists a knowledge tree. The referenced snapshot must already
// exist; use WithSnapshot to commit both atomically.
func (s *Store) PutTree(ctx context.Context, tree *domain.KnowledgeTree) error {
	return insertTree(ctx, s.db, tree)
}

func insertTree(ctx context.Context, ex execer, tree *domain.KnowledgeTree) error {
	nodes, err := json.Marshal(tree.Nodes)
	if err != nil {
		return fmt.Errorf("marshal tree nodes: %w", err)
	}
	roots, _ := json.Marshal(tree.RootIDs)
	edges, _ := json.Marshal(tree.Edges)
	analysts, _ := json.Marshal(tree.Analysts)

	_, err = ex.ExecContext(ctx, `
		INSERT INTO intel_trees (
			id, account_id, generated_at, snapshot_id, version,
			nodes, root_ids, edges, analysts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, tree.ID, tree.AccountID, tree.GeneratedAt, tree.SnapshotID, tree.Version,
		nodes, roots, edges, analysts)
	if err != nil {
		return fmt.Errorf("put tree: %w", err)
	}
	return nil
}

// WithSnapshot commits a knowledge tree together with its source snapshot in
// one transaction, so a tree can never reference a snapshot that was not
// written.
func (s *Store) WithSnapshot(ctx context.Context, snap *domain.OrganizedSnapshot, tree *domain.KnowledgeTree) error {
	if tree.SnapshotID != snap.ID {
		return fmt.Errorf("tree references snapshot %s, got %s", tree.SnapshotID, snap.ID)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertSnapshot(ctx, tx, snap); err != nil {
		return err
	}
	if err := insertTree(ctx, tx, tree); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot+tree: %w", err)
	}
	return nil
}

// GetLatestTree returns the newest knowledge tree, or ErrNotFound.
func (s *Store) GetLatestTree(ctx context.Context, accountID string) (*domain.KnowledgeTree, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, generated_at, snapshot_id, version,
		       nodes, root_ids, edges, analysts
		FROM intel_trees
		WHERE account_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, accountID)
	return scanTree(row)
}

// TreeCount returns how many trees exist for an account.
func (s *Store) TreeCount(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM intel_trees WHERE account_id = $1`, accountID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("tree count: %w", err)
	}
	return n, nil
}

func scanTree(row *sql.Row) (*domain.KnowledgeTree, error) {
	var tree domain.KnowledgeTree
	var nodes, roots, edges, analysts []byte
	err := row.Scan(&tree.ID, &tree.AccountID, &tree.GeneratedAt, &tree.SnapshotID,
		&tree.Version, &nodes, &roots, &edges, &analysts)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tree: %w", err)
	}
	if err := json.Unmarshal(nodes, &tree.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal tree nodes: %w", err)
	}
	json.Unmarshal(roots, &tree.RootIDs)
	json.Unmarshal(edges, &tree.Edges)
	json.Unmarshal(analysts, &tree.Analysts)
	return &tree, nil
}
