package evidence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"disputeflow/db"
)

// Repository persists evidence. Rows are insert-only; the table rejects UPDATE
// and DELETE.
type Repository struct {
	q db.DBTX
}

func NewRepository(q db.DBTX) *Repository {
	return &Repository{q: q}
}

func (r *Repository) Insert(ctx context.Context, item Item) error {
	const insertSQL = `
		INSERT INTO evidence (id, dispute_id, submitted_by, type, description, storage_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.Exec(ctx, insertSQL, item.ID, item.DisputeID, item.SubmittedBy, item.Type,
		item.Description, item.StorageKey, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("evidence: insert: %w", err)
	}
	return nil
}

func (r *Repository) ListByDispute(ctx context.Context, disputeID string) ([]Item, error) {
	const selectSQL = `
		SELECT id::text, dispute_id::text, submitted_by::text, type, description, storage_key, created_at
		FROM evidence
		WHERE dispute_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.q.Query(ctx, selectSQL, disputeID)
	if err != nil {
		return nil, fmt.Errorf("evidence: list: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var item Item
		err := row.Scan(&item.ID, &item.DisputeID, &item.SubmittedBy, &item.Type, &item.Description,
			&item.StorageKey, &item.CreatedAt)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("evidence: scan: %w", err)
	}
	return items, nil
}
