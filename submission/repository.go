package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"disputeflow/db"
)

var ErrNotFound = errors.New("submission: not found")

type Repository struct {
	q db.DBTX
}

func NewRepository(q db.DBTX) *Repository {
	return &Repository{q: q}
}

const submissionColumns = `id::text, task_id::text, worker_id::text, requester_id::text, status, escrow_id,
	escrow_amount::text, stake_amount::text, verification, requirements, created_at, updated_at`

func (r *Repository) Get(ctx context.Context, id string) (Submission, error) {
	return r.get(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
}

func (r *Repository) GetForUpdate(ctx context.Context, id string) (Submission, error) {
	return r.get(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) get(ctx context.Context, query, id string) (Submission, error) {
	if uuid.Validate(id) != nil {
		return Submission{}, ErrNotFound
	}
	s, err := scanSubmission(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Submission{}, ErrNotFound
		}
		return Submission{}, fmt.Errorf("submission: get: %w", err)
	}
	return s, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status, now time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE submissions SET status = $2, updated_at = $3 WHERE id = $1`, id, status, now)
	if err != nil {
		return fmt.Errorf("submission: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubmission(row pgx.Row) (Submission, error) {
	var (
		s            Submission
		escrowAmount string
		stakeAmount  string
		verification []byte
		requirements []byte
	)
	if err := row.Scan(&s.ID, &s.TaskID, &s.WorkerID, &s.RequesterID, &s.Status, &s.EscrowID,
		&escrowAmount, &stakeAmount, &verification, &requirements, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Submission{}, err
	}

	var err error
	if s.EscrowAmount, err = decimal.NewFromString(escrowAmount); err != nil {
		return Submission{}, fmt.Errorf("decode escrow amount: %w", err)
	}
	if s.StakeAmount, err = decimal.NewFromString(stakeAmount); err != nil {
		return Submission{}, fmt.Errorf("decode stake amount: %w", err)
	}
	if len(verification) > 0 {
		if err := json.Unmarshal(verification, &s.Verification); err != nil {
			return Submission{}, fmt.Errorf("decode verification: %w", err)
		}
	}
	if len(requirements) > 0 {
		if err := json.Unmarshal(requirements, &s.Requirements); err != nil {
			return Submission{}, fmt.Errorf("decode requirements: %w", err)
		}
	}
	return s, nil
}
