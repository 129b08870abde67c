package jury

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"disputeflow/db"
	"disputeflow/dispute"
)

type Repository struct {
	q db.DBTX
}

func NewRepository(q db.DBTX) *Repository {
	return &Repository{q: q}
}

// AssignPanel persists the panel chosen at Tier 2 entry.
func (r *Repository) AssignPanel(ctx context.Context, panel []Assignment) error {
	const insertSQL = `
		INSERT INTO jury_assignments (dispute_id, juror_id, weight, assigned_at)
		VALUES ($1, $2, $3, $4)
	`
	for _, a := range panel {
		if _, err := r.q.Exec(ctx, insertSQL, a.DisputeID, a.JurorID, a.Weight, a.AssignedAt); err != nil {
			return fmt.Errorf("jury: assign %s: %w", a.JurorID, err)
		}
	}
	return nil
}

func (r *Repository) ListPanel(ctx context.Context, disputeID string) ([]Assignment, error) {
	const selectSQL = `
		SELECT dispute_id::text, juror_id::text, weight, assigned_at
		FROM jury_assignments
		WHERE dispute_id = $1
		ORDER BY juror_id
	`
	return r.listAssignments(ctx, selectSQL, disputeID)
}

// ListAssignmentsForJuror returns every panel seat held by jurorID, newest first.
func (r *Repository) ListAssignmentsForJuror(ctx context.Context, jurorID string) ([]Assignment, error) {
	const selectSQL = `
		SELECT dispute_id::text, juror_id::text, weight, assigned_at
		FROM jury_assignments
		WHERE juror_id = $1
		ORDER BY assigned_at DESC
	`
	if uuid.Validate(jurorID) != nil {
		return nil, nil
	}
	return r.listAssignments(ctx, selectSQL, jurorID)
}

func (r *Repository) listAssignments(ctx context.Context, query, arg string) ([]Assignment, error) {
	rows, err := r.q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("jury: list assignments: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Assignment, error) {
		var a Assignment
		err := row.Scan(&a.DisputeID, &a.JurorID, &a.Weight, &a.AssignedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("jury: scan assignment: %w", err)
	}
	return out, nil
}

// InsertVote records a vote. The primary key turns a concurrent second vote
// into ErrAlreadyVoted.
func (r *Repository) InsertVote(ctx context.Context, v Vote) error {
	const insertSQL = `
		INSERT INTO jury_votes (dispute_id, juror_id, choice, reason, cast_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.q.Exec(ctx, insertSQL, v.DisputeID, v.JurorID, v.Choice, v.Reason, v.CastAt); err != nil {
		if db.IsUniqueViolation(err) {
			return dispute.ErrAlreadyVoted
		}
		return fmt.Errorf("jury: insert vote: %w", err)
	}
	return nil
}

func (r *Repository) ListVotes(ctx context.Context, disputeID string) ([]Vote, error) {
	const selectSQL = `
		SELECT dispute_id::text, juror_id::text, choice, reason, cast_at
		FROM jury_votes
		WHERE dispute_id = $1
		ORDER BY cast_at, juror_id
	`
	rows, err := r.q.Query(ctx, selectSQL, disputeID)
	if err != nil {
		return nil, fmt.Errorf("jury: list votes: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Vote, error) {
		var v Vote
		err := row.Scan(&v.DisputeID, &v.JurorID, &v.Choice, &v.Reason, &v.CastAt)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("jury: scan vote: %w", err)
	}
	return out, nil
}
