package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"disputeflow/autoscore"
	"disputeflow/db"
)

type Repository struct {
	q db.DBTX
}

func NewRepository(q db.DBTX) *Repository {
	return &Repository{q: q}
}

const disputeColumns = `
	id::text, submission_id::text, task_id::text, worker_id::text, requester_id::text,
	opened_by, reason, status, current_tier,
	evidence_deadline, tier2_deadline, tier3_deadline,
	auto_score, tier_history,
	previous_outcome, previous_split, escalated_at,
	appellant_id::text, escalation_stake::text,
	resolution_outcome, resolution_split, resolution_reason, resolution_tier, appeal_reversed, resolved_at,
	settled_at, created_at, updated_at`

func (r *Repository) Create(ctx context.Context, d Dispute) error {
	history, err := json.Marshal(d.TierHistory)
	if err != nil {
		return fmt.Errorf("dispute: encode history: %w", err)
	}

	const query = `
		INSERT INTO disputes (id, submission_id, task_id, worker_id, requester_id, opened_by, reason,
		                      status, current_tier, evidence_deadline, tier_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $12)
	`
	_, err = r.q.Exec(ctx, query, d.ID, d.SubmissionID, d.TaskID, d.WorkerID, d.RequesterID, d.OpenedBy,
		d.Reason, d.Status, int(d.CurrentTier), d.EvidenceDeadline, string(history), d.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrIneligibleSubmission
		}
		return fmt.Errorf("dispute: create: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (Dispute, error) {
	return r.get(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
}

// GetForUpdate locks the dispute row until the surrounding transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (Dispute, error) {
	return r.get(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) get(ctx context.Context, query, id string) (Dispute, error) {
	if uuid.Validate(id) != nil {
		return Dispute{}, ErrNotFound
	}
	d, err := scanDispute(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}
	return d, nil
}

func (r *Repository) Update(ctx context.Context, d Dispute) error {
	var autoScore any
	if d.AutoScore != nil {
		b, err := json.Marshal(d.AutoScore)
		if err != nil {
			return fmt.Errorf("dispute: encode auto score: %w", err)
		}
		autoScore = string(b)
	}
	history, err := json.Marshal(d.TierHistory)
	if err != nil {
		return fmt.Errorf("dispute: encode history: %w", err)
	}

	var (
		previousOutcome *Outcome
		previousSplit   *int
		escalatedAt     *time.Time
		appellantID     *string
		stake           *string
		resOutcome      *Outcome
		resSplit        *int
		resReason       *string
		resTier         *int
		appealReversed  bool
		resolvedAt      *time.Time
	)
	if e := d.Escalation; e != nil {
		previousOutcome = &e.PreviousOutcome.Outcome
		previousSplit = e.PreviousOutcome.SplitPercentage
		escalatedAt = &e.EscalatedAt
	}
	if s := d.EscalationStake; s != nil {
		appellantID = &s.AppellantID
		amount := s.Amount.String()
		stake = &amount
	}
	if res := d.Resolution; res != nil {
		resOutcome = &res.Outcome
		resSplit = res.SplitPercentage
		resReason = &res.Reason
		tier := int(res.Tier)
		resTier = &tier
		appealReversed = res.AppealReversed
		resolvedAt = &res.ResolvedAt
	}

	const query = `
		UPDATE disputes
		SET status = $2,
		    current_tier = $3,
		    evidence_deadline = $4,
		    tier2_deadline = $5,
		    tier3_deadline = $6,
		    auto_score = $7::jsonb,
		    tier_history = $8::jsonb,
		    previous_outcome = $9,
		    previous_split = $10,
		    escalated_at = $11,
		    appellant_id = $12::uuid,
		    escalation_stake = $13::numeric,
		    resolution_outcome = $14,
		    resolution_split = $15,
		    resolution_reason = $16,
		    resolution_tier = $17,
		    appeal_reversed = $18,
		    resolved_at = $19,
		    settled_at = $20,
		    updated_at = $21
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query, d.ID, d.Status, int(d.CurrentTier),
		d.EvidenceDeadline, d.Tier2Deadline, d.Tier3Deadline,
		autoScore, string(history),
		previousOutcome, previousSplit, escalatedAt,
		appellantID, stake,
		resOutcome, resSplit, resReason, resTier, appealReversed, resolvedAt,
		d.SettledAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("dispute: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatus is the bulk candidate fetch used by the reconciler.
func (r *Repository) ListByStatus(ctx context.Context, statuses ...Status) ([]Dispute, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := r.q.Query(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE status = ANY($1) ORDER BY created_at`, names)
	if err != nil {
		return nil, fmt.Errorf("dispute: list by status: %w", err)
	}
	return collectDisputes(rows)
}

func (r *Repository) ListUnsettled(ctx context.Context) ([]Dispute, error) {
	rows, err := r.q.Query(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE status = 'resolved' AND settled_at IS NULL ORDER BY resolved_at`)
	if err != nil {
		return nil, fmt.Errorf("dispute: list unsettled: %w", err)
	}
	return collectDisputes(rows)
}

func (r *Repository) ListByIDs(ctx context.Context, ids []string) ([]Dispute, error) {
	rows, err := r.q.Query(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = ANY($1::uuid[]) ORDER BY created_at DESC`, ids)
	if err != nil {
		return nil, fmt.Errorf("dispute: list by ids: %w", err)
	}
	return collectDisputes(rows)
}

func collectDisputes(rows pgx.Rows) ([]Dispute, error) {
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d               Dispute
		tier            int
		autoScore       []byte
		history         []byte
		previousOutcome *string
		previousSplit   *int
		escalatedAt     *time.Time
		appellantID     *string
		stake           *string
		resOutcome      *string
		resSplit        *int
		resReason       *string
		resTier         *int
		appealReversed  bool
		resolvedAt      *time.Time
	)
	err := row.Scan(
		&d.ID, &d.SubmissionID, &d.TaskID, &d.WorkerID, &d.RequesterID,
		&d.OpenedBy, &d.Reason, &d.Status, &tier,
		&d.EvidenceDeadline, &d.Tier2Deadline, &d.Tier3Deadline,
		&autoScore, &history,
		&previousOutcome, &previousSplit, &escalatedAt,
		&appellantID, &stake,
		&resOutcome, &resSplit, &resReason, &resTier, &appealReversed, &resolvedAt,
		&d.SettledAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return Dispute{}, err
	}
	d.CurrentTier = Tier(tier)

	if len(autoScore) > 0 {
		var res autoscore.Result
		if err := json.Unmarshal(autoScore, &res); err != nil {
			return Dispute{}, fmt.Errorf("decode auto score: %w", err)
		}
		d.AutoScore = &res
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &d.TierHistory); err != nil {
			return Dispute{}, fmt.Errorf("decode tier history: %w", err)
		}
	}
	if previousOutcome != nil && escalatedAt != nil {
		d.Escalation = &Escalation{
			PreviousOutcome: Verdict{Outcome: Outcome(*previousOutcome), SplitPercentage: previousSplit},
			EscalatedAt:     *escalatedAt,
		}
	}
	if appellantID != nil && stake != nil {
		amount, err := decimal.NewFromString(*stake)
		if err != nil {
			return Dispute{}, fmt.Errorf("decode escalation stake: %w", err)
		}
		d.EscalationStake = &EscalationStake{AppellantID: *appellantID, Amount: amount}
	}
	if resOutcome != nil && resolvedAt != nil {
		res := Resolution{
			Verdict:        Verdict{Outcome: Outcome(*resOutcome), SplitPercentage: resSplit},
			AppealReversed: appealReversed,
			ResolvedAt:     *resolvedAt,
		}
		if resReason != nil {
			res.Reason = *resReason
		}
		if resTier != nil {
			res.Tier = Tier(*resTier)
		}
		d.Resolution = &res
	}
	return d, nil
}
