package dispute

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InsertLegs plans settlement legs. Existing legs are left untouched so a replayed
// resolution never re-plans a movement.
func (r *Repository) InsertLegs(ctx context.Context, legs []SettlementLeg) error {
	const query = `
		INSERT INTO settlement_legs (dispute_id, kind, instruction, status)
		VALUES ($1, $2, $3::jsonb, 'pending')
		ON CONFLICT (dispute_id, kind) DO NOTHING
	`
	for _, leg := range legs {
		b, err := json.Marshal(leg.Instruction)
		if err != nil {
			return fmt.Errorf("dispute: encode instruction: %w", err)
		}
		if _, err := r.q.Exec(ctx, query, leg.DisputeID, leg.Kind, string(b)); err != nil {
			return fmt.Errorf("dispute: insert leg %s: %w", leg.Kind, err)
		}
	}
	return nil
}

func (r *Repository) ListLegs(ctx context.Context, disputeID string) ([]SettlementLeg, error) {
	const query = `
		SELECT dispute_id::text, kind, instruction, status, attempts, COALESCE(last_error, ''), claimed_at, completed_at
		FROM settlement_legs
		WHERE dispute_id = $1
		ORDER BY array_position(ARRAY['escrow','stake','escalation_stake','reputation'], kind)
	`
	rows, err := r.q.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list legs: %w", err)
	}
	defer rows.Close()

	var legs []SettlementLeg
	for rows.Next() {
		var (
			leg SettlementLeg
			raw []byte
		)
		if err := rows.Scan(&leg.DisputeID, &leg.Kind, &raw, &leg.Status, &leg.Attempts, &leg.LastError, &leg.ClaimedAt, &leg.CompletedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan leg: %w", err)
		}
		if err := json.Unmarshal(raw, &leg.Instruction); err != nil {
			return nil, fmt.Errorf("dispute: decode instruction: %w", err)
		}
		legs = append(legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate legs: %w", err)
	}
	return legs, nil
}

// ClaimLeg moves a pending leg to in_flight. It returns false when another
// settler already holds or completed the leg.
func (r *Repository) ClaimLeg(ctx context.Context, disputeID string, kind LegKind, now time.Time) (bool, error) {
	const query = `
		UPDATE settlement_legs
		SET status = 'in_flight', attempts = attempts + 1, claimed_at = $3
		WHERE dispute_id = $1 AND kind = $2 AND status = 'pending'
	`
	tag, err := r.q.Exec(ctx, query, disputeID, kind, now)
	if err != nil {
		return false, fmt.Errorf("dispute: claim leg %s: %w", kind, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) CompleteLeg(ctx context.Context, disputeID string, kind LegKind, now time.Time) error {
	const query = `
		UPDATE settlement_legs
		SET status = 'completed', completed_at = $3, last_error = NULL
		WHERE dispute_id = $1 AND kind = $2 AND status = 'in_flight'
	`
	if _, err := r.q.Exec(ctx, query, disputeID, kind, now); err != nil {
		return fmt.Errorf("dispute: complete leg %s: %w", kind, err)
	}
	return nil
}

// ReleaseLeg hands a failed in-flight leg back for the next attempt.
func (r *Repository) ReleaseLeg(ctx context.Context, disputeID string, kind LegKind, lastError string) error {
	const query = `
		UPDATE settlement_legs
		SET status = 'pending', claimed_at = NULL, last_error = $3
		WHERE dispute_id = $1 AND kind = $2 AND status = 'in_flight'
	`
	if _, err := r.q.Exec(ctx, query, disputeID, kind, lastError); err != nil {
		return fmt.Errorf("dispute: release leg %s: %w", kind, err)
	}
	return nil
}

// ReclaimStaleLegs returns in-flight legs claimed before cutoff to pending. A
// settler that crashed mid-call leaves such legs behind.
func (r *Repository) ReclaimStaleLegs(ctx context.Context, disputeID string, cutoff time.Time) (int64, error) {
	const query = `
		UPDATE settlement_legs
		SET status = 'pending', claimed_at = NULL, last_error = 'reclaimed after lease expiry'
		WHERE dispute_id = $1 AND status = 'in_flight' AND claimed_at < $2
	`
	tag, err := r.q.Exec(ctx, query, disputeID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dispute: reclaim legs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkSettled stamps settled_at once every leg of the dispute has completed.
func (r *Repository) MarkSettled(ctx context.Context, disputeID string, now time.Time) (bool, error) {
	const query = `
		UPDATE disputes d
		SET settled_at = $2, updated_at = $2
		WHERE d.id = $1
		  AND d.status = 'resolved'
		  AND d.settled_at IS NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM settlement_legs l
		      WHERE l.dispute_id = d.id AND l.status <> 'completed')
	`
	tag, err := r.q.Exec(ctx, query, disputeID, now)
	if err != nil {
		return false, fmt.Errorf("dispute: mark settled: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
