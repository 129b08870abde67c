package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"disputeflow/dispute"
)

// Every collaborator call carries an idempotency key that is stable for a
// (dispute, leg) pair, so a retried leg is never applied twice downstream.

type Escrow interface {
	Release(ctx context.Context, idempotencyKey, escrowID, workerID string, amount decimal.Decimal) error
	Refund(ctx context.Context, idempotencyKey, escrowID, requesterID string, amount decimal.Decimal) error
	SplitRelease(ctx context.Context, idempotencyKey, escrowID string, workerShare, requesterShare decimal.Decimal) error
}

type Staking interface {
	ReleaseStake(ctx context.Context, idempotencyKey, taskID, workerID string) error
	SlashStake(ctx context.Context, idempotencyKey, taskID, workerID string, requesterShareBps int) error
	PartialSlash(ctx context.Context, idempotencyKey, taskID, workerID string, slashBps, requesterShareBps int) error
	ForfeitEscalationStake(ctx context.Context, idempotencyKey, disputeID, appellantID string, amount decimal.Decimal) error
	ReturnEscalationStake(ctx context.Context, idempotencyKey, disputeID, appellantID string, amount decimal.Decimal) error
}

// ReputationEvent is emitted once per resolved dispute.
type ReputationEvent struct {
	DisputeID     string          `json:"dispute_id"`
	TaskID        string          `json:"task_id"`
	WorkerID      string          `json:"worker_id"`
	RequesterID   string          `json:"requester_id"`
	Outcome       dispute.Outcome `json:"outcome"`
	Tier          dispute.Tier    `json:"tier"`
	PreviousScore float64         `json:"previous_score"`
	NewScore      float64         `json:"new_score"`
	ResolvedAt    time.Time       `json:"resolved_at"`
}

type Reputation interface {
	DisputeResolved(ctx context.Context, idempotencyKey string, event ReputationEvent) error
}
