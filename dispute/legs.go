package dispute

import (
	"time"

	"github.com/shopspring/decimal"
)

type LegKind string

const (
	LegEscrow          LegKind = "escrow"
	LegStake           LegKind = "stake"
	LegEscalationStake LegKind = "escalation_stake"
	LegReputation      LegKind = "reputation"
)

type LegStatus string

const (
	LegPending   LegStatus = "pending"
	LegInFlight  LegStatus = "in_flight"
	LegCompleted LegStatus = "completed"
)

type LegAction string

const (
	ActionRelease         LegAction = "release"
	ActionRefund          LegAction = "refund"
	ActionSplitRelease    LegAction = "split_release"
	ActionReleaseStake    LegAction = "release_stake"
	ActionSlashStake      LegAction = "slash_stake"
	ActionPartialSlash    LegAction = "partial_slash"
	ActionForfeitStake    LegAction = "forfeit_escalation_stake"
	ActionReturnStake     LegAction = "return_escalation_stake"
	ActionDisputeResolved LegAction = "dispute_resolved"
)

// Instruction is computed when the dispute resolves and replayed verbatim on
// every settlement attempt.
type Instruction struct {
	Action            LegAction       `json:"action"`
	EscrowID          string          `json:"escrow_id,omitempty"`
	TaskID            string          `json:"task_id,omitempty"`
	WorkerID          string          `json:"worker_id,omitempty"`
	RequesterID       string          `json:"requester_id,omitempty"`
	AppellantID       string          `json:"appellant_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	WorkerShare       decimal.Decimal `json:"worker_share"`
	RequesterShare    decimal.Decimal `json:"requester_share"`
	SlashBps          int             `json:"slash_bps,omitempty"`
	RequesterShareBps int             `json:"requester_share_bps,omitempty"`
	Outcome           Outcome         `json:"outcome,omitempty"`
	Tier              Tier            `json:"tier,omitempty"`
	PreviousScore     float64         `json:"previous_score,omitempty"`
	NewScore          float64         `json:"new_score,omitempty"`
}

type SettlementLeg struct {
	DisputeID   string
	Kind        LegKind
	Instruction Instruction
	Status      LegStatus
	Attempts    int
	LastError   string
	ClaimedAt   *time.Time
	CompletedAt *time.Time
}
