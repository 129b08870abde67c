package dispute

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"disputeflow/autoscore"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpened          Status = "opened"
	StatusEvidencePending Status = "evidence_pending"
	StatusTier1Review     Status = "tier1_review"
	StatusTier2Voting     Status = "tier2_voting"
	StatusTier3Appeal     Status = "tier3_appeal"
	StatusResolved        Status = "resolved"
)

type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

type Party string

const (
	PartyWorker    Party = "worker"
	PartyRequester Party = "requester"
)

type Outcome string

const (
	OutcomeWorkerWins    Outcome = "worker_wins"
	OutcomeRequesterWins Outcome = "requester_wins"
	OutcomeSplit         Outcome = "split"
)

// Verdict is an outcome together with the worker's share for split outcomes.
type Verdict struct {
	Outcome         Outcome `json:"outcome"`
	SplitPercentage *int    `json:"split_percentage,omitempty"`
}

func (v Verdict) Validate() error {
	switch v.Outcome {
	case OutcomeWorkerWins, OutcomeRequesterWins:
		if v.SplitPercentage != nil {
			return fmt.Errorf("%w: split percentage only applies to split outcomes", ErrInvalidDecision)
		}
	case OutcomeSplit:
		if v.SplitPercentage == nil || *v.SplitPercentage < 1 || *v.SplitPercentage > 99 {
			return fmt.Errorf("%w: split percentage must be within 1..99", ErrInvalidDecision)
		}
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidDecision, v.Outcome)
	}
	return nil
}

func (v Verdict) Equal(o Verdict) bool {
	if v.Outcome != o.Outcome {
		return false
	}
	if v.SplitPercentage == nil || o.SplitPercentage == nil {
		return v.SplitPercentage == nil && o.SplitPercentage == nil
	}
	return *v.SplitPercentage == *o.SplitPercentage
}

// Resolution is created exactly once, by the tier that terminates the dispute.
type Resolution struct {
	Verdict
	Reason         string    `json:"reason"`
	Tier           Tier      `json:"tier"`
	AppealReversed bool      `json:"appeal_reversed"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

// Escalation is recorded in the same transition that moves a dispute into Tier 3.
type Escalation struct {
	PreviousOutcome Verdict   `json:"previous_outcome"`
	EscalatedAt     time.Time `json:"escalated_at"`
}

type EscalationStake struct {
	AppellantID string          `json:"appellant_id"`
	Amount      decimal.Decimal `json:"amount"`
}

// TierTransition is one entry of a dispute's tier history.
type TierTransition struct {
	FromTier   Tier           `json:"from_tier"`
	ToTier     Tier           `json:"to_tier"`
	FromStatus Status         `json:"from_status"`
	ToStatus   Status         `json:"to_status"`
	At         time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}

// Dispute mirrors the disputes table.
type Dispute struct {
	ID               string
	SubmissionID     string
	TaskID           string
	WorkerID         string
	RequesterID      string
	OpenedBy         Party
	Reason           string
	Status           Status
	CurrentTier      Tier
	EvidenceDeadline *time.Time
	Tier2Deadline    *time.Time
	Tier3Deadline    *time.Time
	AutoScore        *autoscore.Result
	TierHistory      []TierTransition
	Escalation       *Escalation
	EscalationStake  *EscalationStake
	Resolution       *Resolution
	SettledAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ActiveDeadline returns the deadline belonging to the current tier, or nil once
// the dispute is resolved.
func (d Dispute) ActiveDeadline() *time.Time {
	if d.Status == StatusResolved {
		return nil
	}
	switch d.CurrentTier {
	case Tier1:
		return d.EvidenceDeadline
	case Tier2:
		return d.Tier2Deadline
	case Tier3:
		return d.Tier3Deadline
	}
	return nil
}

// PartyOf reports which side userID is on, if any.
func (d Dispute) PartyOf(userID string) (Party, bool) {
	switch userID {
	case d.WorkerID:
		return PartyWorker, true
	case d.RequesterID:
		return PartyRequester, true
	}
	return "", false
}

func (d Dispute) IsResolved() bool {
	return d.Status == StatusResolved
}
