package submission

import (
	"time"

	"github.com/shopspring/decimal"

	"disputeflow/autoscore"
)

type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusDisputed  Status = "disputed"
)

// Submission is the read model of a worker's delivery against a task, as far as
// the dispute engine needs it.
type Submission struct {
	ID           string
	TaskID       string
	WorkerID     string
	RequesterID  string
	Status       Status
	EscrowID     string
	EscrowAmount decimal.Decimal
	StakeAmount  decimal.Decimal
	Verification autoscore.VerificationResult
	Requirements autoscore.Requirements
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Disputable reports whether a dispute may be opened against the submission.
func (s Submission) Disputable() bool {
	return s.Status == StatusSubmitted || s.Status == StatusRejected
}
