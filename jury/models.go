package jury

import (
	"fmt"
	"time"

	"disputeflow/dispute"
)

type Choice string

const (
	ChoiceWorker    Choice = "worker"
	ChoiceRequester Choice = "requester"
	ChoiceAbstain   Choice = "abstain"
)

func (c Choice) Validate() error {
	switch c {
	case ChoiceWorker, ChoiceRequester, ChoiceAbstain:
		return nil
	}
	return fmt.Errorf("%w: unknown vote choice %q", dispute.ErrInvalidDecision, c)
}

// Outcome maps a winning side to the dispute outcome it produces.
func (c Choice) Outcome() (dispute.Outcome, bool) {
	switch c {
	case ChoiceWorker:
		return dispute.OutcomeWorkerWins, true
	case ChoiceRequester:
		return dispute.OutcomeRequesterWins, true
	}
	return "", false
}

// Assignment is one seat on a dispute's panel. The panel is fixed once Tier 2
// begins.
type Assignment struct {
	DisputeID  string    `json:"dispute_id"`
	JurorID    string    `json:"juror_id"`
	Weight     float64   `json:"weight"`
	AssignedAt time.Time `json:"assigned_at"`
}

type Vote struct {
	DisputeID string    `json:"dispute_id"`
	JurorID   string    `json:"juror_id"`
	Choice    Choice    `json:"choice"`
	Reason    *string   `json:"reason,omitempty"`
	CastAt    time.Time `json:"cast_at"`
}

// Candidate is an eligible juror with their selection weight.
type Candidate struct {
	UserID string
	Weight float64
}
