package dispute

import "errors"

// Class tells API callers whether a failure was their mistake, will be retried,
// or needs an operator.
type Class string

const (
	ClassPrecondition Class = "precondition"
	ClassTransient    Class = "transient"
	ClassIntegrity    Class = "integrity"
)

var (
	ErrNotFound             = errors.New("dispute: not found")
	ErrInvalidStatus        = errors.New("dispute: invalid status")
	ErrAlreadyProcessed     = errors.New("dispute: tier 1 already processed")
	ErrNotAJuror            = errors.New("dispute: caller is not on the jury panel")
	ErrAlreadyVoted         = errors.New("dispute: juror already voted")
	ErrVotingClosed         = errors.New("dispute: voting is closed")
	ErrNotAParty            = errors.New("dispute: caller is not a party to the dispute")
	ErrEvidenceWindowClosed = errors.New("dispute: evidence window closed")
	ErrAppealWindowClosed   = errors.New("dispute: appeal window closed")
	ErrAlreadyAppealed      = errors.New("dispute: escalation stake already posted")
	ErrIneligibleSubmission = errors.New("dispute: submission cannot be disputed")
	ErrInvalidDecision      = errors.New("dispute: invalid decision")

	ErrSettlementPending  = errors.New("dispute: settlement pending retry")
	ErrInsufficientJurors = errors.New("dispute: not enough eligible jurors")

	ErrInvalidTransition      = errors.New("dispute: invalid status transition")
	ErrMissingPreviousOutcome = errors.New("dispute: tier 3 dispute has no previous outcome")
)

var preconditionErrors = []error{
	ErrNotFound,
	ErrInvalidStatus,
	ErrAlreadyProcessed,
	ErrNotAJuror,
	ErrAlreadyVoted,
	ErrVotingClosed,
	ErrNotAParty,
	ErrEvidenceWindowClosed,
	ErrAppealWindowClosed,
	ErrAlreadyAppealed,
	ErrIneligibleSubmission,
	ErrInvalidDecision,
}

var integrityErrors = []error{
	ErrInvalidTransition,
	ErrMissingPreviousOutcome,
}

// ClassOf classifies err. Anything unrecognised, including database and
// collaborator failures, is transient.
func ClassOf(err error) Class {
	for _, target := range preconditionErrors {
		if errors.Is(err, target) {
			return ClassPrecondition
		}
	}
	for _, target := range integrityErrors {
		if errors.Is(err, target) {
			return ClassIntegrity
		}
	}
	return ClassTransient
}
