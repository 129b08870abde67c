package store

import (
	"context"
	"time"

	"disputeflow/audit"
	"disputeflow/auth"
	"disputeflow/dispute"
	"disputeflow/evidence"
	"disputeflow/jury"
	"disputeflow/submission"
)

type DisputeStore interface {
	Create(ctx context.Context, d dispute.Dispute) error
	Get(ctx context.Context, id string) (dispute.Dispute, error)
	GetForUpdate(ctx context.Context, id string) (dispute.Dispute, error)
	Update(ctx context.Context, d dispute.Dispute) error
	ListByStatus(ctx context.Context, statuses ...dispute.Status) ([]dispute.Dispute, error)
	ListUnsettled(ctx context.Context) ([]dispute.Dispute, error)
	ListByIDs(ctx context.Context, ids []string) ([]dispute.Dispute, error)
}

type SettlementStore interface {
	InsertLegs(ctx context.Context, legs []dispute.SettlementLeg) error
	ListLegs(ctx context.Context, disputeID string) ([]dispute.SettlementLeg, error)
	ClaimLeg(ctx context.Context, disputeID string, kind dispute.LegKind, now time.Time) (bool, error)
	CompleteLeg(ctx context.Context, disputeID string, kind dispute.LegKind, now time.Time) error
	ReleaseLeg(ctx context.Context, disputeID string, kind dispute.LegKind, lastError string) error
	ReclaimStaleLegs(ctx context.Context, disputeID string, cutoff time.Time) (int64, error)
	MarkSettled(ctx context.Context, disputeID string, now time.Time) (bool, error)
}

type SubmissionStore interface {
	Get(ctx context.Context, id string) (submission.Submission, error)
	GetForUpdate(ctx context.Context, id string) (submission.Submission, error)
	UpdateStatus(ctx context.Context, id string, status submission.Status, now time.Time) error
}

type JuryStore interface {
	AssignPanel(ctx context.Context, panel []jury.Assignment) error
	ListPanel(ctx context.Context, disputeID string) ([]jury.Assignment, error)
	ListAssignmentsForJuror(ctx context.Context, jurorID string) ([]jury.Assignment, error)
	InsertVote(ctx context.Context, v jury.Vote) error
	ListVotes(ctx context.Context, disputeID string) ([]jury.Vote, error)
}

type EvidenceStore interface {
	Insert(ctx context.Context, item evidence.Item) error
	ListByDispute(ctx context.Context, disputeID string) ([]evidence.Item, error)
}

type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (auth.User, error)
	ListEligibleJurors(ctx context.Context, minReputation float64) ([]auth.User, error)
	ListConflicts(ctx context.Context, workerID, requesterID string) ([]string, error)
}

type AuditStore interface {
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
	List(ctx context.Context, disputeID string) ([]audit.Entry, error)
}

// StoreProvider exposes the stores bound to one transaction.
type StoreProvider interface {
	Disputes() DisputeStore
	Settlements() SettlementStore
	Submissions() SubmissionStore
	Jury() JuryStore
	Evidence() EvidenceStore
	Users() UserStore
	Audit() AuditStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}
