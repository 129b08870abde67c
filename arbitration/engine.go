package arbitration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"disputeflow/audit"
	"disputeflow/autoscore"
	"disputeflow/dispute"
	"disputeflow/evidence"
	"disputeflow/jury"
	"disputeflow/logger"
	"disputeflow/settlement"
	"disputeflow/store"
	"disputeflow/submission"
)

// Policy holds the timing and jury rules the engine enforces.
type Policy struct {
	EvidenceWindow     time.Duration
	Tier2Window        time.Duration
	Tier3Window        time.Duration
	PanelSize          int
	MinJurorReputation float64
}

// Engine drives disputes through the three tiers. Every state change runs in a
// transaction that locks the dispute row; settlement runs after commit.
type Engine struct {
	tx        store.TxRunner
	settler   *settlement.Engine
	evaluator *autoscore.Evaluator
	policy    Policy
	now       func() time.Time
	newID     func() string
	rng       jury.Rand
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithRand sets the randomness used for jury selection. The source must be
// safe for concurrent use if the engine is.
func WithRand(rng jury.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

func NewEngine(tx store.TxRunner, settler *settlement.Engine, evaluator *autoscore.Evaluator, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		tx:        tx,
		settler:   settler,
		evaluator: evaluator,
		policy:    policy,
		now:       time.Now,
		newID:     uuid.NewString,
		rng:       globalRand{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// globalRand draws from the runtime-seeded, goroutine-safe top-level source.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// OpenRequest opens a dispute against a submission.
type OpenRequest struct {
	SubmissionID string
	OpenedBy     string
	Reason       string
	// ExpectEvidence keeps the evidence window open. Without it Tier 1 runs
	// straight away.
	ExpectEvidence bool
}

func (e *Engine) Open(ctx context.Context, req OpenRequest) (dispute.Dispute, error) {
	now := e.clock()
	var d dispute.Dispute

	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		sub, err := stores.Submissions().GetForUpdate(ctx, req.SubmissionID)
		if err != nil {
			if errors.Is(err, submission.ErrNotFound) {
				return fmt.Errorf("%w: submission %s", dispute.ErrNotFound, req.SubmissionID)
			}
			return err
		}
		if !sub.Disputable() {
			return fmt.Errorf("%w: submission is %s", dispute.ErrIneligibleSubmission, sub.Status)
		}

		d = dispute.Dispute{
			ID:           e.newID(),
			SubmissionID: sub.ID,
			TaskID:       sub.TaskID,
			WorkerID:     sub.WorkerID,
			RequesterID:  sub.RequesterID,
			Reason:       strings.TrimSpace(req.Reason),
			Status:       dispute.StatusOpened,
			CurrentTier:  dispute.Tier1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		party, ok := d.PartyOf(req.OpenedBy)
		if !ok {
			return dispute.ErrNotAParty
		}
		d.OpenedBy = party

		if err := stores.Disputes().Create(ctx, d); err != nil {
			return err
		}

		deadline := now
		if req.ExpectEvidence {
			deadline = now.Add(e.policy.EvidenceWindow)
		}
		if err := d.StartEvidenceWindow(now, deadline); err != nil {
			return err
		}
		if err := stores.Disputes().Update(ctx, d); err != nil {
			return err
		}
		if err := stores.Submissions().UpdateStatus(ctx, sub.ID, submission.StatusDisputed, now); err != nil {
			return err
		}

		_, err = stores.Audit().Append(ctx, audit.Entry{
			DisputeID: d.ID,
			Type:      audit.TypeOpened,
			ActorID:   &req.OpenedBy,
			Payload: map[string]any{
				"submission_id":     sub.ID,
				"opened_by":         party,
				"reason":            d.Reason,
				"evidence_deadline": deadline,
			},
			At: now,
		})
		return err
	})
	if err != nil {
		return dispute.Dispute{}, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{DisputeID: logger.Ptr(d.ID), ActorID: logger.Ptr(req.OpenedBy)})
	slog.InfoContext(ctx, "dispute opened", "submission_id", d.SubmissionID, "opened_by", d.OpenedBy)

	if !req.ExpectEvidence {
		if err := e.ProcessTier1Result(ctx, d.ID, now); err != nil {
			// The reconciler picks the dispute up on its next pass.
			slog.WarnContext(ctx, "immediate tier 1 failed", "error", err)
		}
	}
	return e.get(ctx, d.ID)
}

// SubmitEvidence files evidence from a party while the evidence window is open.
func (e *Engine) SubmitEvidence(ctx context.Context, disputeID, callerID string, item evidence.Item) (evidence.Item, error) {
	if err := item.Validate(); err != nil {
		return evidence.Item{}, err
	}
	now := e.clock()

	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		d, err := stores.Disputes().GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if _, ok := d.PartyOf(callerID); !ok {
			return dispute.ErrNotAParty
		}
		if d.Status != dispute.StatusOpened && d.Status != dispute.StatusEvidencePending {
			return dispute.ErrEvidenceWindowClosed
		}
		if d.EvidenceDeadline != nil && !now.Before(*d.EvidenceDeadline) {
			return dispute.ErrEvidenceWindowClosed
		}

		item.ID = e.newID()
		item.DisputeID = d.ID
		item.SubmittedBy = callerID
		item.CreatedAt = now
		if err := stores.Evidence().Insert(ctx, item); err != nil {
			return err
		}
		_, err = stores.Audit().Append(ctx, audit.Entry{
			DisputeID: d.ID,
			Type:      audit.TypeEvidenceSubmitted,
			ActorID:   &callerID,
			Payload:   map[string]any{"evidence_id": item.ID, "type": item.Type},
			At:        now,
		})
		return err
	})
	if err != nil {
		return evidence.Item{}, err
	}
	return item, nil
}

// settle runs settlement after a resolution committed. Failures are left for
// the reconciler's retry step.
func (e *Engine) settle(ctx context.Context, disputeID string) {
	if err := e.settler.Settle(ctx, disputeID); err != nil {
		ctx = logger.WithLogFields(ctx, logger.LogFields{DisputeID: logger.Ptr(disputeID)})
		slog.WarnContext(ctx, "settlement deferred to reconciler", "error", err)
	}
}

func (e *Engine) get(ctx context.Context, disputeID string) (dispute.Dispute, error) {
	var d dispute.Dispute
	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		var err error
		d, err = stores.Disputes().Get(ctx, disputeID)
		return err
	})
	return d, err
}

func (e *Engine) appendTierChange(ctx context.Context, stores store.StoreProvider, d dispute.Dispute, at time.Time) error {
	last := d.TierHistory[len(d.TierHistory)-1]
	_, err := stores.Audit().Append(ctx, audit.Entry{
		DisputeID: d.ID,
		Type:      audit.TypeTierChanged,
		Payload: map[string]any{
			"from_tier":   last.FromTier,
			"to_tier":     last.ToTier,
			"from_status": last.FromStatus,
			"to_status":   last.ToStatus,
			"details":     last.Details,
		},
		At: at,
	})
	return err
}
