// Package reconciler advances disputes whose deadlines have lapsed and retries
// unfinished settlements.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"disputeflow/dispute"
	"disputeflow/logger"
	"disputeflow/store"
)

// Arbiter is the part of the arbitration engine the reconciler drives.
type Arbiter interface {
	ProcessTier1Result(ctx context.Context, disputeID string, now time.Time) error
	CheckJuryVotingComplete(ctx context.Context, disputeID string, now time.Time) error
	ApplyDefaultUphold(ctx context.Context, disputeID string, now time.Time) error
}

type Settler interface {
	Settle(ctx context.Context, disputeID string) error
	Lease() time.Duration
}

const (
	StepTier1      = "tier1"
	StepTier2      = "tier2"
	StepTier3      = "tier3"
	StepSettlement = "settlement"
)

// Report describes one pass. In a dry run the step lists name the disputes that
// would have been acted on.
type Report struct {
	DryRun     bool      `json:"dry_run"`
	RanAt      time.Time `json:"ran_at"`
	Tier1      []string  `json:"tier1"`
	Tier2      []string  `json:"tier2"`
	Tier3      []string  `json:"tier3"`
	Settlement []string  `json:"settlement"`
	Errors     []string  `json:"errors"`
}

func (r *Report) fail(step, id string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s %s: %v", step, id, err))
}

type Reconciler struct {
	tx      store.TxRunner
	arbiter Arbiter
	settler Settler
	tracer  trace.Tracer
}

func New(tx store.TxRunner, arbiter Arbiter, settler Settler) *Reconciler {
	return &Reconciler{
		tx:      tx,
		arbiter: arbiter,
		settler: settler,
		tracer:  otel.Tracer("disputeflow/reconciler"),
	}
}

// Pass runs the four steps against the state visible at now. A failure on one
// dispute is recorded and the pass moves on; only cancellation stops it early.
func (r *Reconciler) Pass(ctx context.Context, now time.Time, dryRun bool) (Report, error) {
	now = now.UTC()
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "disputeflow.reconciler"})
	ctx, span := r.tracer.Start(ctx, "reconciler.pass", trace.WithAttributes(attribute.Bool("reconciler.dry_run", dryRun)))
	defer span.End()

	report := Report{DryRun: dryRun, RanAt: now}
	steps := []struct {
		name     string
		statuses []dispute.Status
		due      func(dispute.Dispute) bool
		act      func(context.Context, string) error
		out      *[]string
	}{
		{
			name:     StepTier1,
			statuses: tier1Statuses,
			due:      func(d dispute.Dispute) bool { return NeedsTier1(d, now) },
			act: func(ctx context.Context, id string) error {
				err := r.arbiter.ProcessTier1Result(ctx, id, now)
				if errors.Is(err, dispute.ErrAlreadyProcessed) {
					return nil
				}
				return err
			},
			out: &report.Tier1,
		},
		{
			name:     StepTier2,
			statuses: []dispute.Status{dispute.StatusTier2Voting},
			due:      func(d dispute.Dispute) bool { return Tier2Expired(d, now) },
			act:      func(ctx context.Context, id string) error { return r.arbiter.CheckJuryVotingComplete(ctx, id, now) },
			out:      &report.Tier2,
		},
		{
			name:     StepTier3,
			statuses: []dispute.Status{dispute.StatusTier3Appeal},
			due:      func(d dispute.Dispute) bool { return Tier3Expired(d, now) },
			act:      func(ctx context.Context, id string) error { return r.arbiter.ApplyDefaultUphold(ctx, id, now) },
			out:      &report.Tier3,
		},
		{
			name: StepSettlement,
			due:  NeedsSettlement,
			act:  func(ctx context.Context, id string) error { return r.settle(ctx, id, now) },
			out:  &report.Settlement,
		},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		candidates, err := r.candidates(ctx, step.statuses)
		if err != nil {
			report.fail(step.name, "fetch", err)
			continue
		}
		for _, d := range candidates {
			if !step.due(d) {
				continue
			}
			*step.out = append(*step.out, d.ID)
			if dryRun {
				continue
			}
			dctx := logger.WithLogFields(ctx, logger.LogFields{DisputeID: logger.Ptr(d.ID)})
			if err := step.act(dctx, d.ID); err != nil {
				slog.WarnContext(dctx, "reconciler step failed", "step", step.name, "error", err)
				report.fail(step.name, d.ID, err)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("reconciler.tier1", len(report.Tier1)),
		attribute.Int("reconciler.tier2", len(report.Tier2)),
		attribute.Int("reconciler.tier3", len(report.Tier3)),
		attribute.Int("reconciler.settlement", len(report.Settlement)),
		attribute.Int("reconciler.errors", len(report.Errors)),
	)
	slog.InfoContext(ctx, "reconciler pass finished",
		"dry_run", dryRun,
		"tier1", len(report.Tier1),
		"tier2", len(report.Tier2),
		"tier3", len(report.Tier3),
		"settlement", len(report.Settlement),
		"errors", len(report.Errors))
	return report, nil
}

// candidates loads disputes in the given statuses, or every unsettled resolved
// dispute when statuses is empty.
func (r *Reconciler) candidates(ctx context.Context, statuses []dispute.Status) ([]dispute.Dispute, error) {
	var out []dispute.Dispute
	err := r.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		var err error
		if len(statuses) == 0 {
			out, err = stores.Disputes().ListUnsettled(ctx)
		} else {
			out, err = stores.Disputes().ListByStatus(ctx, statuses...)
		}
		return err
	})
	return out, err
}

func (r *Reconciler) settle(ctx context.Context, disputeID string, now time.Time) error {
	var reclaimed int64
	err := r.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		var err error
		reclaimed, err = stores.Settlements().ReclaimStaleLegs(ctx, disputeID, now.Add(-r.settler.Lease()))
		return err
	})
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		slog.WarnContext(ctx, "reclaimed stale settlement legs", "count", reclaimed)
	}
	return r.settler.Settle(ctx, disputeID)
}
