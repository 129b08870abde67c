package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"disputeflow/audit"
	"disputeflow/dispute"
	"disputeflow/logger"
	"disputeflow/store"
)

// Decision is the terminal verdict a tier hands to the engine.
type Decision struct {
	dispute.Verdict
	Reason         string
	Tier           dispute.Tier
	AppealReversed bool
	ActorID        *string
	// At is the resolution time. Zero means the engine clock.
	At time.Time
	// Details are merged into the tier history entry of the resolution.
	Details map[string]any
}

type Config struct {
	RequesterShareBps int
	// Lease is how long an in-flight leg may stay claimed before another settler
	// takes it over.
	Lease time.Duration
}

type Engine struct {
	tx         store.TxRunner
	escrow     Escrow
	staking    Staking
	reputation Reputation
	cfg        Config
	now        func() time.Time
	tracer     trace.Tracer
}

func NewEngine(tx store.TxRunner, escrow Escrow, staking Staking, reputation Reputation, cfg Config) *Engine {
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Minute
	}
	return &Engine{
		tx:         tx,
		escrow:     escrow,
		staking:    staking,
		reputation: reputation,
		cfg:        cfg,
		now:        time.Now,
		tracer:     otel.Tracer("disputeflow/settlement"),
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Lease() time.Duration {
	return e.cfg.Lease
}

// ResolveDispute finalizes d with dec in its own transaction and then settles
// it. Resolving an already resolved dispute is a no-op.
func (e *Engine) ResolveDispute(ctx context.Context, disputeID string, dec Decision) error {
	var alreadyResolved bool
	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		d, err := stores.Disputes().GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if d.IsResolved() {
			alreadyResolved = true
			return nil
		}
		return e.Finalize(ctx, stores, &d, dec)
	})
	if err != nil {
		return err
	}
	if alreadyResolved {
		return nil
	}
	return e.Settle(ctx, disputeID)
}

// Finalize records the resolution, plans the settlement legs and audits the
// decision using the caller's transaction. d must be locked by the caller.
func (e *Engine) Finalize(ctx context.Context, stores store.StoreProvider, d *dispute.Dispute, dec Decision) error {
	switch d.Status {
	case dispute.StatusTier1Review, dispute.StatusTier2Voting, dispute.StatusTier3Appeal:
	default:
		return fmt.Errorf("%w: cannot resolve a dispute in %s", dispute.ErrInvalidStatus, d.Status)
	}

	now := dec.At
	if now.IsZero() {
		now = e.now()
	}
	now = now.UTC()
	details := make(map[string]any, len(dec.Details)+2)
	for k, v := range dec.Details {
		details[k] = v
	}
	if dec.SplitPercentage != nil {
		details["split_percentage"] = *dec.SplitPercentage
	}
	details["appeal_reversed"] = dec.AppealReversed

	res := dispute.Resolution{
		Verdict:        dec.Verdict,
		Reason:         dec.Reason,
		Tier:           dec.Tier,
		AppealReversed: dec.AppealReversed,
		ResolvedAt:     now,
	}
	if err := d.Resolve(res, details); err != nil {
		return err
	}
	if err := stores.Disputes().Update(ctx, *d); err != nil {
		return err
	}

	sub, err := stores.Submissions().Get(ctx, d.SubmissionID)
	if err != nil {
		return fmt.Errorf("settlement: load submission: %w", err)
	}
	worker, err := stores.Users().GetUserByID(ctx, d.WorkerID)
	if err != nil {
		return fmt.Errorf("settlement: load worker: %w", err)
	}

	legs, err := Plan(*d, sub, worker.Reputation, e.cfg.RequesterShareBps)
	if err != nil {
		return err
	}
	if err := stores.Settlements().InsertLegs(ctx, legs); err != nil {
		return err
	}

	payload := map[string]any{
		"outcome":         res.Outcome,
		"tier":            res.Tier,
		"reason":          res.Reason,
		"appeal_reversed": res.AppealReversed,
		"legs":            len(legs),
	}
	if res.SplitPercentage != nil {
		payload["split_percentage"] = *res.SplitPercentage
	}
	if _, err := stores.Audit().Append(ctx, audit.Entry{
		DisputeID: d.ID,
		Type:      audit.TypeResolved,
		ActorID:   dec.ActorID,
		Payload:   payload,
		At:        now,
	}); err != nil {
		return err
	}
	return nil
}

// Settle drives every pending leg of a resolved dispute through its
// collaborator. A leg is claimed in its own transaction before the call and
// completed after it; a failed call hands the leg back and Settle returns
// ErrSettlementPending. Legs currently claimed by another settler are left
// alone.
func (e *Engine) Settle(ctx context.Context, disputeID string) (err error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DisputeID: logger.Ptr(disputeID),
		Component: "disputeflow.settlement",
	})
	ctx, span := e.tracer.Start(ctx, "settlement.settle", trace.WithAttributes(attribute.String("dispute.id", disputeID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var (
		d    dispute.Dispute
		legs []dispute.SettlementLeg
	)
	err = e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		var err error
		if d, err = stores.Disputes().Get(ctx, disputeID); err != nil {
			return err
		}
		legs, err = stores.Settlements().ListLegs(ctx, disputeID)
		return err
	})
	if err != nil {
		return err
	}
	if !d.IsResolved() {
		return fmt.Errorf("%w: dispute %s is not resolved", dispute.ErrInvalidStatus, disputeID)
	}
	if d.SettledAt != nil {
		return nil
	}

	var failures []error
	for _, leg := range legs {
		if leg.Status != dispute.LegPending {
			continue
		}
		if err := e.settleLeg(ctx, leg, d.Resolution.ResolvedAt); err != nil {
			if errors.Is(err, errNotClaimed) {
				continue
			}
			failures = append(failures, err)
		}
	}

	var settled bool
	err = e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		if _, err := stores.Disputes().GetForUpdate(ctx, disputeID); err != nil {
			return err
		}
		now := e.now().UTC()
		ok, err := stores.Settlements().MarkSettled(ctx, disputeID, now)
		if err != nil || !ok {
			return err
		}
		settled = true
		_, err = stores.Audit().Append(ctx, audit.Entry{
			DisputeID: disputeID,
			Type:      audit.TypeSettled,
			Payload:   map[string]any{"legs": len(legs)},
			At:        now,
		})
		return err
	})
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Bool("dispute.settled", settled), attribute.Int("settlement.failures", len(failures)))
	if len(failures) > 0 {
		return fmt.Errorf("%w: %w", dispute.ErrSettlementPending, errors.Join(failures...))
	}
	if settled {
		slog.InfoContext(ctx, "dispute settled", "legs", len(legs))
	}
	return nil
}

var errNotClaimed = errors.New("settlement: leg held by another settler")

func (e *Engine) settleLeg(ctx context.Context, leg dispute.SettlementLeg, resolvedAt time.Time) error {
	var claimed bool
	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		var err error
		claimed, err = stores.Settlements().ClaimLeg(ctx, leg.DisputeID, leg.Kind, e.now().UTC())
		return err
	})
	if err != nil {
		return err
	}
	if !claimed {
		return errNotClaimed
	}

	callErr := e.execute(ctx, leg, resolvedAt)
	if callErr != nil {
		slog.WarnContext(ctx, "settlement leg failed", "leg", leg.Kind, "action", leg.Instruction.Action, "error", callErr)
		err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
			if _, err := stores.Disputes().GetForUpdate(ctx, leg.DisputeID); err != nil {
				return err
			}
			if err := stores.Settlements().ReleaseLeg(ctx, leg.DisputeID, leg.Kind, callErr.Error()); err != nil {
				return err
			}
			_, err := stores.Audit().Append(ctx, audit.Entry{
				DisputeID: leg.DisputeID,
				Type:      audit.TypeSettlementFailed,
				Payload: map[string]any{
					"leg":     leg.Kind,
					"action":  leg.Instruction.Action,
					"attempt": leg.Attempts + 1,
					"error":   callErr.Error(),
				},
				At: e.now().UTC(),
			})
			return err
		})
		if err != nil {
			return errors.Join(callErr, err)
		}
		return fmt.Errorf("%s: %w", leg.Kind, callErr)
	}

	return e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		return stores.Settlements().CompleteLeg(ctx, leg.DisputeID, leg.Kind, e.now().UTC())
	})
}

// IdempotencyKey identifies one leg of one dispute to downstream systems.
func IdempotencyKey(disputeID string, kind dispute.LegKind) string {
	return disputeID + ":" + string(kind)
}

func (e *Engine) execute(ctx context.Context, leg dispute.SettlementLeg, resolvedAt time.Time) error {
	key := IdempotencyKey(leg.DisputeID, leg.Kind)
	in := leg.Instruction

	switch in.Action {
	case dispute.ActionRelease:
		return e.escrow.Release(ctx, key, in.EscrowID, in.WorkerID, in.Amount)
	case dispute.ActionRefund:
		return e.escrow.Refund(ctx, key, in.EscrowID, in.RequesterID, in.Amount)
	case dispute.ActionSplitRelease:
		return e.escrow.SplitRelease(ctx, key, in.EscrowID, in.WorkerShare, in.RequesterShare)
	case dispute.ActionReleaseStake:
		return e.staking.ReleaseStake(ctx, key, in.TaskID, in.WorkerID)
	case dispute.ActionSlashStake:
		return e.staking.SlashStake(ctx, key, in.TaskID, in.WorkerID, in.RequesterShareBps)
	case dispute.ActionPartialSlash:
		return e.staking.PartialSlash(ctx, key, in.TaskID, in.WorkerID, in.SlashBps, in.RequesterShareBps)
	case dispute.ActionForfeitStake:
		return e.staking.ForfeitEscalationStake(ctx, key, leg.DisputeID, in.AppellantID, in.Amount)
	case dispute.ActionReturnStake:
		return e.staking.ReturnEscalationStake(ctx, key, leg.DisputeID, in.AppellantID, in.Amount)
	case dispute.ActionDisputeResolved:
		return e.reputation.DisputeResolved(ctx, key, ReputationEvent{
			DisputeID:     leg.DisputeID,
			TaskID:        in.TaskID,
			WorkerID:      in.WorkerID,
			RequesterID:   in.RequesterID,
			Outcome:       in.Outcome,
			Tier:          in.Tier,
			PreviousScore: in.PreviousScore,
			NewScore:      in.NewScore,
			ResolvedAt:    resolvedAt,
		})
	}
	return fmt.Errorf("settlement: unknown action %q", in.Action)
}
