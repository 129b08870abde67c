package arbitration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"disputeflow/audit"
	"disputeflow/dispute"
	"disputeflow/logger"
	"disputeflow/settlement"
	"disputeflow/store"
)

// Appeal posts the escalation stake that backs a challenge of the previous
// outcome. Each dispute accepts one stake.
func (e *Engine) Appeal(ctx context.Context, disputeID, appellantID string, stake decimal.Decimal) error {
	if !stake.IsPositive() {
		return fmt.Errorf("%w: escalation stake must be positive", dispute.ErrInvalidDecision)
	}
	now := e.clock()

	return e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		d, err := stores.Disputes().GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if _, ok := d.PartyOf(appellantID); !ok {
			return dispute.ErrNotAParty
		}
		if d.Status != dispute.StatusTier3Appeal {
			return fmt.Errorf("%w: appeals are only accepted in %s", dispute.ErrInvalidStatus, dispute.StatusTier3Appeal)
		}
		if d.Tier3Deadline != nil && !now.Before(*d.Tier3Deadline) {
			return dispute.ErrAppealWindowClosed
		}
		if d.EscalationStake != nil {
			return dispute.ErrAlreadyAppealed
		}

		d.EscalationStake = &dispute.EscalationStake{AppellantID: appellantID, Amount: stake}
		d.UpdatedAt = now
		if err := stores.Disputes().Update(ctx, d); err != nil {
			return err
		}
		_, err = stores.Audit().Append(ctx, audit.Entry{
			DisputeID: d.ID,
			Type:      audit.TypeAppealFiled,
			ActorID:   &appellantID,
			Payload:   map[string]any{"stake": stake.String()},
			At:        now,
		})
		return err
	})
}

type AdminDecision struct {
	DisputeID string
	AdminID   string
	Verdict   dispute.Verdict
	Reason    string
}

// AdminResolve records an administrator's ruling on an appealed dispute.
func (e *Engine) AdminResolve(ctx context.Context, req AdminDecision) error {
	if err := req.Verdict.Validate(); err != nil {
		return err
	}
	now := e.clock()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DisputeID: logger.Ptr(req.DisputeID),
		ActorID:   logger.Ptr(req.AdminID),
		Tier:      logger.Ptr(3),
	})

	var reversed bool
	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		d, err := stores.Disputes().GetForUpdate(ctx, req.DisputeID)
		if err != nil {
			return err
		}
		if d.Status != dispute.StatusTier3Appeal {
			return fmt.Errorf("%w: dispute is %s", dispute.ErrInvalidStatus, d.Status)
		}
		if d.Tier3Deadline != nil && !now.Before(*d.Tier3Deadline) {
			return dispute.ErrAppealWindowClosed
		}
		if d.Escalation == nil {
			return dispute.ErrMissingPreviousOutcome
		}

		previous := d.Escalation.PreviousOutcome
		reversed = !req.Verdict.Equal(previous)
		reason := req.Reason
		if reason == "" {
			reason = "Tier 3 Admin Resolution"
		}
		return e.settler.Finalize(ctx, stores, &d, settlement.Decision{
			Verdict:        req.Verdict,
			Reason:         reason,
			Tier:           dispute.Tier3,
			AppealReversed: reversed,
			ActorID:        &req.AdminID,
			At:             now,
			Details: map[string]any{
				"admin_id":         req.AdminID,
				"previous_outcome": previous.Outcome,
			},
		})
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "appeal resolved by admin", "outcome", req.Verdict.Outcome, "appeal_reversed", reversed)
	e.settle(ctx, req.DisputeID)
	return nil
}

// ApplyDefaultUphold resolves an appeal whose window lapsed without an admin
// ruling to the outcome recorded at escalation. A Tier 3 dispute without that
// outcome is left untouched and reported; the violation is audited once.
func (e *Engine) ApplyDefaultUphold(ctx context.Context, disputeID string, now time.Time) error {
	now = now.UTC()
	ctx = logger.WithLogFields(ctx, logger.LogFields{DisputeID: logger.Ptr(disputeID), Tier: logger.Ptr(3)})

	var resolved, corrupt bool
	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		d, err := stores.Disputes().GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if d.Status != dispute.StatusTier3Appeal || d.Tier3Deadline == nil || now.Before(*d.Tier3Deadline) {
			return nil
		}

		if d.Escalation == nil {
			corrupt = true
			trail, err := stores.Audit().List(ctx, d.ID)
			if err != nil {
				return err
			}
			for _, entry := range trail {
				if entry.Type == audit.TypeIntegrityViolation && entry.Payload["step"] == "default_uphold" {
					return nil
				}
			}
			_, err = stores.Audit().Append(ctx, audit.Entry{
				DisputeID: d.ID,
				Type:      audit.TypeIntegrityViolation,
				Payload: map[string]any{
					"error":  dispute.ErrMissingPreviousOutcome.Error(),
					"status": d.Status,
					"step":   "default_uphold",
				},
				At: now,
			})
			return err
		}

		previous := d.Escalation.PreviousOutcome
		resolved = true
		return e.settler.Finalize(ctx, stores, &d, settlement.Decision{
			Verdict: previous,
			Reason:  "Tier 3 appeal window lapsed without an admin ruling; previous outcome upheld",
			Tier:    dispute.Tier3,
			At:      now,
			Details: map[string]any{
				"trigger":          "tier3_deadline",
				"previous_outcome": previous.Outcome,
			},
		})
	})
	if err != nil {
		return err
	}
	if corrupt {
		slog.ErrorContext(ctx, "tier 3 dispute has no previous outcome")
		return fmt.Errorf("%w: dispute %s", dispute.ErrMissingPreviousOutcome, disputeID)
	}
	if resolved {
		e.settle(ctx, disputeID)
	}
	return nil
}
