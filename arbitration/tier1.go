package arbitration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"disputeflow/autoscore"
	"disputeflow/dispute"
	"disputeflow/jury"
	"disputeflow/logger"
	"disputeflow/settlement"
	"disputeflow/store"
)

// ProcessTier1Result scores the submission once the evidence window has closed.
// A decisive score resolves the dispute; anything else seats a jury.
func (e *Engine) ProcessTier1Result(ctx context.Context, disputeID string, now time.Time) error {
	now = now.UTC()
	ctx = logger.WithLogFields(ctx, logger.LogFields{DisputeID: logger.Ptr(disputeID), Tier: logger.Ptr(1)})

	var (
		resolved bool
		result   autoscore.Result
	)
	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		d, err := stores.Disputes().GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if d.AutoScore != nil || d.CurrentTier != dispute.Tier1 {
			return dispute.ErrAlreadyProcessed
		}

		switch d.Status {
		case dispute.StatusOpened:
			if err := d.StartEvidenceWindow(now, now); err != nil {
				return err
			}
			fallthrough
		case dispute.StatusEvidencePending:
			if err := d.BeginReview(now, map[string]any{"trigger": "evidence_deadline"}); err != nil {
				return err
			}
		case dispute.StatusTier1Review:
		default:
			return dispute.ErrAlreadyProcessed
		}

		sub, err := stores.Submissions().Get(ctx, d.SubmissionID)
		if err != nil {
			return fmt.Errorf("arbitration: load submission: %w", err)
		}
		result = e.evaluator.Evaluate(sub.Verification, sub.Requirements, now)
		d.AutoScore = &result

		details := map[string]any{
			"score":          result.TotalScore,
			"recommendation": result.Recommendation,
		}

		switch result.Recommendation {
		case autoscore.RecommendWorker, autoscore.RecommendRequester:
			resolved = true
			return e.settler.Finalize(ctx, stores, &d, settlement.Decision{
				Verdict: dispute.Verdict{Outcome: dispute.Outcome(result.Recommendation)},
				Reason:  fmt.Sprintf("Tier 1 Automated Resolution: %.2f confidence", result.TotalScore),
				Tier:    dispute.Tier1,
				At:      now,
				Details: details,
			})
		}

		panel, err := e.selectPanel(ctx, stores, d, now)
		if err != nil {
			return err
		}
		details["trigger"] = "auto_score_inconclusive"
		details["panel_size"] = len(panel)
		if err := d.EscalateToJury(now, now.Add(e.policy.Tier2Window), details); err != nil {
			return err
		}
		if err := stores.Disputes().Update(ctx, d); err != nil {
			return err
		}
		if err := stores.Jury().AssignPanel(ctx, panel); err != nil {
			return err
		}
		return e.appendTierChange(ctx, stores, d, now)
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "tier 1 processed", "score", result.TotalScore, "recommendation", result.Recommendation)
	if resolved {
		e.settle(ctx, disputeID)
	}
	return nil
}

// selectPanel draws the Tier 2 jury, excluding both parties and anyone who has
// worked with either of them.
func (e *Engine) selectPanel(ctx context.Context, stores store.StoreProvider, d dispute.Dispute, now time.Time) ([]jury.Assignment, error) {
	users, err := stores.Users().ListEligibleJurors(ctx, e.policy.MinJurorReputation)
	if err != nil {
		return nil, err
	}
	conflicts, err := stores.Users().ListConflicts(ctx, d.WorkerID, d.RequesterID)
	if err != nil {
		return nil, err
	}

	exclude := map[string]struct{}{d.WorkerID: {}, d.RequesterID: {}}
	for _, id := range conflicts {
		exclude[id] = struct{}{}
	}
	candidates := make([]jury.Candidate, 0, len(users))
	for _, u := range users {
		candidates = append(candidates, jury.Candidate{UserID: u.ID, Weight: u.Reputation})
	}

	picked, err := jury.SelectPanel(candidates, e.policy.PanelSize, exclude, e.rng)
	if err != nil {
		return nil, err
	}
	panel := make([]jury.Assignment, len(picked))
	for i, c := range picked {
		panel[i] = jury.Assignment{DisputeID: d.ID, JurorID: c.UserID, Weight: c.Weight, AssignedAt: now}
	}
	return panel, nil
}
