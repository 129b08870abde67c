package arbitration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"disputeflow/audit"
	"disputeflow/autoscore"
	"disputeflow/dispute"
	"disputeflow/jury"
	"disputeflow/logger"
	"disputeflow/settlement"
	"disputeflow/store"
)

type VoteRequest struct {
	DisputeID string
	JurorID   string
	Choice    jury.Choice
	Reason    *string
}

// CastVote records a juror's vote and closes the round if it is now decided.
func (e *Engine) CastVote(ctx context.Context, req VoteRequest) error {
	if err := req.Choice.Validate(); err != nil {
		return err
	}
	now := e.clock()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DisputeID: logger.Ptr(req.DisputeID),
		JurorID:   logger.Ptr(req.JurorID),
		Tier:      logger.Ptr(2),
	})

	var resolved bool
	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		d, err := stores.Disputes().GetForUpdate(ctx, req.DisputeID)
		if err != nil {
			return err
		}
		if d.Status != dispute.StatusTier2Voting {
			return dispute.ErrVotingClosed
		}
		if d.Tier2Deadline != nil && !now.Before(*d.Tier2Deadline) {
			return dispute.ErrVotingClosed
		}

		panel, err := stores.Jury().ListPanel(ctx, d.ID)
		if err != nil {
			return err
		}
		if !seated(panel, req.JurorID) {
			return dispute.ErrNotAJuror
		}
		votes, err := stores.Jury().ListVotes(ctx, d.ID)
		if err != nil {
			return err
		}
		for _, v := range votes {
			if v.JurorID == req.JurorID {
				return dispute.ErrAlreadyVoted
			}
		}

		if err := stores.Jury().InsertVote(ctx, jury.Vote{
			DisputeID: d.ID,
			JurorID:   req.JurorID,
			Choice:    req.Choice,
			Reason:    req.Reason,
			CastAt:    now,
		}); err != nil {
			return err
		}
		// The ballot itself stays out of the audit trail until the round closes.
		if _, err := stores.Audit().Append(ctx, audit.Entry{
			DisputeID: d.ID,
			Type:      audit.TypeVoteCast,
			ActorID:   &req.JurorID,
			Payload:   map[string]any{"votes_cast": len(votes) + 1, "panel_size": len(panel)},
			At:        now,
		}); err != nil {
			return err
		}

		resolved, err = e.closeVoting(ctx, stores, &d, now)
		return err
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "vote cast", "choice", req.Choice)
	if resolved {
		e.settle(ctx, req.DisputeID)
	}
	return nil
}

// CheckJuryVotingComplete resolves or escalates a Tier 2 dispute whose round is
// decided, deadlocked or past its deadline. Anything else is left as is.
func (e *Engine) CheckJuryVotingComplete(ctx context.Context, disputeID string, now time.Time) error {
	now = now.UTC()
	ctx = logger.WithLogFields(ctx, logger.LogFields{DisputeID: logger.Ptr(disputeID), Tier: logger.Ptr(2)})

	var resolved bool
	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		d, err := stores.Disputes().GetForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		resolved, err = e.closeVoting(ctx, stores, &d, now)
		return err
	})
	if err != nil {
		return err
	}
	if resolved {
		e.settle(ctx, disputeID)
	}
	return nil
}

func (e *Engine) closeVoting(ctx context.Context, stores store.StoreProvider, d *dispute.Dispute, now time.Time) (bool, error) {
	if d.Status != dispute.StatusTier2Voting {
		return false, nil
	}

	panel, err := stores.Jury().ListPanel(ctx, d.ID)
	if err != nil {
		return false, err
	}
	votes, err := stores.Jury().ListVotes(ctx, d.ID)
	if err != nil {
		return false, err
	}
	tally := jury.Count(len(panel), votes)
	details := map[string]any{"tally": tally}
	if d.Tier2Deadline != nil {
		details["previous_tier2_deadline"] = d.Tier2Deadline.UTC()
	}

	if side, ok := tally.Majority(); ok {
		outcome, _ := side.Outcome()
		count := tally.Worker
		if side == jury.ChoiceRequester {
			count = tally.Requester
		}
		err := e.settler.Finalize(ctx, stores, d, settlement.Decision{
			Verdict: dispute.Verdict{Outcome: outcome},
			Reason:  fmt.Sprintf("Tier 2 Jury Resolution: %d of %d jurors", count, tally.Panel),
			Tier:    dispute.Tier2,
			At:      now,
			Details: details,
		})
		return err == nil, err
	}

	expired := d.Tier2Deadline != nil && !now.Before(*d.Tier2Deadline)
	if !expired && !tally.Deadlocked() {
		return false, nil
	}

	details["trigger"] = "tier2_deadline"
	if !expired {
		details["trigger"] = "deadlock"
	}
	previous := PreviousOutcome(tally, d.AutoScore)
	if err := d.EscalateToAppeal(now, now.Add(e.policy.Tier3Window), previous, details); err != nil {
		return false, err
	}
	if err := stores.Disputes().Update(ctx, *d); err != nil {
		return false, err
	}
	if err := e.appendTierChange(ctx, stores, *d, now); err != nil {
		return false, err
	}
	slog.InfoContext(ctx, "dispute escalated to appeal", "trigger", details["trigger"], "previous_outcome", previous.Outcome)
	return false, nil
}

// PreviousOutcome is the verdict Tier 3 upholds if no admin acts: the strict
// vote leader, otherwise the lean of the Tier 1 score, with an even score
// splitting the escrow down the middle.
func PreviousOutcome(tally jury.Tally, score *autoscore.Result) dispute.Verdict {
	if side, ok := tally.Leader(); ok {
		outcome, _ := side.Outcome()
		return dispute.Verdict{Outcome: outcome}
	}

	total := 50.0
	if score != nil {
		total = score.TotalScore
	}
	switch {
	case total > 50:
		return dispute.Verdict{Outcome: dispute.OutcomeWorkerWins}
	case total < 50:
		return dispute.Verdict{Outcome: dispute.OutcomeRequesterWins}
	}
	half := 50
	return dispute.Verdict{Outcome: dispute.OutcomeSplit, SplitPercentage: &half}
}

func seated(panel []jury.Assignment, jurorID string) bool {
	for _, a := range panel {
		if a.JurorID == jurorID {
			return true
		}
	}
	return false
}
