package settlement

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"disputeflow/dispute"
	"disputeflow/submission"
)

var hundred = decimal.NewFromInt(100)

// Plan computes the settlement legs for a resolved dispute. It is pure: the
// same dispute and submission always produce the same legs.
func Plan(d dispute.Dispute, sub submission.Submission, previousScore float64, requesterShareBps int) ([]dispute.SettlementLeg, error) {
	res := d.Resolution
	if res == nil {
		return nil, fmt.Errorf("%w: dispute %s has no resolution", dispute.ErrInvalidStatus, d.ID)
	}

	escrow := dispute.Instruction{
		EscrowID:    sub.EscrowID,
		WorkerID:    d.WorkerID,
		RequesterID: d.RequesterID,
		Amount:      sub.EscrowAmount,
	}
	stake := dispute.Instruction{
		TaskID:   d.TaskID,
		WorkerID: d.WorkerID,
		Amount:   sub.StakeAmount,
	}

	switch res.Outcome {
	case dispute.OutcomeWorkerWins:
		escrow.Action = dispute.ActionRelease
		escrow.WorkerShare = sub.EscrowAmount
		escrow.RequesterShare = decimal.Zero
		stake.Action = dispute.ActionReleaseStake
	case dispute.OutcomeRequesterWins:
		escrow.Action = dispute.ActionRefund
		escrow.WorkerShare = decimal.Zero
		escrow.RequesterShare = sub.EscrowAmount
		stake.Action = dispute.ActionSlashStake
		stake.RequesterShareBps = requesterShareBps
	case dispute.OutcomeSplit:
		if res.SplitPercentage == nil {
			return nil, fmt.Errorf("%w: split without percentage", dispute.ErrInvalidDecision)
		}
		p := *res.SplitPercentage
		escrow.Action = dispute.ActionSplitRelease
		escrow.WorkerShare, escrow.RequesterShare = SplitAmount(sub.EscrowAmount, p)
		stake.Action = dispute.ActionPartialSlash
		stake.SlashBps = (100 - p) * 100
		stake.RequesterShareBps = requesterShareBps
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", dispute.ErrInvalidDecision, res.Outcome)
	}

	legs := []dispute.SettlementLeg{
		{DisputeID: d.ID, Kind: dispute.LegEscrow, Instruction: escrow},
		{DisputeID: d.ID, Kind: dispute.LegStake, Instruction: stake},
	}

	if s := d.EscalationStake; s != nil {
		action := dispute.ActionForfeitStake
		if res.AppealReversed {
			action = dispute.ActionReturnStake
		}
		legs = append(legs, dispute.SettlementLeg{
			DisputeID: d.ID,
			Kind:      dispute.LegEscalationStake,
			Instruction: dispute.Instruction{
				Action:      action,
				AppellantID: s.AppellantID,
				Amount:      s.Amount,
			},
		})
	}

	legs = append(legs, dispute.SettlementLeg{
		DisputeID: d.ID,
		Kind:      dispute.LegReputation,
		Instruction: dispute.Instruction{
			Action:        dispute.ActionDisputeResolved,
			TaskID:        d.TaskID,
			WorkerID:      d.WorkerID,
			RequesterID:   d.RequesterID,
			Outcome:       res.Outcome,
			Tier:          res.Tier,
			PreviousScore: previousScore,
			NewScore:      NextScore(previousScore, res.Outcome, res.SplitPercentage),
		},
	})

	for i := range legs {
		legs[i].Status = dispute.LegPending
	}
	return legs, nil
}

// ReputationStep is how far a full win or loss moves the worker's score.
const ReputationStep = 5.0

// NextScore is the worker's score after a dispute: up a step on a win, down a
// step on a loss, and in proportion to the worker's share on a split. The result
// stays within 0..100.
func NextScore(previous float64, outcome dispute.Outcome, splitPercentage *int) float64 {
	var delta float64
	switch outcome {
	case dispute.OutcomeWorkerWins:
		delta = ReputationStep
	case dispute.OutcomeRequesterWins:
		delta = -ReputationStep
	case dispute.OutcomeSplit:
		if splitPercentage != nil {
			delta = ReputationStep * float64(*splitPercentage-50) / 50
		}
	}
	return math.Min(100, math.Max(0, previous+delta))
}

// SplitAmount gives the worker percent% of amount, truncated to the ledger's six
// decimal places, and the requester the exact remainder.
func SplitAmount(amount decimal.Decimal, percent int) (worker, requester decimal.Decimal) {
	worker = amount.Mul(decimal.NewFromInt(int64(percent))).Div(hundred).Truncate(6)
	return worker, amount.Sub(worker)
}
