package settlement

import (
	"testing"

	"github.com/shopspring/decimal"

	"disputeflow/dispute"
	"disputeflow/submission"
)

func resolved(outcome dispute.Outcome, split *int, reversed bool) dispute.Dispute {
	return dispute.Dispute{
		ID:          "d",
		TaskID:      "task",
		WorkerID:    "worker",
		RequesterID: "requester",
		Status:      dispute.StatusResolved,
		Resolution: &dispute.Resolution{
			Verdict:        dispute.Verdict{Outcome: outcome, SplitPercentage: split},
			Tier:           dispute.Tier3,
			AppealReversed: reversed,
		},
	}
}

var planSub = submission.Submission{
	EscrowID:     "escrow",
	EscrowAmount: decimal.RequireFromString("100"),
	StakeAmount:  decimal.RequireFromString("10"),
}

func TestPlan_Outcomes(t *testing.T) {
	seventy := 70

	cases := []struct {
		name          string
		dispute       dispute.Dispute
		escrowAction  dispute.LegAction
		stakeAction   dispute.LegAction
		workerShare   string
		requesterPart string
		slashBps      int
		newScore      float64
	}{
		{name: "worker wins", dispute: resolved(dispute.OutcomeWorkerWins, nil, false), escrowAction: dispute.ActionRelease, stakeAction: dispute.ActionReleaseStake, workerShare: "100", requesterPart: "0", newScore: 45},
		{name: "requester wins", dispute: resolved(dispute.OutcomeRequesterWins, nil, false), escrowAction: dispute.ActionRefund, stakeAction: dispute.ActionSlashStake, workerShare: "0", requesterPart: "100", newScore: 35},
		{name: "split", dispute: resolved(dispute.OutcomeSplit, &seventy, false), escrowAction: dispute.ActionSplitRelease, stakeAction: dispute.ActionPartialSlash, workerShare: "70", requesterPart: "30", slashBps: 3000, newScore: 42},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			legs, err := Plan(tc.dispute, planSub, 40, 5000)
			if err != nil {
				t.Fatalf("plan: %v", err)
			}
			if len(legs) != 3 {
				t.Fatalf("expected escrow, stake and reputation legs, got %d", len(legs))
			}
			escrow, stake, rep := legs[0].Instruction, legs[1].Instruction, legs[2].Instruction
			if escrow.Action != tc.escrowAction || stake.Action != tc.stakeAction {
				t.Fatalf("unexpected actions %s/%s", escrow.Action, stake.Action)
			}
			if escrow.WorkerShare.String() != tc.workerShare || escrow.RequesterShare.String() != tc.requesterPart {
				t.Fatalf("unexpected shares %s/%s", escrow.WorkerShare, escrow.RequesterShare)
			}
			if stake.SlashBps != tc.slashBps {
				t.Fatalf("expected slash bps %d, got %d", tc.slashBps, stake.SlashBps)
			}
			if rep.Action != dispute.ActionDisputeResolved || rep.PreviousScore != 40 || rep.NewScore != tc.newScore {
				t.Fatalf("unexpected reputation leg %+v", rep)
			}
		})
	}
}

func TestPlan_EscalationStake(t *testing.T) {
	d := resolved(dispute.OutcomeRequesterWins, nil, false)
	d.EscalationStake = &dispute.EscalationStake{AppellantID: "worker", Amount: decimal.RequireFromString("5")}

	legs, err := Plan(d, planSub, 0, 5000)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if legs[2].Kind != dispute.LegEscalationStake || legs[2].Instruction.Action != dispute.ActionForfeitStake {
		t.Fatalf("expected upheld appeal to forfeit the stake, got %+v", legs[2])
	}

	d.Resolution.AppealReversed = true
	legs, err = Plan(d, planSub, 0, 5000)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if legs[2].Instruction.Action != dispute.ActionReturnStake {
		t.Fatalf("expected reversed appeal to return the stake, got %s", legs[2].Instruction.Action)
	}
}

func TestSplitAmount(t *testing.T) {
	cases := []struct {
		amount    string
		percent   int
		worker    string
		requester string
	}{
		{amount: "10", percent: 33, worker: "3.3", requester: "6.7"},
		{amount: "0.000001", percent: 50, worker: "0", requester: "0.000001"},
		{amount: "99.999999", percent: 1, worker: "0.999999", requester: "99"},
	}
	for _, tc := range cases {
		w, r := SplitAmount(decimal.RequireFromString(tc.amount), tc.percent)
		if w.String() != tc.worker || r.String() != tc.requester {
			t.Errorf("%s@%d%%: expected %s/%s got %s/%s", tc.amount, tc.percent, tc.worker, tc.requester, w, r)
		}
		if !w.Add(r).Equal(decimal.RequireFromString(tc.amount)) {
			t.Errorf("%s@%d%%: shares do not sum to the escrow", tc.amount, tc.percent)
		}
	}
}

func TestNextScore(t *testing.T) {
	ten, ninety := 10, 90
	cases := []struct {
		name     string
		previous float64
		outcome  dispute.Outcome
		split    *int
		want     float64
	}{
		{"win", 50, dispute.OutcomeWorkerWins, nil, 55},
		{"loss", 50, dispute.OutcomeRequesterWins, nil, 45},
		{"even split", 50, dispute.OutcomeSplit, nil, 50},
		{"worker-heavy split", 50, dispute.OutcomeSplit, &ninety, 54},
		{"requester-heavy split", 50, dispute.OutcomeSplit, &ten, 46},
		{"capped at 100", 98, dispute.OutcomeWorkerWins, nil, 100},
		{"floored at 0", 3, dispute.OutcomeRequesterWins, nil, 0},
	}
	for _, tc := range cases {
		if got := NextScore(tc.previous, tc.outcome, tc.split); got != tc.want {
			t.Errorf("%s: NextScore = %v, want %v", tc.name, got, tc.want)
		}
	}
}
