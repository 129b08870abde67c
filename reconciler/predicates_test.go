package reconciler

import (
	"testing"
	"time"

	"disputeflow/autoscore"
	"disputeflow/dispute"
)

func TestPredicates(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	settledAt := now.Add(-time.Hour)

	tests := []struct {
		name string
		d    dispute.Dispute
		pred func(dispute.Dispute) bool
		want bool
	}{
		{
			name: "evidence window closed",
			d:    dispute.Dispute{Status: dispute.StatusEvidencePending, CurrentTier: dispute.Tier1, EvidenceDeadline: &past},
			pred: func(d dispute.Dispute) bool { return NeedsTier1(d, now) },
			want: true,
		},
		{
			name: "deadline equal to now counts as passed",
			d:    dispute.Dispute{Status: dispute.StatusOpened, CurrentTier: dispute.Tier1, EvidenceDeadline: &now},
			pred: func(d dispute.Dispute) bool { return NeedsTier1(d, now) },
			want: true,
		},
		{
			name: "evidence window open",
			d:    dispute.Dispute{Status: dispute.StatusEvidencePending, CurrentTier: dispute.Tier1, EvidenceDeadline: &future},
			pred: func(d dispute.Dispute) bool { return NeedsTier1(d, now) },
			want: false,
		},
		{
			name: "already scored",
			d: dispute.Dispute{Status: dispute.StatusTier1Review, CurrentTier: dispute.Tier1, EvidenceDeadline: &past,
				AutoScore: &autoscore.Result{TotalScore: 50}},
			pred: func(d dispute.Dispute) bool { return NeedsTier1(d, now) },
			want: false,
		},
		{
			name: "no evidence deadline",
			d:    dispute.Dispute{Status: dispute.StatusOpened, CurrentTier: dispute.Tier1},
			pred: func(d dispute.Dispute) bool { return NeedsTier1(d, now) },
			want: false,
		},
		{
			name: "voting deadline passed",
			d:    dispute.Dispute{Status: dispute.StatusTier2Voting, CurrentTier: dispute.Tier2, Tier2Deadline: &past},
			pred: func(d dispute.Dispute) bool { return Tier2Expired(d, now) },
			want: true,
		},
		{
			name: "voting still open",
			d:    dispute.Dispute{Status: dispute.StatusTier2Voting, CurrentTier: dispute.Tier2, Tier2Deadline: &future},
			pred: func(d dispute.Dispute) bool { return Tier2Expired(d, now) },
			want: false,
		},
		{
			name: "tier mismatch is ignored",
			d:    dispute.Dispute{Status: dispute.StatusTier2Voting, CurrentTier: dispute.Tier3, Tier2Deadline: &past},
			pred: func(d dispute.Dispute) bool { return Tier2Expired(d, now) },
			want: false,
		},
		{
			name: "appeal window lapsed",
			d:    dispute.Dispute{Status: dispute.StatusTier3Appeal, CurrentTier: dispute.Tier3, Tier3Deadline: &past},
			pred: func(d dispute.Dispute) bool { return Tier3Expired(d, now) },
			want: true,
		},
		{
			name: "resolved but unsettled",
			d:    dispute.Dispute{Status: dispute.StatusResolved, CurrentTier: dispute.Tier2},
			pred: NeedsSettlement,
			want: true,
		},
		{
			name: "settled",
			d:    dispute.Dispute{Status: dispute.StatusResolved, CurrentTier: dispute.Tier2, SettledAt: &settledAt},
			pred: NeedsSettlement,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.d); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
