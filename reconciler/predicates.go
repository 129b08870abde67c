package reconciler

import (
	"time"

	"disputeflow/dispute"
)

// tier1Statuses are the states a dispute can wait in before it is scored.
var tier1Statuses = []dispute.Status{
	dispute.StatusOpened,
	dispute.StatusEvidencePending,
	dispute.StatusTier1Review,
}

// NeedsTier1 reports whether the evidence window of an unscored Tier 1 dispute
// has closed.
func NeedsTier1(d dispute.Dispute, now time.Time) bool {
	if d.CurrentTier != dispute.Tier1 || d.AutoScore != nil {
		return false
	}
	switch d.Status {
	case dispute.StatusOpened, dispute.StatusEvidencePending, dispute.StatusTier1Review:
	default:
		return false
	}
	return passed(d.EvidenceDeadline, now)
}

func Tier2Expired(d dispute.Dispute, now time.Time) bool {
	return d.Status == dispute.StatusTier2Voting && d.CurrentTier == dispute.Tier2 && passed(d.Tier2Deadline, now)
}

func Tier3Expired(d dispute.Dispute, now time.Time) bool {
	return d.Status == dispute.StatusTier3Appeal && d.CurrentTier == dispute.Tier3 && passed(d.Tier3Deadline, now)
}

// NeedsSettlement reports whether a resolved dispute still has legs to drive.
func NeedsSettlement(d dispute.Dispute) bool {
	return d.IsResolved() && d.SettledAt == nil
}

func passed(deadline *time.Time, now time.Time) bool {
	return deadline != nil && !now.Before(*deadline)
}
