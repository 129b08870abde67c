package dispute

import (
	"fmt"
	"time"
)

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusOpened: {
		StatusEvidencePending: {},
	},
	StatusEvidencePending: {
		StatusTier1Review: {},
	},
	StatusTier1Review: {
		StatusResolved:    {},
		StatusTier2Voting: {},
	},
	StatusTier2Voting: {
		StatusResolved:    {},
		StatusTier3Appeal: {},
	},
	StatusTier3Appeal: {
		StatusResolved: {},
	},
}

func ValidateTransition(from, to Status) error {
	next, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// tierOf is the tier a dispute is in once it reaches status, given its tier before.
func tierOf(current Tier, status Status) Tier {
	switch status {
	case StatusTier2Voting:
		return Tier2
	case StatusTier3Appeal:
		return Tier3
	case StatusResolved:
		return current
	default:
		return Tier1
	}
}

type transition struct {
	to       Status
	at       time.Time
	deadline *time.Time
	details  map[string]any
}

func (d *Dispute) apply(t transition) error {
	if err := ValidateTransition(d.Status, t.to); err != nil {
		return err
	}
	toTier := tierOf(d.CurrentTier, t.to)
	if toTier < d.CurrentTier {
		return fmt.Errorf("%w: tier %d -> %d", ErrInvalidTransition, d.CurrentTier, toTier)
	}

	switch t.to {
	case StatusEvidencePending, StatusTier2Voting, StatusTier3Appeal:
		if t.deadline == nil {
			return fmt.Errorf("%w: %s requires a deadline", ErrInvalidTransition, t.to)
		}
	}

	entry := TierTransition{
		FromTier:   d.CurrentTier,
		ToTier:     toTier,
		FromStatus: d.Status,
		ToStatus:   t.to,
		At:         t.at.UTC(),
		Details:    t.details,
	}

	switch t.to {
	case StatusEvidencePending:
		d.EvidenceDeadline = t.deadline
	case StatusTier2Voting:
		d.Tier2Deadline = t.deadline
	case StatusTier3Appeal:
		d.Tier3Deadline = t.deadline
	}

	d.Status = t.to
	d.CurrentTier = toTier
	d.TierHistory = append(d.TierHistory, entry)
	d.UpdatedAt = t.at
	return nil
}

// StartEvidenceWindow moves a freshly opened dispute into the evidence window.
func (d *Dispute) StartEvidenceWindow(at, deadline time.Time) error {
	return d.apply(transition{
		to:       StatusEvidencePending,
		at:       at,
		deadline: &deadline,
		details:  map[string]any{"evidence_deadline": deadline.UTC()},
	})
}

// BeginReview closes the evidence window and hands the dispute to Tier 1.
func (d *Dispute) BeginReview(at time.Time, details map[string]any) error {
	return d.apply(transition{to: StatusTier1Review, at: at, details: details})
}

func (d *Dispute) EscalateToJury(at, deadline time.Time, details map[string]any) error {
	return d.apply(transition{to: StatusTier2Voting, at: at, deadline: &deadline, details: details})
}

// EscalateToAppeal enters Tier 3. The previous outcome is required so the
// default-uphold policy always has something to uphold.
func (d *Dispute) EscalateToAppeal(at, deadline time.Time, previous Verdict, details map[string]any) error {
	if err := previous.Validate(); err != nil {
		return fmt.Errorf("%w: previous outcome: %v", ErrMissingPreviousOutcome, err)
	}
	if details == nil {
		details = map[string]any{}
	}
	details["previous_outcome"] = previous.Outcome
	if previous.SplitPercentage != nil {
		details["previous_split_percentage"] = *previous.SplitPercentage
	}
	if err := d.apply(transition{to: StatusTier3Appeal, at: at, deadline: &deadline, details: details}); err != nil {
		return err
	}
	d.Escalation = &Escalation{PreviousOutcome: previous, EscalatedAt: at.UTC()}
	return nil
}

// Resolve records the terminal decision. Tier must match the dispute's tier.
func (d *Dispute) Resolve(res Resolution, details map[string]any) error {
	if err := res.Verdict.Validate(); err != nil {
		return err
	}
	if res.Tier != d.CurrentTier {
		return fmt.Errorf("%w: resolution tier %d on a tier %d dispute", ErrInvalidStatus, res.Tier, d.CurrentTier)
	}
	if details == nil {
		details = map[string]any{}
	}
	details["outcome"] = res.Outcome
	details["reason"] = res.Reason
	if err := d.apply(transition{to: StatusResolved, at: res.ResolvedAt, details: details}); err != nil {
		return err
	}
	res.ResolvedAt = res.ResolvedAt.UTC()
	d.Resolution = &res
	return nil
}

// TierMonotonic reports whether a tier history never de-escalates.
func TierMonotonic(history []TierTransition) bool {
	var last Tier
	for _, h := range history {
		if h.ToTier < h.FromTier || h.FromTier < last {
			return false
		}
		last = h.ToTier
	}
	return true
}
