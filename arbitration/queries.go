package arbitration

import (
	"context"
	"time"

	"disputeflow/audit"
	"disputeflow/dispute"
	"disputeflow/evidence"
	"disputeflow/jury"
	"disputeflow/store"
)

// Detail is everything a party, juror or admin may see about a dispute.
// Individual ballots are not part of it.
type Detail struct {
	Dispute   dispute.Dispute
	Evidence  []evidence.Item
	PanelSize int
	VotesCast int
	Legs      []dispute.SettlementLeg
	Audit     []audit.Entry
}

// Detail loads a dispute for callerID. Admins see every dispute; others must be
// a party or sit on the panel.
func (e *Engine) Detail(ctx context.Context, disputeID, callerID string, isAdmin bool) (Detail, error) {
	var out Detail
	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		d, err := stores.Disputes().Get(ctx, disputeID)
		if err != nil {
			return err
		}
		panel, err := stores.Jury().ListPanel(ctx, disputeID)
		if err != nil {
			return err
		}
		if _, party := d.PartyOf(callerID); !party && !isAdmin && !seated(panel, callerID) {
			return dispute.ErrNotAParty
		}

		votes, err := stores.Jury().ListVotes(ctx, disputeID)
		if err != nil {
			return err
		}
		items, err := stores.Evidence().ListByDispute(ctx, disputeID)
		if err != nil {
			return err
		}
		legs, err := stores.Settlements().ListLegs(ctx, disputeID)
		if err != nil {
			return err
		}
		trail, err := stores.Audit().List(ctx, disputeID)
		if err != nil {
			return err
		}

		out = Detail{
			Dispute:   d,
			Evidence:  items,
			PanelSize: len(panel),
			VotesCast: len(votes),
			Legs:      legs,
			Audit:     trail,
		}
		return nil
	})
	return out, err
}

// PoolEntry is one panel seat as the juror sees it.
type PoolEntry struct {
	Assignment    jury.Assignment
	Status        dispute.Status
	Tier2Deadline *time.Time
	Voted         bool
}

// JuryPool lists the disputes jurorID sits on, newest assignment first.
func (e *Engine) JuryPool(ctx context.Context, jurorID string) ([]PoolEntry, error) {
	var out []PoolEntry
	err := e.tx.WithTx(ctx, func(stores store.StoreProvider) error {
		seats, err := stores.Jury().ListAssignmentsForJuror(ctx, jurorID)
		if err != nil || len(seats) == 0 {
			return err
		}

		ids := make([]string, len(seats))
		for i, s := range seats {
			ids[i] = s.DisputeID
		}
		disputes, err := stores.Disputes().ListByIDs(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]dispute.Dispute, len(disputes))
		for _, d := range disputes {
			byID[d.ID] = d
		}

		out = make([]PoolEntry, 0, len(seats))
		for _, seat := range seats {
			d, ok := byID[seat.DisputeID]
			if !ok {
				continue
			}
			votes, err := stores.Jury().ListVotes(ctx, seat.DisputeID)
			if err != nil {
				return err
			}
			entry := PoolEntry{Assignment: seat, Status: d.Status, Tier2Deadline: d.Tier2Deadline}
			for _, v := range votes {
				if v.JurorID == jurorID {
					entry.Voted = true
					break
				}
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}
