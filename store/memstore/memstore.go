// Package memstore is an in-memory store.TxRunner. Transactions are serialised
// by a single mutex and applied only when fn returns nil, which gives the same
// observable isolation as row locks for the engine's access patterns.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"disputeflow/audit"
	"disputeflow/auth"
	"disputeflow/dispute"
	"disputeflow/evidence"
	"disputeflow/jury"
	"disputeflow/store"
	"disputeflow/submission"
)

type state struct {
	users       map[string]auth.User
	submissions map[string]submission.Submission
	disputes    map[string]dispute.Dispute
	evidence    map[string][]evidence.Item
	panels      map[string][]jury.Assignment
	votes       map[string][]jury.Vote
	legs        map[string][]dispute.SettlementLeg
	audit       map[string][]audit.Entry
	outbox      []audit.OutboxMessage
}

func newState() *state {
	return &state{
		users:       map[string]auth.User{},
		submissions: map[string]submission.Submission{},
		disputes:    map[string]dispute.Dispute{},
		evidence:    map[string][]evidence.Item{},
		panels:      map[string][]jury.Assignment{},
		votes:       map[string][]jury.Vote{},
		legs:        map[string][]dispute.SettlementLeg{},
		audit:       map[string][]audit.Entry{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.submissions {
		c.submissions[k] = v
	}
	for k, v := range s.disputes {
		c.disputes[k] = cloneDispute(v)
	}
	for k, v := range s.evidence {
		c.evidence[k] = append([]evidence.Item(nil), v...)
	}
	for k, v := range s.panels {
		c.panels[k] = append([]jury.Assignment(nil), v...)
	}
	for k, v := range s.votes {
		c.votes[k] = append([]jury.Vote(nil), v...)
	}
	for k, v := range s.legs {
		c.legs[k] = append([]dispute.SettlementLeg(nil), v...)
	}
	for k, v := range s.audit {
		c.audit[k] = append([]audit.Entry(nil), v...)
	}
	c.outbox = append([]audit.OutboxMessage(nil), s.outbox...)
	return c
}

func cloneDispute(d dispute.Dispute) dispute.Dispute {
	d.TierHistory = append([]dispute.TierTransition(nil), d.TierHistory...)
	return d
}

// Store holds the committed state.
type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{state: newState()}
}

var _ store.TxRunner = (*Store)(nil)

// WithTx runs fn against a private copy of the state and commits it when fn
// succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(stores store.StoreProvider) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&provider{s: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// AddUser seeds a user.
func (s *Store) AddUser(u auth.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

// AddSubmission seeds a submission.
func (s *Store) AddSubmission(sub submission.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.submissions[sub.ID] = sub
}

// Dispute returns the committed dispute, for assertions.
func (s *Store) Dispute(id string) (dispute.Dispute, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.state.disputes[id]
	return cloneDispute(d), ok
}

func (s *Store) Submission(id string) (submission.Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.state.submissions[id]
	return sub, ok
}

func (s *Store) Legs(disputeID string) []dispute.SettlementLeg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispute.SettlementLeg(nil), s.state.legs[disputeID]...)
}

func (s *Store) AuditTrail(disputeID string) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.state.audit[disputeID]...)
}

func (s *Store) Outbox() []audit.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.OutboxMessage(nil), s.state.outbox...)
}

func (s *Store) Panel(disputeID string) []jury.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jury.Assignment(nil), s.state.panels[disputeID]...)
}

// Rewrite applies fn to a committed dispute without any validation. Tests use it
// to build states the engine itself would refuse to produce.
func (s *Store) Rewrite(id string, fn func(d *dispute.Dispute)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := cloneDispute(s.state.disputes[id])
	fn(&d)
	s.state.disputes[id] = d
}

type provider struct {
	s *state
}

func (p *provider) Disputes() store.DisputeStore       { return disputeStore{p.s} }
func (p *provider) Settlements() store.SettlementStore { return settlementStore{p.s} }
func (p *provider) Submissions() store.SubmissionStore { return submissionStore{p.s} }
func (p *provider) Jury() store.JuryStore              { return juryStore{p.s} }
func (p *provider) Evidence() store.EvidenceStore      { return evidenceStore{p.s} }
func (p *provider) Users() store.UserStore             { return userStore{p.s} }
func (p *provider) Audit() store.AuditStore            { return auditStore{p.s} }

type disputeStore struct{ s *state }

func (d disputeStore) Create(_ context.Context, in dispute.Dispute) error {
	if _, exists := d.s.disputes[in.ID]; exists {
		return fmt.Errorf("memstore: dispute %s already exists", in.ID)
	}
	for _, existing := range d.s.disputes {
		if existing.SubmissionID == in.SubmissionID {
			return dispute.ErrIneligibleSubmission
		}
	}
	d.s.disputes[in.ID] = cloneDispute(in)
	return nil
}

func (d disputeStore) Get(_ context.Context, id string) (dispute.Dispute, error) {
	out, ok := d.s.disputes[id]
	if !ok {
		return dispute.Dispute{}, dispute.ErrNotFound
	}
	return cloneDispute(out), nil
}

func (d disputeStore) GetForUpdate(ctx context.Context, id string) (dispute.Dispute, error) {
	return d.Get(ctx, id)
}

func (d disputeStore) Update(_ context.Context, in dispute.Dispute) error {
	old, ok := d.s.disputes[in.ID]
	if !ok {
		return dispute.ErrNotFound
	}
	if in.CurrentTier < old.CurrentTier {
		return fmt.Errorf("memstore: dispute %s tier cannot decrease (%d -> %d)", in.ID, old.CurrentTier, in.CurrentTier)
	}
	if old.IsResolved() && !in.IsResolved() {
		return fmt.Errorf("memstore: dispute %s is resolved", in.ID)
	}
	d.s.disputes[in.ID] = cloneDispute(in)
	return nil
}

func (d disputeStore) ListByStatus(_ context.Context, statuses ...dispute.Status) ([]dispute.Dispute, error) {
	want := make(map[dispute.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return d.filter(func(x dispute.Dispute) bool { return want[x.Status] }), nil
}

func (d disputeStore) ListUnsettled(context.Context) ([]dispute.Dispute, error) {
	return d.filter(func(x dispute.Dispute) bool { return x.IsResolved() && x.SettledAt == nil }), nil
}

func (d disputeStore) ListByIDs(_ context.Context, ids []string) ([]dispute.Dispute, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := d.filter(func(x dispute.Dispute) bool { return want[x.ID] })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (d disputeStore) filter(keep func(dispute.Dispute) bool) []dispute.Dispute {
	var out []dispute.Dispute
	for _, x := range d.s.disputes {
		if keep(x) {
			out = append(out, cloneDispute(x))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type settlementStore struct{ s *state }

var legOrder = map[dispute.LegKind]int{
	dispute.LegEscrow:          0,
	dispute.LegStake:           1,
	dispute.LegEscalationStake: 2,
	dispute.LegReputation:      3,
}

func (st settlementStore) InsertLegs(_ context.Context, legs []dispute.SettlementLeg) error {
	for _, leg := range legs {
		if _, ok := st.s.disputes[leg.DisputeID]; !ok {
			return fmt.Errorf("memstore: leg for unknown dispute %s", leg.DisputeID)
		}
		if _, i := st.find(leg.DisputeID, leg.Kind); i >= 0 {
			continue
		}
		leg.Status = dispute.LegPending
		leg.Attempts = 0
		leg.LastError = ""
		leg.ClaimedAt = nil
		leg.CompletedAt = nil
		st.s.legs[leg.DisputeID] = append(st.s.legs[leg.DisputeID], leg)
	}
	for id := range st.s.legs {
		legs := st.s.legs[id]
		sort.SliceStable(legs, func(i, j int) bool { return legOrder[legs[i].Kind] < legOrder[legs[j].Kind] })
	}
	return nil
}

func (st settlementStore) ListLegs(_ context.Context, disputeID string) ([]dispute.SettlementLeg, error) {
	return append([]dispute.SettlementLeg(nil), st.s.legs[disputeID]...), nil
}

func (st settlementStore) find(disputeID string, kind dispute.LegKind) ([]dispute.SettlementLeg, int) {
	legs := st.s.legs[disputeID]
	for i := range legs {
		if legs[i].Kind == kind {
			return legs, i
		}
	}
	return legs, -1
}

func (st settlementStore) ClaimLeg(_ context.Context, disputeID string, kind dispute.LegKind, now time.Time) (bool, error) {
	legs, i := st.find(disputeID, kind)
	if i < 0 || legs[i].Status != dispute.LegPending {
		return false, nil
	}
	legs[i].Status = dispute.LegInFlight
	legs[i].Attempts++
	legs[i].ClaimedAt = &now
	return true, nil
}

func (st settlementStore) CompleteLeg(_ context.Context, disputeID string, kind dispute.LegKind, now time.Time) error {
	legs, i := st.find(disputeID, kind)
	if i < 0 || legs[i].Status != dispute.LegInFlight {
		return nil
	}
	legs[i].Status = dispute.LegCompleted
	legs[i].CompletedAt = &now
	legs[i].LastError = ""
	return nil
}

func (st settlementStore) ReleaseLeg(_ context.Context, disputeID string, kind dispute.LegKind, lastError string) error {
	legs, i := st.find(disputeID, kind)
	if i < 0 || legs[i].Status != dispute.LegInFlight {
		return nil
	}
	legs[i].Status = dispute.LegPending
	legs[i].ClaimedAt = nil
	legs[i].LastError = lastError
	return nil
}

func (st settlementStore) ReclaimStaleLegs(_ context.Context, disputeID string, cutoff time.Time) (int64, error) {
	var n int64
	legs := st.s.legs[disputeID]
	for i := range legs {
		if legs[i].Status == dispute.LegInFlight && legs[i].ClaimedAt != nil && legs[i].ClaimedAt.Before(cutoff) {
			legs[i].Status = dispute.LegPending
			legs[i].ClaimedAt = nil
			legs[i].LastError = "reclaimed after lease expiry"
			n++
		}
	}
	return n, nil
}

func (st settlementStore) MarkSettled(_ context.Context, disputeID string, now time.Time) (bool, error) {
	d, ok := st.s.disputes[disputeID]
	if !ok || !d.IsResolved() || d.SettledAt != nil {
		return false, nil
	}
	for _, leg := range st.s.legs[disputeID] {
		if leg.Status != dispute.LegCompleted {
			return false, nil
		}
	}
	d.SettledAt = &now
	d.UpdatedAt = now
	st.s.disputes[disputeID] = d
	return true, nil
}

type submissionStore struct{ s *state }

func (st submissionStore) Get(_ context.Context, id string) (submission.Submission, error) {
	sub, ok := st.s.submissions[id]
	if !ok {
		return submission.Submission{}, submission.ErrNotFound
	}
	return sub, nil
}

func (st submissionStore) GetForUpdate(ctx context.Context, id string) (submission.Submission, error) {
	return st.Get(ctx, id)
}

func (st submissionStore) UpdateStatus(_ context.Context, id string, status submission.Status, now time.Time) error {
	sub, ok := st.s.submissions[id]
	if !ok {
		return submission.ErrNotFound
	}
	sub.Status = status
	sub.UpdatedAt = now
	st.s.submissions[id] = sub
	return nil
}

type juryStore struct{ s *state }

func (st juryStore) AssignPanel(_ context.Context, panel []jury.Assignment) error {
	for _, a := range panel {
		for _, existing := range st.s.panels[a.DisputeID] {
			if existing.JurorID == a.JurorID {
				return fmt.Errorf("memstore: juror %s already on panel %s", a.JurorID, a.DisputeID)
			}
		}
		st.s.panels[a.DisputeID] = append(st.s.panels[a.DisputeID], a)
	}
	return nil
}

func (st juryStore) ListPanel(_ context.Context, disputeID string) ([]jury.Assignment, error) {
	out := append([]jury.Assignment(nil), st.s.panels[disputeID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].JurorID < out[j].JurorID })
	return out, nil
}

func (st juryStore) ListAssignmentsForJuror(_ context.Context, jurorID string) ([]jury.Assignment, error) {
	var out []jury.Assignment
	for _, panel := range st.s.panels {
		for _, a := range panel {
			if a.JurorID == jurorID {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	return out, nil
}

func (st juryStore) InsertVote(_ context.Context, v jury.Vote) error {
	seated := false
	for _, a := range st.s.panels[v.DisputeID] {
		if a.JurorID == v.JurorID {
			seated = true
			break
		}
	}
	if !seated {
		return fmt.Errorf("memstore: vote from %s has no assignment on %s", v.JurorID, v.DisputeID)
	}
	for _, existing := range st.s.votes[v.DisputeID] {
		if existing.JurorID == v.JurorID {
			return dispute.ErrAlreadyVoted
		}
	}
	st.s.votes[v.DisputeID] = append(st.s.votes[v.DisputeID], v)
	return nil
}

func (st juryStore) ListVotes(_ context.Context, disputeID string) ([]jury.Vote, error) {
	return append([]jury.Vote(nil), st.s.votes[disputeID]...), nil
}

type evidenceStore struct{ s *state }

func (st evidenceStore) Insert(_ context.Context, item evidence.Item) error {
	st.s.evidence[item.DisputeID] = append(st.s.evidence[item.DisputeID], item)
	return nil
}

func (st evidenceStore) ListByDispute(_ context.Context, disputeID string) ([]evidence.Item, error) {
	return append([]evidence.Item(nil), st.s.evidence[disputeID]...), nil
}

type userStore struct{ s *state }

func (st userStore) GetUserByID(_ context.Context, userID string) (auth.User, error) {
	u, ok := st.s.users[userID]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (st userStore) ListEligibleJurors(_ context.Context, minReputation float64) ([]auth.User, error) {
	var out []auth.User
	for _, u := range st.s.users {
		if u.Role == auth.RoleMember && u.Reputation >= minReputation {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st userStore) ListConflicts(_ context.Context, workerID, requesterID string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, sub := range st.s.submissions {
		if sub.WorkerID == workerID || sub.WorkerID == requesterID {
			add(sub.RequesterID)
		}
		if sub.RequesterID == workerID || sub.RequesterID == requesterID {
			add(sub.WorkerID)
		}
	}
	sort.Strings(out)
	return out, nil
}

type auditStore struct{ s *state }

func (st auditStore) Append(_ context.Context, e audit.Entry) (audit.Entry, error) {
	e.Seq = len(st.s.audit[e.DisputeID]) + 1
	st.s.audit[e.DisputeID] = append(st.s.audit[e.DisputeID], e)
	st.s.outbox = append(st.s.outbox, audit.OutboxMessage{
		ID:        int64(len(st.s.outbox) + 1),
		Topic:     audit.Topic(e.Type),
		Status:    "pending",
		CreatedAt: e.At,
	})
	return e, nil
}

func (st auditStore) List(_ context.Context, disputeID string) ([]audit.Entry, error) {
	return append([]audit.Entry(nil), st.s.audit[disputeID]...), nil
}
