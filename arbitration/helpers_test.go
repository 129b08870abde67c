package arbitration_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"disputeflow/arbitration"
	"disputeflow/auth"
	"disputeflow/autoscore"
	"disputeflow/settlement"
	"disputeflow/store/memstore"
	"disputeflow/submission"
)

var start = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func allRequirements() autoscore.Requirements {
	return autoscore.Requirements{
		ArtefactCount:    3,
		TimeWindow:       &autoscore.TimeWindow{Start: start.Add(-48 * time.Hour), End: start},
		LocationRadius:   ptr(50.0),
		RejectDuplicates: true,
		Bearing:          ptr(90.0),
		MinResolution:    &autoscore.Resolution{Width: 1024, Height: 768},
	}
}

var allChecks = []string{
	autoscore.CheckArtefactCount,
	autoscore.CheckTimeWindow,
	autoscore.CheckLocation,
	autoscore.CheckDuplicatePhoto,
	autoscore.CheckBearing,
	autoscore.CheckMinResolution,
}

// verification passes the named checks and fails the rest.
func verification(passed ...string) autoscore.VerificationResult {
	keep := map[string]bool{}
	for _, p := range passed {
		keep[p] = true
	}
	var v autoscore.VerificationResult
	for _, c := range allChecks {
		if keep[c] {
			v.Passed = append(v.Passed, c)
		} else {
			v.Failed = append(v.Failed, c)
		}
	}
	return v
}

var (
	// 25 + 15 + 10 of 100.
	evenScore = verification(autoscore.CheckLocation, autoscore.CheckTimeWindow, autoscore.CheckBearing)
	// 25 + 15 + 20 of 100.
	leaningWorker = verification(autoscore.CheckLocation, autoscore.CheckTimeWindow, autoscore.CheckArtefactCount)
	passAll       = verification(allChecks...)
	failAll       = verification()
)

type harness struct {
	store   *memstore.Store
	ledger  *recordingLedger
	engine  *arbitration.Engine
	clock   time.Time
	nextID  int
	jurors  []string
	idMutex sync.Mutex
}

func newHarness(jurorCount int) *harness {
	h := &harness{
		store:  memstore.New(),
		ledger: &recordingLedger{},
		clock:  start,
	}
	h.store.AddUser(auth.User{ID: "worker", Role: auth.RoleMember, Reputation: 70})
	h.store.AddUser(auth.User{ID: "requester", Role: auth.RoleMember, Reputation: 80})
	h.store.AddUser(auth.User{ID: "admin", Role: auth.RoleAdmin, Reputation: 100})
	for i := 1; i <= jurorCount; i++ {
		id := fmt.Sprintf("juror-%d", i)
		h.jurors = append(h.jurors, id)
		h.store.AddUser(auth.User{ID: id, Role: auth.RoleMember, Reputation: float64(50 + i)})
	}

	now := func() time.Time { return h.clock }
	settler := settlement.NewEngine(h.store, h.ledger, h.ledger, h.ledger, settlement.Config{RequesterShareBps: 5000}).
		WithClock(now)
	h.engine = arbitration.NewEngine(h.store, settler, autoscore.New(), arbitration.Policy{
		EvidenceWindow:     72 * time.Hour,
		Tier2Window:        48 * time.Hour,
		Tier3Window:        72 * time.Hour,
		PanelSize:          5,
		MinJurorReputation: 50,
	},
		arbitration.WithClock(now),
		arbitration.WithRand(rand.New(rand.NewPCG(11, 13))),
		arbitration.WithIDGenerator(h.newID),
	)
	return h
}

func (h *harness) newID() string {
	h.idMutex.Lock()
	defer h.idMutex.Unlock()
	h.nextID++
	return fmt.Sprintf("id-%d", h.nextID)
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func (h *harness) addSubmission(id string, v autoscore.VerificationResult) {
	h.store.AddSubmission(submission.Submission{
		ID:           id,
		TaskID:       "task-" + id,
		WorkerID:     "worker",
		RequesterID:  "requester",
		Status:       submission.StatusRejected,
		EscrowID:     "escrow-" + id,
		EscrowAmount: decimal.RequireFromString("120"),
		StakeAmount:  decimal.RequireFromString("12"),
		Verification: v,
		Requirements: allRequirements(),
	})
}

type recordingLedger struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (l *recordingLedger) record(call string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	action := strings.SplitN(call, ":", 2)[0]
	if l.fail[action] {
		return fmt.Errorf("%s rejected", action)
	}
	l.calls = append(l.calls, call)
	return nil
}

func (l *recordingLedger) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *recordingLedger) Release(_ context.Context, _, escrowID, workerID string, amount decimal.Decimal) error {
	return l.record("release:" + escrowID + ":" + workerID + ":" + amount.String())
}

func (l *recordingLedger) Refund(_ context.Context, _, escrowID, requesterID string, amount decimal.Decimal) error {
	return l.record("refund:" + escrowID + ":" + requesterID + ":" + amount.String())
}

func (l *recordingLedger) SplitRelease(_ context.Context, _, escrowID string, w, r decimal.Decimal) error {
	return l.record("split_release:" + escrowID + ":" + w.String() + ":" + r.String())
}

func (l *recordingLedger) ReleaseStake(_ context.Context, _, taskID, workerID string) error {
	return l.record("release_stake:" + taskID + ":" + workerID)
}

func (l *recordingLedger) SlashStake(_ context.Context, _, taskID, workerID string, bps int) error {
	return l.record(fmt.Sprintf("slash_stake:%s:%s:%d", taskID, workerID, bps))
}

func (l *recordingLedger) PartialSlash(_ context.Context, _, taskID, workerID string, slashBps, bps int) error {
	return l.record(fmt.Sprintf("partial_slash:%s:%s:%d:%d", taskID, workerID, slashBps, bps))
}

func (l *recordingLedger) ForfeitEscalationStake(_ context.Context, _, disputeID, appellantID string, amount decimal.Decimal) error {
	return l.record("forfeit_escalation_stake:" + disputeID + ":" + appellantID + ":" + amount.String())
}

func (l *recordingLedger) ReturnEscalationStake(_ context.Context, _, disputeID, appellantID string, amount decimal.Decimal) error {
	return l.record("return_escalation_stake:" + disputeID + ":" + appellantID + ":" + amount.String())
}

func (l *recordingLedger) DisputeResolved(_ context.Context, _ string, ev settlement.ReputationEvent) error {
	return l.record(fmt.Sprintf("dispute_resolved:%s:%s:%d", ev.DisputeID, ev.Outcome, ev.Tier))
}
