package dispute

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"disputeflow/autoscore"
	"disputeflow/db"
)

// TestRepository_Integration connects to a real PostgreSQL via DATABASE_URL and
// round-trips a dispute through every persisted field.
func TestRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	workerID, requesterID, submissionID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	for _, id := range []string{workerID, requesterID} {
		if _, err := pool.Exec(ctx, `INSERT INTO users (id, display_name, reputation) VALUES ($1, 'seed', 80)`, id); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO submissions (id, task_id, worker_id, requester_id, status, escrow_id, escrow_amount, stake_amount)
		VALUES ($1, $2, $3, $4, 'disputed', 'esc-1', 120.50, 10)
	`, submissionID, uuid.NewString(), workerID, requesterID); err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	d := Dispute{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		TaskID:       uuid.NewString(),
		WorkerID:     workerID,
		RequesterID:  requesterID,
		OpenedBy:     PartyRequester,
		Reason:       "photos do not match",
		Status:       StatusOpened,
		CurrentTier:  Tier1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.StartEvidenceWindow(now, now.Add(time.Hour)); err != nil {
		t.Fatalf("start window: %v", err)
	}

	repo := NewRepository(pool)
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, Dispute{ID: uuid.NewString(), SubmissionID: submissionID, TaskID: d.TaskID,
		WorkerID: workerID, RequesterID: requesterID, OpenedBy: PartyWorker, Status: StatusOpened, CurrentTier: Tier1,
		CreatedAt: now}); err != ErrIneligibleSubmission {
		t.Fatalf("expected second dispute on the same submission to fail, got %v", err)
	}

	_ = d.BeginReview(now, nil)
	d.AutoScore = &autoscore.Result{TotalScore: 55, Recommendation: autoscore.RecommendEscalate, Timestamp: now}
	_ = d.EscalateToJury(now, now.Add(48*time.Hour), nil)
	if err := d.EscalateToAppeal(now, now.Add(72*time.Hour), Verdict{Outcome: OutcomeWorkerWins}, nil); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	d.EscalationStake = &EscalationStake{AppellantID: requesterID, Amount: decimal.RequireFromString("5.25")}

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	txRepo := NewRepository(tx)
	if _, err := txRepo.GetForUpdate(ctx, d.ID); err != nil {
		t.Fatalf("get for update: %v", err)
	}
	if err := txRepo.Update(ctx, d); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := repo.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusTier3Appeal || got.CurrentTier != Tier3 {
		t.Fatalf("unexpected state %s/%d", got.Status, got.CurrentTier)
	}
	if got.Escalation == nil || got.Escalation.PreviousOutcome.Outcome != OutcomeWorkerWins {
		t.Fatalf("escalation not persisted: %+v", got.Escalation)
	}
	if got.EscalationStake == nil || !got.EscalationStake.Amount.Equal(decimal.RequireFromString("5.25")) {
		t.Fatalf("stake not persisted: %+v", got.EscalationStake)
	}
	if got.AutoScore == nil || got.AutoScore.TotalScore != 55 {
		t.Fatalf("auto score not persisted: %+v", got.AutoScore)
	}
	if len(got.TierHistory) != 4 || !TierMonotonic(got.TierHistory) {
		t.Fatalf("unexpected history: %+v", got.TierHistory)
	}

	// de-escalation is rejected by the database as well
	if _, err := pool.Exec(ctx, `UPDATE disputes SET current_tier = 1 WHERE id = $1`, d.ID); err == nil {
		t.Fatalf("expected tier decrease to be rejected")
	}

	_ = got.Resolve(Resolution{Verdict: Verdict{Outcome: OutcomeWorkerWins}, Tier: Tier3, Reason: "lapsed", ResolvedAt: now}, nil)
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("resolve update: %v", err)
	}

	legs := []SettlementLeg{
		{DisputeID: d.ID, Kind: LegEscrow, Instruction: Instruction{Action: ActionRelease, EscrowID: "esc-1", Amount: decimal.RequireFromString("120.5")}},
		{DisputeID: d.ID, Kind: LegReputation, Instruction: Instruction{Action: ActionDisputeResolved}},
	}
	if err := repo.InsertLegs(ctx, legs); err != nil {
		t.Fatalf("insert legs: %v", err)
	}
	if err := repo.InsertLegs(ctx, legs); err != nil {
		t.Fatalf("replayed insert legs: %v", err)
	}

	claimed, err := repo.ClaimLeg(ctx, d.ID, LegEscrow, now)
	if err != nil || !claimed {
		t.Fatalf("expected first claim to win: %v %v", claimed, err)
	}
	again, err := repo.ClaimLeg(ctx, d.ID, LegEscrow, now)
	if err != nil || again {
		t.Fatalf("expected second claim to lose: %v %v", again, err)
	}
	if err := repo.CompleteLeg(ctx, d.ID, LegEscrow, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if settled, _ := repo.MarkSettled(ctx, d.ID, now); settled {
		t.Fatalf("dispute must not settle while the reputation leg is pending")
	}

	stored, err := repo.ListLegs(ctx, d.ID)
	if err != nil {
		t.Fatalf("list legs: %v", err)
	}
	if len(stored) != 2 || stored[0].Kind != LegEscrow || stored[0].Status != LegCompleted || stored[0].Attempts != 1 {
		t.Fatalf("unexpected legs: %+v", stored)
	}
	if !stored[0].Instruction.Amount.Equal(decimal.RequireFromString("120.5")) {
		t.Fatalf("instruction amount not round-tripped: %s", stored[0].Instruction.Amount)
	}
}
