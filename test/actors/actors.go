package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"disputeflow/arbitration"
	"disputeflow/dispute"
	"disputeflow/jury"
	"disputeflow/reconciler"
)

// tolerate swallows the failures expected under contention and chaos. Only an
// integrity error stops the actor.
func tolerate(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	if dispute.ClassOf(err) == dispute.ClassIntegrity {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func pause(minMs, spreadMs int) {
	time.Sleep(time.Duration(minMs+rand.IntN(spreadMs)) * time.Millisecond)
}

// Juror keeps voting on every open seat it holds. Several jurors racing on the
// same dispute exercise quorum closing and the one-vote guard.
func Juror(ctx context.Context, engine *arbitration.Engine, jurorID string, stop <-chan struct{}) error {
	choices := []jury.Choice{jury.ChoiceWorker, jury.ChoiceRequester, jury.ChoiceAbstain}
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		seats, err := engine.JuryPool(ctx, jurorID)
		if err != nil {
			pause(50, 50)
			continue
		}
		for _, seat := range seats {
			if seat.Voted || seat.Status != dispute.StatusTier2Voting {
				continue
			}
			err := engine.CastVote(ctx, arbitration.VoteRequest{
				DisputeID: seat.Assignment.DisputeID,
				JurorID:   jurorID,
				Choice:    choices[rand.IntN(len(choices))],
			})
			if err := tolerate("cast vote", err); err != nil {
				return err
			}
			// Replays must be rejected, never double counted.
			err = engine.CastVote(ctx, arbitration.VoteRequest{
				DisputeID: seat.Assignment.DisputeID,
				JurorID:   jurorID,
				Choice:    jury.ChoiceWorker,
			})
			if err := tolerate("replay vote", err); err != nil {
				return err
			}
		}
		pause(20, 60)
	}
}

// Appellant posts escalation stakes on disputes sitting in Tier 3.
func Appellant(ctx context.Context, pool *pgxpool.Pool, engine *arbitration.Engine, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		id, party, ok := pickTier3(ctx, pool)
		if ok {
			stake := decimal.NewFromInt(int64(1 + rand.IntN(20)))
			if err := tolerate("appeal", engine.Appeal(ctx, id, party, stake)); err != nil {
				return err
			}
		}
		pause(50, 100)
	}
}

// Admin rules on appealed disputes, racing the default uphold of the reconciler.
func Admin(ctx context.Context, pool *pgxpool.Pool, engine *arbitration.Engine, adminID string, stop <-chan struct{}) error {
	verdicts := []dispute.Verdict{
		{Outcome: dispute.OutcomeWorkerWins},
		{Outcome: dispute.OutcomeRequesterWins},
		{Outcome: dispute.OutcomeSplit, SplitPercentage: ptr(60)},
	}
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if id, _, ok := pickTier3(ctx, pool); ok && rand.IntN(2) == 0 {
			err := engine.AdminResolve(ctx, arbitration.AdminDecision{
				DisputeID: id,
				AdminID:   adminID,
				Verdict:   verdicts[rand.IntN(len(verdicts))],
				Reason:    "stress ruling",
			})
			if err := tolerate("admin resolve", err); err != nil {
				return err
			}
		}
		pause(100, 200)
	}
}

// Reconciler runs passes back to back through the scheduler, so concurrent
// triggers hit the single-flight guard.
func Reconciler(ctx context.Context, sched *reconciler.Scheduler, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, err := sched.Trigger(ctx, rand.IntN(5) == 0)
		if err != nil && !errors.Is(err, reconciler.ErrPassInProgress) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reconciler pass: %w", err)
		}
		pause(100, 300)
	}
}

func pickTier3(ctx context.Context, pool *pgxpool.Pool) (string, string, bool) {
	var id, worker, requester string
	err := pool.QueryRow(ctx, `SELECT id, worker_id, requester_id FROM disputes
		WHERE status = 'tier3_appeal' ORDER BY random() LIMIT 1`).Scan(&id, &worker, &requester)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			pause(20, 20)
		}
		return "", "", false
	}
	if rand.IntN(2) == 0 {
		return id, worker, true
	}
	return id, requester, true
}

func ptr[T any](v T) *T { return &v }
