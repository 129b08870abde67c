package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"disputeflow/logger"
)

// ErrPassInProgress is returned by Trigger while another pass holds the
// scheduler, locally or through the distributed lock.
var ErrPassInProgress = errors.New("reconciler: pass already in progress")

// Scheduler runs passes on a fixed interval. At most one pass runs at a time and
// at most one scheduled pass starts per interval; a manual Trigger skips the
// interval budget but not the single-flight guard. The budget refills slightly
// faster than the ticker so a tick handled late never starves the next one.
type Scheduler struct {
	reconciler *Reconciler
	interval   time.Duration
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
	lock       Locker
	lockTTL    time.Duration
	now        func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

type SchedulerOption func(*Scheduler)

// WithLock adds a distributed lock held for the duration of each pass. A pass
// holding the lock is cancelled once ttl elapses, so it never outlives the lock.
func WithLock(l Locker, ttl time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.lock = l
		s.lockTTL = ttl
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(r *Reconciler, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s := &Scheduler{
		reconciler: r,
		interval:   interval,
		sem:        semaphore.NewWeighted(1),
		limiter:    rate.NewLimiter(rate.Every(interval-interval/10), 1),
		lockTTL:    interval,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until Stop is called or ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "disputeflow.reconciler"})
	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reconciler started", "interval", s.interval, "distributed_lock", s.lock != nil)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "reconciler stopping")
			return
		case <-ticker.C:
			if !s.limiter.Allow() {
				slog.DebugContext(ctx, "reconciler tick skipped, interval budget spent")
				continue
			}
			if _, err := s.runOnce(ctx, false); err != nil {
				if errors.Is(err, ErrPassInProgress) {
					slog.DebugContext(ctx, "reconciler tick skipped, pass in progress")
					continue
				}
				slog.ErrorContext(ctx, "reconciler pass error", "error", err)
			}
		}
	}
}

// Stop signals Run to return and waits for it.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

// Trigger runs one pass now.
func (s *Scheduler) Trigger(ctx context.Context, dryRun bool) (Report, error) {
	return s.runOnce(ctx, dryRun)
}

func (s *Scheduler) runOnce(ctx context.Context, dryRun bool) (Report, error) {
	if !s.sem.TryAcquire(1) {
		return Report{}, ErrPassInProgress
	}
	defer s.sem.Release(1)

	if s.lock != nil {
		release, ok, err := s.lock.Acquire(ctx, s.lockTTL)
		if err != nil {
			return Report{}, err
		}
		if !ok {
			return Report{}, ErrPassInProgress
		}
		defer func() {
			// The pass context may already be cancelled at shutdown.
			if err := release(context.WithoutCancel(ctx)); err != nil {
				slog.WarnContext(ctx, "failed to release reconciler lock", "error", err)
			}
		}()

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockTTL)
		defer cancel()
	}

	return s.reconciler.Pass(ctx, s.now(), dryRun)
}
