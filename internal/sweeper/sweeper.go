// Package sweeper re-enqueues outbox records that were staged but never
// acknowledged: tasks dropped by a full queue, tasks whose retries ran
// out, and tasks left behind by a crash.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"marketchat/pkg/logger"
	"marketchat/pkg/outbox"
	"marketchat/pkg/store"
	"marketchat/pkg/telemetry"
	"marketchat/pkg/timeutil"
)

type Options struct {
	Cron string
	// MinAge skips records younger than this; they are likely still in
	// flight.
	MinAge    time.Duration
	BatchSize int
	LockTTL   time.Duration
	// LockDir holds the lease file.
	LockDir string
}

type Sweeper struct {
	st    *store.Store
	queue *outbox.Queue
	opts  Options
	lease *fileLease

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func New(st *store.Store, q *outbox.Queue, opts Options) (*Sweeper, error) {
	if !gronx.IsValid(opts.Cron) {
		return nil, fmt.Errorf("invalid sweeper cron expression: %q", opts.Cron)
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	return &Sweeper{st: st, queue: q, opts: opts, lease: newFileLease(opts.LockDir)}, nil
}

var errBusy = errors.New("sweep already running")

// RunOnce performs one pass and returns how many records were re-enqueued.
// Another instance holding the lease makes this a no-op.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0, errBusy
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	tr := telemetry.Track("sweeper.run")
	defer tr.Finish()

	owner := uuid.NewString()
	ok, err := s.lease.Acquire(owner, s.opts.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("lease acquire failed: %w", err)
	}
	if !ok {
		logger.Info("sweeper_lease_not_acquired")
		return 0, nil
	}
	defer func() {
		if err := s.lease.Release(owner); err != nil {
			logger.Error("sweeper_lease_release_error", "error", err)
		}
	}()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	started := timeutil.Now()
	cutoff := started.Add(-s.opts.MinAge).UnixNano()
	logger.AuditInfo("sweeper_run_start", "run_id", owner, "cutoff", time.Unix(0, cutoff).Format(time.RFC3339))

	tr.Mark("requeue")
	n, err := outbox.Requeue(s.st, s.queue, cutoff, s.opts.BatchSize)
	if err != nil {
		logger.AuditInfo("sweeper_run_failed", "run_id", owner, "requeued", n, "error", err.Error())
		return n, err
	}
	telemetry.SweeperRequeued.Add(float64(n))
	logger.AuditInfo("sweeper_run_complete", "run_id", owner, "requeued", n, "elapsed", timeutil.Now().Sub(started).String())
	if n > 0 {
		logger.Info("sweeper_requeued", "tasks", n)
	}
	return n, nil
}

// Start runs the schedule until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	logger.Info("sweeper_enabled", "cron", s.opts.Cron, "min_age", s.opts.MinAge.String())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduleLoop(ctx)
	}()
}

// Wait blocks until the schedule loop started by Start has returned.
func (s *Sweeper) Wait() {
	s.wg.Wait()
}

func (s *Sweeper) scheduleLoop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(s.opts.Cron, timeutil.Now(), false)
		if err != nil {
			logger.Error("sweeper_nexttick_failed", "cron", s.opts.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, errBusy) {
				logger.Error("sweeper_run_error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
