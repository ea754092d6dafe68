package sync

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"ordersync/internal/metrics"
	"ordersync/internal/model"
)

// ErrCycleInFlight is returned to a force-sync caller when a cycle is
// already running; ticks hitting the same guard are dropped, not queued.
var ErrCycleInFlight = errors.New("sync cycle already in flight")

// Scheduler drives the reconciliation poller on a fixed interval and runs
// the lower-frequency dispatch retry sweep. Both loops are guarded so at
// most one of each is in flight.
type Scheduler struct {
	Reconciler *Reconciler
	Dispatcher *Dispatcher

	Interval      time.Duration
	RetryInterval time.Duration
	// RetryAfter is how long a transient-failed order waits before it is
	// eligible for the sweep again.
	RetryAfter          time.Duration
	MaxDispatchAttempts int

	running  atomic.Bool
	cycling  atomic.Bool
	sweeping atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once

	mu               sync.Mutex
	lastCycleAt      *time.Time
	totalCycles      int64
	successfulCycles int64
	failedCycles     int64
	lastError        string
}

func NewScheduler(r *Reconciler, d *Dispatcher) *Scheduler {
	return &Scheduler{
		Reconciler:          r,
		Dispatcher:          d,
		Interval:            time.Minute,
		RetryInterval:       5 * time.Minute,
		RetryAfter:          10 * time.Minute,
		MaxDispatchAttempts: 5,
		stop:                make(chan struct{}),
	}
}

// Start launches the poll loop and the retry sweep in the background.
func (s *Scheduler) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go func() {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if _, err := s.runGuarded(context.Background()); err != nil && !errors.Is(err, ErrCycleInFlight) {
					log.Printf("sync: cycle error: %v", err)
				}
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(s.RetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.retrySweep(context.Background())
			}
		}
	}()
}

// Stop halts both loops. Safe to call more than once.
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.stopOnce.Do(func() { close(s.stop) })
}

// ForceSync runs one out-of-band cycle, sharing the overlap guard with the
// timer loop.
func (s *Scheduler) ForceSync(ctx context.Context) (model.SyncRunStats, error) {
	return s.runGuarded(ctx)
}

func (s *Scheduler) runGuarded(ctx context.Context) (model.SyncRunStats, error) {
	if !s.cycling.CompareAndSwap(false, true) {
		metrics.SyncCycles.WithLabelValues("skipped").Inc()
		log.Printf("sync: tick dropped, cycle already in flight")
		return model.SyncRunStats{}, ErrCycleInFlight
	}
	defer s.cycling.Store(false)

	stats, err := s.Reconciler.RunCycle(ctx)

	now := time.Now().UTC()
	s.mu.Lock()
	s.lastCycleAt = &now
	s.totalCycles++
	if err != nil {
		s.failedCycles++
		s.lastError = err.Error()
	} else {
		s.successfulCycles++
		s.lastError = ""
	}
	s.mu.Unlock()

	metrics.SyncCycleDuration.Observe(float64(stats.DurationMs) / 1000)
	if err != nil {
		metrics.SyncCycles.WithLabelValues("error").Inc()
		return stats, err
	}
	metrics.SyncCycles.WithLabelValues("ok").Inc()
	if stats.OrdersExamined > 0 || stats.OrdersChanged > 0 {
		log.Printf("sync: cycle done examined=%d changed=%d unknown=%d errors=%d in %dms",
			stats.OrdersExamined, stats.OrdersChanged, stats.UnknownCodes, stats.Errors, stats.DurationMs)
	}
	return stats, nil
}

// retrySweep re-attempts dispatch for orders parked with a transient error
// once their backoff window has passed.
func (s *Scheduler) retrySweep(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		log.Printf("sync: retry sweep dropped, previous sweep still running")
		return
	}
	defer s.sweeping.Store(false)

	cutoff := time.Now().UTC().Add(-s.RetryAfter)
	orders, err := s.Reconciler.Store.ListRetryCandidates(ctx, cutoff, s.MaxDispatchAttempts)
	if err != nil {
		log.Printf("sync: retry sweep list: %v", err)
		return
	}
	for _, o := range orders {
		if _, err := s.Dispatcher.Dispatch(ctx, o); err != nil {
			log.Printf("sync: retry dispatch %s: %v", o.ID, err)
		}
	}
}

// Status returns the health snapshot for GET /v1/sync/status.
func (s *Scheduler) Status() model.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SchedulerStatus{
		IsRunning:        s.running.Load(),
		IsCyclingNow:     s.cycling.Load(),
		LastCycleAt:      s.lastCycleAt,
		TotalCycles:      s.totalCycles,
		SuccessfulCycles: s.successfulCycles,
		FailedCycles:     s.failedCycles,
		LastError:        s.lastError,
	}
}
