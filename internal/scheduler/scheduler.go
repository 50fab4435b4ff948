// Package scheduler runs reminder syncs on an interval and on demand.
package scheduler

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-reminders/internal/reconcile"
)

// Syncer is the sync operation the scheduler drives.
type Syncer interface {
	Sync(ctx context.Context, req reconcile.SyncRequest) (reconcile.SyncResult, error)
}

// Scheduler runs full syncs on a fixed interval and whenever Notify is
// called, and remembers the latest result.
type Scheduler struct {
	syncer     Syncer
	interval   time.Duration
	startDelay time.Duration
	notifyCh   chan struct{}
	log        log.FieldLogger

	mu   sync.Mutex
	last *reconcile.SyncResult
}

// New creates a scheduler that syncs every interval. The first run happens
// after startDelay.
func New(syncer Syncer, interval, startDelay time.Duration, logger log.FieldLogger) *Scheduler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Scheduler{
		syncer:     syncer,
		interval:   interval,
		startDelay: startDelay,
		notifyCh:   make(chan struct{}, 1),
		log:        logger.WithField("component", "scheduler"),
	}
}

// Notify triggers an immediate run. Non-blocking if a run is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Last returns the result of the most recent run, if any.
func (s *Scheduler) Last() (reconcile.SyncResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return reconcile.SyncResult{}, false
	}
	return *s.last, true
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.WithField("interval", s.interval.String()).Info("scheduler started")

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.startDelay):
	}
	s.run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.run(ctx)
		case <-s.notifyCh:
			s.log.Debug("scheduler triggered by notification")
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	result, err := s.syncer.Sync(ctx, reconcile.SyncRequest{})
	if err != nil {
		s.log.WithError(err).WithField("run_id", result.RunID).Error("scheduled sync failed")
	}
	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()
}
