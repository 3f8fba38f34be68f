package droplink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/droplink/internal/chain"
	"github.com/R3E-Network/droplink/internal/logging"
	"github.com/R3E-Network/droplink/internal/metrics"
)

// DefaultSweepSchedule runs the expiry sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// ExpiryWatcher periodically counts active drops past their expiry and
// publishes the count. It never mutates drops; only the sender can reclaim.
type ExpiryWatcher struct {
	mu sync.Mutex

	store   Store
	clock   chain.Clock
	metrics *metrics.Metrics
	log     *logging.Logger

	schedule string
	cron     *cron.Cron
	last     int
	running  bool
}

// WatcherConfig configures an ExpiryWatcher.
type WatcherConfig struct {
	Store    Store
	Clock    chain.Clock
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
	Schedule string
}

// NewExpiryWatcher validates the schedule and builds a stopped watcher.
func NewExpiryWatcher(cfg WatcherConfig) (*ExpiryWatcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("expiry watcher: store required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSweepSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("expiry watcher: invalid schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Clock == nil {
		cfg.Clock = chain.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default(ServiceID)
	}
	return &ExpiryWatcher{
		store:    cfg.Store,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		schedule: cfg.Schedule,
	}, nil
}

// Start schedules the sweep. ctx bounds every sweep run.
func (w *ExpiryWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("expiry watcher already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := w.Sweep(sweepCtx); err != nil {
			w.log.WithContext(sweepCtx).WithError(err).Warn("expiry sweep failed")
		}
	}); err != nil {
		return err
	}
	c.Start()
	w.cron = c
	w.running = true
	w.log.WithField("schedule", w.schedule).Info("expiry watcher started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (w *ExpiryWatcher) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.running = false
	w.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Sweep counts reclaimable drops once and publishes the gauge.
func (w *ExpiryWatcher) Sweep(ctx context.Context) (int, error) {
	now := w.clock.Now()
	n, err := w.store.CountReclaimable(ctx, now)
	if err != nil {
		return 0, err
	}
	w.metrics.SetReclaimable(n)

	w.mu.Lock()
	changed := n != w.last
	w.last = n
	w.mu.Unlock()

	if changed {
		w.log.WithContext(ctx).WithField("reclaimable", n).WithField("now", now).Info("reclaimable drops changed")
	}
	return n, nil
}

// LastCount returns the result of the most recent sweep.
func (w *ExpiryWatcher) LastCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
