// Package maintenance runs the periodic decay and cleanup passes of a memory
// manager on a cron schedule.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cognisphere/hybridmem-go/pkg/core"
	"github.com/cognisphere/hybridmem-go/pkg/logging"
	"github.com/cognisphere/hybridmem-go/pkg/metrics"
	"github.com/cognisphere/hybridmem-go/pkg/storage"
)

// ErrAlreadyRunning is returned by RunOnce while another pass is in progress.
var ErrAlreadyRunning = errors.New("maintenance: pass already running")

// DefaultSchedule runs a pass every ten minutes.
const DefaultSchedule = "@every 10m"

// Target is the part of the memory manager a maintenance pass drives.
// *core.Manager implements it.
type Target interface {
	ConsolidateElapsed(ctx context.Context) (time.Duration, error)
	CleanupWeak(ctx context.Context, threshold float64) (*core.CleanupReport, error)
	CleanupOldMemories(ctx context.Context, age time.Duration, importance float64) (*core.CleanupReport, error)
	SaveSnapshot(ctx context.Context, store storage.SnapshotStore) error
	Metrics() *metrics.Metrics
}

// Config tunes a scheduler.
type Config struct {
	// Schedule is a cron spec (default "@every 10m").
	Schedule string

	// WeakThreshold prunes nodes and edges below it. Zero disables the pass.
	WeakThreshold float64

	// MaxAge and ImportanceThreshold drive the old-memory pass. A zero MaxAge
	// disables it.
	MaxAge              time.Duration
	ImportanceThreshold float64

	// Timeout bounds a single pass. Zero means no limit.
	Timeout time.Duration

	// Store, when set, receives a snapshot after every successful pass.
	Store storage.SnapshotStore
}

// ConfigFrom derives a scheduler configuration from a manager configuration.
func ConfigFrom(cfg *core.Config) Config {
	return Config{
		Schedule:            cfg.Maintenance.Schedule,
		WeakThreshold:       cfg.Cleanup.WeakThreshold,
		MaxAge:              cfg.Cleanup.MaxAge,
		ImportanceThreshold: cfg.Cleanup.ImportanceThreshold,
	}
}

// Result summarizes one maintenance pass.
type Result struct {
	Decayed  time.Duration
	Weak     core.CleanupReport
	Old      core.CleanupReport
	Snapshot bool
}

// Removed returns the total number of nodes and edges removed by the pass.
func (r *Result) Removed() int {
	return r.Weak.Removed() + r.Old.Removed()
}

// Scheduler runs maintenance passes on a cron schedule. Passes never
// overlap: a tick that fires while a pass is running is skipped.
type Scheduler struct {
	target Target
	cfg    Config
	cron   *cron.Cron
	log    zerolog.Logger

	running atomic.Bool

	mu     sync.Mutex
	last   *Result
	lastAt time.Time
}

// New creates a scheduler for target. It fails on an invalid cron spec.
func New(target Target, cfg Config, log zerolog.Logger) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	log = logging.Component(log, "maintenance")
	cl := CronLogger(log)
	s := &Scheduler{
		target: target,
		cfg:    cfg,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		log:    log,
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

// Start starts the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.log.Info().Str("schedule", s.cfg.Schedule).Msg("maintenance scheduler started")
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Last returns the result of the last completed pass and when it ended.
func (s *Scheduler) Last() (*Result, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastAt
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		s.log.Error().Err(err).Msg("maintenance pass failed")
	}
}

// RunOnce runs a full pass: decay by the elapsed time, prune weak nodes and
// edges, remove old unimportant memories, then save a snapshot if a store is
// configured. It returns ErrAlreadyRunning if a pass is in progress.
func (s *Scheduler) RunOnce(ctx context.Context) (*Result, error) {
	m := s.target.Metrics()
	if !s.running.CompareAndSwap(false, true) {
		m.MaintenanceRun.WithLabelValues("skipped").Inc()
		s.log.Warn().Msg("previous maintenance pass still running, skipping")
		return nil, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	res, err := s.run(ctx)
	if err != nil {
		m.MaintenanceRun.WithLabelValues("error").Inc()
		return nil, err
	}
	m.MaintenanceRun.WithLabelValues("ok").Inc()

	s.mu.Lock()
	s.last, s.lastAt = res, time.Now()
	s.mu.Unlock()

	s.log.Info().
		Dur("decayed", res.Decayed).
		Int("removed", res.Removed()).
		Bool("snapshot", res.Snapshot).
		Msg("maintenance pass finished")
	return res, nil
}

func (s *Scheduler) run(ctx context.Context) (*Result, error) {
	res := &Result{}

	dt, err := s.target.ConsolidateElapsed(ctx)
	if err != nil {
		return nil, err
	}
	res.Decayed = dt

	if s.cfg.WeakThreshold > 0 {
		report, err := s.target.CleanupWeak(ctx, s.cfg.WeakThreshold)
		if err != nil {
			return nil, err
		}
		res.Weak = *report
	}

	if s.cfg.MaxAge > 0 {
		report, err := s.target.CleanupOldMemories(ctx, s.cfg.MaxAge, s.cfg.ImportanceThreshold)
		if err != nil {
			return nil, err
		}
		res.Old = *report
	}

	if s.cfg.Store != nil {
		if err := s.target.SaveSnapshot(ctx, s.cfg.Store); err != nil {
			return nil, err
		}
		res.Snapshot = true
	}
	return res, nil
}
