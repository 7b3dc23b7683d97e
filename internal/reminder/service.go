package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "casewatch/pkg/logx"
)

// Service owns the reminder trigger. Start and Stop are idempotent and
// safe to call in any order; a second Start after Stop builds a fresh
// trigger.
type Service struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	initial *time.Timer
	cancel  context.CancelFunc

	// inTick guards against overlapping passes: if a pass is still running
	// when the next trigger fires, the trigger is skipped, not queued.
	inTick atomic.Bool
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Settings == nil || deps.Cases == nil || deps.Ledger == nil {
		return nil, errors.New("reminder: storage dependencies are required")
	}
	if deps.Sender == nil {
		return nil, errors.New("reminder: sender is required")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  log.With(logx.String("service", "reminder")),
		now:  now,
	}, nil
}

// Start arms the trigger. Calling Start on a running service is a no-op.
func (s *Service) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Debug("start ignored; already running")
		return nil
	}

	ctx, cancel := context.WithCancel(parent)

	c := cron.New(cron.WithLocation(s.cfg.Location))
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("reminder: schedule %q: %w", spec, err)
	}
	c.Start()

	// One early pass so a daemon restart doesn't silently widen the gap
	// between checks past the window width.
	s.initial = time.AfterFunc(s.cfg.InitialDelay, func() { s.tick(ctx) })

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.Info("reminder scheduler started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Duration("lead", s.cfg.Lead),
		logx.Duration("window", s.cfg.Window),
		logx.String("timezone", s.cfg.Location.String()),
	)
	return nil
}

// Stop disarms the trigger and waits for an in-flight pass to return.
// Stopping a stopped (or never started) service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	initial := s.initial
	cancel := s.cancel
	s.cron = nil
	s.initial = nil
	s.cancel = nil
	s.mu.Unlock()

	if initial != nil {
		initial.Stop()
	}
	cancel()
	done := c.Stop().Done()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("reminder pass still running at stop deadline")
	}
	s.log.Info("reminder scheduler stopped")
}

// Running reports whether the trigger is armed.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
