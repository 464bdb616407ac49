// ABOUTME: Maintenance scheduler: inactivity eviction and heartbeat-miss detection
// ABOUTME: Sweeps run on cron @every specs and never overlap with themselves

package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// Defaults for Config fields left at zero.
const (
	DefaultInactivityTimeout    = 30 * time.Minute
	DefaultSweepInterval        = 5 * time.Minute
	DefaultHeartbeatInterval    = 45 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// Config controls both sweeps.
type Config struct {
	InactivityTimeout    time.Duration
	SweepInterval        time.Duration
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
}

func (c Config) withDefaults() Config {
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return c
}

// Processor gives pending messages their last attempt before eviction.
type Processor interface {
	Process(ctx context.Context, rec *conversation.Record, msgID string) (bool, error)
	GiveUp(ctx context.Context, rec *conversation.Record, msgID string)
}

// Forgetter drops idempotency keys for a closed conversation.
type Forgetter interface {
	Forget(conversationID string)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithForgetter drops dedupe keys of closed conversations.
func WithForgetter(f Forgetter) Option {
	return func(s *Scheduler) { s.forget = f }
}

// Scheduler owns the periodic sweeps.
type Scheduler struct {
	service   *conversation.Service
	processor Processor
	forget    Forgetter
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	ctx  context.Context
	stop context.CancelFunc
}

// New creates a scheduler. processor may be nil to skip last attempts.
func New(cfg Config, service *conversation.Service, processor Processor, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		service:   service,
		processor: processor,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		logger:    logger.With("component", "maintenance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Start schedules both sweeps. Sweeps use a context derived from ctx that
// is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.ctx, s.stop = context.WithCancel(context.WithoutCancel(ctx))

	if _, err := c.AddFunc(every(s.cfg.SweepInterval), func() { s.SweepInactive(s.ctx) }); err != nil {
		s.stop()
		return fmt.Errorf("scheduling inactivity sweep: %w", err)
	}
	if _, err := c.AddFunc(every(s.cfg.HeartbeatInterval), func() { s.SweepHeartbeats(s.ctx) }); err != nil {
		s.stop()
		return fmt.Errorf("scheduling heartbeat sweep: %w", err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("maintenance scheduler started",
		"sweep_interval", s.cfg.SweepInterval,
		"inactivity_timeout", s.cfg.InactivityTimeout,
		"heartbeat_interval", s.cfg.HeartbeatInterval,
		"max_reconnect_attempts", s.cfg.MaxReconnectAttempts)
	return nil
}

// Stop unschedules the sweeps and waits for a running one to finish or for
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop()
	select {
	case <-done.Done():
		s.stop()
		return nil
	case <-ctx.Done():
		s.stop()
		return ctx.Err()
	}
}

// SweepInactive closes every conversation whose last update is more than
// the inactivity timeout ago and returns how many were closed. A record
// exactly at the threshold is kept.
func (s *Scheduler) SweepInactive(ctx context.Context) int {
	evicted := 0
	for _, rec := range s.service.Registry().All() {
		if !s.idle(rec) {
			continue
		}
		if s.evict(ctx, rec) {
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Info("inactivity sweep complete", "evicted", evicted)
	}
	return evicted
}

func (s *Scheduler) idle(rec *conversation.Record) bool {
	return s.now().Sub(rec.LastUpdate()) > s.cfg.InactivityTimeout
}

func (s *Scheduler) evict(ctx context.Context, rec *conversation.Record) bool {
	rec.LockTurn()
	// A turn may have finished while we waited for the lock.
	if !s.idle(rec) {
		rec.UnlockTurn()
		return false
	}
	defer rec.UnlockTurn()
	s.lastAttempts(ctx, rec)

	// Still under the turn: queued ingestion wakes to a closed record.
	s.service.CloseRecord(ctx, rec, conversation.CloseInactive)
	if s.forget != nil {
		s.forget.Forget(rec.ID())
	}
	return true
}

// lastAttempts gives each unprocessed inbound message one more try. The
// caller holds the turn lock. Failures are logged and given up on.
func (s *Scheduler) lastAttempts(ctx context.Context, rec *conversation.Record) {
	if s.processor == nil {
		return
	}
	for _, id := range rec.UnprocessedInbound() {
		ok, err := s.processor.Process(ctx, rec, id)
		if err != nil || !ok {
			s.logger.Warn("last attempt before eviction failed",
				"conversation_id", rec.ID(),
				"message_id", id,
				"error", err)
			s.processor.GiveUp(ctx, rec, id)
		}
	}
}

// SweepHeartbeats checks liveness of conversations that expect heartbeats.
// It returns how many were asked to reconnect and how many were closed.
func (s *Scheduler) SweepHeartbeats(ctx context.Context) (reconnects, closed int) {
	now := s.now()
	for _, rec := range s.service.Registry().All() {
		if !rec.Metadata().ExpectsHeartbeat {
			continue
		}
		if now.Sub(rec.LastHeartbeat()) <= s.cfg.HeartbeatInterval {
			continue
		}

		var attempts int
		rec.UpdateMetadata(func(m *conversation.Metadata) {
			m.ReconnectAttempts++
			attempts = m.ReconnectAttempts
		})

		if attempts > s.cfg.MaxReconnectAttempts {
			if s.closeLost(ctx, rec, attempts) {
				closed++
			}
			continue
		}

		s.logger.Debug("heartbeat missed",
			"conversation_id", rec.ID(),
			"attempts", attempts)
		s.service.NotifyReconnect(rec)
		reconnects++
	}
	return reconnects, closed
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes cron's logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// closeLost closes rec under its turn unless a heartbeat arrived while the
// lock was awaited.
func (s *Scheduler) closeLost(ctx context.Context, rec *conversation.Record, attempts int) bool {
	rec.LockTurn()
	defer rec.UnlockTurn()
	if s.now().Sub(rec.LastHeartbeat()) <= s.cfg.HeartbeatInterval {
		return false
	}
	s.logger.Warn("heartbeat lost, closing conversation",
		"conversation_id", rec.ID(),
		"attempts", attempts)
	s.service.CloseRecord(ctx, rec, conversation.CloseHeartbeatLost)
	if s.forget != nil {
		s.forget.Forget(rec.ID())
	}
	return true
}
