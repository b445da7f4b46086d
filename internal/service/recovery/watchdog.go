// Package recovery reconnects download sessions that stopped delivering data.
package recovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vertextoedge/streamcache/internal/domain"
)

// Snapshot is the state of a download as seen by the watchdog.
type Snapshot struct {
	SessionID    uint64
	State        domain.SessionState
	Active       bool
	LastActivity time.Time
	// Terminal is true once the download finished, failed or was closed.
	Terminal bool
}

// Target is a download the watchdog can observe and restart.
type Target interface {
	Snapshot() Snapshot
	// Reconnect cancels session id and resumes from the last committed
	// byte. It returns false when id is no longer the active streaming session.
	Reconnect(id uint64, reason string) bool
}

// Config holds watchdog settings
type Config struct {
	Period                  time.Duration
	InactiveBeforeReconnect time.Duration
	// MaxReconnectsPerMinute caps reconnect storms against a dead server.
	// Zero means unlimited.
	MaxReconnectsPerMinute int
	Now                    func() time.Time
}

// DefaultConfig returns the default watchdog configuration
func DefaultConfig() Config {
	return Config{
		Period:                  time.Second,
		InactiveBeforeReconnect: 10 * time.Second,
		MaxReconnectsPerMinute:  6,
		Now:                     time.Now,
	}
}

// Watchdog polls one target and reconnects its session when it has been
// streaming without activity for longer than the configured threshold.
type Watchdog struct {
	target  Target
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a new watchdog
func New(target Target, cfg Config, logger *zap.Logger) *Watchdog {
	def := DefaultConfig()
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.InactiveBeforeReconnect <= 0 {
		cfg.InactiveBeforeReconnect = def.InactiveBeforeReconnect
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	w := &Watchdog{
		target: target,
		config: cfg,
		logger: logger,
	}
	if cfg.MaxReconnectsPerMinute > 0 {
		w.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MaxReconnectsPerMinute)), cfg.MaxReconnectsPerMinute)
	}
	return w
}

// Start begins polling in a background goroutine
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running = true
	go w.loop(ctx, w.done)
}

// Stop stops polling and waits for the loop to exit. Safe to call repeatedly.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the polling loop is active.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watchdog) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(w.config.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.Check() {
				return
			}
		}
	}
}

// Check runs one poll. It returns false once the target is terminal and
// polling should stop.
func (w *Watchdog) Check() bool {
	snap := w.target.Snapshot()
	if snap.Terminal {
		return false
	}
	if !snap.Active || snap.State != domain.SessionStreaming {
		return true
	}

	now := w.config.Now()
	idle := now.Sub(snap.LastActivity)
	if idle <= w.config.InactiveBeforeReconnect {
		return true
	}

	if w.limiter != nil && !w.limiter.AllowN(now, 1) {
		w.logger.Debug("reconnect rate limited",
			zap.Uint64("session_id", snap.SessionID),
			zap.Duration("idle", idle),
		)
		return true
	}

	if w.target.Reconnect(snap.SessionID, "inactive for "+idle.Truncate(time.Millisecond).String()) {
		w.logger.Info("reconnected stalled session",
			zap.Uint64("session_id", snap.SessionID),
			zap.Duration("idle", idle),
		)
	}
	return true
}
