// Package dispatcher paces outbound search requests across independently
// spawned processes. The only shared state is a "next allowed request" Unix
// timestamp persisted in a file and guarded by an advisory file lock, so two
// processes never issue paced requests closer than the last applied cooldown
// or penalty.
//
// A crashed holder loses its flock when the kernel closes its descriptors.
// A holder that hangs is bounded by the lock timeout: callers get
// ErrLockTimeout instead of blocking forever.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when the shared lock could not be acquired
// within the configured timeout.
var ErrLockTimeout = errors.New("dispatcher lock timeout")

const (
	DefaultLockTimeout = 60 * time.Second
	// MaxDelay caps any cooldown or penalty. A persisted next-allowed time
	// further ahead than this is treated as corrupt.
	MaxDelay = time.Hour
	lockRetryDelay     = 50 * time.Millisecond
)

type Dispatcher struct {
	statePath   string
	lockPath    string
	lockTimeout time.Duration
	retryDelay  time.Duration
	logger      *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Dispatcher)

func WithLockTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.lockTimeout = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(ds *Dispatcher) {
		if logger != nil {
			ds.logger = logger
		}
	}
}

// WithClock replaces the wall clock and the sleep primitive.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(ds *Dispatcher) {
		if now != nil {
			ds.now = now
		}
		if sleep != nil {
			ds.sleep = sleep
		}
	}
}

func New(statePath, lockPath string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		statePath:   statePath,
		lockPath:    lockPath,
		lockTimeout: DefaultLockTimeout,
		retryDelay:  lockRetryDelay,
		logger:      zap.NewNop(),
		now:         time.Now,
		sleep:       Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WaitForCooldown blocks until the shared next-allowed time has passed and
// then pushes it to now+cooldown. Read, sleep and write all happen while the
// lock is held.
func (d *Dispatcher) WaitForCooldown(ctx context.Context, cooldown time.Duration) error {
	unlock, err := d.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	cooldown = min(cooldown, MaxDelay)
	next := d.readNextAllowed()
	if wait := next.Sub(d.now()); wait > 0 {
		d.logger.Debug("dispatcher cooldown",
			zap.Duration("wait", wait),
			zap.Time("next_allowed", next))
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
	}

	return d.writeNextAllowed(d.now().Add(cooldown))
}

// ApplyPenalty pushes the next allowed time to at least now+penalty.
func (d *Dispatcher) ApplyPenalty(ctx context.Context, penalty time.Duration) error {
	unlock, err := d.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if penalty > MaxDelay {
		d.logger.Warn("dispatcher penalty capped",
			zap.Duration("requested", penalty),
			zap.Duration("cap", MaxDelay))
		penalty = MaxDelay
	}
	next := d.readNextAllowed()
	candidate := d.now().Add(penalty)
	if candidate.After(next) {
		next = candidate
	}
	d.logger.Info("dispatcher penalty applied",
		zap.Duration("penalty", penalty),
		zap.Time("next_allowed", next))
	return d.writeNextAllowed(next)
}

// NextAllowed reads the persisted state without taking the lock.
func (d *Dispatcher) NextAllowed() time.Time {
	return d.readNextAllowed()
}

func (d *Dispatcher) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(d.lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, d.lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, d.retryDelay)
	if err != nil || !locked {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			d.logger.Warn("dispatcher lock not acquired",
				zap.String("lock_path", d.lockPath),
				zap.Duration("timeout", d.lockTimeout))
			return nil, fmt.Errorf("%w after %s: %s", ErrLockTimeout, d.lockTimeout, d.lockPath)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", d.lockPath, err)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			d.logger.Warn("dispatcher unlock failed", zap.Error(err))
		}
	}, nil
}

// readNextAllowed treats a missing, empty or corrupt state file as "no wait".
// So is a time more than MaxDelay ahead, which no cooldown or penalty can
// produce.
func (d *Dispatcher) readNextAllowed() time.Time {
	data, err := os.ReadFile(d.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Warn("dispatcher state unreadable", zap.Error(err))
		}
		return time.Unix(0, 0)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return time.Unix(0, 0)
	}

	v, err := strconv.ParseFloat(content, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		d.logger.Warn("dispatcher state corrupt, ignoring", zap.String("content", content))
		return time.Unix(0, 0)
	}
	next := fromUnixSeconds(v)
	if next.After(d.now().Add(MaxDelay)) {
		d.logger.Warn("dispatcher state too far ahead, ignoring",
			zap.Time("next_allowed", next),
			zap.Duration("cap", MaxDelay))
		return time.Unix(0, 0)
	}
	return next
}

// writeNextAllowed replaces the state file atomically.
func (d *Dispatcher) writeNextAllowed(t time.Time) error {
	if err := os.MkdirAll(filepath.Dir(d.statePath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmpPath := d.statePath + ".tmp"
	content := strconv.FormatFloat(toUnixSeconds(t), 'f', 6, 64)
	if err := os.WriteFile(tmpPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write dispatcher state: %w", err)
	}
	if err := os.Rename(tmpPath, d.statePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename dispatcher state: %w", err)
	}
	return nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func toUnixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromUnixSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9))
}
