package periodic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SweepFunc does one pass and reports how many items it affected.
type SweepFunc func(ctx context.Context) (int, error)

// Status is the loop's view of its most recent passes.
type Status struct {
	Running   bool
	Passes    int64
	LastRun   time.Time
	LastCount int
	Total     int64
	LastErr   string
}

// Loop runs a sweep immediately on Start and then every interval until Stop.
type Loop struct {
	name     string
	interval time.Duration
	sweep    SweepFunc
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statMu sync.Mutex
	stat   Status
}

func New(name string, interval time.Duration, sweep SweepFunc, logger *slog.Logger) (*Loop, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if sweep == nil {
		return nil, errors.New("sweep must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		name:     name,
		interval: interval,
		sweep:    sweep,
		logger:   logger.With("loop", name),
		now:      time.Now,
		done:     make(chan struct{}),
	}, nil
}

func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running.Store(true)

	go func() {
		defer close(l.done)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		l.logger.Info("loop_started", "interval", l.interval.String())

		l.pass(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.pass(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the running pass and waits for the loop goroutine to exit.
func (l *Loop) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running.Load() {
		return false
	}

	l.cancel()
	<-l.done
	l.running.Store(false)

	l.logger.Info("loop_stopped")
	return true
}

func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Status survives Stop; counters keep accumulating across restarts.
func (l *Loop) Status() Status {
	l.statMu.Lock()
	st := l.stat
	l.statMu.Unlock()
	st.Running = l.running.Load()
	return st
}

// pass runs one sweep. A panic is recorded as that pass's error.
func (l *Loop) pass(ctx context.Context) {
	start := l.now()
	n, err := l.safeSweep(ctx)

	l.statMu.Lock()
	l.stat.Passes++
	l.stat.LastRun = start
	l.stat.LastCount = n
	l.stat.Total += int64(n)
	l.stat.LastErr = ""
	if err != nil {
		l.stat.LastErr = err.Error()
	}
	l.statMu.Unlock()

	if err != nil {
		l.logger.Warn("loop_pass_failed", "error", err.Error())
		return
	}
	l.logger.Debug("loop_pass_completed", "count", n, "duration_ms", time.Since(start).Milliseconds())
}

func (l *Loop) safeSweep(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop_pass_panic", "panic", r)
			n, err = 0, fmt.Errorf("panic: %v", r)
		}
	}()
	return l.sweep(ctx)
}
