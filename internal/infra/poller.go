package infra

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStop is returned by a TickFunc to end the poller after the current tick.
var ErrStop = errors.New("poller stop requested")

// TickFunc performs one poll iteration.
type TickFunc func(ctx context.Context) error

// TickerFunc returns a tick channel and a function that releases it.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// PollerConfig configures a Poller.
type PollerConfig struct {
	Name     string
	Interval time.Duration
	// Immediate runs the first tick as soon as the poller starts.
	Immediate bool
	// Ticker overrides the tick source; defaults to a time.Ticker.
	Ticker TickerFunc
}

// Poller runs a TickFunc on a fixed interval. At most one tick is in flight
// at any time: a tick that fires while the previous one is still running is
// skipped and counted, never queued.
type Poller struct {
	name      string
	interval  time.Duration
	immediate bool
	ticker    TickerFunc
	tick      TickFunc
	logger    *slog.Logger

	mu      sync.Mutex
	current *pollerRun

	skipped  atomic.Int64
	runs     atomic.Int64
	nextTick atomic.Int64
}

type pollerRun struct {
	cancel context.CancelFunc
	done   chan struct{}
	ticks  sync.WaitGroup
	busy   atomic.Bool
	// rearmed is set by Start while running; it cancels a pending self-stop.
	rearmed bool
}

// NewPoller creates a stopped poller.
func NewPoller(cfg PollerConfig, tick TickFunc, logger *slog.Logger) *Poller {
	ticker := cfg.Ticker
	if ticker == nil {
		ticker = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}
	return &Poller{
		name:      cfg.Name,
		interval:  cfg.Interval,
		immediate: cfg.Immediate,
		ticker:    ticker,
		tick:      tick,
		logger:    logger,
	}
}

// Start begins polling in a goroutine and reports whether a new run was
// started. Calling Start on a running poller keeps it alive past a tick
// that is about to return ErrStop.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	if p.current != nil {
		p.current.rearmed = true
		p.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &pollerRun{cancel: cancel, done: make(chan struct{})}
	p.current = r
	p.mu.Unlock()

	p.logger.Info("poller started", "poller", p.name, "interval", p.interval)
	go p.loop(ctx, r)
	return true
}

// Stop ends the current run and waits for its in-flight tick to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	r := p.current
	if r == nil {
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.nextTick.Store(0)
	p.mu.Unlock()

	r.cancel()
	<-r.done
	r.ticks.Wait()
	p.logger.Info("poller stopped", "poller", p.name)
}

// Running reports whether the poller has an active run.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// NextTick is the expected time of the next scheduled tick, zero when stopped.
func (p *Poller) NextTick() time.Time {
	n := p.nextTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Skipped counts ticks dropped because the previous tick was still running.
func (p *Poller) Skipped() int64 { return p.skipped.Load() }

// Runs counts ticks that were executed.
func (p *Poller) Runs() int64 { return p.runs.Load() }

func (p *Poller) loop(ctx context.Context, r *pollerRun) {
	defer close(r.done)

	ticks, release := p.ticker(p.interval)
	defer release()

	p.schedule(r)
	if p.immediate {
		p.fire(ctx, r)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			if ctx.Err() != nil {
				return
			}
			p.schedule(r)
			p.fire(ctx, r)
		}
	}
}

func (p *Poller) schedule(r *pollerRun) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == r {
		p.nextTick.Store(time.Now().Add(p.interval).UnixNano())
	}
}

func (p *Poller) fire(ctx context.Context, r *pollerRun) {
	if !r.busy.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.logger.Debug("poller tick skipped", "poller", p.name)
		return
	}

	p.mu.Lock()
	r.rearmed = false
	p.mu.Unlock()

	r.ticks.Add(1)
	go func() {
		defer r.ticks.Done()
		defer r.busy.Store(false)

		p.runs.Add(1)
		err := p.tick(ctx)
		switch {
		case errors.Is(err, ErrStop):
			p.halt(r)
		case err != nil && ctx.Err() == nil:
			p.logger.Warn("poller tick failed", "poller", p.name, "error", err)
		}
	}()
}

// halt ends run r from inside its own tick, unless Start re-armed it.
func (p *Poller) halt(r *pollerRun) {
	p.mu.Lock()
	if p.current != r || r.rearmed {
		r.rearmed = false
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.nextTick.Store(0)
	p.mu.Unlock()

	r.cancel()
	p.logger.Info("poller stopped itself", "poller", p.name)
}
