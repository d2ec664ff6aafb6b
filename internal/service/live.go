package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/attaboy/matchsync/internal/infra"
	"github.com/attaboy/matchsync/internal/projection"
	"github.com/attaboy/matchsync/internal/provider"
)

// LiveTrackerConfig tunes the live poller.
type LiveTrackerConfig struct {
	Interval time.Duration
	Ticker   infra.TickerFunc
}

// LiveTracker polls live match state while a live session is open.
type LiveTracker struct {
	store  *projection.Store
	source provider.LiveSource
	poller *infra.Poller
	logger *slog.Logger

	// mu orders session changes with poller start and stop.
	mu sync.Mutex
}

// NewLiveTracker creates a stopped LiveTracker.
func NewLiveTracker(store *projection.Store, source provider.LiveSource, cfg LiveTrackerConfig, logger *slog.Logger) *LiveTracker {
	lt := &LiveTracker{store: store, source: source, logger: logger}
	lt.poller = infra.NewPoller(infra.PollerConfig{
		Name:      "live",
		Interval:  cfg.Interval,
		Immediate: true,
		Ticker:    cfg.Ticker,
	}, lt.tick, logger)
	return lt
}

// Start opens a live session and begins polling, first tick immediately.
// It fails with a conflict when the window has no fixtures. Starting an
// active session is a no-op.
func (lt *LiveTracker) Start(ctx context.Context) (projection.State, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	st, changed, err := lt.store.Commit(projection.LiveStarted())
	if err != nil {
		return st, err
	}
	if changed {
		lt.poller.Stop()
		lt.logger.Info("live tracking started", "session", st.LiveSession, "window_gen", st.Window.Generation)
	}
	lt.poller.Start(context.WithoutCancel(ctx))
	return st, nil
}

// Stop closes the live session and waits for an in-flight poll to return.
func (lt *LiveTracker) Stop() {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	st, changed, err := lt.store.Commit(projection.LiveStopped())
	if err != nil {
		lt.logger.Warn("live stop failed", "error", err)
	}
	lt.poller.Stop()
	if changed {
		lt.logger.Info("live tracking stopped", "session", st.LiveSession)
	}
}

// Running reports whether the live poller is scheduled.
func (lt *LiveTracker) Running() bool { return lt.poller.Running() }

// Skipped counts polls dropped because the previous one was outstanding.
func (lt *LiveTracker) Skipped() int64 { return lt.poller.Skipped() }

func (lt *LiveTracker) tick(ctx context.Context) error {
	st := lt.store.Snapshot()
	if !st.LiveActive {
		return infra.ErrStop
	}
	gen, session := st.Window.Generation, st.LiveSession

	deltas, err := lt.source.FetchLiveDeltas(ctx)
	if err != nil {
		return fmt.Errorf("fetch live deltas: %w", err)
	}

	if _, err := lt.store.Apply(projection.LiveDeltasApplied(gen, session, deltas)); err != nil {
		lt.logger.Debug("live poll discarded", "session", session, "window_gen", gen, "error", err)
		return nil
	}
	lt.logger.Debug("live poll merged", "session", session, "deltas", len(deltas))
	return nil
}
