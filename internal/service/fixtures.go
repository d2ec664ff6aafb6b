package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/attaboy/matchsync/internal/domain"
	"github.com/attaboy/matchsync/internal/guard"
	"github.com/attaboy/matchsync/internal/projection"
	"github.com/attaboy/matchsync/internal/provider"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// LiveStopper ends live tracking. The coordinator calls it on every window
// change.
type LiveStopper interface {
	Stop()
}

// GroupErrors collects the per-group failures of one group selection,
// keyed by group id.
type GroupErrors map[string]error

func (e GroupErrors) Error() string {
	ids := make([]string, 0, len(e))
	for id := range e {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("group %s: %v", id, e[id]))
	}
	return "odds load failed: " + strings.Join(parts, "; ")
}

func (e GroupErrors) Unwrap() []error {
	out := make([]error, 0, len(e))
	for _, err := range e {
		out = append(out, err)
	}
	return out
}

// FixtureCoordinatorConfig tunes the coordinator.
type FixtureCoordinatorConfig struct {
	// MaxGroupFetches bounds concurrent odds fetches of one selection.
	MaxGroupFetches int
	// RefreshLimiter throttles single-fixture refreshes; nil disables it.
	RefreshLimiter *guard.RateLimiter
}

// FixtureCoordinator drives phase-1 fixture loads and phase-2 odds loads
// for the current window.
type FixtureCoordinator struct {
	store   *projection.Store
	source  provider.FixtureSource
	live    LiveStopper
	limiter *guard.RateLimiter
	limit   int
	logger  *slog.Logger

	refs singleflight.Group

	mu           sync.Mutex
	root         context.Context
	closeRoot    context.CancelFunc
	windowCtx    context.Context
	cancelWindow context.CancelFunc
	background   sync.WaitGroup
}

// NewFixtureCoordinator creates a FixtureCoordinator.
func NewFixtureCoordinator(store *projection.Store, source provider.FixtureSource, live LiveStopper, cfg FixtureCoordinatorConfig, logger *slog.Logger) *FixtureCoordinator {
	if cfg.MaxGroupFetches < 1 {
		cfg.MaxGroupFetches = 1
	}
	root, closeRoot := context.WithCancel(context.Background())
	windowCtx, cancelWindow := context.WithCancel(root)
	return &FixtureCoordinator{
		store:        store,
		source:       source,
		live:         live,
		limiter:      cfg.RefreshLimiter,
		limit:        cfg.MaxGroupFetches,
		logger:       logger,
		root:         root,
		closeRoot:    closeRoot,
		windowCtx:    windowCtx,
		cancelWindow: cancelWindow,
	}
}

// Close cancels outstanding window work and waits for background fetches.
func (c *FixtureCoordinator) Close() {
	c.closeRoot()
	c.background.Wait()
}

// bind derives a context that ends with ctx or with the window context wctx.
func bind(ctx, wctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(wctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *FixtureCoordinator) currentWindowCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windowCtx
}

// ── Phase 1 ──

// SelectWindow replaces the tracked window with one of the given length and
// loads its fixtures. Work issued for the previous window is cancelled and
// its late results are discarded. On failure the window is left Failed and
// the error is returned; selecting the window again retries.
func (c *FixtureCoordinator) SelectWindow(ctx context.Context, days int) (projection.State, error) {
	if err := domain.ValidateWindowDays(days); err != nil {
		return c.store.Snapshot(), err
	}

	c.mu.Lock()
	c.cancelWindow()
	st, err := c.store.Apply(projection.BeginWindow(days))
	wctx, cancel := context.WithCancel(c.root)
	c.windowCtx, c.cancelWindow = wctx, cancel
	c.mu.Unlock()
	if err != nil {
		return st, err
	}

	gen := st.Window.Generation
	if c.live != nil {
		c.live.Stop()
	}
	c.logger.Info("window selected", "days", days, "window_gen", gen)

	ctx, done := bind(ctx, wctx)
	defer done()

	// A newer selection owns the outcome once this one is superseded, so a
	// superseded call reports the current state without error.
	preload, fixtures, err := c.loadFixtures(ctx, days)
	if err != nil {
		_, mergeErr := c.store.Apply(projection.WindowFailed(gen, err))
		switch {
		case domain.IsStale(mergeErr):
			c.logger.Debug("window failure discarded", "window_gen", gen, "error", err)
			return c.store.Snapshot(), nil
		case mergeErr != nil:
			return c.store.Snapshot(), mergeErr
		}
		c.logger.Warn("window load failed", "days", days, "window_gen", gen, "error", err)
		return c.store.Snapshot(), err
	}

	st, err = c.store.Apply(projection.FixturesLoaded(gen, preload, fixtures))
	switch {
	case domain.IsStale(err):
		c.logger.Debug("fixtures discarded", "window_gen", gen, "error", err)
		return c.store.Snapshot(), nil
	case err != nil:
		return st, err
	}
	c.logger.Info("fixtures loaded",
		"window_gen", gen,
		"fixtures", len(st.Fixtures),
		"groups", len(st.Groups),
	)

	c.loadReference(ctx, len(preload.Leagues) == 0)
	return c.store.Snapshot(), nil
}

func (c *FixtureCoordinator) loadFixtures(ctx context.Context, days int) (domain.PreloadResult, []domain.Fixture, error) {
	preload, err := c.source.Preload(ctx, days)
	if err != nil {
		return domain.PreloadResult{}, nil, fmt.Errorf("preload %d days: %w", days, err)
	}
	window := domain.Window{Days: days, From: preload.From, To: preload.To, Dates: preload.Dates}
	fixtures, err := c.source.FetchFixtures(ctx, window)
	if err != nil {
		return preload, nil, fmt.Errorf("fetch fixtures: %w", err)
	}
	return preload, fixtures, nil
}

// loadReference fetches bookmakers, and leagues when the preload carried
// none. Failures only leave the previous lists in place.
func (c *FixtureCoordinator) loadReference(ctx context.Context, needLeagues bool) {
	var leagues []domain.League
	if needLeagues {
		v, err, _ := c.refs.Do("leagues", func() (interface{}, error) {
			return c.source.Leagues(ctx)
		})
		if err != nil {
			c.logger.Warn("league list unavailable", "error", err)
		} else {
			leagues = v.([]domain.League)
		}
	}

	var bookmakers []domain.Bookmaker
	v, err, _ := c.refs.Do("bookmakers", func() (interface{}, error) {
		return c.source.Bookmakers(ctx)
	})
	if err != nil {
		c.logger.Warn("bookmaker list unavailable", "error", err)
	} else {
		bookmakers = v.([]domain.Bookmaker)
	}

	if _, err := c.store.Apply(projection.ReferenceLoaded(leagues, bookmakers)); err != nil {
		c.logger.Debug("reference data discarded", "error", err)
	}
}

// ── Phase 2 ──

// SelectGroups opts groups into odds loading and waits until every fetch it
// issued has been merged. Groups already in flight or complete cause no
// remote call. Failed groups are reported in a GroupErrors value and can be
// selected again.
func (c *FixtureCoordinator) SelectGroups(ctx context.Context, ids []string) error {
	gen, started, err := c.beginGroups(ids)
	if err != nil || len(started) == 0 {
		return err
	}
	ctx, done := bind(ctx, c.currentWindowCtx())
	defer done()
	return c.fetchGroups(ctx, gen, started)
}

// SelectGroupsAsync is SelectGroups that returns once the fetches are
// issued. It reports the groups whose fetch was started; completion is
// observed through the store.
func (c *FixtureCoordinator) SelectGroupsAsync(ctx context.Context, ids []string) ([]string, error) {
	gen, started, err := c.beginGroups(ids)
	if err != nil || len(started) == 0 {
		return started, err
	}

	ctx, done := bind(context.WithoutCancel(ctx), c.currentWindowCtx())
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		defer done()
		if err := c.fetchGroups(ctx, gen, started); err != nil {
			c.logger.Warn("group selection failed", "window_gen", gen, "error", err)
		}
	}()
	return started, nil
}

func (c *FixtureCoordinator) beginGroups(ids []string) (uint64, []string, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, nil, domain.ErrValidation("at least one group id is required")
	}

	st := c.store.Snapshot()
	gen := st.Window.Generation
	if st.WindowStatus != domain.WindowFixturesReady {
		return gen, nil, domain.ErrConflict("fixtures for the window are not loaded yet")
	}
	if _, err := c.store.Apply(projection.SelectGroups(gen, ids)); err != nil {
		return gen, nil, windowChanged(err)
	}

	st, changed, err := c.store.Commit(projection.BeginGroupLoad(gen, ids))
	if err != nil {
		return gen, nil, windowChanged(err)
	}
	if !changed {
		c.logger.Debug("groups already loaded or in flight", "window_gen", gen, "groups", ids)
		return gen, nil, nil
	}
	return gen, projection.StartedLoads(st, ids), nil
}

func (c *FixtureCoordinator) fetchGroups(ctx context.Context, gen uint64, ids []string) error {
	dates := c.store.Snapshot().Window.Dates

	var (
		mu     sync.Mutex
		failed = GroupErrors{}
	)
	g := new(errgroup.Group)
	g.SetLimit(c.limit)
	for _, id := range ids {
		g.Go(func() error {
			if err := c.fetchGroup(ctx, gen, id, dates); err != nil {
				mu.Lock()
				failed[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return failed
	}
	return nil
}

func (c *FixtureCoordinator) fetchGroup(ctx context.Context, gen uint64, groupID string, dates []string) error {
	odds, fetchErr := c.source.FetchOddsForGroup(ctx, groupID, dates)

	merge := projection.GroupOddsLoaded(gen, groupID, odds)
	if fetchErr != nil {
		merge = projection.GroupLoadFailed(gen, groupID, fetchErr)
	}
	_, err := c.store.Apply(merge)
	switch {
	case domain.IsStale(err):
		c.logger.Debug("group result discarded", "group_id", groupID, "window_gen", gen, "error", err)
		return nil
	case err != nil:
		return err
	case fetchErr != nil:
		c.logger.Warn("group odds load failed", "group_id", groupID, "window_gen", gen, "error", fetchErr)
		return fetchErr
	}
	c.logger.Debug("group odds loaded", "group_id", groupID, "window_gen", gen, "fixtures", len(odds))
	return nil
}

// ── Refresh ──

// RefreshFixture reloads one fixture's odds and match state. The result
// overwrites the fixture and wins over group fetches issued before it.
func (c *FixtureCoordinator) RefreshFixture(ctx context.Context, id string) (domain.Fixture, error) {
	st := c.store.Snapshot()
	if _, ok := st.Fixtures[id]; !ok {
		return domain.Fixture{}, domain.ErrNotFound("fixture", id)
	}
	if c.limiter != nil {
		if res := c.limiter.Check(ctx, id); !res.Allowed {
			return domain.Fixture{}, domain.ErrRateLimited(res.Reason)
		}
	}

	gen := st.Window.Generation
	ctx, done := bind(ctx, c.currentWindowCtx())
	defer done()

	r, err := c.source.RefreshFixtureOdds(ctx, id)
	if err != nil {
		return domain.Fixture{}, fmt.Errorf("refresh fixture %s: %w", id, err)
	}
	r.FixtureID = id

	st, err = c.store.Apply(projection.FixtureRefreshed(gen, r))
	if domain.IsStale(err) {
		c.logger.Debug("refresh discarded", "fixture_id", id, "window_gen", gen)
		if _, ok := c.store.Snapshot().Fixtures[id]; !ok {
			return domain.Fixture{}, domain.ErrNotFound("fixture", id)
		}
		return domain.Fixture{}, domain.ErrConflict("window changed while refreshing fixture " + id)
	}
	if err != nil {
		return domain.Fixture{}, err
	}
	c.logger.Debug("fixture refreshed", "fixture_id", id, "providers", len(r.Odds))
	return st.Fixtures[id], nil
}

// windowChanged reports a selection overtaken by a window change as a
// conflict.
func windowChanged(err error) error {
	if domain.IsStale(err) {
		return domain.ErrConflict("window changed while selecting groups")
	}
	return err
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// IsGroupFailure reports whether err carries per-group load failures.
func IsGroupFailure(err error) bool {
	var ge GroupErrors
	return errors.As(err, &ge)
}
