package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/events"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/repositories"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/retry"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/scheduler"
	sqlparams "github.com/ekaya-inc/ekaya-dashboards/pkg/sql"
)

const fullscreenKey = "fullscreen"

// Confirmer asks the user to confirm a destructive action.
type Confirmer func(title, message string) bool

// SessionConfig configures dashboard sessions.
type SessionConfig struct {
	ReloadWindow           time.Duration
	ReloadBackoff          *retry.Config
	RefreshRates           []models.RefreshRate
	ShowPermissionsControl bool
	Clock                  clock.Clock
}

// SessionDeps are the collaborators shared by all dashboard sessions.
type SessionDeps struct {
	Dashboards repositories.DashboardRepository
	Results    QueryResultService
	Sharing    ShareService
	Bus        *events.Bus
	Recorder   events.Recorder
}

// DashboardSession is the live state of one open dashboard page.
//
// All state changes are serialized by mu. Fetches, result resolution and
// timers run outside it. Global parameters and merged filters are rebuilt
// wholesale by each pass and never patched.
type DashboardSession struct {
	slug     string
	deps     SessionDeps
	cfg      SessionConfig
	location *Location
	reloader *scheduler.Reloader
	refresh  *scheduler.AutoRefresh
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger

	mu             sync.Mutex
	dashboard      *models.Dashboard
	title          string
	globals        []*models.GlobalParameter
	filters        []*models.MergedFilter
	paramOverrides map[string]any
	refreshRate    *models.RefreshRate
	fullscreen     bool
	saveInProgress bool
	passSeq        uint64
	renders        int
}

// NewDashboardSession opens the dashboard slug and starts its first load.
// query is the page's initial query string. The session lives until Close or
// until ctx is cancelled.
func NewDashboardSession(ctx context.Context, slug string, query url.Values, deps SessionDeps, cfg SessionConfig, logger *zap.Logger) *DashboardSession {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &DashboardSession{
		slug:           slug,
		deps:           deps,
		cfg:            cfg,
		location:       NewLocation(query),
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger.Named("dashboard-session").With(zap.String("slug", slug)),
		paramOverrides: make(map[string]any),
	}

	s.reloader = scheduler.NewReloader(ctx, scheduler.ReloaderConfig{
		Window:  cfg.ReloadWindow,
		Backoff: cfg.ReloadBackoff,
		Clock:   cfg.Clock,
	}, s.fetch, s.onLoaded, s.logger)
	s.refresh = scheduler.NewAutoRefresh(cfg.Clock, s.reloader.Load)

	if s.location.Has(fullscreenKey) {
		s.ToggleFullscreen()
	}
	s.reloader.Load(false)

	return s
}

// Slug returns the dashboard slug the session was opened for.
func (s *DashboardSession) Slug() string {
	return s.slug
}

// Close stops reloads and the auto-refresh loop.
func (s *DashboardSession) Close() {
	s.refresh.Stop()
	s.reloader.Close()
	s.cancel()
}

// Reload requests a throttled dashboard load.
func (s *DashboardSession) Reload(force bool) {
	s.reloader.Load(force)
}

// Title is the page title, the name of the last rendered dashboard.
func (s *DashboardSession) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// Location returns the page query string.
func (s *DashboardSession) Location() url.Values {
	return s.location.Values()
}

func (s *DashboardSession) fetch(ctx context.Context) (*models.Dashboard, error) {
	return s.deps.Dashboards.GetBySlug(ctx, s.slug)
}

func (s *DashboardSession) onLoaded(ctx context.Context, dashboard *models.Dashboard, force bool) {
	s.deps.Recorder.Record(ctx, models.EventActionView, models.EventObjectDashboard, dashboard.ID.String())
	s.render(ctx, dashboard, force)
}

// render replaces the dashboard, rebuilds global parameters and starts a
// result pass. It returns once the pass has finished.
func (s *DashboardSession) render(ctx context.Context, dashboard *models.Dashboard, force bool) {
	s.mu.Lock()
	s.dashboard = dashboard
	s.title = dashboard.Name
	s.globals = s.extractGlobalsLocked()
	seq, handles := s.launchResultsLocked(ctx, MaxAgeFor(force))
	s.renders++
	s.mu.Unlock()

	s.logger.Debug("Rendering dashboard",
		zap.Bool("force", force),
		zap.Int("widgets", dashboard.WidgetCount()),
		zap.Int("results", len(handles)))

	s.joinResults(ctx, seq, dashboard, handles)
}

// extractGlobalsLocked rebuilds the global parameters and re-applies values
// the user set on this page.
func (s *DashboardSession) extractGlobalsLocked() []*models.GlobalParameter {
	globals := ExtractGlobalParameters(s.dashboard)

	edited := make([]*models.GlobalParameter, 0, len(s.paramOverrides))
	for _, g := range globals {
		if v, ok := s.paramOverrides[g.Name]; ok {
			g.Value = models.CloneValue(v)
			edited = append(edited, g)
		}
	}
	PropagateGlobalParameters(edited)

	return globals
}

// launchResultsLocked starts resolving the result of every widget that has a
// visualization and a resolvable query.
func (s *DashboardSession) launchResultsLocked(ctx context.Context, maxAge time.Duration) (uint64, []*ResultHandle) {
	s.passSeq++
	handles := make([]*ResultHandle, 0)
	s.dashboard.EachWidget(func(w *models.Widget) {
		if w.Visualization == nil {
			return
		}
		if h, ok := s.deps.Results.GetQueryResult(ctx, w.GetQuery(), maxAge); ok {
			handles = append(handles, h)
		}
	})
	return s.passSeq, handles
}

// joinResults waits for every handle and only then recomputes the merged
// filters. A failed result leaves the previous filters in place.
func (s *DashboardSession) joinResults(ctx context.Context, seq uint64, dashboard *models.Dashboard, handles []*ResultHandle) {
	results := make([]*models.QueryResultData, len(handles))

	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handles {
		g.Go(func() error {
			data, err := h.Wait(gctx)
			if err != nil {
				return fmt.Errorf("query %s: %w", h.QueryID, err)
			}
			results[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Query results unavailable, filters not updated", zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.passSeq {
		s.logger.Debug("Dropping superseded result pass", zap.Uint64("seq", seq))
		return
	}
	s.filters = ComputeFilters(dashboard, results, s.location.Values())
}

// SetRefreshRate selects an auto-refresh rate from the offered catalogue and
// reloads at once. nil turns auto-refresh off.
func (s *DashboardSession) SetRefreshRate(rate *models.RefreshRate) error {
	if rate == nil {
		s.mu.Lock()
		s.refreshRate = nil
		s.mu.Unlock()
		s.refresh.Stop()
		return nil
	}

	offered, ok := s.lookupRate(rate.Rate)
	if !ok {
		return fmt.Errorf("%w: %d seconds", apperrors.ErrInvalidRefreshRate, rate.Rate)
	}

	s.mu.Lock()
	s.refreshRate = &offered
	s.mu.Unlock()

	s.reloader.Load(true)
	s.refresh.Start(offered.Interval())
	return nil
}

func (s *DashboardSession) lookupRate(seconds int) (models.RefreshRate, bool) {
	for _, r := range s.cfg.RefreshRates {
		if r.Rate == seconds {
			return r, true
		}
	}
	return models.RefreshRate{}, false
}

// ToggleFullscreen flips fullscreen mode and mirrors it into the query string.
func (s *DashboardSession) ToggleFullscreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fullscreen = !s.fullscreen
	if s.fullscreen {
		on := "true"
		s.location.Set(fullscreenKey, &on)
	} else {
		s.location.Set(fullscreenKey, nil)
	}
	return s.fullscreen
}

// TogglePublished flips the draft flag and saves it. On failure the flipped
// flag is kept and the error returned.
func (s *DashboardSession) TogglePublished(ctx context.Context) error {
	s.mu.Lock()
	d := s.dashboard
	if d == nil {
		s.mu.Unlock()
		return apperrors.ErrDashboardNotLoaded
	}

	s.deps.Recorder.Record(ctx, models.EventActionTogglePublished, models.EventObjectDashboard, d.ID.String())
	d.IsDraft = !d.IsDraft
	patch := &models.DashboardPatch{
		ID:      d.ID,
		Name:    d.Name,
		Layout:  d.Layout,
		IsDraft: d.IsDraft,
		Version: d.Version,
	}
	s.saveInProgress = true
	s.mu.Unlock()

	saved, err := s.deps.Dashboards.Save(ctx, patch)

	s.mu.Lock()
	s.saveInProgress = false
	if err == nil && s.dashboard != nil {
		s.dashboard.Version = saved.Version
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Failed to save published state", zap.Bool("is_draft", patch.IsDraft), zap.Error(err))
		return fmt.Errorf("save dashboard: %w", err)
	}

	s.deps.Bus.Publish(events.ReloadDashboards)
	return nil
}

// Archive asks confirm and, when the user agrees, archives the dashboard.
// It reports whether the archive was attempted. A declined prompt is not an error.
func (s *DashboardSession) Archive(ctx context.Context, confirm Confirmer) (bool, error) {
	s.mu.Lock()
	d := s.dashboard
	s.mu.Unlock()
	if d == nil {
		return false, apperrors.ErrDashboardNotLoaded
	}

	title := "Archive Dashboard"
	message := fmt.Sprintf("Are you sure you want to archive the %q dashboard?", d.Name)
	if confirm == nil || !confirm(title, message) {
		return false, nil
	}

	s.deps.Recorder.Record(ctx, models.EventActionArchive, models.EventObjectDashboard, d.ID.String())
	if err := s.deps.Dashboards.Delete(ctx, d.ID); err != nil {
		return true, fmt.Errorf("archive dashboard: %w", err)
	}

	s.deps.Bus.Publish(events.ReloadDashboards)
	return true, nil
}

// OnWidgetsChanged picks up widgets added or edited elsewhere: it refetches
// the dashboard and rebuilds the global parameters without a result pass.
func (s *DashboardSession) OnWidgetsChanged(ctx context.Context) error {
	dashboard, err := s.fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch dashboard: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboard = dashboard
	s.globals = s.extractGlobalsLocked()
	return nil
}

// ReplaceDashboard adopts a dashboard returned by an edit.
func (s *DashboardSession) ReplaceDashboard(dashboard *models.Dashboard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboard = dashboard
	s.title = dashboard.Name
}

// Rename saves a new dashboard name and adopts the saved dashboard.
func (s *DashboardSession) Rename(ctx context.Context, name string) error {
	s.mu.Lock()
	d := s.dashboard
	if d == nil {
		s.mu.Unlock()
		return apperrors.ErrDashboardNotLoaded
	}
	patch := &models.DashboardPatch{
		ID:      d.ID,
		Name:    name,
		Layout:  d.Layout,
		IsDraft: d.IsDraft,
		Version: d.Version,
	}
	s.mu.Unlock()

	saved, err := s.deps.Dashboards.Save(ctx, patch)
	if err != nil {
		return fmt.Errorf("save dashboard: %w", err)
	}

	// the save returns no widgets
	edited := *d
	edited.Name = saved.Name
	edited.Version = saved.Version
	edited.UpdatedAt = saved.UpdatedAt
	s.ReplaceDashboard(&edited)

	s.deps.Bus.Publish(events.ReloadDashboards)
	return nil
}

// SetGlobalParameter sets one global parameter. See SetGlobalParameters.
func (s *DashboardSession) SetGlobalParameter(name string, value any) error {
	return s.SetGlobalParameters(map[string]any{name: value})
}

// SetGlobalParameters sets global parameter values, propagates them to the
// widgets' local parameters and resolves the affected results again.
// Values that look like SQL injection are rejected as a whole.
func (s *DashboardSession) SetGlobalParameters(values map[string]any) error {
	if rejected := sqlparams.CheckAllParameters(values); len(rejected) > 0 {
		s.logger.Warn("Rejected global parameter value",
			zap.String("parameter", rejected[0].ParamName),
			zap.String("fingerprint", rejected[0].Fingerprint))
		return fmt.Errorf("%w: %w", apperrors.ErrRejectedValue, rejected[0])
	}

	s.mu.Lock()
	if s.dashboard == nil {
		s.mu.Unlock()
		return apperrors.ErrDashboardNotLoaded
	}
	for name := range values {
		if findGlobal(s.globals, name) == nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", apperrors.ErrUnknownParameter, name)
		}
	}

	for name, value := range values {
		findGlobal(s.globals, name).Value = models.CloneValue(value)
		s.paramOverrides[name] = models.CloneValue(value)
	}
	PropagateGlobalParameters(s.globals)

	dashboard := s.dashboard
	seq, handles := s.launchResultsLocked(s.ctx, AnyAge)
	s.mu.Unlock()

	go s.joinResults(s.ctx, seq, dashboard, handles)
	return nil
}

// SetFilter sets a merged filter's value, propagates it to its origin
// filters and mirrors it into the query string.
func (s *DashboardSession) SetFilter(name string, current any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filter := findFilter(s.filters, name)
	if filter == nil {
		return fmt.Errorf("%w: %s", apperrors.ErrUnknownFilter, name)
	}

	filter.Current = models.CloneValue(current)
	PropagateFilter(filter)
	s.location.SetAll(name, locationStrings(current))
	return nil
}

// ToggleSharing flips public access. The flag is flipped first; when the
// share call fails it is reverted and the failure logged.
func (s *DashboardSession) ToggleSharing(ctx context.Context) error {
	s.mu.Lock()
	d := s.dashboard
	if d == nil {
		s.mu.Unlock()
		return apperrors.ErrDashboardNotLoaded
	}
	d.PublicAccessEnabled = !d.PublicAccessEnabled
	enable := d.PublicAccessEnabled
	snapshot := *d
	s.mu.Unlock()

	var (
		publicURL string
		err       error
	)
	if enable {
		publicURL, err = s.deps.Sharing.Enable(ctx, &snapshot)
	} else {
		err = s.deps.Sharing.Disable(ctx, snapshot.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		d.PublicAccessEnabled = !enable
		s.logger.Warn("Failed to toggle public access",
			zap.Bool("enable", enable),
			zap.Error(err))
		if errors.Is(err, apperrors.ErrSharingNotAvailable) {
			return err
		}
		return nil
	}

	if enable {
		d.PublicURL = publicURL
	} else {
		d.PublicURL = ""
	}
	return nil
}
