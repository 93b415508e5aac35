package services

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/events"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var testRefreshRates = []models.RefreshRate{
	{Name: "1 minute", Rate: 60},
	{Name: "5 minutes", Rate: 300},
}

type sessionFixture struct {
	session  *DashboardSession
	clock    *clock.Mock
	repo     *mockDashboardRepository
	results  *mockQueryResultService
	sharing  *mockShareService
	recorder *mockRecorder
	bus      *events.Bus
	logs     *observer.ObservedLogs
}

type fixtureOption func(f *sessionFixture)

func withRepo(repo *mockDashboardRepository) fixtureOption {
	return func(f *sessionFixture) { f.repo = repo }
}

func withResults(results *mockQueryResultService) fixtureOption {
	return func(f *sessionFixture) { f.results = results }
}

func newSessionFixture(t *testing.T, query url.Values, opts ...fixtureOption) *sessionFixture {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	f := &sessionFixture{
		clock:    clock.NewMock(),
		repo:     &mockDashboardRepository{},
		results:  newMockQueryResultService(),
		sharing:  &mockShareService{},
		recorder: &mockRecorder{},
		bus:      events.NewBus(zap.NewNop()),
		logs:     logs,
	}
	for _, opt := range opts {
		opt(f)
	}

	deps := SessionDeps{
		Dashboards: f.repo,
		Results:    f.results,
		Sharing:    f.sharing,
		Bus:        f.bus,
		Recorder:   f.recorder,
	}
	cfg := SessionConfig{
		ReloadWindow:           time.Second,
		RefreshRates:           testRefreshRates,
		ShowPermissionsControl: true,
		Clock:                  f.clock,
	}

	f.session = NewDashboardSession(context.Background(), "sales", query, deps, cfg, logger)
	t.Cleanup(f.session.Close)
	return f
}

func (f *sessionFixture) waitRenders(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.session.View().Renders >= n
	}, waitFor, tick)
}

func (f *sessionFixture) waitFilters(t *testing.T, n int) SessionView {
	t.Helper()
	var view SessionView
	require.Eventually(t, func() bool {
		view = f.session.View()
		return len(view.Filters) == n
	}, waitFor, tick)
	return view
}

func filtersEnabled(d *models.Dashboard) {
	d.DashboardFiltersEnabled = true
}

func globalView(view SessionView, name string) *GlobalParameterView {
	for i := range view.GlobalParameters {
		if view.GlobalParameters[i].Name == name {
			return &view.GlobalParameters[i]
		}
	}
	return nil
}

func filterView(view SessionView, name string) *FilterView {
	for i := range view.Filters {
		if view.Filters[i].Name == name {
			return &view.Filters[i]
		}
	}
	return nil
}

func TestDashboardSession_InitialRender(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)

	view := f.session.View()
	assert.True(t, view.Loaded)
	assert.Equal(t, "Sales: #q1 Weekly Report", view.Title)
	assert.Equal(t, "Sales: #q1 Weekly Report", f.session.Title())
	require.NotNil(t, view.Dashboard)
	assert.Len(t, view.Dashboard.Widgets, 2)

	require.Len(t, view.GlobalParameters, 2)
	assert.Equal(t, "region", view.GlobalParameters[0].Name)
	assert.Equal(t, 3, view.GlobalParameters[0].LocalCount)
	assert.Equal(t, "date", view.GlobalParameters[1].Name)

	// only widgets with a visualization resolve results
	requests := f.results.requested()
	require.Len(t, requests, 2)
	assert.Equal(t, queryOneID, requests[0].QueryID)
	assert.Equal(t, queryTwoID, requests[1].QueryID)
	for _, r := range requests {
		assert.Equal(t, AnyAge, r.MaxAge)
	}

	assert.Equal(t, []string{models.EventActionView}, f.recorder.actions())
	assert.Equal(t, "api/dashboards/"+salesDashboardID.String()+"/acl", view.ACLURL)
}

func TestDashboardSession_FiltersDisabledByDefault(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)

	assert.Empty(t, f.session.View().Filters)
	assert.Zero(t, f.logs.FilterMessage("Query results unavailable, filters not updated").Len())
}

func TestDashboardSession_FiltersEnabled(t *testing.T) {
	repo := &mockDashboardRepository{mutate: filtersEnabled}
	f := newSessionFixture(t, nil, withRepo(repo))

	view := f.waitFilters(t, 2)

	region := filterView(view, "region::filter")
	require.NotNil(t, region)
	assert.Equal(t, 2, region.OriginCount)
	assert.Equal(t, "east", region.Current)
	assert.Equal(t, []any{"east", "west"}, region.Values)

	date := filterView(view, "date::filter")
	require.NotNil(t, date)
	assert.Equal(t, 1, date.OriginCount)
}

func TestDashboardSession_LocationOverridesFilter(t *testing.T) {
	f := newSessionFixture(t, url.Values{"region::filter": {"west"}})

	view := f.waitFilters(t, 1)

	assert.Equal(t, "region::filter", view.Filters[0].Name)
	assert.Equal(t, "west", view.Filters[0].Current)
}

func TestDashboardSession_SetGlobalParameter(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)

	require.NoError(t, f.session.SetGlobalParameter("region", "south"))

	view := f.session.View()
	assert.Equal(t, "south", globalView(view, "region").Value)
	assert.Equal(t, "south", view.Dashboard.Widgets[0][0].Parameters[0].Value)
	assert.Equal(t, "south", view.Dashboard.Widgets[0][1].Parameters[0].Value)
	assert.Equal(t, "south", view.Dashboard.Widgets[1][1].Parameters[0].Value)
	assert.Equal(t, 10.0, view.Dashboard.Widgets[0][0].Parameters[1].Value)

	requests := f.results.requested()
	require.Len(t, requests, 4)
	for _, r := range requests[2:] {
		assert.Equal(t, AnyAge, r.MaxAge)
		assert.Equal(t, "south", r.Values["region"])
	}
}

func TestDashboardSession_SetGlobalParameters_Batch(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)

	require.NoError(t, f.session.SetGlobalParameters(map[string]any{
		"region": "south",
		"date":   "2024-03-01",
	}))

	view := f.session.View()
	assert.Equal(t, "south", globalView(view, "region").Value)
	assert.Equal(t, "2024-03-01", globalView(view, "date").Value)
	assert.Len(t, f.results.requested(), 4, "one result pass for the whole batch")
}

func TestDashboardSession_SetGlobalParameter_RejectsInjection(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)

	err := f.session.SetGlobalParameter("region", "' OR '1'='1")

	require.ErrorIs(t, err, apperrors.ErrRejectedValue)
	assert.Equal(t, "east", globalView(f.session.View(), "region").Value)
	assert.Len(t, f.results.requested(), 2)
}

func TestDashboardSession_SetGlobalParameter_Unknown(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)

	err := f.session.SetGlobalParameter("limit", 5.0)

	require.ErrorIs(t, err, apperrors.ErrUnknownParameter)
}

func TestDashboardSession_SetGlobalParameter_NotLoaded(t *testing.T) {
	repo := &mockDashboardRepository{fetchErrs: []error{errors.New("connection refused")}}
	f := newSessionFixture(t, nil, withRepo(repo))
	require.Eventually(t, func() bool { return repo.fetchCount() == 1 }, waitFor, tick)

	err := f.session.SetGlobalParameter("region", "south")

	require.ErrorIs(t, err, apperrors.ErrDashboardNotLoaded)
	assert.False(t, f.session.View().Loaded)
}

func TestDashboardSession_ParameterEditsSurviveReload(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)
	require.NoError(t, f.session.SetGlobalParameter("region", "south"))

	f.session.Reload(false)
	f.clock.Add(time.Second)
	f.waitRenders(t, 2)

	view := f.session.View()
	assert.Equal(t, "south", globalView(view, "region").Value)
	assert.Equal(t, "south", view.Dashboard.Widgets[1][1].Parameters[0].Value)
	assert.Equal(t, "2024-01-01", globalView(view, "date").Value)
}

func TestDashboardSession_SetFilter(t *testing.T) {
	repo := &mockDashboardRepository{mutate: filtersEnabled}
	f := newSessionFixture(t, nil, withRepo(repo))
	f.waitFilters(t, 2)

	require.NoError(t, f.session.SetFilter("region::filter", "west"))

	view := f.session.View()
	assert.Equal(t, "west", filterView(view, "region::filter").Current)
	assert.Equal(t, []string{"west"}, f.session.Location()["region::filter"])

	err := f.session.SetFilter("missing::filter", "x")
	require.ErrorIs(t, err, apperrors.ErrUnknownFilter)
}

func TestDashboardSession_SetRefreshRate(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)

	err := f.session.SetRefreshRate(&models.RefreshRate{Rate: 42})
	require.ErrorIs(t, err, apperrors.ErrInvalidRefreshRate)
	assert.Nil(t, f.session.View().RefreshRate)

	require.NoError(t, f.session.SetRefreshRate(&models.RefreshRate{Rate: 60}))
	require.NotNil(t, f.session.View().RefreshRate)
	assert.Equal(t, "1 minute", f.session.View().RefreshRate.Name)

	// the immediate reload is forced and waits out the throttle window
	f.clock.Add(time.Second)
	f.waitRenders(t, 2)
	requests := f.results.requested()
	require.Len(t, requests, 4)
	assert.Equal(t, time.Duration(0), requests[2].MaxAge)

	f.clock.Add(time.Minute)
	f.waitRenders(t, 3)
	requests = f.results.requested()
	assert.Equal(t, time.Duration(0), requests[len(requests)-1].MaxAge)

	require.NoError(t, f.session.SetRefreshRate(nil))
	assert.Nil(t, f.session.View().RefreshRate)
}

func TestDashboardSession_TogglePublished(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)
	notifications, unsubscribe := f.bus.Subscribe(events.ReloadDashboards)
	defer unsubscribe()

	require.NoError(t, f.session.TogglePublished(context.Background()))

	view := f.session.View()
	assert.False(t, view.Dashboard.IsDraft)
	assert.Equal(t, 4, view.Dashboard.Version)
	assert.False(t, view.SaveInProgress)

	require.Len(t, f.repo.saved, 1)
	assert.False(t, f.repo.saved[0].IsDraft)
	assert.Equal(t, 3, f.repo.saved[0].Version)
	assert.Contains(t, f.recorder.actions(), models.EventActionTogglePublished)

	select {
	case n := <-notifications:
		assert.Equal(t, events.ReloadDashboards, n.Name)
	default:
		t.Fatal("expected a reload notification")
	}
}

func TestDashboardSession_TogglePublished_SaveFails(t *testing.T) {
	repo := &mockDashboardRepository{saveErr: apperrors.ErrConflict}
	f := newSessionFixture(t, nil, withRepo(repo))
	f.waitRenders(t, 1)

	err := f.session.TogglePublished(context.Background())

	require.ErrorIs(t, err, apperrors.ErrConflict)
	view := f.session.View()
	assert.False(t, view.Dashboard.IsDraft, "flag stays flipped")
	assert.Equal(t, 3, view.Dashboard.Version)
	assert.False(t, view.SaveInProgress)
}

func TestDashboardSession_Archive(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)

	var prompt string
	attempted, err := f.session.Archive(context.Background(), func(title, message string) bool {
		prompt = message
		return false
	})
	require.NoError(t, err)
	assert.False(t, attempted)
	assert.Contains(t, prompt, "Sales: #q1 Weekly Report")
	assert.Empty(t, f.repo.deleted)

	attempted, err = f.session.Archive(context.Background(), func(string, string) bool { return true })
	require.NoError(t, err)
	assert.True(t, attempted)
	assert.Equal(t, []uuid.UUID{salesDashboardID}, f.repo.deleted)
	assert.Contains(t, f.recorder.actions(), models.EventActionArchive)
}

func TestDashboardSession_Archive_DeleteFails(t *testing.T) {
	repo := &mockDashboardRepository{deleteErr: apperrors.ErrNotFound}
	f := newSessionFixture(t, nil, withRepo(repo))
	f.waitRenders(t, 1)

	attempted, err := f.session.Archive(context.Background(), func(string, string) bool { return true })

	assert.True(t, attempted)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDashboardSession_Fullscreen(t *testing.T) {
	f := newSessionFixture(t, url.Values{"fullscreen": {""}})

	assert.True(t, f.session.View().IsFullscreen)
	assert.Equal(t, []string{"true"}, f.session.Location()["fullscreen"])

	assert.False(t, f.session.ToggleFullscreen())
	assert.False(t, f.session.Location().Has("fullscreen"))
	assert.True(t, f.session.ToggleFullscreen())
}

func TestDashboardSession_ToggleSharing(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)

	require.NoError(t, f.session.ToggleSharing(context.Background()))
	view := f.session.View()
	assert.True(t, view.Dashboard.PublicAccessEnabled)
	assert.Equal(t, "https://dash.example.com/public/dashboards/token-sales", view.Dashboard.PublicURL)

	require.NoError(t, f.session.ToggleSharing(context.Background()))
	view = f.session.View()
	assert.False(t, view.Dashboard.PublicAccessEnabled)
	assert.Empty(t, view.Dashboard.PublicURL)
	assert.Equal(t, 1, f.sharing.enabled)
	assert.Equal(t, 1, f.sharing.disabled)
}

func TestDashboardSession_ToggleSharing_RevertsOnFailure(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)
	f.sharing.enableErr = errors.New("boom")

	require.NoError(t, f.session.ToggleSharing(context.Background()))

	assert.False(t, f.session.View().Dashboard.PublicAccessEnabled)
	assert.Equal(t, 1, f.logs.FilterMessage("Failed to toggle public access").Len())
}

func TestDashboardSession_ToggleSharing_NotConfigured(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)
	f.sharing.enableErr = apperrors.ErrSharingNotAvailable

	err := f.session.ToggleSharing(context.Background())

	require.ErrorIs(t, err, apperrors.ErrSharingNotAvailable)
	assert.False(t, f.session.View().Dashboard.PublicAccessEnabled)
}

func TestDashboardSession_RetriesFailedLoads(t *testing.T) {
	repo := &mockDashboardRepository{fetchErrs: []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
	}}
	f := newSessionFixture(t, nil, withRepo(repo))

	require.Eventually(t, func() bool {
		f.clock.Add(time.Second)
		return f.session.View().Renders == 1
	}, waitFor, tick)

	assert.Equal(t, 3, repo.fetchCount())
	assert.Equal(t, 2, f.logs.FilterMessage("Dashboard load failed, retrying").Len())
}

func TestDashboardSession_ResultFailureKeepsFilters(t *testing.T) {
	results := newMockQueryResultService()
	results.errs[queryTwoID] = errors.New("query timed out")
	repo := &mockDashboardRepository{mutate: filtersEnabled}
	f := newSessionFixture(t, nil, withRepo(repo), withResults(results))

	require.Eventually(t, func() bool {
		return f.logs.FilterMessage("Query results unavailable, filters not updated").Len() == 1
	}, waitFor, tick)
	assert.Empty(t, f.session.View().Filters)
}

func TestDashboardSession_ACLURLHidden(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.cfg.ShowPermissionsControl = false
	f.waitRenders(t, 1)

	assert.Empty(t, f.session.View().ACLURL)
}

func TestDashboardSession_Rename(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)

	require.NoError(t, f.session.Rename(context.Background(), "Ops: Daily"))

	view := f.session.View()
	assert.Equal(t, "Ops: Daily", view.Title)
	assert.Equal(t, "Ops: Daily", view.Dashboard.Name)
	assert.Equal(t, 4, view.Dashboard.Version)
	assert.Len(t, view.Dashboard.Widgets, 2, "widgets kept")
}

func TestDashboardSession_OnWidgetsChanged(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.waitRenders(t, 1)
	require.NoError(t, f.session.SetGlobalParameter("region", "south"))
	before := len(f.results.requested())

	f.repo.mu.Lock()
	f.repo.mutate = func(d *models.Dashboard) {
		q := &models.Query{
			ID:       uuid.New(),
			SQLQuery: "SELECT * FROM accounts WHERE segment = '{{segment}}'",
			Parameters: models.Parameters{
				{Name: "segment", Type: models.ParameterTypeText, Global: true, Value: "smb"},
				{Name: "region", Type: models.ParameterTypeText, Global: true, Value: "west"},
			},
		}
		d.Widgets = append(d.Widgets, []*models.Widget{chartWidget(q)})
	}
	f.repo.mu.Unlock()

	require.NoError(t, f.session.OnWidgetsChanged(context.Background()))

	view := f.session.View()
	require.NotNil(t, globalView(view, "segment"))
	assert.Equal(t, 4, globalView(view, "region").LocalCount)
	assert.Equal(t, "south", globalView(view, "region").Value)
	assert.Len(t, view.Dashboard.Widgets, 3)
	assert.Equal(t, 1, view.Renders)
	assert.Len(t, f.results.requested(), before)
}
