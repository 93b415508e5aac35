package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/repositories"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/services"
)

var testDashboardID = uuid.MustParse("00000000-0000-0000-0000-0000000000d1")

func newTestDashboard() *models.Dashboard {
	resultID := uuid.New()
	query := &models.Query{
		ID:       uuid.MustParse("00000000-0000-0000-0000-0000000000a1"),
		SQLQuery: "SELECT * FROM sales WHERE region = '{{region}}'",
		Parameters: models.Parameters{
			{Name: "region", Title: "Region", Type: models.ParameterTypeText, Global: true, Value: "east"},
		},
		LatestQueryResultID: &resultID,
	}
	return &models.Dashboard{
		ID:                      testDashboardID,
		Slug:                    "sales",
		Name:                    "Sales: Weekly",
		Version:                 1,
		IsDraft:                 true,
		DashboardFiltersEnabled: true,
		Widgets: [][]*models.Widget{{{
			ID:            uuid.New(),
			Visualization: &models.Visualization{ID: uuid.New(), Type: "CHART", QueryID: query.ID},
			Query:         query,
		}}},
	}
}

type mockDashboardRepository struct {
	mu      sync.Mutex
	version int
	deleted bool
}

var _ repositories.DashboardRepository = (*mockDashboardRepository)(nil)

func (m *mockDashboardRepository) GetBySlug(ctx context.Context, slug string) (*models.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if slug != "sales" || m.deleted {
		return nil, apperrors.ErrNotFound
	}
	d := newTestDashboard()
	if m.version > 0 {
		d.Version = m.version
	}
	return d, nil
}

func (m *mockDashboardRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dashboard, error) {
	return m.GetBySlug(ctx, "sales")
}

func (m *mockDashboardRepository) List(ctx context.Context, filter repositories.DashboardListFilter) ([]*models.Dashboard, int, error) {
	return []*models.Dashboard{newTestDashboard()}, 1, nil
}

func (m *mockDashboardRepository) Save(ctx context.Context, patch *models.DashboardPatch) (*models.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.version = patch.Version + 1
	return &models.Dashboard{ID: patch.ID, Name: patch.Name, IsDraft: patch.IsDraft, Version: m.version}, nil
}

func (m *mockDashboardRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = true
	return nil
}

func (m *mockDashboardRepository) SetPublicAccess(ctx context.Context, id uuid.UUID, enabled bool, publicURL string) error {
	return nil
}

type mockQueryResultService struct{}

func (mockQueryResultService) GetQueryResult(ctx context.Context, query *models.Query, maxAge time.Duration) (*services.ResultHandle, bool) {
	if query == nil {
		return nil, false
	}
	data := &models.QueryResultData{
		Columns: []models.ResultColumn{{Name: "region::filter"}},
		Rows:    []map[string]any{{"region::filter": "east"}, {"region::filter": "west"}},
	}
	return services.NewResolvedHandle(query.ID, data, nil), true
}

// mockShareService resolves the token "live" only.
type mockShareService struct {
	err error
}

func (m *mockShareService) Enable(ctx context.Context, dashboard *models.Dashboard) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "http://localhost/public/dashboards/live", nil
}

func (m *mockShareService) Disable(ctx context.Context, dashboardID uuid.UUID) error {
	return m.err
}

func (m *mockShareService) Resolve(ctx context.Context, token string) (*models.Dashboard, error) {
	if m.err != nil {
		return nil, m.err
	}
	if token != "live" {
		return nil, apperrors.ErrNotFound
	}
	d := newTestDashboard()
	d.PublicAccessEnabled = true
	d.PublicURL = "http://localhost/public/dashboards/live"
	return d, nil
}

type mockRecorder struct{}

func (mockRecorder) Record(ctx context.Context, action, objectType, objectID string) {}

// mockListService returns a fixed page and tag list.
type mockListService struct {
	lastRequest services.ListRequest
	err         error
}

func (m *mockListService) List(ctx context.Context, req services.ListRequest) (*services.DashboardPage, error) {
	m.lastRequest = req
	if m.err != nil {
		return nil, m.err
	}
	return &services.DashboardPage{
		Dashboards: []*models.Dashboard{newTestDashboard()},
		Page:       1,
		PageSize:   20,
		Count:      1,
		Total:      1,
	}, nil
}

func (m *mockListService) AllTags(ctx context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []string{"#q1", "Sales"}, nil
}

func (m *mockListService) Close() {}
