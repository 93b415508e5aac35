package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/repositories"
)

// mockDashboardRepository serves a fresh newSalesDashboard on every fetch,
// with saved state applied on top.
type mockDashboardRepository struct {
	mu sync.Mutex

	fetchErrs []error
	fetches   int
	mutate    func(d *models.Dashboard)

	saveErr error
	saved   []models.DashboardPatch
	state   *models.DashboardPatch

	deleteErr error
	deleted   []uuid.UUID

	publicAccess []bool

	list      []*models.Dashboard
	listCalls int
}

var _ repositories.DashboardRepository = (*mockDashboardRepository)(nil)

func (m *mockDashboardRepository) fixture() *models.Dashboard {
	d := newSalesDashboard()
	if m.state != nil {
		d.Name = m.state.Name
		d.IsDraft = m.state.IsDraft
		d.Version = m.state.Version
	}
	if m.mutate != nil {
		m.mutate(d)
	}
	return d
}

func (m *mockDashboardRepository) GetBySlug(ctx context.Context, slug string) (*models.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches++
	if len(m.fetchErrs) > 0 {
		err := m.fetchErrs[0]
		m.fetchErrs = m.fetchErrs[1:]
		return nil, err
	}
	if slug != "sales" {
		return nil, apperrors.ErrNotFound
	}
	return m.fixture(), nil
}

func (m *mockDashboardRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.list {
		if d.ID == id {
			return d, nil
		}
	}
	if id == salesDashboardID {
		return m.fixture(), nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockDashboardRepository) List(ctx context.Context, filter repositories.DashboardListFilter) ([]*models.Dashboard, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	out := make([]*models.Dashboard, len(m.list))
	for i, d := range m.list {
		cp := *d
		out[i] = &cp
	}
	return out, len(out), nil
}

func (m *mockDashboardRepository) Save(ctx context.Context, patch *models.DashboardPatch) (*models.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved = append(m.saved, *patch)
	if m.saveErr != nil {
		return nil, m.saveErr
	}

	next := *patch
	next.Version++
	m.state = &next
	return &models.Dashboard{
		ID:        patch.ID,
		Slug:      "sales",
		Name:      patch.Name,
		Layout:    patch.Layout,
		IsDraft:   patch.IsDraft,
		Version:   next.Version,
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (m *mockDashboardRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockDashboardRepository) SetPublicAccess(ctx context.Context, id uuid.UUID, enabled bool, publicURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.publicAccess = append(m.publicAccess, enabled)
	for _, d := range m.list {
		if d.ID == id {
			d.PublicAccessEnabled = enabled
			d.PublicURL = publicURL
		}
	}
	return nil
}

func (m *mockDashboardRepository) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

func (m *mockDashboardRepository) listCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

type resultRequest struct {
	QueryID uuid.UUID
	MaxAge  time.Duration
	Values  map[string]any
}

// mockQueryResultService resolves results from fixed data per query.
type mockQueryResultService struct {
	mu       sync.Mutex
	data     map[uuid.UUID]*models.QueryResultData
	errs     map[uuid.UUID]error
	requests []resultRequest
}

var _ QueryResultService = (*mockQueryResultService)(nil)

func newMockQueryResultService() *mockQueryResultService {
	return &mockQueryResultService{
		data: map[uuid.UUID]*models.QueryResultData{
			queryOneID: regionResult("east", "west"),
			queryTwoID: dateResult("2024-01-01", "2024-02-01"),
		},
		errs: make(map[uuid.UUID]error),
	}
}

func (m *mockQueryResultService) GetQueryResult(ctx context.Context, query *models.Query, maxAge time.Duration) (*ResultHandle, bool) {
	if query == nil || query.LatestQueryResultID == nil {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, resultRequest{
		QueryID: query.ID,
		MaxAge:  maxAge,
		Values:  query.ParameterValues(),
	})
	if err := m.errs[query.ID]; err != nil {
		return NewResolvedHandle(query.ID, nil, err), true
	}
	return NewResolvedHandle(query.ID, m.data[query.ID].Clone(), nil), true
}

func (m *mockQueryResultService) requested() []resultRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]resultRequest(nil), m.requests...)
}

type mockShareService struct {
	mu         sync.Mutex
	enableErr  error
	disableErr error
	enabled    int
	disabled   int
}

var _ ShareService = (*mockShareService)(nil)

func (m *mockShareService) Enable(ctx context.Context, dashboard *models.Dashboard) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled++
	if m.enableErr != nil {
		return "", m.enableErr
	}
	return "https://dash.example.com/public/dashboards/token-" + dashboard.Slug, nil
}

func (m *mockShareService) Disable(ctx context.Context, dashboardID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disabled++
	return m.disableErr
}

func (m *mockShareService) Resolve(ctx context.Context, token string) (*models.Dashboard, error) {
	return nil, apperrors.ErrNotFound
}

type recordedEvent struct {
	Action   string
	ObjectID string
}

type mockRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (m *mockRecorder) Record(ctx context.Context, action, objectType, objectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{Action: action, ObjectID: objectID})
}

func (m *mockRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Action
	}
	return out
}
