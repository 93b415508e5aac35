package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/cache"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/events"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/repositories"
)

const allDashboardsKey = "dashboards:all"

// ListRequest selects one page of the dashboard list.
type ListRequest struct {
	Page   int
	Tags   []string
	Search string
}

// DashboardPage is one page of the filtered dashboard list.
type DashboardPage struct {
	Dashboards []*models.Dashboard `json:"results"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
	// Count is the number of dashboards matching the request.
	Count int `json:"count"`
	// Total is the number of live dashboards before tag and search filtering.
	Total int `json:"total"`
	// SelectedTags echoes the tag selection the page was filtered by.
	SelectedTags []string `json:"selected_tags"`
}

// DashboardListService serves the dashboard list page.
type DashboardListService interface {
	// List returns the dashboards carrying every tag in req.Tags whose
	// untagged name contains req.Search, paginated.
	List(ctx context.Context, req ListRequest) (*DashboardPage, error)
	// AllTags returns every tag in use, sorted.
	AllTags(ctx context.Context) ([]string, error)
	// Close stops listening for reload notifications.
	Close()
}

type dashboardSnapshot struct {
	dashboards []*models.Dashboard
	total      int
}

type dashboardListService struct {
	repo        repositories.DashboardRepository
	pageSize    int
	flight      *cache.Flight[*dashboardSnapshot]
	unsubscribe func()
	logger      *zap.Logger
}

// NewDashboardListService creates a DashboardListService. The dashboard fetch
// is shared by concurrent readers and cached until the bus announces
// events.ReloadDashboards.
func NewDashboardListService(repo repositories.DashboardRepository, bus *events.Bus, pageSize int, clk clock.Clock, logger *zap.Logger) DashboardListService {
	if pageSize <= 0 {
		pageSize = 20
	}

	s := &dashboardListService{
		repo:     repo,
		pageSize: pageSize,
		flight:   cache.NewFlight[*dashboardSnapshot](5*time.Minute, clk),
		logger:   logger.Named("dashboard-list"),
	}

	ch, unsubscribe := bus.Subscribe(events.ReloadDashboards)
	s.unsubscribe = unsubscribe
	go func() {
		for range ch {
			s.flight.Forget(allDashboardsKey)
			s.logger.Debug("Dashboard list invalidated")
		}
	}()

	return s
}

var _ DashboardListService = (*dashboardListService)(nil)

func (s *dashboardListService) List(ctx context.Context, req ListRequest) (*DashboardPage, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(req.Search)
	matched := make([]*models.Dashboard, 0, len(snap.dashboards))
	for _, d := range snap.dashboards {
		if !hasAllTags(d.Tags, req.Tags) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(d.UntaggedName), search) {
			continue
		}
		matched = append(matched, d)
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * s.pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + s.pageSize
	if end > len(matched) {
		end = len(matched)
	}

	return &DashboardPage{
		Dashboards:   matched[start:end],
		Page:         page,
		PageSize:     s.pageSize,
		Count:        len(matched),
		Total:        snap.total,
		SelectedTags: append([]string{}, req.Tags...),
	}, nil
}

func (s *dashboardListService) AllTags(ctx context.Context) ([]string, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(snap.dashboards))
	for i, d := range snap.dashboards {
		names[i] = d.Name
	}
	return UniqueSortedTags(names), nil
}

func (s *dashboardListService) Close() {
	s.unsubscribe()
}

func (s *dashboardListService) snapshot(ctx context.Context) (*dashboardSnapshot, error) {
	snap, err := s.flight.Get(ctx, allDashboardsKey, func(ctx context.Context) (*dashboardSnapshot, error) {
		dashboards, total, err := s.repo.List(ctx, repositories.DashboardListFilter{})
		if err != nil {
			return nil, err
		}
		for _, d := range dashboards {
			d.Tags, d.UntaggedName = ExtractTags(d.Name)
		}
		return &dashboardSnapshot{dashboards: dashboards, total: total}, nil
	})
	if err != nil {
		s.logger.Error("Failed to load dashboards", zap.Error(err))
		return nil, fmt.Errorf("load dashboards: %w", err)
	}
	return snap, nil
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}
