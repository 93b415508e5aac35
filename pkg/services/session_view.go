package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
)

// SessionView is a point-in-time copy of a session, safe to serialize while
// the session keeps changing.
type SessionView struct {
	Loaded           bool                  `json:"loaded"`
	Title            string                `json:"title"`
	Dashboard        *DashboardView        `json:"dashboard,omitempty"`
	GlobalParameters []GlobalParameterView `json:"global_parameters"`
	Filters          []FilterView          `json:"filters"`
	RefreshRate      *models.RefreshRate   `json:"refresh_rate"`
	RefreshRates     []models.RefreshRate  `json:"refresh_rates"`
	IsFullscreen     bool                  `json:"is_fullscreen"`
	SaveInProgress   bool                  `json:"save_in_progress"`
	ACLURL           string                `json:"acl_url,omitempty"`
	Location         string                `json:"location"`
	Renders          int                   `json:"renders"`
}

// DashboardView is the dashboard part of a SessionView.
type DashboardView struct {
	ID                      uuid.UUID      `json:"id"`
	Slug                    string         `json:"slug"`
	Name                    string         `json:"name"`
	IsDraft                 bool           `json:"is_draft"`
	DashboardFiltersEnabled bool           `json:"dashboard_filters_enabled"`
	Version                 int            `json:"version"`
	PublicAccessEnabled     bool           `json:"public_access_enabled"`
	PublicURL               string         `json:"public_url,omitempty"`
	Layout                  models.Layout  `json:"layout"`
	Widgets                 [][]WidgetView `json:"widgets"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// WidgetView is one widget of a DashboardView.
type WidgetView struct {
	ID                uuid.UUID          `json:"id"`
	Text              string             `json:"text,omitempty"`
	VisualizationType string             `json:"visualization_type,omitempty"`
	QueryID           *uuid.UUID         `json:"query_id,omitempty"`
	Parameters        []models.Parameter `json:"parameters,omitempty"`
}

// GlobalParameterView is one global parameter of a SessionView.
type GlobalParameterView struct {
	models.Parameter
	LocalCount int `json:"local_count"`
}

// FilterView is one merged filter of a SessionView.
type FilterView struct {
	models.QueryFilter
	OriginCount int `json:"origin_count"`
}

// View returns a copy of the session state.
func (s *DashboardSession) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := SessionView{
		Loaded:           s.dashboard != nil,
		Title:            s.title,
		GlobalParameters: make([]GlobalParameterView, 0, len(s.globals)),
		Filters:          make([]FilterView, 0, len(s.filters)),
		RefreshRates:     append([]models.RefreshRate(nil), s.cfg.RefreshRates...),
		IsFullscreen:     s.fullscreen,
		SaveInProgress:   s.saveInProgress,
		Location:         s.location.Encode(),
		Renders:          s.renders,
	}
	if s.refreshRate != nil {
		rate := *s.refreshRate
		view.RefreshRate = &rate
	}

	for _, g := range s.globals {
		view.GlobalParameters = append(view.GlobalParameters, GlobalParameterView{
			Parameter:  g.Clone(),
			LocalCount: g.LocalCount(),
		})
	}
	for _, f := range s.filters {
		fv := FilterView{QueryFilter: f.QueryFilter, OriginCount: len(f.OriginFilters)}
		fv.Current = models.CloneValue(f.Current)
		fv.Values = append([]any(nil), f.Values...)
		view.Filters = append(view.Filters, fv)
	}

	if d := s.dashboard; d != nil {
		view.Dashboard = NewDashboardView(d)
		if s.cfg.ShowPermissionsControl {
			view.ACLURL = "api/dashboards/" + d.ID.String() + "/acl"
		}
	}

	return view
}

// NewDashboardView copies d for serialization.
func NewDashboardView(d *models.Dashboard) *DashboardView {
	dv := &DashboardView{
		ID:                      d.ID,
		Slug:                    d.Slug,
		Name:                    d.Name,
		IsDraft:                 d.IsDraft,
		DashboardFiltersEnabled: d.DashboardFiltersEnabled,
		Version:                 d.Version,
		PublicAccessEnabled:     d.PublicAccessEnabled,
		PublicURL:               d.PublicURL,
		Layout:                  d.Layout,
		Widgets:                 make([][]WidgetView, 0, len(d.Widgets)),
		UpdatedAt:               d.UpdatedAt,
	}

	for _, row := range d.Widgets {
		rv := make([]WidgetView, 0, len(row))
		for _, w := range row {
			if w == nil {
				continue
			}
			wv := WidgetView{ID: w.ID, Text: w.Text}
			if w.Visualization != nil {
				wv.VisualizationType = w.Visualization.Type
			}
			if q := w.GetQuery(); q != nil {
				id := q.ID
				wv.QueryID = &id
				for _, p := range q.Parameters {
					wv.Parameters = append(wv.Parameters, p.Clone())
				}
			}
			rv = append(rv, wv)
		}
		dv.Widgets = append(dv.Widgets, rv)
	}

	return dv
}
