// Package models contains domain types for ekaya-dashboards.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Dashboard is a named grid of widgets. Widgets are stored row by row;
// each inner slice is one row ordered left to right.
type Dashboard struct {
	ID                      uuid.UUID   `json:"id"`
	Slug                    string      `json:"slug"`
	Name                    string      `json:"name"`
	Widgets                 [][]*Widget `json:"widgets"`
	Layout                  Layout      `json:"layout"`
	IsDraft                 bool        `json:"is_draft"`
	IsArchived              bool        `json:"is_archived"`
	DashboardFiltersEnabled bool        `json:"dashboard_filters_enabled"`
	Version                 int         `json:"version"`
	PublicAccessEnabled     bool        `json:"public_access_enabled"`
	PublicURL               string      `json:"public_url,omitempty"`
	CreatedAt               time.Time   `json:"created_at"`
	UpdatedAt               time.Time   `json:"updated_at"`

	// Tags and UntaggedName are derived from Name by the list service.
	Tags         []string `json:"tags,omitempty"`
	UntaggedName string   `json:"untagged_name,omitempty"`
}

// EachWidget visits widgets rows top-to-bottom and left-to-right within a row.
func (d *Dashboard) EachWidget(fn func(w *Widget)) {
	for _, row := range d.Widgets {
		for _, w := range row {
			if w != nil {
				fn(w)
			}
		}
	}
}

// WidgetCount returns the number of widgets across all rows.
func (d *Dashboard) WidgetCount() int {
	n := 0
	d.EachWidget(func(*Widget) { n++ })
	return n
}

// DashboardPatch carries the fields persisted by a dashboard save.
// Version is the version the caller last saw; a mismatch is a conflict.
type DashboardPatch struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Layout  Layout    `json:"layout"`
	IsDraft bool      `json:"is_draft"`
	Version int       `json:"version"`
}

// Layout is the persisted grid of widget IDs, one slice per row.
type Layout [][]uuid.UUID

// Value implements driver.Valuer for JSONB serialization.
func (l Layout) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB deserialization.
func (l *Layout) Scan(value interface{}) error {
	if value == nil {
		*l = Layout{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Layout", value)
	}

	return json.Unmarshal(bytes, l)
}

// Widget is one cell of the dashboard grid. A widget without a visualization
// is a text box and never contributes query results.
type Widget struct {
	ID            uuid.UUID      `json:"id"`
	DashboardID   uuid.UUID      `json:"dashboard_id"`
	Text          string         `json:"text,omitempty"`
	Visualization *Visualization `json:"visualization,omitempty"`
	Query         *Query         `json:"query,omitempty"`
}

// GetQuery returns the query bound to the widget, or nil.
func (w *Widget) GetQuery() *Query {
	if w == nil {
		return nil
	}
	return w.Query
}

// Visualization renders a query's result. Only its presence matters here.
type Visualization struct {
	ID      uuid.UUID `json:"id"`
	Type    string    `json:"type"`
	Name    string    `json:"name"`
	QueryID uuid.UUID `json:"query_id"`
}

// RefreshRate is an auto-refresh interval offered on the dashboard page.
type RefreshRate struct {
	Name string `json:"name" yaml:"name"`
	Rate int    `json:"rate" yaml:"rate"` // seconds
}

// Interval returns the rate as a duration.
func (r RefreshRate) Interval() time.Duration {
	return time.Duration(r.Rate) * time.Second
}
