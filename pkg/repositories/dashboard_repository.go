package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/database"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
)

// DashboardListFilter pages the dashboard list. A zero Limit returns every row.
type DashboardListFilter struct {
	Limit  int
	Offset int
}

// DashboardRepository provides data access for dashboards and their widgets.
type DashboardRepository interface {
	// GetBySlug returns a live dashboard with its widget grid, queries included.
	GetBySlug(ctx context.Context, slug string) (*models.Dashboard, error)
	// GetByID returns a live dashboard with its widget grid.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dashboard, error)
	// List returns live dashboards newest first, without widgets, and the total count.
	List(ctx context.Context, filter DashboardListFilter) ([]*models.Dashboard, int, error)
	// Save persists a patch. It fails with apperrors.ErrConflict when
	// patch.Version is stale and returns the dashboard with its new version.
	Save(ctx context.Context, patch *models.DashboardPatch) (*models.Dashboard, error)
	// Delete archives a dashboard.
	Delete(ctx context.Context, id uuid.UUID) error
	// SetPublicAccess records whether the dashboard has a public link.
	SetPublicAccess(ctx context.Context, id uuid.UUID, enabled bool, publicURL string) error
}

type dashboardRepository struct {
	db *database.DB
}

// NewDashboardRepository creates a new DashboardRepository.
func NewDashboardRepository(db *database.DB) DashboardRepository {
	return &dashboardRepository{db: db}
}

var _ DashboardRepository = (*dashboardRepository)(nil)

const dashboardColumns = `id, slug, name, layout, is_draft, is_archived, dashboard_filters_enabled,
	version, public_access_enabled, public_url, created_at, updated_at`

func (r *dashboardRepository) GetBySlug(ctx context.Context, slug string) (*models.Dashboard, error) {
	query := `SELECT ` + dashboardColumns + `
		FROM dashboards
		WHERE slug = $1 AND is_archived = false`

	return r.getWithWidgets(ctx, query, slug)
}

func (r *dashboardRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dashboard, error) {
	query := `SELECT ` + dashboardColumns + `
		FROM dashboards
		WHERE id = $1 AND is_archived = false`

	return r.getWithWidgets(ctx, query, id)
}

func (r *dashboardRepository) getWithWidgets(ctx context.Context, query string, arg any) (*models.Dashboard, error) {
	conn := r.db.Conn(ctx)

	d, err := scanDashboard(conn.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dashboard: %w", err)
	}

	widgets, err := r.listWidgets(ctx, conn, d.ID)
	if err != nil {
		return nil, err
	}
	d.Widgets = arrangeWidgets(d.Layout, widgets)

	return d, nil
}

func (r *dashboardRepository) listWidgets(ctx context.Context, conn database.Querier, dashboardID uuid.UUID) ([]*models.Widget, error) {
	query := `
		SELECT w.id, w.dashboard_id, w.text,
			v.id, v.type, v.name, v.query_id,
			q.id, q.name, q.data_source_id, q.sql_query, q.parameters,
			q.latest_query_result_id, q.created_at, q.updated_at
		FROM widgets w
		LEFT JOIN visualizations v ON v.id = w.visualization_id
		LEFT JOIN queries q ON q.id = v.query_id
		WHERE w.dashboard_id = $1
		ORDER BY w.created_at, w.id`

	rows, err := conn.Query(ctx, query, dashboardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query widgets: %w", err)
	}
	defer rows.Close()

	var widgets []*models.Widget
	for rows.Next() {
		w, err := scanWidget(rows)
		if err != nil {
			return nil, err
		}
		widgets = append(widgets, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating widgets: %w", err)
	}

	return widgets, nil
}

func (r *dashboardRepository) List(ctx context.Context, filter DashboardListFilter) ([]*models.Dashboard, int, error) {
	conn := r.db.Conn(ctx)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM dashboards WHERE is_archived = false`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count dashboards: %w", err)
	}

	// LIMIT NULL means no limit
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}

	query := `SELECT ` + dashboardColumns + `
		FROM dashboards
		WHERE is_archived = false
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	rows, err := conn.Query(ctx, query, limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list dashboards: %w", err)
	}
	defer rows.Close()

	dashboards := make([]*models.Dashboard, 0)
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan dashboard: %w", err)
		}
		dashboards = append(dashboards, d)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating dashboards: %w", err)
	}

	return dashboards, total, nil
}

func (r *dashboardRepository) Save(ctx context.Context, patch *models.DashboardPatch) (*models.Dashboard, error) {
	conn := r.db.Conn(ctx)

	query := `
		UPDATE dashboards
		SET name = $2, layout = $3, is_draft = $4, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $5 AND is_archived = false
		RETURNING ` + dashboardColumns

	d, err := scanDashboard(conn.QueryRow(ctx, query, patch.ID, patch.Name, patch.Layout, patch.IsDraft, patch.Version))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to save dashboard: %w", err)
	}

	var exists bool
	err = conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM dashboards WHERE id = $1 AND is_archived = false)`,
		patch.ID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check dashboard: %w", err)
	}
	if exists {
		return nil, apperrors.ErrConflict
	}
	return nil, apperrors.ErrNotFound
}

func (r *dashboardRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE dashboards
		SET is_archived = true, updated_at = now()
		WHERE id = $1 AND is_archived = false`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to archive dashboard: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dashboardRepository) SetPublicAccess(ctx context.Context, id uuid.UUID, enabled bool, publicURL string) error {
	var url *string
	if enabled && publicURL != "" {
		url = &publicURL
	}

	query := `
		UPDATE dashboards
		SET public_access_enabled = $2, public_url = $3, updated_at = now()
		WHERE id = $1 AND is_archived = false`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, id, enabled, url)
	if err != nil {
		return fmt.Errorf("failed to update public access: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanDashboard(row pgx.Row) (*models.Dashboard, error) {
	var d models.Dashboard
	var publicURL *string
	err := row.Scan(
		&d.ID, &d.Slug, &d.Name, &d.Layout, &d.IsDraft, &d.IsArchived, &d.DashboardFiltersEnabled,
		&d.Version, &d.PublicAccessEnabled, &publicURL, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if publicURL != nil {
		d.PublicURL = *publicURL
	}
	return &d, nil
}

func scanWidget(rows pgx.Rows) (*models.Widget, error) {
	var w models.Widget
	var (
		vizID, vizQueryID        *uuid.UUID
		vizType, vizName         *string
		queryID, dataSourceID    *uuid.UUID
		queryName, sqlQuery      *string
		params                   models.Parameters
		latestResultID           *uuid.UUID
		queryCreated, queryUpdAt *time.Time
	)

	err := rows.Scan(
		&w.ID, &w.DashboardID, &w.Text,
		&vizID, &vizType, &vizName, &vizQueryID,
		&queryID, &queryName, &dataSourceID, &sqlQuery, &params,
		&latestResultID, &queryCreated, &queryUpdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan widget: %w", err)
	}

	if vizID != nil {
		w.Visualization = &models.Visualization{
			ID:      *vizID,
			Type:    deref(vizType),
			Name:    deref(vizName),
			QueryID: *vizQueryID,
		}
	}
	if queryID != nil {
		w.Query = &models.Query{
			ID:                  *queryID,
			Name:                deref(queryName),
			DataSourceID:        *dataSourceID,
			SQLQuery:            deref(sqlQuery),
			Parameters:          params,
			LatestQueryResultID: latestResultID,
		}
		if queryCreated != nil {
			w.Query.CreatedAt = *queryCreated
		}
		if queryUpdAt != nil {
			w.Query.UpdatedAt = *queryUpdAt
		}
	}

	return &w, nil
}

// arrangeWidgets lays widgets out in the rows of layout. Widgets missing from
// the layout get a row each at the bottom, in creation order.
func arrangeWidgets(layout models.Layout, widgets []*models.Widget) [][]*models.Widget {
	byID := make(map[uuid.UUID]*models.Widget, len(widgets))
	for _, w := range widgets {
		byID[w.ID] = w
	}

	grid := make([][]*models.Widget, 0, len(layout))
	placed := make(map[uuid.UUID]bool, len(widgets))
	for _, ids := range layout {
		row := make([]*models.Widget, 0, len(ids))
		for _, id := range ids {
			if w, ok := byID[id]; ok && !placed[id] {
				row = append(row, w)
				placed[id] = true
			}
		}
		if len(row) > 0 {
			grid = append(grid, row)
		}
	}

	for _, w := range widgets {
		if !placed[w.ID] {
			grid = append(grid, []*models.Widget{w})
		}
	}

	return grid
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
