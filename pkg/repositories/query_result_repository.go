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

// QueryResultRepository provides data access for stored query results.
type QueryResultRepository interface {
	// Create stores a result and marks it as the query's latest.
	Create(ctx context.Context, result *models.QueryResult) error
	// GetLatest returns the newest result of queryID computed for queryHash.
	GetLatest(ctx context.Context, queryID uuid.UUID, queryHash string) (*models.QueryResult, error)
}

type queryResultRepository struct {
	db *database.DB
}

// NewQueryResultRepository creates a new QueryResultRepository.
func NewQueryResultRepository(db *database.DB) QueryResultRepository {
	return &queryResultRepository{db: db}
}

var _ QueryResultRepository = (*queryResultRepository)(nil)

func (r *queryResultRepository) Create(ctx context.Context, result *models.QueryResult) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	if result.RetrievedAt.IsZero() {
		result.RetrievedAt = time.Now()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO query_results (id, query_id, query_hash, data, runtime, retrieved_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		result.ID, result.QueryID, result.QueryHash, result.Data, result.Runtime, result.RetrievedAt)
	if err != nil {
		return fmt.Errorf("failed to create query result: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE queries SET latest_query_result_id = $2, updated_at = now() WHERE id = $1`,
		result.QueryID, result.ID)
	if err != nil {
		return fmt.Errorf("failed to update latest query result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit query result: %w", err)
	}
	return nil
}

func (r *queryResultRepository) GetLatest(ctx context.Context, queryID uuid.UUID, queryHash string) (*models.QueryResult, error) {
	query := `
		SELECT id, query_id, query_hash, data, runtime, retrieved_at
		FROM query_results
		WHERE query_id = $1 AND query_hash = $2
		ORDER BY retrieved_at DESC
		LIMIT 1`

	var res models.QueryResult
	res.Data = &models.QueryResultData{}
	err := r.db.Conn(ctx).QueryRow(ctx, query, queryID, queryHash).Scan(
		&res.ID, &res.QueryID, &res.QueryHash, res.Data, &res.Runtime, &res.RetrievedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get query result: %w", err)
	}

	return &res, nil
}
