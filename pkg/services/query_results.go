package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/cache"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/repositories"
)

// AnyAge accepts a cached result of any age.
const AnyAge time.Duration = -1

// MaxAgeFor returns the max age a render pass asks for: zero when forced,
// so cached results are bypassed.
func MaxAgeFor(force bool) time.Duration {
	if force {
		return 0
	}
	return AnyAge
}

// ResultHandle is the pending result of one query.
type ResultHandle struct {
	QueryID uuid.UUID
	done    chan struct{}
	data    *models.QueryResultData
	err     error
}

// Wait blocks until the result resolves or ctx is done.
func (h *ResultHandle) Wait(ctx context.Context) (*models.QueryResultData, error) {
	select {
	case <-h.done:
		return h.data, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewResolvedHandle returns a handle that has already resolved.
func NewResolvedHandle(queryID uuid.UUID, data *models.QueryResultData, err error) *ResultHandle {
	h := &ResultHandle{QueryID: queryID, done: make(chan struct{}), data: data, err: err}
	close(h.done)
	return h
}

// QueryResultService resolves the stored results of queries.
type QueryResultService interface {
	// GetQueryResult starts resolving the result of query for its current
	// parameter values and returns at once. It returns false when the query
	// has no result to resolve. maxAge 0 bypasses caches; AnyAge accepts
	// any cached result. Each handle hands out its own copy of the data.
	GetQueryResult(ctx context.Context, query *models.Query, maxAge time.Duration) (*ResultHandle, bool)
}

type queryResultService struct {
	repo   repositories.QueryResultRepository
	redis  *redis.Client
	ttl    time.Duration
	flight *cache.Flight[*models.QueryResult]
	clock  clock.Clock
	logger *zap.Logger
}

// NewQueryResultService creates a QueryResultService. redisClient may be nil,
// in which case only the in-process cache is used. ttl bounds how long a
// result stays in Redis.
func NewQueryResultService(repo repositories.QueryResultRepository, redisClient *redis.Client, ttl time.Duration, clk clock.Clock, logger *zap.Logger) QueryResultService {
	if clk == nil {
		clk = clock.New()
	}
	return &queryResultService{
		repo:   repo,
		redis:  redisClient,
		ttl:    ttl,
		flight: cache.NewFlight[*models.QueryResult](time.Minute, clk),
		clock:  clk,
		logger: logger.Named("query-results"),
	}
}

var _ QueryResultService = (*queryResultService)(nil)

func (s *queryResultService) GetQueryResult(ctx context.Context, query *models.Query, maxAge time.Duration) (*ResultHandle, bool) {
	if query == nil || query.LatestQueryResultID == nil {
		return nil, false
	}

	// the hash reads parameter values, so take it before returning
	queryID := query.ID
	hash := query.ResultHash()

	h := &ResultHandle{QueryID: queryID, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		res, err := s.resolve(ctx, queryID, hash, maxAge)
		if err != nil {
			h.err = err
			return
		}
		h.data = res.Data.Clone()
	}()

	return h, true
}

func (s *queryResultService) resolve(ctx context.Context, queryID uuid.UUID, hash string, maxAge time.Duration) (*models.QueryResult, error) {
	key := resultCacheKey(queryID, hash)

	if maxAge == 0 {
		s.flight.Forget(key)
	} else {
		if res, ok := s.flight.Peek(key); ok {
			if s.fresh(res, maxAge) {
				return res, nil
			}
			s.flight.Forget(key)
		}
		if res, ok := s.fromRedis(ctx, key); ok && s.fresh(res, maxAge) {
			return res, nil
		}
	}

	res, err := s.flight.Get(ctx, key, func(ctx context.Context) (*models.QueryResult, error) {
		res, err := s.repo.GetLatest(ctx, queryID, hash)
		if err != nil {
			return nil, err
		}
		s.toRedis(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve result of query %s: %w", queryID, err)
	}

	if maxAge > 0 && !s.fresh(res, maxAge) {
		s.logger.Debug("Newest stored result is older than requested",
			zap.String("query_id", queryID.String()),
			zap.Duration("max_age", maxAge),
			zap.Time("retrieved_at", res.RetrievedAt))
	}
	return res, nil
}

func (s *queryResultService) fresh(res *models.QueryResult, maxAge time.Duration) bool {
	if maxAge < 0 {
		return true
	}
	return s.clock.Since(res.RetrievedAt) <= maxAge
}

func (s *queryResultService) fromRedis(ctx context.Context, key string) (*models.QueryResult, bool) {
	if s.redis == nil {
		return nil, false
	}

	raw, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("Failed to read cached query result", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var res models.QueryResult
	if err := json.Unmarshal(raw, &res); err != nil {
		s.logger.Warn("Discarding unreadable cached query result", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &res, true
}

func (s *queryResultService) toRedis(ctx context.Context, key string, res *models.QueryResult) {
	if s.redis == nil {
		return
	}

	raw, err := json.Marshal(res)
	if err != nil {
		s.logger.Warn("Failed to encode query result for cache", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("Failed to cache query result", zap.String("key", key), zap.Error(err))
	}
}

func resultCacheKey(queryID uuid.UUID, hash string) string {
	return "dashboards:query_result:" + queryID.String() + ":" + hash
}
