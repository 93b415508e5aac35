package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/database"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
)

// EventRepository persists analytics events.
type EventRepository interface {
	// Create inserts a new event.
	Create(ctx context.Context, event *models.Event) error
}

type eventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *database.DB) EventRepository {
	return &eventRepository{db: db}
}

var _ EventRepository = (*eventRepository)(nil)

func (r *eventRepository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = time.Now()

	query := `
		INSERT INTO events (id, action, object_type, object_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Conn(ctx).Exec(ctx, query,
		event.ID, event.Action, event.ObjectType, event.ObjectID, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}
