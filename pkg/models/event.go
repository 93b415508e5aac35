package models

import (
	"time"

	"github.com/google/uuid"
)

// Event actions recorded for dashboards.
const (
	EventActionView            = "view"
	EventActionArchive         = "archive"
	EventActionTogglePublished = "toggle_published"

	EventObjectDashboard = "dashboard"
)

// Event is one analytics record.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Action     string    `json:"action"`
	ObjectType string    `json:"object_type"`
	ObjectID   string    `json:"object_id"`
	CreatedAt  time.Time `json:"created_at"`
}
