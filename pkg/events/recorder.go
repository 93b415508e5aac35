package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
)

const recordTimeout = 5 * time.Second

// Recorder records analytics events. Recording is fire-and-forget: callers
// never wait for it and never see its failures.
type Recorder interface {
	Record(ctx context.Context, action, objectType, objectID string)
}

// EventWriter persists one event.
type EventWriter interface {
	Create(ctx context.Context, event *models.Event) error
}

// AsyncRecorder writes events in the background and logs failures.
type AsyncRecorder struct {
	writer EventWriter
	logger *zap.Logger
	wg     sync.WaitGroup
}

var _ Recorder = (*AsyncRecorder)(nil)

// NewRecorder creates an AsyncRecorder backed by writer.
func NewRecorder(writer EventWriter, logger *zap.Logger) *AsyncRecorder {
	return &AsyncRecorder{
		writer: writer,
		logger: logger.Named("event-recorder"),
	}
}

// Record persists the event asynchronously. The write is detached from ctx
// entirely: a request-scoped connection carried by ctx is released before
// the write runs.
func (r *AsyncRecorder) Record(_ context.Context, action, objectType, objectID string) {
	event := &models.Event{
		Action:     action,
		ObjectType: objectType,
		ObjectID:   objectID,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		writeCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if err := r.writer.Create(writeCtx, event); err != nil {
			r.logger.Warn("Failed to record event",
				zap.String("action", action),
				zap.String("object_type", objectType),
				zap.String("object_id", objectID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every pending write has finished.
func (r *AsyncRecorder) Wait() {
	r.wg.Wait()
}
