// Package events carries cross-page notifications and analytics records.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadDashboards tells dashboard list subscribers to refetch.
const ReloadDashboards = "reloadDashboards"

// Notification is one broadcast. It has no payload beyond its name.
type Notification struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// Bus is an explicit publish/subscribe channel for named notifications.
//
// Publish never blocks: every subscriber channel holds one pending
// notification, and a subscriber that has not drained it yet simply misses
// the duplicate. Payload-free notifications make that lossless.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]chan Notification
	nextID uint64
	logger *zap.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]map[uint64]chan Notification),
		logger: logger.Named("events"),
	}
}

// Subscribe registers for notifications named name. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(name string) (<-chan Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Notification, 1)
	if b.subs[name] == nil {
		b.subs[name] = make(map[uint64]chan Notification)
	}
	b.subs[name][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[name], id)
			if len(b.subs[name]) == 0 {
				delete(b.subs, name)
			}
			close(ch)
		})
	}
}

// Publish broadcasts name to every current subscriber.
func (b *Bus) Publish(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := Notification{Name: name, At: time.Now()}
	delivered := 0
	for _, ch := range b.subs[name] {
		select {
		case ch <- n:
			delivered++
		default:
		}
	}

	b.logger.Debug("Published notification",
		zap.String("name", name),
		zap.Int("subscribers", len(b.subs[name])),
		zap.Int("delivered", delivered))
}

// Subscribers returns the number of live subscriptions for name.
func (b *Bus) Subscribers(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}
