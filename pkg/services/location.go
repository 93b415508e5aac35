package services

import (
	"net/url"
	"sync"
)

// Location is the query string of a dashboard page.
type Location struct {
	mu     sync.Mutex
	values url.Values
}

// NewLocation copies initial into a new Location.
func NewLocation(initial url.Values) *Location {
	values := make(url.Values, len(initial))
	for k, v := range initial {
		values[k] = append([]string(nil), v...)
	}
	return &Location{values: values}
}

// Values returns a copy of the current query string.
func (l *Location) Values() url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(url.Values, len(l.values))
	for k, v := range l.values {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Has reports whether key is present.
func (l *Location) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.values.Has(key)
}

// Set replaces key with value. A nil value removes the key.
func (l *Location) Set(key string, value *string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if value == nil {
		l.values.Del(key)
		return
	}
	l.values.Set(key, *value)
}

// SetAll replaces key with every value in order. No values removes the key.
func (l *Location) SetAll(key string, values []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(values) == 0 {
		l.values.Del(key)
		return
	}
	l.values[key] = append([]string(nil), values...)
}

// Encode renders the query string in key order.
func (l *Location) Encode() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.values.Encode()
}
