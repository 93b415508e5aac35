package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueryResult is a stored execution result of a query.
type QueryResult struct {
	ID          uuid.UUID        `json:"id"`
	QueryID     uuid.UUID        `json:"query_id"`
	QueryHash   string           `json:"query_hash"`
	Data        *QueryResultData `json:"data"`
	Runtime     float64          `json:"runtime"`
	RetrievedAt time.Time        `json:"retrieved_at"`
}

// ResultColumn describes one column of a result set.
type ResultColumn struct {
	Name         string `json:"name"`
	FriendlyName string `json:"friendly_name,omitempty"`
	Type         string `json:"type,omitempty"`
}

// QueryResultData holds the columns and rows of a result. Filters are derived
// lazily and memoized so repeated calls hand back the same filter pointers.
type QueryResultData struct {
	Columns []ResultColumn   `json:"columns"`
	Rows    []map[string]any `json:"rows"`

	filters []*QueryFilter
}

// Value implements driver.Valuer for JSONB serialization.
func (d *QueryResultData) Value() (driver.Value, error) {
	if d == nil {
		return []byte(`{"columns":[],"rows":[]}`), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSONB deserialization.
func (d *QueryResultData) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into QueryResultData", value)
	}

	d.filters = nil
	return json.Unmarshal(bytes, d)
}

// Clone returns a copy with its own filter state. Rows are shared and must be
// treated as read-only.
func (d *QueryResultData) Clone() *QueryResultData {
	if d == nil {
		return nil
	}
	return &QueryResultData{
		Columns: append([]ResultColumn(nil), d.Columns...),
		Rows:    append([]map[string]any(nil), d.Rows...),
	}
}

// Filters returns the filters declared by column names ending in ::filter or
// ::multi-filter (__ is accepted as a separator too). Values are distinct in
// row order and Current starts at the first row's value.
func (d *QueryResultData) Filters() []*QueryFilter {
	if d.filters != nil {
		return d.filters
	}

	filters := make([]*QueryFilter, 0)
	for _, col := range d.Columns {
		kind, ok := filterKind(col.Name)
		if !ok {
			continue
		}
		filters = append(filters, &QueryFilter{
			Name:         col.Name,
			FriendlyName: friendlyColumnName(col.Name),
			Column:       col.Name,
			Values:       []any{},
			Multiple:     kind == "multi-filter" || kind == "multiFilter",
		})
	}

	for i, row := range d.Rows {
		for _, f := range filters {
			v := row[f.Name]
			if i == 0 {
				if f.Multiple {
					f.Current = []any{v}
				} else {
					f.Current = v
				}
			}
			if !containsValue(f.Values, v) {
				f.Values = append(f.Values, v)
			}
		}
	}

	d.filters = filters
	return filters
}

func filterKind(column string) (string, bool) {
	var kind string
	if parts := strings.SplitN(column, "::", 2); len(parts) == 2 {
		kind = parts[1]
	} else if parts := strings.SplitN(column, "__", 2); len(parts) == 2 {
		kind = parts[1]
	}
	switch kind {
	case "filter", "multi-filter", "multiFilter":
		return kind, true
	}
	return "", false
}

func friendlyColumnName(column string) string {
	name := column
	if i := strings.Index(name, "::"); i >= 0 {
		name = name[:i]
	} else if i := strings.Index(name, "__"); i >= 0 {
		name = name[:i]
	}
	name = strings.ReplaceAll(name, "_", " ")
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func containsValue(values []any, v any) bool {
	for _, existing := range values {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}
