package models

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	sqlparams "github.com/ekaya-inc/ekaya-dashboards/pkg/sql"
)

// Parameters is the JSONB-backed list of a query's parameter descriptors.
type Parameters []*Parameter

// Value implements driver.Valuer for database serialization.
func (p Parameters) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for database deserialization.
func (p *Parameters) Scan(value interface{}) error {
	if value == nil {
		*p = Parameters{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Parameters", value)
	}

	return json.Unmarshal(bytes, p)
}

// Query represents a saved SQL query with {{name}} parameter placeholders.
type Query struct {
	ID                  uuid.UUID  `json:"id"`
	Name                string     `json:"name"`
	DataSourceID        uuid.UUID  `json:"data_source_id"`
	SQLQuery            string     `json:"sql_query"`
	Parameters          Parameters `json:"parameters"`
	LatestQueryResultID *uuid.UUID `json:"latest_query_data_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ParameterDefs returns the query's parameter descriptors in definition order.
// Placeholders used in SQLQuery without a stored definition get a text
// descriptor appended, so repeated calls return the same pointers.
func (q *Query) ParameterDefs() []*Parameter {
	defined := make(map[string]bool, len(q.Parameters))
	for _, p := range q.Parameters {
		defined[p.Name] = true
	}

	for _, name := range sqlparams.ExtractParameters(q.SQLQuery) {
		if defined[name] {
			continue
		}
		defined[name] = true
		q.Parameters = append(q.Parameters, &Parameter{
			Name:  name,
			Title: name,
			Type:  ParameterTypeText,
		})
	}

	return q.Parameters
}

// ParameterValues returns name → value for every descriptor, used as the
// cache identity of a result.
func (q *Query) ParameterValues() map[string]any {
	values := make(map[string]any, len(q.Parameters))
	for _, p := range q.ParameterDefs() {
		values[p.Name] = p.Value
	}
	return values
}

// ResultHash identifies a result of this query text with the current
// parameter values. Map keys marshal in sorted order, so equal values hash
// equally.
func (q *Query) ResultHash() string {
	h := sha256.New()
	h.Write([]byte(q.SQLQuery))
	h.Write([]byte{0})
	values, err := json.Marshal(q.ParameterValues())
	if err != nil {
		values = []byte(fmt.Sprint(q.ParameterValues()))
	}
	h.Write(values)
	return hex.EncodeToString(h.Sum(nil))
}
