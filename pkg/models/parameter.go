package models

// Parameter types understood by the query editor.
const (
	ParameterTypeText     = "text"
	ParameterTypeNumber   = "number"
	ParameterTypeEnum     = "enum"
	ParameterTypeDate     = "date"
	ParameterTypeDateTime = "datetime-local"
)

// Parameter is a query-local parameter descriptor. Identity is Name within
// one query. Global parameters are linked across every widget on a dashboard.
type Parameter struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Global      bool   `json:"global"`
	Value       any    `json:"value"`
	EnumOptions string `json:"enumOptions,omitempty"`
}

// Clone returns a copy that shares no mutable state with p.
func (p *Parameter) Clone() Parameter {
	return Parameter{
		Name:        p.Name,
		Title:       p.Title,
		Type:        p.Type,
		Global:      p.Global,
		Value:       CloneValue(p.Value),
		EnumOptions: p.EnumOptions,
	}
}

// GlobalParameter is the dashboard-scoped value of every local parameter
// sharing its name. Locals alias the descriptors owned by the queries.
type GlobalParameter struct {
	Parameter
	Locals []*Parameter `json:"-"`
}

// LocalCount is exposed so clients can show how many widgets a global drives.
func (g *GlobalParameter) LocalCount() int {
	return len(g.Locals)
}

// CloneValue deep copies slice and map values so the copy shares no mutable state.
func CloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = CloneValue(t[i])
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CloneValue(val)
		}
		return out
	default:
		return v
	}
}
