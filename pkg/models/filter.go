package models

// QueryFilter is a filter derived from one query result.
type QueryFilter struct {
	Name         string `json:"name"`
	FriendlyName string `json:"friendlyName"`
	Column       string `json:"column"`
	Values       []any  `json:"values"`
	Current      any    `json:"current"`
	Multiple     bool   `json:"multiple"`
}

// MergedFilter unions same-named filters across all rendered results.
// The embedded QueryFilter is a shallow copy of the first origin.
type MergedFilter struct {
	QueryFilter
	OriginFilters []*QueryFilter `json:"-"`
}
