package services

import (
	"fmt"
	"net/url"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
)

// ComputeFilters unions same-named filters of the rendered query results.
//
// results are in widget order. A filter takes part only when the location
// carries its name or the dashboard has filters enabled; a location value
// overrides the origin filter's Current first. The first filter seen for a
// name seeds the merged filter, including its Current.
//
// TODO: merge the values of origin filters instead of keeping the first one,
// once the product decides how conflicting defaults should combine.
func ComputeFilters(dashboard *models.Dashboard, results []*models.QueryResultData, location url.Values) []*models.MergedFilter {
	merged := make([]*models.MergedFilter, 0)
	byName := make(map[string]*models.MergedFilter)

	for _, result := range results {
		if result == nil {
			continue
		}
		for _, filter := range result.Filters() {
			fromLocation := location.Has(filter.Name)
			if !fromLocation && !dashboard.DashboardFiltersEnabled {
				continue
			}

			if fromLocation {
				filter.Current = locationValue(filter, location[filter.Name])
			}

			m, ok := byName[filter.Name]
			if !ok {
				m = &models.MergedFilter{
					QueryFilter:   *filter,
					OriginFilters: make([]*models.QueryFilter, 0, 1),
				}
				byName[filter.Name] = m
				merged = append(merged, m)
			}
			m.OriginFilters = append(m.OriginFilters, filter)
		}
	}

	return merged
}

// PropagateFilter copies the merged filter's Current to each origin filter.
func PropagateFilter(filter *models.MergedFilter) {
	for _, origin := range filter.OriginFilters {
		origin.Current = models.CloneValue(filter.Current)
	}
}

// findFilter returns the merged filter named name, or nil.
func findFilter(filters []*models.MergedFilter, name string) *models.MergedFilter {
	for _, f := range filters {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func locationValue(filter *models.QueryFilter, values []string) any {
	if filter.Multiple {
		out := make([]any, len(values))
		for i, v := range values {
			out[i] = v
		}
		return out
	}
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// locationStrings renders a filter value for the query string.
func locationStrings(current any) []string {
	switch v := current.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return []string{fmt.Sprint(v)}
	}
}
