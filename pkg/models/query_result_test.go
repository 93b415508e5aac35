package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryResultData_Filters(t *testing.T) {
	data := &QueryResultData{
		Columns: []ResultColumn{
			{Name: "region::filter"},
			{Name: "tags::multi-filter"},
			{Name: "amount"},
		},
		Rows: []map[string]any{
			{"region::filter": "east", "tags::multi-filter": "a", "amount": 1.0},
			{"region::filter": "west", "tags::multi-filter": "b", "amount": 2.0},
			{"region::filter": "east", "tags::multi-filter": "a", "amount": 3.0},
		},
	}

	filters := data.Filters()
	require.Len(t, filters, 2)

	region := filters[0]
	assert.Equal(t, "region::filter", region.Name)
	assert.Equal(t, "Region", region.FriendlyName)
	assert.Equal(t, []any{"east", "west"}, region.Values)
	assert.Equal(t, "east", region.Current)
	assert.False(t, region.Multiple)

	tags := filters[1]
	assert.True(t, tags.Multiple)
	assert.Equal(t, []any{"a"}, tags.Current)
}

func TestQueryResultData_FiltersMemoized(t *testing.T) {
	data := &QueryResultData{
		Columns: []ResultColumn{{Name: "date__filter"}},
		Rows:    []map[string]any{{"date__filter": "2024-01-01"}},
	}

	first := data.Filters()
	first[0].Current = "2024-02-01"

	second := data.Filters()
	require.Len(t, second, 1)
	assert.Same(t, first[0], second[0])
	assert.Equal(t, "2024-02-01", second[0].Current)
}

func TestQueryResultData_CloneHasOwnFilters(t *testing.T) {
	data := &QueryResultData{
		Columns: []ResultColumn{{Name: "region::filter"}},
		Rows:    []map[string]any{{"region::filter": "east"}},
	}
	data.Filters()[0].Current = "west"

	clone := data.Clone()
	assert.Equal(t, "east", clone.Filters()[0].Current)
	assert.Equal(t, "west", data.Filters()[0].Current)
}

func TestQueryResultData_NoFilterColumns(t *testing.T) {
	data := &QueryResultData{Columns: []ResultColumn{{Name: "amount"}, {Name: "name::text"}}}
	assert.Empty(t, data.Filters())
}
