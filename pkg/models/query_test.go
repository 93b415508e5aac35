package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_ParameterDefs_AddsUndefinedPlaceholders(t *testing.T) {
	q := &Query{
		SQLQuery: "SELECT * FROM sales WHERE region = '{{region}}' AND day >= '{{ start }}'",
		Parameters: Parameters{
			{Name: "region", Title: "Region", Type: ParameterTypeEnum, Global: true, Value: "east"},
		},
	}

	defs := q.ParameterDefs()
	require.Len(t, defs, 2)
	assert.Equal(t, "region", defs[0].Name)
	assert.True(t, defs[0].Global)
	assert.Equal(t, "start", defs[1].Name)
	assert.Equal(t, ParameterTypeText, defs[1].Type)
	assert.False(t, defs[1].Global)
}

func TestQuery_ParameterDefs_StablePointers(t *testing.T) {
	q := &Query{SQLQuery: "SELECT {{a}}, {{b}}"}

	first := q.ParameterDefs()
	second := q.ParameterDefs()

	require.Len(t, second, 2)
	assert.Same(t, first[0], second[0])
	assert.Same(t, first[1], second[1])
}

func TestQuery_ResultHash_TracksParameterValues(t *testing.T) {
	q := &Query{
		SQLQuery:   "SELECT * FROM t WHERE x = {{x}}",
		Parameters: Parameters{{Name: "x", Value: 1}},
	}

	before := q.ResultHash()
	assert.Equal(t, before, q.ResultHash())

	q.Parameters[0].Value = 2
	assert.NotEqual(t, before, q.ResultHash())
}
