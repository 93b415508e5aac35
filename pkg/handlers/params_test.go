package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParsePage(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name     string
		query    string
		wantPage int
		wantOK   bool
	}{
		{name: "missing", query: "", wantPage: 0, wantOK: true},
		{name: "valid", query: "page=3", wantPage: 3, wantOK: true},
		{name: "zero", query: "page=0", wantOK: false},
		{name: "negative", query: "page=-2", wantOK: false},
		{name: "not a number", query: "page=last", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/dashboards?"+tt.query, nil)
			rec := httptest.NewRecorder()

			page, ok := parsePage(rec, req, logger)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPage, page)
			if !tt.wantOK {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, "invalid_page", body["error"])
			}
		})
	}
}

func TestParseTags(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/dashboards?tags=Sales&tags=%20&tags=%23q1&tags=Sales", nil)
	assert.Equal(t, []string{"Sales", "#q1"}, parseTags(req))

	req = httptest.NewRequest(http.MethodGet, "/api/dashboards", nil)
	assert.Nil(t, parseTags(req))
}

func TestParseTags_Toggle(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"click selects only that tag", "tags=Sales&toggle=%23q1", []string{"#q1"}},
		{"click on the selected tag clears", "tags=Sales&toggle=Sales", nil},
		{"shift-click adds", "tags=Sales&toggle=%23q1&shift=true", []string{"Sales", "#q1"}},
		{"shift-click removes", "tags=Sales&tags=%23q1&toggle=Sales&shift=true", []string{"#q1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/dashboards?"+tt.query, nil)
			assert.Equal(t, tt.want, parseTags(req))
		})
	}
}
