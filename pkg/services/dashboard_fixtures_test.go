package services

import (
	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
)

var (
	salesDashboardID = uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
	queryOneID       = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	queryTwoID       = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")
	queryThreeID     = uuid.MustParse("00000000-0000-0000-0000-0000000000a3")
)

func chartWidget(query *models.Query) *models.Widget {
	return &models.Widget{
		ID:            uuid.New(),
		Visualization: &models.Visualization{ID: uuid.New(), Type: "CHART", QueryID: query.ID},
		Query:         query,
	}
}

// newSalesDashboard builds a fresh dashboard on every call:
//
//	row 0: chart(q1: region=east global, limit local), chart(q2: region=west global, date global)
//	row 1: text box, query without visualization (q3: region=north global)
func newSalesDashboard() *models.Dashboard {
	resultID := uuid.New()
	q1 := &models.Query{
		ID:       queryOneID,
		SQLQuery: "SELECT * FROM sales WHERE region = '{{region}}' LIMIT {{limit}}",
		Parameters: models.Parameters{
			{Name: "region", Title: "Region", Type: models.ParameterTypeText, Global: true, Value: "east"},
			{Name: "limit", Title: "Limit", Type: models.ParameterTypeNumber, Value: 10.0},
		},
		LatestQueryResultID: &resultID,
	}
	q2 := &models.Query{
		ID:       queryTwoID,
		SQLQuery: "SELECT * FROM orders WHERE region = '{{region}}' AND day = '{{date}}'",
		Parameters: models.Parameters{
			{Name: "region", Title: "Region", Type: models.ParameterTypeText, Global: true, Value: "west"},
			{Name: "date", Title: "Date", Type: models.ParameterTypeDate, Global: true, Value: "2024-01-01"},
		},
		LatestQueryResultID: &resultID,
	}
	q3 := &models.Query{
		ID:       queryThreeID,
		SQLQuery: "SELECT count(*) FROM returns WHERE region = '{{region}}'",
		Parameters: models.Parameters{
			{Name: "region", Title: "Region", Type: models.ParameterTypeText, Global: true, Value: "north"},
		},
	}

	return &models.Dashboard{
		ID:      salesDashboardID,
		Slug:    "sales",
		Name:    "Sales: #q1 Weekly Report",
		Version: 3,
		IsDraft: true,
		Widgets: [][]*models.Widget{
			{chartWidget(q1), chartWidget(q2)},
			{
				{ID: uuid.New(), Text: "## Notes"},
				{ID: uuid.New(), Query: q3},
			},
		},
	}
}

func regionResult(values ...string) *models.QueryResultData {
	data := &models.QueryResultData{
		Columns: []models.ResultColumn{{Name: "region::filter"}, {Name: "amount"}},
	}
	for _, v := range values {
		data.Rows = append(data.Rows, map[string]any{"region::filter": v, "amount": 1.0})
	}
	return data
}

func dateResult(values ...string) *models.QueryResultData {
	data := &models.QueryResultData{
		Columns: []models.ResultColumn{{Name: "date::filter"}, {Name: "region::filter"}},
	}
	for _, v := range values {
		data.Rows = append(data.Rows, map[string]any{"date::filter": v, "region::filter": "west"})
	}
	return data
}
