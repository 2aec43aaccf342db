package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/bi-copilot/internal/model"
)

func salesRows() []map[string]any {
	return []map[string]any{
		{"region": "West", "total_sales": 300.0},
		{"region": "East", "total_sales": 100.0},
	}
}

func render(fn func(*bytes.Buffer)) string {
	var buf bytes.Buffer
	fn(&buf)
	return buf.String()
}

func TestTurnStates(t *testing.T) {
	insight := "West leads."
	result := &model.AnalyzeResult{DashboardSpec: model.DashboardSpec{Title: "Sales by Region", Insight: &insight}}

	tests := []struct {
		name     string
		turn     model.Turn
		progress string
		want     string
		absent   []string
	}{
		{
			name: "user",
			turn: model.Turn{Role: model.RoleUser, Content: "Show sales"},
			want: "> Show sales",
		},
		{
			name:     "pending with progress",
			turn:     model.Turn{Role: model.RoleAssistant, Outcome: &model.Outcome{State: model.OutcomePending}},
			progress: "Generating SQL...",
			want:     "Generating SQL...",
			absent:   []string{"Error"},
		},
		{
			name: "pending without progress",
			turn: model.Turn{Role: model.RoleAssistant, Outcome: &model.Outcome{State: model.OutcomePending}},
			want: loadingText,
		},
		{
			name:   "failed",
			turn:   model.Turn{Role: model.RoleAssistant, Outcome: &model.Outcome{State: model.OutcomeFailed, Error: "Analysis failed"}},
			want:   "Error: Analysis failed",
			absent: []string{"Sales by Region", loadingText},
		},
		{
			name:   "succeeded",
			turn:   model.Turn{Role: model.RoleAssistant, Outcome: &model.Outcome{State: model.OutcomeSucceeded, Result: result}},
			want:   "Sales by Region",
			absent: []string{"Error", loadingText},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := render(func(b *bytes.Buffer) { Turn(b, tt.turn, tt.progress) })
			assert.Contains(t, out, tt.want)
			for _, s := range tt.absent {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestChartKinds(t *testing.T) {
	tests := []struct {
		name  string
		chart model.ChartConfig
		want  []string
	}{
		{
			name:  "kpi",
			chart: model.ChartConfig{Type: model.ChartKPI, Metric: &model.KPIMetric{Label: "Total Revenue", Value: 1234.5}},
			want:  []string{"Total Revenue: 1234.50"},
		},
		{
			name:  "bar",
			chart: model.ChartConfig{Type: model.ChartBar, XAxis: "region", YAxis: model.ColumnNames{"total_sales"}, Data: salesRows()},
			want:  []string{"total_sales by region", "West", strings.Repeat("█", barWidth) + " 300"},
		},
		{
			name:  "pie",
			chart: model.ChartConfig{Type: model.ChartPie, LabelColumn: "region", ValueColumn: "total_sales", Data: salesRows()},
			want:  []string{"75.0%", "25.0%"},
		},
		{
			name:  "line",
			chart: model.ChartConfig{Type: model.ChartLine, XAxis: "region", YAxis: model.ColumnNames{"total_sales"}, Data: salesRows()},
			want:  []string{"region", "total_sales", "300"},
		},
		{
			name:  "table",
			chart: model.ChartConfig{Type: model.ChartTable, Columns: []string{"region", "total_sales"}, Data: salesRows()},
			want:  []string{"region", "East", "100"},
		},
		{
			name:  "unknown kind falls back to table",
			chart: model.ChartConfig{Type: "heatmap", Data: salesRows()},
			want:  []string{"region", "total_sales", "West"},
		},
		{
			name:  "kpi without metric falls back to table",
			chart: model.ChartConfig{Type: model.ChartKPI, Data: []map[string]any{{"total": 7.0}}},
			want:  []string{"total", "7"},
		},
		{
			name:  "empty table",
			chart: model.ChartConfig{Type: model.ChartTable},
			want:  []string{"(no data)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := render(func(b *bytes.Buffer) { Chart(b, &tt.chart) })
			for _, s := range tt.want {
				assert.Contains(t, out, s)
			}
		})
	}
}

func TestDashboardWithoutCharts(t *testing.T) {
	out := render(func(b *bytes.Buffer) { Dashboard(b, &model.DashboardSpec{Title: "Empty"}) })
	assert.Contains(t, out, "Empty")
	assert.Contains(t, out, "(no charts)")
}

func TestTableTruncation(t *testing.T) {
	rows := make([]map[string]any, maxRows+5)
	for i := range rows {
		rows[i] = map[string]any{"n": float64(i)}
	}
	out := render(func(b *bytes.Buffer) { Chart(b, &model.ChartConfig{Type: model.ChartTable, Data: rows}) })
	assert.Contains(t, out, "(50 of 55 rows shown)")
}
