package model

import (
	"encoding/json"
	"fmt"
)

// AnalyzeResult is the backend's answer to one analyze call.
type AnalyzeResult struct {
	Intent        string         `json:"intent,omitempty"`
	Plan          map[string]any `json:"plan,omitempty"`
	SQL           string         `json:"sql,omitempty"`
	Data          *QueryData     `json:"data,omitempty"`
	DashboardSpec DashboardSpec  `json:"dashboard_spec"`
}

// QueryData is the tabular result of the generated SQL.
type QueryData struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// DashboardSpec is the declarative description of one analysis result.
type DashboardSpec struct {
	Title    string             `json:"title"`
	Charts   []ChartConfig      `json:"charts"`
	Insight  *string            `json:"insight,omitempty"`
	Metadata *DashboardMetadata `json:"metadata,omitempty"`
}

// DashboardMetadata describes how the dashboard was built.
type DashboardMetadata struct {
	RowCount  int            `json:"row_count"`
	ChartType string         `json:"chart_type"`
	DataShape map[string]any `json:"data_shape,omitempty"`
}

// ChartKind tags a ChartConfig.
type ChartKind string

const (
	ChartKPI     ChartKind = "kpi"
	ChartLine    ChartKind = "line"
	ChartBar     ChartKind = "bar"
	ChartPie     ChartKind = "pie"
	ChartScatter ChartKind = "scatter"
	ChartTable   ChartKind = "table"
)

// ChartKinds lists every recognized kind.
var ChartKinds = []ChartKind{ChartKPI, ChartLine, ChartBar, ChartPie, ChartScatter, ChartTable}

// Valid reports whether k is one of the recognized kinds.
func (k ChartKind) Valid() bool {
	for _, known := range ChartKinds {
		if k == known {
			return true
		}
	}
	return false
}

// KPIMetric is the single value shown by a kpi chart.
type KPIMetric struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// ChartConfig is one chart of a dashboard. Which fields are meaningful
// depends on Type; unrecognized types are rendered as tables.
type ChartConfig struct {
	Type    ChartKind        `json:"type"`
	Data    []map[string]any `json:"data,omitempty"`
	Columns []string         `json:"columns,omitempty"`

	// line, bar, scatter
	XAxis string      `json:"xAxis,omitempty"`
	YAxis ColumnNames `json:"yAxis,omitempty"`

	// pie
	LabelColumn string `json:"labelColumn,omitempty"`
	ValueColumn string `json:"valueColumn,omitempty"`

	// kpi
	Metric *KPIMetric `json:"metric,omitempty"`
}

// Kind returns the chart's kind, falling back to ChartTable for unknown tags.
func (c *ChartConfig) Kind() ChartKind {
	if c.Type.Valid() {
		return c.Type
	}
	return ChartTable
}

// ColumnNames is a list of column names that also accepts a bare string on
// the wire. The backend sends a string for bar and scatter y axes and a list
// for line charts.
type ColumnNames []string

// UnmarshalJSON implements json.Unmarshaler.
func (c *ColumnNames) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*c = ColumnNames{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("column names must be a string or a list of strings: %w", err)
	}
	*c = many
	return nil
}

// First returns the first column name or "".
func (c ColumnNames) First() string {
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// SchemaInfo describes the tables the backend can answer questions about.
type SchemaInfo struct {
	Tables       []map[string]any `json:"tables"`
	DatabaseHash string           `json:"database_hash"`
	TableCount   int              `json:"table_count"`
}
