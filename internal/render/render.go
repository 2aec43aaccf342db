// Package render draws transcript turns and dashboards as plain text for
// terminal clients.
package render

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/capitalize-ai/bi-copilot/internal/model"
)

const (
	barWidth    = 40
	maxRows     = 50
	loadingText = "Analyzing..."
)

// Turn renders one transcript turn. A user turn is its text. An assistant
// turn is exactly one of loading, error or dashboard. progress is shown
// while the turn is pending.
func Turn(w io.Writer, turn model.Turn, progress string) {
	if turn.Role == model.RoleUser {
		fmt.Fprintf(w, "> %s\n", turn.Content)
		return
	}

	switch {
	case turn.IsPending():
		if progress == "" {
			progress = loadingText
		}
		fmt.Fprintf(w, "… %s\n", progress)
	case turn.Failed():
		fmt.Fprintf(w, "Error: %s\n", turn.Outcome.Error)
	case turn.Succeeded() && turn.Outcome.Result != nil:
		Dashboard(w, &turn.Outcome.Result.DashboardSpec)
	default:
		fmt.Fprintln(w, turn.Content)
	}
}

// Dashboard renders a dashboard's title, insight and charts.
func Dashboard(w io.Writer, spec *model.DashboardSpec) {
	if spec.Title != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", spec.Title, strings.Repeat("=", len([]rune(spec.Title))))
	}
	if spec.Insight != nil && *spec.Insight != "" {
		fmt.Fprintf(w, "%s\n", *spec.Insight)
	}

	if len(spec.Charts) == 0 {
		fmt.Fprintln(w, "(no charts)")
		return
	}

	for i := range spec.Charts {
		fmt.Fprintln(w)
		Chart(w, &spec.Charts[i])
	}
}

// Chart renders a single chart by kind. Unknown kinds render as tables.
func Chart(w io.Writer, c *model.ChartConfig) {
	switch c.Kind() {
	case model.ChartKPI:
		kpi(w, c)
	case model.ChartBar:
		bar(w, c)
	case model.ChartPie:
		pie(w, c)
	case model.ChartLine, model.ChartScatter:
		xy(w, c)
	case model.ChartTable:
		table(w, c)
	default:
		table(w, c)
	}
}

func kpi(w io.Writer, c *model.ChartConfig) {
	if c.Metric == nil {
		table(w, c)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", c.Metric.Label, formatValue(c.Metric.Value))
}

func bar(w io.Writer, c *model.ChartConfig) {
	y := c.YAxis.First()
	if c.XAxis == "" || y == "" {
		table(w, c)
		return
	}

	rows := limitRows(c.Data)
	labels := make([]string, len(rows))
	values := make([]float64, len(rows))
	var maxVal float64
	labelWidth := 0
	for i, row := range rows {
		labels[i] = formatValue(row[c.XAxis])
		values[i], _ = toFloat(row[y])
		maxVal = math.Max(maxVal, math.Abs(values[i]))
		labelWidth = max(labelWidth, len([]rune(labels[i])))
	}

	fmt.Fprintf(w, "%s by %s\n", y, c.XAxis)
	for i := range rows {
		n := 0
		if maxVal > 0 {
			n = int(math.Round(math.Abs(values[i]) / maxVal * barWidth))
		}
		fmt.Fprintf(w, "%-*s | %s %s\n", labelWidth, labels[i], strings.Repeat("█", n), formatValue(rows[i][y]))
	}
	truncated(w, c.Data)
}

func pie(w io.Writer, c *model.ChartConfig) {
	if c.LabelColumn == "" || c.ValueColumn == "" {
		table(w, c)
		return
	}

	var total float64
	for _, row := range c.Data {
		v, _ := toFloat(row[c.ValueColumn])
		total += v
	}

	t := newTable(w, []string{c.LabelColumn, c.ValueColumn, "share"})
	for _, row := range limitRows(c.Data) {
		v, _ := toFloat(row[c.ValueColumn])
		share := "-"
		if total != 0 {
			share = fmt.Sprintf("%.1f%%", v/total*100)
		}
		t.Append([]string{formatValue(row[c.LabelColumn]), formatValue(row[c.ValueColumn]), share})
	}
	t.Render()
	truncated(w, c.Data)
}

func xy(w io.Writer, c *model.ChartConfig) {
	if c.XAxis == "" || len(c.YAxis) == 0 {
		table(w, c)
		return
	}

	columns := append([]string{c.XAxis}, c.YAxis...)
	t := newTable(w, columns)
	for _, row := range limitRows(c.Data) {
		t.Append(cells(row, columns))
	}
	t.Render()
	truncated(w, c.Data)
}

func table(w io.Writer, c *model.ChartConfig) {
	columns := c.Columns
	if len(columns) == 0 {
		columns = inferColumns(c.Data)
	}
	if len(columns) == 0 {
		fmt.Fprintln(w, "(no data)")
		return
	}

	t := newTable(w, columns)
	for _, row := range limitRows(c.Data) {
		t.Append(cells(row, columns))
	}
	t.Render()
	truncated(w, c.Data)
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetBorder(true)
	t.SetHeader(header)
	return t
}

func cells(row map[string]any, columns []string) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i] = formatValue(row[col])
	}
	return out
}

func inferColumns(data []map[string]any) []string {
	if len(data) == 0 {
		return nil
	}
	columns := make([]string, 0, len(data[0]))
	for k := range data[0] {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}

func limitRows(data []map[string]any) []map[string]any {
	if len(data) > maxRows {
		return data[:maxRows]
	}
	return data
}

func truncated(w io.Writer, data []map[string]any) {
	if len(data) > maxRows {
		fmt.Fprintf(w, "(%d of %d rows shown)\n", maxRows, len(data))
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func formatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	case string:
		return n
	default:
		return fmt.Sprint(n)
	}
}
