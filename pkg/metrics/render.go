package metrics

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/jedib0t/go-pretty/v6/table"
)

const msgNoReportData = "No metrics recorded"

const (
	chartWidth  = "100%"
	chartHeight = "420px"
	lineWidth   = 2
	percent     = 100
)

// RenderText writes a human-readable report table. history may be empty.
func RenderText(w io.Writer, sessionID string, report Report, history []Snapshot) error {
	if report.IsEmpty() {
		_, err := fmt.Fprintln(w, msgNoReportData)

		return err
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle("Session " + sessionID)
	tbl.Style().Options.SeparateRows = false

	tbl.AppendRows([]table.Row{
		{"Status", colorStatus(report.Status)},
		{"Duration", (time.Duration(report.DurationSeconds) * time.Second).String()},
		{"Total tokens", humanize.Comma(report.TotalTokens)},
		{"Lines of code", humanize.Comma(int64(report.FinalLOC))},
		{"Coverage", strconv.FormatFloat(report.FinalCoverage*percent, 'f', 1, 64) + "%"},
		{"Snapshots", humanize.Comma(int64(report.Checkpoints))},
		{"Errors", humanize.Comma(int64(report.Errors))},
	})

	if len(history) > 0 {
		first := history[0].Timestamp
		last := history[len(history)-1]

		tbl.AppendRow(table.Row{"Started", humanize.RelTime(first, last.Timestamp, "before end", "after end")})
		tbl.AppendRow(table.Row{"Final phase", last.Metrics.Phase})
		tbl.AppendRow(table.Row{"Tokens/min", strconv.FormatFloat(last.Metrics.TokensPerMinute, 'f', 1, 64)})
	}

	tbl.Render()

	return nil
}

func colorStatus(status string) string {
	switch status {
	case StatusCompleted:
		return color.New(color.FgGreen, color.Bold).Sprint(status)
	case StatusFailed:
		return color.New(color.FgRed, color.Bold).Sprint(status)
	default:
		return color.New(color.FgYellow).Sprint(status)
	}
}

// RenderHTML writes an interactive page charting tokens, lines of code and
// errors over session time.
func RenderHTML(w io.Writer, sessionID string, history []Snapshot) error {
	page := components.NewPage()
	page.PageTitle = "marathon session " + sessionID

	labels := make([]string, len(history))
	tokens := make([]opts.LineData, len(history))
	loc := make([]opts.LineData, len(history))
	errs := make([]opts.LineData, len(history))

	for i, snap := range history {
		labels[i] = (time.Duration(snap.Metrics.ElapsedSeconds) * time.Second).String()
		tokens[i] = opts.LineData{Value: snap.Metrics.TotalTokens}
		loc[i] = opts.LineData{Value: snap.Metrics.LinesOfCode}
		errs[i] = opts.LineData{Value: snap.Metrics.ErrorsEncountered}
	}

	page.AddCharts(
		lineChart("Tokens", "tokens", labels, tokens),
		lineChart("Lines of code", "lines", labels, loc),
		lineChart("Errors", "errors", labels, errs),
	)

	err := page.Render(w)
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	return nil
}

func lineChart(title, yName string, labels []string, data []opts.LineData) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "elapsed"}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
	)
	line.SetXAxis(labels)
	line.AddSeries(title, data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		charts.WithLineStyleOpts(opts.LineStyle{Width: lineWidth}),
	)

	return line
}
