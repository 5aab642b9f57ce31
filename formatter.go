package compat

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/bundlercompat/compat-runner/types"
)

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(result *RunResult) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter writing to out.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
	}
}

// FormatResults renders the results table followed by the support changes
// and the run summary.
func (f *ConsoleResultFormatter) FormatResults(result *RunResult) error {
	f.logger.Info("Printing results...")

	style := table.StyleColoredBlackOnGreenWhite
	switch result.Stats().Status() {
	case StatusPartial:
		style = table.StyleColoredBlackOnYellowWhite
	case StatusFail:
		style = table.StyleColoredBlackOnRedWhite
	}
	if _, err := fmt.Fprintln(f.out, RenderResultsTable(result, style)); err != nil {
		return err
	}

	if result.DryRun {
		for _, line := range result.Diff {
			if _, err := fmt.Fprintln(f.out, line); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(f.out, result.String())
	return err
}

// RenderResultsTable renders one row per platform followed by a row per suite.
func RenderResultsTable(result *RunResult, style table.Style) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Compat Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Status", "Notes",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Notes", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, p := range result.Platforms {
		stats := p.Stats()
		t.AppendRow(table.Row{
			"Platform",
			p.Platform.String(),
			formatDuration(p.Duration),
			stats.Tests,
			stats.TestsPassed,
			stats.TestsFailed,
			getResultString(stats.Status()),
			"",
		})

		for i, suite := range p.Suites {
			prefix := "├──"
			if i == len(p.Suites)-1 {
				prefix = "└──"
			}
			t.AppendRow(table.Row{
				"Suite",
				fmt.Sprintf("%s %s", prefix, suiteName(suite)),
				formatDuration(suite.Duration),
				suite.Total,
				suite.Pass,
				suite.Fail,
				getResultString(suite.Status()),
				strings.Join(suite.Notes, "; "),
			})
		}
		t.AppendSeparator()
	}

	stats := result.Stats()
	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d suites", stats.Suites),
		formatDuration(result.Duration),
		stats.Tests,
		stats.TestsPassed,
		stats.TestsFailed,
		getResultString(stats.Status()),
		"",
	})
	t.SetStyle(style)
	return t.Render()
}

// suiteName is the compat path of a suite, "group" or "group/feature.path".
func suiteName(r *types.SuiteResult) string {
	if feature := r.FeaturePath(); feature != "" {
		return r.CompatGroup + "/" + feature
	}
	return r.CompatGroup
}

func getResultString(status string) string {
	switch status {
	case StatusPass:
		return "✓ pass"
	case StatusPartial:
		return "~ partial"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
