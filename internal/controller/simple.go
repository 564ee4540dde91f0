package controller

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "jstool.dev/pkg/jstool/internal/model"
)

// SimpleUI implements UI using cobra Command's output writer.
type SimpleUI struct {
	cmd *cobra.Command
	mu  sync.Mutex
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// Start initializes the UI.
func (s *SimpleUI) Start(ctx context.Context, _ ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return nil
}

// Close finalizes the UI.
func (s *SimpleUI) Close(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
}

// Wait blocks until the UI is closed (no-op for SimpleUI).
func (s *SimpleUI) Wait(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
	// SimpleUI doesn't block - it just prints and continues
}

// DisplaySuites prints every suite with its resolved files.
func (s *SimpleUI) DisplaySuites(ctx context.Context, suites []*m.SuiteDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("%s", renderSuitesTable(suites))

	return nil
}

// DisplayServerInfo prints where each suite is served.
func (s *SimpleUI) DisplayServerInfo(ctx context.Context, rootURL string, suites []SuiteLink) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("%s", renderServerInfo(rootURL, suites))
}

// DisplayStartingSuiteInfo shows that a suite page is being loaded.
func (s *SimpleUI) DisplayStartingSuiteInfo(ctx context.Context, suite SuiteLink) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("Running suite %s (%s)\n", suite.Name, suite.URL)
}

// DisplaySuiteResult shows a one-line outcome for a finished suite.
func (s *SimpleUI) DisplaySuiteResult(ctx context.Context, result m.SuiteResult) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("%s\n", suiteOutcomeLine(result))
}

// DisplayResults prints a table of every test and the details of failures.
func (s *SimpleUI) DisplayResults(ctx context.Context, results []m.SuiteResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("\n%s", renderResultsTable(results))

	return nil
}

// DisplayCoverage prints per-file and total line coverage.
func (s *SimpleUI) DisplayCoverage(ctx context.Context, snapshot m.CoverageSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("\n%s", renderCoverageTable(snapshot))

	return nil
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}

func newTable(buf *bytes.Buffer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(buf)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	return table
}

func renderSuitesTable(suites []*m.SuiteDescription) string {
	var tableBuffer bytes.Buffer

	if len(suites) == 0 {
		return "No suites found\n"
	}

	for _, suite := range suites {
		fmt.Fprintf(&tableBuffer, "Suite %s (%s, root %s)\n", suite.Name, suite.TestRunner, suite.RootDir)

		table := newTable(&tableBuffer, []string{"Kind", "Path", "In Page"})
		table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER})

		appendPaths := func(kind string, paths []string, scripts bool) {
			for _, path := range paths {
				inPage := "-"
				if scripts {
					inPage = yesNo(suite.IncludeInPage(path))
				}

				table.Append([]string{kind, path, inPage})
			}
		}

		appendPaths("lib", suite.LibPaths, true)
		appendPaths("src", suite.SrcPaths, true)
		appendPaths("spec", suite.SpecPaths, true)
		appendPaths("fixture", suite.FixturePaths, false)

		table.SetFooter([]string{
			"Total",
			fmt.Sprintf("%d files", len(suite.LibPaths)+len(suite.SrcPaths)+len(suite.SpecPaths)+len(suite.FixturePaths)),
			"",
		})
		table.Render()
		tableBuffer.WriteString("\n")
	}

	return tableBuffer.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}

	return "no"
}

func renderServerInfo(rootURL string, suites []SuiteLink) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Serving suites at %s\n", rootURL)

	for _, suite := range suites {
		fmt.Fprintf(&b, "  %s: %s\n", suite.Name, suite.URL)
	}

	b.WriteString("Press Ctrl+C to stop.\n")

	return b.String()
}

func suiteOutcomeLine(result m.SuiteResult) string {
	if result.Err != nil {
		return fmt.Sprintf("Suite %s -> error: %v", result.Suite, result.Err)
	}

	stats := result.Stats()

	return fmt.Sprintf("Suite %s -> %d passed, %d failed, %d errors, %d skipped",
		result.Suite, stats.Passed, stats.Failed, stats.Errored, stats.Skipped)
}

func renderResultsTable(results []m.SuiteResult) string {
	var (
		tableBuffer bytes.Buffer
		total       m.ResultStats
		failures    []string
	)

	table := newTable(&tableBuffer, []string{"Suite", "Group", "Test", "Status"})

	for _, result := range results {
		if result.Err != nil {
			table.Append([]string{result.Suite, "", "", "error"})
			failures = append(failures, fmt.Sprintf("%s: %v", result.Suite, result.Err))

			continue
		}

		for _, test := range result.Results {
			table.Append([]string{result.Suite, test.Group, test.Name, string(test.Status)})

			if test.Status == m.StatusFail || test.Status == m.StatusError {
				failures = append(failures, fmt.Sprintf("%s: %s %s\n%s", result.Suite, test.Group, test.Name, test.Detail))
			}
		}

		stats := result.Stats()
		total.Passed += stats.Passed
		total.Failed += stats.Failed
		total.Errored += stats.Errored
		total.Skipped += stats.Skipped
	}

	table.SetFooter([]string{
		fmt.Sprintf("Suites %d", len(results)),
		"",
		fmt.Sprintf("Passed %d", total.Passed),
		fmt.Sprintf("Failed %d Errors %d Skipped %d", total.Failed, total.Errored, total.Skipped),
	})
	table.Render()

	for _, failure := range failures {
		fmt.Fprintf(&tableBuffer, "\n%s\n", failure)
	}

	return tableBuffer.String()
}

func renderCoverageTable(snapshot m.CoverageSnapshot) string {
	var tableBuffer bytes.Buffer

	table := newTable(&tableBuffer, []string{"Source", "Lines", "Covered", "Coverage"})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT})

	for _, file := range snapshot.Files {
		table.Append([]string{
			snapshot.RelPath(file.Path),
			fmt.Sprintf("%d", file.Lines.Total()),
			fmt.Sprintf("%d", file.Lines.Covered()),
			formatPercent(file.Lines.Rate()),
		})
	}

	table.SetFooter([]string{
		fmt.Sprintf("Total Files %d", len(snapshot.Files)),
		fmt.Sprintf("%d", snapshot.Total()),
		fmt.Sprintf("%d", snapshot.Covered()),
		formatPercent(snapshot.Rate()),
	})
	table.Render()

	return tableBuffer.String()
}

func formatPercent(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}
