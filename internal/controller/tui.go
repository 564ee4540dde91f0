package controller

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	m "jstool.dev/pkg/jstool/internal/model"
)

const (
	headerTitle = "jstool - JavaScript Test Runner"
	// header box, title, blank line, footer.
	reservedLines = 6
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder()).
			Padding(0, 2)
	titleStyle  = lipgloss.NewStyle().Bold(true)
	footerStyle = lipgloss.NewStyle().Faint(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// TUI implements UI using Bubble Tea for interactive display. Long reports
// open in a scrollable pager; short ones are printed directly.
type TUI struct {
	output io.Writer
	mu     sync.Mutex
	mode   StartMode
}

// NewTUI creates a new TUI.
func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output}
}

// Start prints the banner.
func (p *TUI) Start(ctx context.Context, options ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := applyStartOptions(options)

	p.mu.Lock()
	p.mode = cfg.mode
	p.mu.Unlock()

	p.print(headerStyle.Render(headerTitle) + "\n")

	return nil
}

// Close is a no-op: every pager closes before its Display call returns.
func (p *TUI) Close(_ context.Context) {}

// Wait is a no-op for the same reason.
func (p *TUI) Wait(_ context.Context) {}

func (p *TUI) DisplaySuites(ctx context.Context, suites []*m.SuiteDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return p.page(fmt.Sprintf("Suites (%d)", len(suites)), renderSuitesTable(suites))
}

func (p *TUI) DisplayServerInfo(ctx context.Context, rootURL string, suites []SuiteLink) {
	if err := ctx.Err(); err != nil {
		return
	}

	p.print(titleStyle.Render("Dev server") + "\n" + renderServerInfo(rootURL, suites))
}

func (p *TUI) DisplayStartingSuiteInfo(ctx context.Context, suite SuiteLink) {
	if err := ctx.Err(); err != nil {
		return
	}

	p.print(footerStyle.Render(fmt.Sprintf("  ▸ %s %s", suite.Name, suite.URL)) + "\n")
}

func (p *TUI) DisplaySuiteResult(ctx context.Context, result m.SuiteResult) {
	if err := ctx.Err(); err != nil {
		return
	}

	style, icon := passStyle, "✓"
	if !result.Passed() {
		style, icon = failStyle, "✗"
	}

	p.print(style.Render(fmt.Sprintf("  %s %s", icon, suiteOutcomeLine(result))) + "\n")
}

func (p *TUI) DisplayResults(ctx context.Context, results []m.SuiteResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	title := passStyle.Render("All suites passed")

	for _, result := range results {
		if !result.Passed() {
			title = failStyle.Render("Some suites failed")
			break
		}
	}

	return p.page(title, renderResultsTable(results))
}

func (p *TUI) DisplayCoverage(ctx context.Context, snapshot m.CoverageSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	title := fmt.Sprintf("Coverage %s", formatPercent(snapshot.Rate()))

	return p.page(title, renderCoverageTable(snapshot))
}

func (p *TUI) print(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _ = fmt.Fprint(p.output, s)
}

// page prints content, switching to a pager when it does not fit the
// terminal. The pager is never used in serve mode, where the terminal
// belongs to the running server.
func (p *TUI) page(title, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	model := newPagerModel(title, content)

	if f, ok := p.output.(*os.File); ok {
		width, height, err := term.GetSize(int(f.Fd()))
		if err == nil {
			model = model.resize(width, height)
		}
	}

	if p.mode == ModeServe || !model.needsPagination() {
		_, err := fmt.Fprintf(p.output, "\n%s\n%s", titleStyle.Render(title), content)
		return err
	}

	program := tea.NewProgram(model, tea.WithOutput(p.output), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return err
	}

	return nil
}

// pagerModel is a Bubble Tea model scrolling a pre-rendered report.
type pagerModel struct {
	title    string
	content  string
	viewport viewport.Model
	width    int
	height   int
}

func newPagerModel(title, content string) pagerModel {
	return pagerModel{
		title:    title,
		content:  content,
		viewport: viewport.New(0, 0),
	}
}

func (pm pagerModel) resize(width, height int) pagerModel {
	pm.width = width
	pm.height = height

	pm.viewport.Width = width
	pm.viewport.Height = max(height-reservedLines, 1)
	pm.viewport.SetContent(pm.content)

	return pm
}

// needsPagination returns true if the content is too tall for the terminal.
func (pm pagerModel) needsPagination() bool {
	if pm.height == 0 {
		return false
	}

	return lipgloss.Height(pm.content) > pm.height-reservedLines
}

func (pm pagerModel) Init() tea.Cmd {
	return nil
}

func (pm pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return pm.resize(msg.Width, msg.Height), nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return pm, tea.Quit
		case "g", "home":
			pm.viewport.GotoTop()
			return pm, nil
		case "G", "end":
			pm.viewport.GotoBottom()
			return pm, nil
		}
	}

	var cmd tea.Cmd
	pm.viewport, cmd = pm.viewport.Update(msg)

	return pm, cmd
}

func (pm pagerModel) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(headerTitle))
	b.WriteString("\n")
	b.WriteString(titleStyle.Render(pm.title))
	b.WriteString("\n")
	b.WriteString(pm.viewport.View())
	b.WriteString("\n")
	b.WriteString(footerStyle.Render(fmt.Sprintf("%3.f%% | ↑/k: up | ↓/j: down | g: top | G: bottom | q: quit",
		pm.viewport.ScrollPercent()*100)))

	return b.String()
}
