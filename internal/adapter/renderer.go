package adapter

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/url"

	m "jstool.dev/pkg/jstool/internal/model"
)

// ResultsDivID is the id of the element the runner page fills with JSON results.
const ResultsDivID = "js_test_tool_results"

//go:embed runner/templates/*.html runner/assets/*
var runnerFiles embed.FS

// jasmineScripts are the runner assets every Jasmine page loads, in order,
// ahead of the suite's own scripts.
var jasmineScripts = []string{
	"jasmine/jasmine.js",
	"jasmine/jasmine-html.js",
	"jasmine_reporter.js",
}

// RunnerAssets returns the static files served under /runner/.
func RunnerAssets() fs.FS {
	assets, err := fs.Sub(runnerFiles, "runner/assets")
	if err != nil {
		panic(err)
	}

	return assets
}

// Renderer turns a suite description into the HTML page a browser runs.
type Renderer interface {
	Render(name string, suite *m.SuiteDescription) (string, error)
}

// TemplateRenderer renders runner pages from the bundled html/template files.
type TemplateRenderer struct {
	templates map[m.TestRunner]*template.Template
}

type runnerPage struct {
	SuiteName     string
	IncludePrefix string
	RunnerScripts []string
	LibPaths      []string
	SrcPaths      []string
	SpecPaths     []string
	ResultsDivID  string
	CoverageURL   string
}

// NewTemplateRenderer parses the bundled runner templates.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	jasmine, err := template.ParseFS(runnerFiles, "runner/templates/jasmine_runner.html")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	return &TemplateRenderer{
		templates: map[m.TestRunner]*template.Template{
			m.RunnerJasmine: jasmine,
		},
	}, nil
}

// Render produces the runner page for suite, addressed under name.
func (r *TemplateRenderer) Render(name string, suite *m.SuiteDescription) (string, error) {
	tmpl, ok := r.templates[suite.TestRunner]
	if !ok {
		return "", fmt.Errorf("%w: no template for test runner %q", ErrRender, suite.TestRunner)
	}

	runnerScripts := make([]string, 0, len(jasmineScripts))
	for _, script := range jasmineScripts {
		runnerScripts = append(runnerScripts, "/runner/"+script)
	}

	escaped := url.PathEscape(name)
	page := runnerPage{
		SuiteName:     name,
		IncludePrefix: "/suite/" + escaped + "/include/",
		RunnerScripts: runnerScripts,
		LibPaths:      suite.InPage(suite.LibPaths),
		SrcPaths:      suite.InPage(suite.SrcPaths),
		SpecPaths:     suite.InPage(suite.SpecPaths),
		ResultsDivID:  ResultsDivID,
		CoverageURL:   "/jscoverage-store/" + escaped,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, page); err != nil {
		return "", fmt.Errorf("%w: suite %q: %w", ErrRender, name, err)
	}

	return buf.String(), nil
}
