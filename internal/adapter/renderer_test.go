package adapter

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	m "jstool.dev/pkg/jstool/internal/model"
)

func parsePage(t *testing.T, page string) *html.Node {
	t.Helper()

	doc, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)

	return doc
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}

	return "", false
}

// scriptSources lists the src attribute of every <script> in document order.
func scriptSources(doc *html.Node) []string {
	var srcs []string

	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			if src, ok := attr(n, "src"); ok {
				srcs = append(srcs, src)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)

	return srcs
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		if v, ok := attr(n, "id"); ok && v == id {
			return n
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}

	return nil
}

func demoSuite() *m.SuiteDescription {
	suite := m.NewSuiteDescription("demo", "/r", m.RunnerJasmine,
		[]*regexp.Regexp{regexp.MustCompile(`lib/jasmine\.js`)},
		[]*regexp.Regexp{regexp.MustCompile(`^lib/`)})
	suite.LibPaths = []string{"lib/jasmine.js", "lib/hidden.js"}
	suite.SrcPaths = []string{"src/app.js"}
	suite.SpecPaths = []string{"spec/app_spec.js"}
	suite.FixturePaths = []string{"fixtures/page.html"}

	return suite
}

func TestTemplateRenderer_Render(t *testing.T) {
	renderer, err := NewTemplateRenderer()
	require.NoError(t, err)

	page, err := renderer.Render("demo", demoSuite())
	require.NoError(t, err)

	doc := parsePage(t, page)
	assert.Equal(t, []string{
		"/runner/jasmine/jasmine.js",
		"/runner/jasmine/jasmine-html.js",
		"/runner/jasmine_reporter.js",
		"/suite/demo/include/lib/jasmine.js",
		"/suite/demo/include/src/app.js",
		"/suite/demo/include/spec/app_spec.js",
	}, scriptSources(doc))

	results := findByID(doc, ResultsDivID)
	require.NotNil(t, results)
	assert.Nil(t, results.FirstChild)

	assert.Contains(t, page, "/jscoverage-store/demo")
	assert.Contains(t, page, "<title>Test Suite: demo</title>")
	assert.NotContains(t, page, "fixtures/page.html")
}

func TestTemplateRenderer_EscapesSuiteName(t *testing.T) {
	renderer, err := NewTemplateRenderer()
	require.NoError(t, err)

	page, err := renderer.Render("my suite", demoSuite())
	require.NoError(t, err)

	srcs := scriptSources(parsePage(t, page))
	require.NotEmpty(t, srcs)
	assert.Equal(t, "/suite/my%20suite/include/lib/jasmine.js", srcs[len(jasmineScripts)])
}

func TestTemplateRenderer_UnknownRunner(t *testing.T) {
	renderer, err := NewTemplateRenderer()
	require.NoError(t, err)

	suite := m.NewSuiteDescription("demo", "/r", m.TestRunner("qunit"), nil, nil)

	_, err = renderer.Render("demo", suite)
	require.ErrorIs(t, err, ErrRender)
}

func TestTemplateRenderer_FrameworkLoadsFirst(t *testing.T) {
	renderer, err := NewTemplateRenderer()
	require.NoError(t, err)

	page, err := renderer.Render("demo", demoSuite())
	require.NoError(t, err)

	srcs := scriptSources(parsePage(t, page))
	require.Greater(t, len(srcs), len(jasmineScripts))

	for i, script := range jasmineScripts {
		assert.Equal(t, "/runner/"+script, srcs[i])

		_, err := fs.Stat(RunnerAssets(), script)
		assert.NoError(t, err, "runner page references %s but it is not bundled", script)
	}

	for _, src := range srcs[len(jasmineScripts):] {
		assert.True(t, strings.HasPrefix(src, "/suite/demo/include/"), src)
	}
}

func TestRunnerAssets(t *testing.T) {
	content, err := fs.ReadFile(RunnerAssets(), "jasmine_reporter.js")
	require.NoError(t, err)
	assert.Contains(t, string(content), "runJasmine")

	framework, err := fs.ReadFile(RunnerAssets(), "jasmine/jasmine.js")
	require.NoError(t, err)
	assert.Contains(t, string(framework), "getEnv")
	assert.Contains(t, string(framework), "version_")

	htmlReporter, err := fs.ReadFile(RunnerAssets(), "jasmine/jasmine-html.js")
	require.NoError(t, err)
	assert.Contains(t, string(htmlReporter), "HtmlReporter")

	_, err = fs.ReadFile(RunnerAssets(), "missing.js")
	require.Error(t, err)
}
