package domain

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jstool.dev/pkg/jstool/internal/adapter"
	m "jstool.dev/pkg/jstool/internal/model"
)

func writeDemoTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	files := map[string][]byte{
		"lib/x.js":            []byte("var x = 1;\n"),
		"src/app.js":          []byte("function app() {}\n"),
		"not-listed.js":       []byte("var secret;\n"),
		"fixtures/latin1.txt": {'c', 'a', 'f', 0xe9},
	}

	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, content, 0o644))
	}

	return root
}

func demoSuite(name, rootDir string) *m.SuiteDescription {
	suite := m.NewSuiteDescription(name, rootDir, m.RunnerJasmine, nil, nil)
	suite.LibPaths = []string{"lib/x.js"}
	suite.SrcPaths = []string{"src/app.js"}
	suite.FixturePaths = []string{"fixtures/latin1.txt"}

	return suite
}

type testServer struct {
	SuitePageServer
	instrumenters map[string]*fakeInstrumenter
}

func startServer(t *testing.T, suites []*m.SuiteDescription, coverage bool, newInstr func(name string) *fakeInstrumenter) *testServer {
	t.Helper()

	ts := &testServer{instrumenters: make(map[string]*fakeInstrumenter)}

	opts := ServerOptions{
		Coverage:     coverage,
		Renderer:     fakeRenderer{},
		PollInterval: 10 * time.Millisecond,
		NewInstrumenter: func(suite *m.SuiteDescription) adapter.SourceInstrumenter {
			instr := newInstr(suite.Name)
			ts.instrumenters[suite.Name] = instr

			return instr
		},
	}

	server, err := NewSuitePageServer(suites, opts)
	require.NoError(t, err)

	ts.SuitePageServer = server

	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	return ts
}

func workingInstrumenter(string) *fakeInstrumenter {
	return &fakeInstrumenter{content: []byte("instrumented();")}
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(body)
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(content)
}

func TestSuitePageServer_ServesPages(t *testing.T) {
	root := writeDemoTree(t)
	server := startServer(t, []*m.SuiteDescription{demoSuite("demo", root)}, false, workingInstrumenter)

	assert.True(t, strings.HasPrefix(server.RootURL(), "http://127.0.0.1:"))
	assert.Equal(t, server.RootURL()+"/suite/demo", server.SuiteURL("demo"))

	resp, body := get(t, server.SuiteURL("demo"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "en", resp.Header.Get("Content-Language"))
	assert.Equal(t, "<html>demo:src/app.js</html>", body)

	resp, body = get(t, server.SuiteURL("demo")+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>demo:src/app.js</html>", body)

	for _, asset := range []string{"jasmine_reporter.js", "jasmine/jasmine.js", "jasmine/jasmine-html.js"} {
		resp, _ = get(t, server.RootURL()+"/runner/"+asset)
		assert.Equal(t, http.StatusOK, resp.StatusCode, asset)
	}

	resp, body = get(t, server.RootURL()+"/suite/demo/include/lib/x.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "var x = 1;\n", body)

	resp, body = get(t, server.RootURL()+"/suite/demo/include/fixtures/latin1.txt")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "café", body)
}

func TestSuitePageServer_NotFound(t *testing.T) {
	root := writeDemoTree(t)
	server := startServer(t, []*m.SuiteDescription{demoSuite("demo", root)}, true, workingInstrumenter)

	for _, path := range []string{
		"/suite/unknown-suite",
		"/suite/demo/include/not-listed.js",
		"/suite/unknown-suite/include/lib/x.js",
		"/runner/missing.js",
		"/elsewhere",
	} {
		resp, _ := get(t, server.RootURL()+path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	resp, _ := post(t, server.RootURL()+"/jscoverage-store/demo", "not json")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = post(t, server.RootURL()+"/jscoverage-store/unknown-suite", "{}")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSuitePageServer_InstrumentedSource(t *testing.T) {
	root := writeDemoTree(t)

	t.Run("served through the instrumenter", func(t *testing.T) {
		server := startServer(t, []*m.SuiteDescription{demoSuite("demo", root)}, true, workingInstrumenter)

		_, body := get(t, server.RootURL()+"/suite/demo/include/src/app.js")
		assert.Equal(t, "instrumented();", body)

		_, body = get(t, server.RootURL()+"/suite/demo/include/lib/x.js")
		assert.Equal(t, "var x = 1;\n", body)
	})

	t.Run("falls back to the raw file", func(t *testing.T) {
		server := startServer(t, []*m.SuiteDescription{demoSuite("demo", root)}, true, func(string) *fakeInstrumenter {
			return &fakeInstrumenter{err: adapter.ErrInstrumentation}
		})

		raw, err := os.ReadFile(filepath.Join(root, "src", "app.js"))
		require.NoError(t, err)

		resp, body := get(t, server.RootURL()+"/suite/demo/include/src/app.js")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(raw), body)
	})

	t.Run("coverage disabled serves raw sources", func(t *testing.T) {
		server := startServer(t, []*m.SuiteDescription{demoSuite("demo", root)}, false, workingInstrumenter)

		_, body := get(t, server.RootURL()+"/suite/demo/include/src/app.js")
		assert.Equal(t, "function app() {}\n", body)
		assert.Empty(t, server.instrumenters)
	})
}

func TestSuitePageServer_CoverageRoundTrip(t *testing.T) {
	root := writeDemoTree(t)
	server := startServer(t, []*m.SuiteDescription{demoSuite("demo", root)}, true, workingInstrumenter)

	resp, body := post(t, server.RootURL()+"/jscoverage-store/demo", `{"lib/x.js": {"lineData": [null, 1, 0, 5]}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "Success: coverage data received", body)

	store, err := server.WaitForAllCoverage(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, store)

	xPath := filepath.Join(root, "lib", "x.js")
	lines, ok := store.CoverageFor(xPath)
	require.True(t, ok)
	assert.Equal(t, m.LineCoverage{1: true, 2: false, 3: true}, lines)

	resp, _ = post(t, server.RootURL()+"/jscoverage-store/demo/", `{"lib/x.js": {"lineData": [null, 0, 1, 0]}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	lines, _ = store.CoverageFor(xPath)
	assert.Equal(t, m.LineCoverage{1: true, 2: true, 3: true}, lines)

	appPath := filepath.Join(root, "src", "app.js")
	assert.Equal(t, []string{xPath, appPath}, store.SourceList())

	appLines, ok := store.CoverageFor(appPath)
	require.True(t, ok)
	assert.Empty(t, appLines)
}

func TestSuitePageServer_WaitForAllCoverage(t *testing.T) {
	t.Run("coverage disabled", func(t *testing.T) {
		server := startServer(t, []*m.SuiteDescription{demoSuite("demo", t.TempDir())}, false, workingInstrumenter)

		store, err := server.WaitForAllCoverage(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Nil(t, store)
	})

	t.Run("returns once every suite reports", func(t *testing.T) {
		server := startServer(t, []*m.SuiteDescription{demoSuite("a", t.TempDir()), demoSuite("b", t.TempDir())}, true, workingInstrumenter)

		go func() {
			time.Sleep(50 * time.Millisecond)

			for _, name := range []string{"a", "b"} {
				resp, err := http.Post(server.RootURL()+"/jscoverage-store/"+name, "application/json", strings.NewReader(`{}`))
				if err == nil {
					_ = resp.Body.Close()
				}
			}
		}()

		store, err := server.WaitForAllCoverage(context.Background(), 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, store.ReportedSuiteNames())
	})

	t.Run("times out when a suite never reports", func(t *testing.T) {
		suites := []*m.SuiteDescription{demoSuite("a", t.TempDir()), demoSuite("b", t.TempDir())}

		server, err := NewSuitePageServer(suites, ServerOptions{
			Coverage:        true,
			Renderer:        fakeRenderer{},
			PollInterval:    DefaultPollInterval,
			NewInstrumenter: func(*m.SuiteDescription) adapter.SourceInstrumenter { return workingInstrumenter("") },
		})
		require.NoError(t, err)
		require.NoError(t, server.Start(context.Background()))

		defer func() { _ = server.Stop(context.Background()) }()

		post(t, server.RootURL()+"/jscoverage-store/a", `{}`)

		start := time.Now()
		store, err := server.WaitForAllCoverage(context.Background(), DefaultCoverageTimeout)
		elapsed := time.Since(start)

		require.ErrorIs(t, err, ErrCoverageTimeout)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "b")
		assert.GreaterOrEqual(t, elapsed, DefaultCoverageTimeout)
		assert.Less(t, elapsed, DefaultCoverageTimeout+time.Second)
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := startServer(t, []*m.SuiteDescription{demoSuite("a", t.TempDir())}, true, workingInstrumenter)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := server.WaitForAllCoverage(ctx, time.Minute)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSuitePageServer_DuplicateSuites(t *testing.T) {
	suites := []*m.SuiteDescription{demoSuite("a", "/a"), demoSuite("a", "/b")}

	_, err := NewSuitePageServer(suites, ServerOptions{Renderer: fakeRenderer{}})
	require.ErrorIs(t, err, ErrDuplicateSuite)
}

func TestSuitePageServer_InvalidOptions(t *testing.T) {
	_, err := NewSuitePageServer(nil, ServerOptions{})
	require.Error(t, err)

	_, err = NewSuitePageServer(nil, ServerOptions{Renderer: fakeRenderer{}, Coverage: true})
	require.Error(t, err)
}

func TestSuitePageServer_InstrumenterLifecycle(t *testing.T) {
	t.Run("one instrumenter per suite is started and stopped", func(t *testing.T) {
		suites := []*m.SuiteDescription{demoSuite("a", t.TempDir()), demoSuite("b", t.TempDir())}
		server := startServer(t, suites, true, workingInstrumenter)

		require.Len(t, server.instrumenters, 2)
		for _, instr := range server.instrumenters {
			assert.Equal(t, 1, instr.starts)
		}

		require.NoError(t, server.Stop(context.Background()))
		for _, instr := range server.instrumenters {
			assert.Equal(t, 1, instr.stops)
		}

		require.NoError(t, server.Stop(context.Background()))
	})

	t.Run("start failure is returned", func(t *testing.T) {
		suites := []*m.SuiteDescription{demoSuite("a", t.TempDir())}

		server, err := NewSuitePageServer(suites, ServerOptions{
			Coverage: true,
			Renderer: fakeRenderer{},
			NewInstrumenter: func(*m.SuiteDescription) adapter.SourceInstrumenter {
				return &fakeInstrumenter{startErr: adapter.ErrToolNotFound}
			},
		})
		require.NoError(t, err)

		err = server.Start(context.Background())
		require.ErrorIs(t, err, adapter.ErrToolNotFound)
		assert.Contains(t, err.Error(), "'a'")
		require.NoError(t, server.Stop(context.Background()))
	})

	t.Run("stop collects every failure", func(t *testing.T) {
		errA := errors.New("a failed")
		errB := errors.New("b failed")
		failures := map[string]error{"a": errA, "b": errB}

		suites := []*m.SuiteDescription{demoSuite("a", t.TempDir()), demoSuite("b", t.TempDir())}
		server := startServer(t, suites, true, func(name string) *fakeInstrumenter {
			return &fakeInstrumenter{stopErr: failures[name]}
		})

		err := server.Stop(context.Background())
		require.ErrorIs(t, err, errA)
		require.ErrorIs(t, err, errB)

		resp, err := http.Get(server.RootURL() + "/suite/a")
		if err == nil {
			_ = resp.Body.Close()
		}
		require.Error(t, err, "listener is closed after stop")
	})

	t.Run("stop without start releases the port", func(t *testing.T) {
		server, err := NewSuitePageServer([]*m.SuiteDescription{demoSuite("a", t.TempDir())}, ServerOptions{Renderer: fakeRenderer{}})
		require.NoError(t, err)
		require.NoError(t, server.Stop(context.Background()))
	})
}
