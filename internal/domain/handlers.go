package domain

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"golang.org/x/text/encoding/charmap"

	"jstool.dev/pkg/jstool/internal/adapter"
	"jstool.dev/pkg/jstool/internal/metrics"
	m "jstool.dev/pkg/jstool/internal/model"
)

// Route templates. Page and coverage routes accept an optional trailing slash.
const (
	suitePageRoute = "/suite/{name}{slash:/?}"
	runnerRoute    = "/runner/{path:.+}"
	includeRoute   = "/suite/{name}/include/{path:.+}"
	coverageRoute  = "/jscoverage-store/{name}{slash:/?}"
)

const (
	defaultMimeType = "text/plain"
	coverageSuccess = "Success: coverage data received"
	maxBodyBytes    = 64 << 20
)

// PageHandler answers one family of requests. Match decides on the method
// and path alone; Load may still decline, in which case the next handler in
// the chain gets a chance.
type PageHandler interface {
	Name() string
	Match(method, path string) (map[string]string, bool)
	Load(ctx context.Context, captures map[string]string, body []byte) ([]byte, bool)
	MimeType(captures map[string]string) string
}

// routeMatcher matches a method whitelist and a gorilla/mux path template.
type routeMatcher struct {
	route *mux.Route
}

func newRouteMatcher(template string, methods ...string) routeMatcher {
	if len(methods) == 0 {
		methods = []string{http.MethodGet}
	}

	return routeMatcher{route: mux.NewRouter().NewRoute().Path(template).Methods(methods...)}
}

func (r routeMatcher) Match(method, path string) (map[string]string, bool) {
	req := &http.Request{Method: method, URL: &url.URL{Path: path}}

	var match mux.RouteMatch
	if !r.route.Match(req, &match) || match.MatchErr != nil {
		return nil, false
	}

	return match.Vars, true
}

// guessMimeType maps a file extension to a media type without parameters.
func guessMimeType(name string) string {
	guessed := mime.TypeByExtension(filepath.Ext(name))
	if guessed == "" {
		return defaultMimeType
	}

	mediaType, _, _ := strings.Cut(guessed, ";")

	return strings.TrimSpace(mediaType)
}

// SuitePageHandler renders the runner page for a suite.
type SuitePageHandler struct {
	routeMatcher
	suites   SuiteRegistry
	renderer adapter.Renderer
}

// NewSuitePageHandler serves GET /suite/{name} and /suite/{name}/.
func NewSuitePageHandler(suites SuiteRegistry, renderer adapter.Renderer) *SuitePageHandler {
	return &SuitePageHandler{
		routeMatcher: newRouteMatcher(suitePageRoute),
		suites:       suites,
		renderer:     renderer,
	}
}

func (h *SuitePageHandler) Name() string { return "suite" }

func (h *SuitePageHandler) Load(_ context.Context, captures map[string]string, _ []byte) ([]byte, bool) {
	name := captures["name"]

	suite, ok := h.suites.Lookup(name)
	if !ok {
		return nil, false
	}

	page, err := h.renderer.Render(name, suite)
	if err != nil {
		slog.Error("Failed to render suite page", "suite", name, "error", err)
		return nil, false
	}

	return []byte(page), true
}

func (h *SuitePageHandler) MimeType(map[string]string) string { return "text/html" }

// RunnerAssetHandler serves the bundled files the runner page loads.
type RunnerAssetHandler struct {
	routeMatcher
	assets fs.FS
}

// NewRunnerAssetHandler serves GET /runner/{path} from assets.
func NewRunnerAssetHandler(assets fs.FS) *RunnerAssetHandler {
	return &RunnerAssetHandler{
		routeMatcher: newRouteMatcher(runnerRoute),
		assets:       assets,
	}
}

func (h *RunnerAssetHandler) Name() string { return "runner" }

func (h *RunnerAssetHandler) Load(_ context.Context, captures map[string]string, _ []byte) ([]byte, bool) {
	name := captures["path"]
	if !fs.ValidPath(name) {
		return nil, false
	}

	content, err := fs.ReadFile(h.assets, name)
	if err != nil {
		return nil, false
	}

	return content, true
}

func (h *RunnerAssetHandler) MimeType(captures map[string]string) string {
	return guessMimeType(captures["path"])
}

// InstrumentedSourceHandler serves a suite's source files through its
// instrumenter. It declines anything that is not a declared source file and
// any file the instrumenter fails to produce.
type InstrumentedSourceHandler struct {
	routeMatcher
	suites        SuiteRegistry
	instrumenters map[string]adapter.SourceInstrumenter
}

// NewInstrumentedSourceHandler serves GET /suite/{name}/include/{path} for source files.
func NewInstrumentedSourceHandler(suites SuiteRegistry, instrumenters map[string]adapter.SourceInstrumenter) *InstrumentedSourceHandler {
	return &InstrumentedSourceHandler{
		routeMatcher:  newRouteMatcher(includeRoute),
		suites:        suites,
		instrumenters: instrumenters,
	}
}

func (h *InstrumentedSourceHandler) Name() string { return "instrumented" }

func (h *InstrumentedSourceHandler) Load(ctx context.Context, captures map[string]string, _ []byte) ([]byte, bool) {
	name, relPath := captures["name"], captures["path"]

	suite, ok := h.suites.Lookup(name)
	if !ok || !suite.IsSource(relPath) {
		return nil, false
	}

	instrumenter, ok := h.instrumenters[name]
	if !ok {
		return nil, false
	}

	content, err := instrumenter.InstrumentedSource(ctx, relPath)
	if err != nil {
		slog.Warn("Could not instrument source, serving it uninstrumented", "suite", name, "path", relPath, "error", err)
		return nil, false
	}

	return content, true
}

func (h *InstrumentedSourceHandler) MimeType(captures map[string]string) string {
	return guessMimeType(captures["path"])
}

// DependencyFileHandler serves the files a suite declares, as they are on disk.
type DependencyFileHandler struct {
	routeMatcher
	suites SuiteRegistry
	fs     adapter.SourceFSAdapter
}

// NewDependencyFileHandler serves GET /suite/{name}/include/{path} for declared files.
func NewDependencyFileHandler(suites SuiteRegistry, fsAdapter adapter.SourceFSAdapter) *DependencyFileHandler {
	return &DependencyFileHandler{
		routeMatcher: newRouteMatcher(includeRoute),
		suites:       suites,
		fs:           fsAdapter,
	}
}

func (h *DependencyFileHandler) Name() string { return "dependency" }

func (h *DependencyFileHandler) Load(_ context.Context, captures map[string]string, _ []byte) ([]byte, bool) {
	name, relPath := captures["name"], captures["path"]

	suite, ok := h.suites.Lookup(name)
	if !ok || !suite.IsDependency(relPath) {
		return nil, false
	}

	fullPath := h.fs.JoinPath(suite.RootDir, filepath.FromSlash(path.Clean(relPath)))

	content, err := h.fs.ReadFile(fullPath)
	if err != nil {
		slog.Debug("declared dependency is not readable", "suite", name, "path", relPath, "error", err)
		return nil, false
	}

	return toUTF8(content), true
}

func (h *DependencyFileHandler) MimeType(captures map[string]string) string {
	return guessMimeType(captures["path"])
}

// toUTF8 returns content unchanged when it is valid UTF-8 and otherwise
// decodes it as ISO 8859-1.
func toUTF8(content []byte) []byte {
	if utf8.Valid(content) {
		return content
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
	if err != nil {
		return content
	}

	return decoded
}

// CoverageIngestHandler merges coverage posted by runner pages.
type CoverageIngestHandler struct {
	routeMatcher
	suites SuiteRegistry
	store  CoverageStore
}

// NewCoverageIngestHandler serves POST /jscoverage-store/{name}, with or without a trailing slash.
func NewCoverageIngestHandler(suites SuiteRegistry, store CoverageStore) *CoverageIngestHandler {
	return &CoverageIngestHandler{
		routeMatcher: newRouteMatcher(coverageRoute, http.MethodPost),
		suites:       suites,
		store:        store,
	}
}

func (h *CoverageIngestHandler) Name() string { return "coverage" }

func (h *CoverageIngestHandler) Load(_ context.Context, captures map[string]string, body []byte) ([]byte, bool) {
	name := captures["name"]

	suite, ok := h.suites.Lookup(name)
	if !ok {
		slog.Warn("Received coverage data for unknown suite", "suite", name)
		metrics.RecordCoverageReport(metrics.ResultRejected)

		return nil, false
	}

	report, err := m.ParseCoverageReport(body)
	if err != nil {
		slog.Warn("Could not decode coverage data", "suite", name, "error", err)
		metrics.RecordCoverageReport(metrics.ResultRejected)

		return nil, false
	}

	// Merge before marking so a waiter never sees the suite reported
	// without its data.
	h.store.MergeReport(suite.RootDir, report)
	h.store.MarkSuiteReported(name)
	metrics.RecordCoverageReport(metrics.ResultAccepted)

	return []byte(coverageSuccess), true
}

func (h *CoverageIngestHandler) MimeType(map[string]string) string { return defaultMimeType }

// HandlerChain dispatches requests to the first handler that matches and
// loads content.
type HandlerChain struct {
	handlers []PageHandler
}

// NewHandlerChain builds a chain that tries handlers in the given order.
func NewHandlerChain(handlers ...PageHandler) *HandlerChain {
	return &HandlerChain{handlers: handlers}
}

// Page is a response produced by a handler.
type Page struct {
	Content  []byte
	MimeType string
	Handler  string
}

// Dispatch returns the page of the first handler that matches and loads.
func (c *HandlerChain) Dispatch(ctx context.Context, method, path string, body []byte) (Page, bool) {
	for _, handler := range c.handlers {
		captures, ok := handler.Match(method, path)
		if !ok {
			continue
		}

		content, ok := handler.Load(ctx, captures, body)
		if !ok {
			continue
		}

		return Page{Content: content, MimeType: handler.MimeType(captures), Handler: handler.Name()}, true
	}

	return Page{}, false
}

// ServeHTTP implements http.Handler.
func (c *HandlerChain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body []byte

	if r.Body != nil {
		var err error

		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				slog.Warn("Request body too large", "path", r.URL.Path, "limit", tooLarge.Limit)
			}

			metrics.RecordPageNotFound()
			http.NotFound(w, r)

			return
		}
	}

	page, ok := c.Dispatch(r.Context(), r.Method, r.URL.Path, body)
	if !ok {
		slog.Debug("no handler for request", "method", r.Method, "path", r.URL.Path)
		metrics.RecordPageNotFound()
		http.NotFound(w, r)

		return
	}

	slog.Debug("served request", "method", r.Method, "path", r.URL.Path, "handler", page.Handler, "bytes", len(page.Content))
	metrics.RecordPageServed(page.Handler)

	w.Header().Set("Content-Type", page.MimeType+"; charset=utf-8")
	w.Header().Set("Content-Language", "en")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page.Content)
}
