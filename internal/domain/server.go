package domain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"jstool.dev/pkg/jstool/internal/adapter"
	"jstool.dev/pkg/jstool/internal/metrics"
	m "jstool.dev/pkg/jstool/internal/model"
)

const (
	// DefaultCoverageTimeout is how long WaitForAllCoverage waits by default.
	DefaultCoverageTimeout = 2 * time.Second
	// DefaultPollInterval is how often WaitForAllCoverage checks the store.
	DefaultPollInterval = 100 * time.Millisecond
)

// InstrumenterFactory creates the instrumenter for one suite.
type InstrumenterFactory func(suite *m.SuiteDescription) adapter.SourceInstrumenter

// ServerOptions configures a SuitePageServer.
type ServerOptions struct {
	// Coverage enables instrumentation and coverage collection.
	Coverage bool
	// NewInstrumenter is required when Coverage is set.
	NewInstrumenter InstrumenterFactory
	Renderer        adapter.Renderer
	FS              adapter.SourceFSAdapter
	// Assets defaults to the bundled runner assets.
	Assets       fs.FS
	PollInterval time.Duration
}

// SuitePageServer serves suite runner pages and their dependencies on a
// local port and collects the coverage browsers post back.
type SuitePageServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	RootURL() string
	SuiteNames() []string
	SuiteURL(name string) string
	// WaitForAllCoverage blocks until every suite has reported coverage.
	// It returns (nil, nil) when coverage is disabled.
	WaitForAllCoverage(ctx context.Context, timeout time.Duration) (CoverageStore, error)
}

type suitePageServer struct {
	suites        SuiteRegistry
	store         CoverageStore
	instrumenters map[string]adapter.SourceInstrumenter
	coverage      bool
	pollInterval  time.Duration

	listener   net.Listener
	httpServer *http.Server

	mu      sync.Mutex
	started bool
	stopped bool
	served  chan error
}

// NewSuitePageServer validates suites and binds a listener on 127.0.0.1
// with an OS-assigned port. Nothing is served until Start.
func NewSuitePageServer(suites []*m.SuiteDescription, opts ServerOptions) (SuitePageServer, error) {
	registry, err := NewSuiteRegistry(suites)
	if err != nil {
		return nil, err
	}

	if opts.Renderer == nil {
		return nil, errors.New("suite page server requires a renderer")
	}

	if opts.Coverage && opts.NewInstrumenter == nil {
		return nil, errors.New("coverage requires an instrumenter factory")
	}

	if opts.FS == nil {
		opts.FS = adapter.NewLocalSourceFSAdapter()
	}

	if opts.Assets == nil {
		opts.Assets = adapter.RunnerAssets()
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	store := NewCoverageStore()
	instrumenters := make(map[string]adapter.SourceInstrumenter)

	handlers := []PageHandler{
		NewSuitePageHandler(registry, opts.Renderer),
		NewRunnerAssetHandler(opts.Assets),
	}

	if opts.Coverage {
		for _, suite := range registry.Suites() {
			instrumenters[suite.Name] = opts.NewInstrumenter(suite)
		}

		handlers = append(handlers,
			NewInstrumentedSourceHandler(registry, instrumenters),
			NewCoverageIngestHandler(registry, store),
		)
	}

	handlers = append(handlers, NewDependencyFileHandler(registry, opts.FS))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to bind suite page server: %w", err)
	}

	return &suitePageServer{
		suites:        registry,
		store:         store,
		instrumenters: instrumenters,
		coverage:      opts.Coverage,
		pollInterval:  opts.PollInterval,
		listener:      listener,
		httpServer: &http.Server{
			Handler:           NewHandlerChain(handlers...),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start begins serving and, with coverage enabled, registers every suite's
// sources with the store and starts one instrumenter per suite concurrently.
func (s *suitePageServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("suite page server already started")
	}

	s.started = true
	s.served = make(chan error, 1)
	s.mu.Unlock()

	go func() {
		err := s.httpServer.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}

		s.served <- err
	}()

	slog.Info("suite page server listening", "url", s.RootURL(), "suites", len(s.suites.Names()), "coverage", s.coverage)

	if !s.coverage {
		return nil
	}

	for _, suite := range s.suites.Suites() {
		for _, src := range suite.SrcPaths {
			s.store.RegisterExpectedSource(suite.RootDir, src)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	for name, instrumenter := range s.instrumenters {
		group.Go(func() error {
			err := instrumenter.Start(groupCtx)
			metrics.RecordInstrumenterStart(err)

			if err != nil {
				return fmt.Errorf("suite '%s': %w", name, err)
			}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		slog.Error("Failed to start instrumenters", "error", err)
		return err
	}

	return nil
}

// Stop stops every instrumenter, then the HTTP listener. Failures are
// collected rather than short-circuiting.
func (s *suitePageServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}

	s.stopped = true
	started := s.started
	s.mu.Unlock()

	var result *multierror.Error

	for _, name := range s.suites.Names() {
		instrumenter, ok := s.instrumenters[name]
		if !ok {
			continue
		}

		if err := instrumenter.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop instrumenter for suite '%s': %w", name, err))
		}
	}

	if !started {
		if err := s.listener.Close(); err != nil {
			result = multierror.Append(result, err)
		}

		return result.ErrorOrNil()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("shutdown suite page server: %w", err))
	}

	if err := <-s.served; err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// RootURL returns the base URL, e.g. http://127.0.0.1:54321.
func (s *suitePageServer) RootURL() string {
	return "http://" + s.listener.Addr().String()
}

func (s *suitePageServer) SuiteNames() []string {
	return s.suites.Names()
}

// SuiteURL returns the runner page URL for the suite called name.
func (s *suitePageServer) SuiteURL(name string) string {
	return s.RootURL() + "/suite/" + url.PathEscape(name)
}

func (s *suitePageServer) WaitForAllCoverage(ctx context.Context, timeout time.Duration) (CoverageStore, error) {
	if !s.coverage {
		return nil, nil
	}

	names := s.suites.Names()
	if s.store.HasAllSuites(names) {
		return s.store, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			if s.store.HasAllSuites(names) {
				return s.store, nil
			}

			missing := s.missingSuites(names)
			slog.Error("Timed out waiting for coverage", "timeout", timeout, "missing", missing)

			return nil, fmt.Errorf("%w after %s: no coverage from suites %s", ErrCoverageTimeout, timeout, strings.Join(missing, ", "))
		case <-ticker.C:
			if s.store.HasAllSuites(names) {
				return s.store, nil
			}
		}
	}
}

func (s *suitePageServer) missingSuites(names []string) []string {
	reported := s.store.ReportedSuiteNames()

	var missing []string

	for _, name := range names {
		if !slices.Contains(reported, name) {
			missing = append(missing, name)
		}
	}

	return missing
}
