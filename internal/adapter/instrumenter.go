package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"jstool.dev/pkg/jstool/pkg"
)

const (
	// DefaultMaxStartAttempts is how many ports are tried before giving up.
	DefaultMaxStartAttempts = 10
	// DefaultMaxConnectAttempts is how many times a fetch is tried while the
	// service boots.
	DefaultMaxConnectAttempts = 10
	// DefaultRetryDelay is the fixed wait between attempts.
	DefaultRetryDelay = 400 * time.Millisecond
	// DefaultStartupGrace is how long a freshly launched process must stay
	// alive to count as started.
	DefaultStartupGrace = 500 * time.Millisecond
)

// SourceInstrumenter fronts an external service that serves coverage
// instrumented copies of the JavaScript files under one root directory.
type SourceInstrumenter interface {
	// Start launches the service. Calling it again while running only logs a warning.
	Start(ctx context.Context) error
	// InstrumentedSource returns the instrumented file at relPath, starting
	// the service first if needed.
	InstrumentedSource(ctx context.Context, relPath string) ([]byte, error)
	// Stop terminates the service. It is safe to call when not running.
	Stop() error
}

// InstrumenterOptions tunes start and fetch retries.
type InstrumenterOptions struct {
	MaxStartAttempts   int
	MaxConnectAttempts int
	RetryDelay         time.Duration
	StartupGrace       time.Duration
	HTTPClient         *http.Client
}

// DefaultInstrumenterOptions returns the options used by the CLI.
func DefaultInstrumenterOptions() InstrumenterOptions {
	return InstrumenterOptions{
		MaxStartAttempts:   DefaultMaxStartAttempts,
		MaxConnectAttempts: DefaultMaxConnectAttempts,
		RetryDelay:         DefaultRetryDelay,
		StartupGrace:       DefaultStartupGrace,
		HTTPClient:         &http.Client{Timeout: 30 * time.Second},
	}
}

// JSCoverInstrumenter is a SourceInstrumenter backed by one JSCover process.
type JSCoverInstrumenter struct {
	rootDir  string
	launcher ProcessLauncher
	ports    PortRegistry
	opts     InstrumenterOptions

	mu      sync.Mutex
	port    int
	process InstrumenterProcess
}

// NewJSCoverInstrumenter constructs an instrumenter for rootDir. Ports are
// leased from ports, which should be shared by every instrumenter in the process.
func NewJSCoverInstrumenter(rootDir string, launcher ProcessLauncher, ports PortRegistry, opts InstrumenterOptions) *JSCoverInstrumenter {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &JSCoverInstrumenter{
		rootDir:  rootDir,
		launcher: launcher,
		ports:    ports,
		opts:     opts,
	}
}

// Start launches JSCover on a random unused port, retrying on port conflicts.
func (i *JSCoverInstrumenter) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.process != nil {
		slog.Warn("start() called with an instance of JSCover already running", "rootDir", i.rootDir, "port", i.port)
		return nil
	}

	type started struct {
		port    int
		process InstrumenterProcess
	}

	policy := pkg.RetryPolicy{
		MaxAttempts: i.opts.MaxStartAttempts,
		Delay:       i.opts.RetryDelay,
		FailFast:    pkg.FailFastOn(ErrToolNotFound, ErrNoFreePort, context.Canceled, context.DeadlineExceeded),
	}

	result, err := pkg.Retry(ctx, policy, func() (started, error) {
		port, process, err := i.launch(ctx)
		return started{port: port, process: process}, err
	})
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			slog.Error("JSCover is not available", "rootDir", i.rootDir, "error", err)
			return err
		}

		slog.Error("Failed to start JSCover", "rootDir", i.rootDir, "attempts", i.opts.MaxStartAttempts, "error", err)

		return fmt.Errorf("%w: most likely due to port conflicts: %w", ErrInstrumenterStart, err)
	}

	i.port = result.port
	i.process = result.process
	slog.Debug("started JSCover", "rootDir", i.rootDir, "port", i.port)

	return nil
}

func (i *JSCoverInstrumenter) launch(ctx context.Context) (int, InstrumenterProcess, error) {
	port, err := i.ports.Lease()
	if err != nil {
		return 0, nil, err
	}

	process, err := i.launcher.Launch(port, i.rootDir)
	if err != nil {
		return 0, nil, err
	}

	timer := time.NewTimer(i.opts.StartupGrace)
	defer timer.Stop()

	select {
	case <-process.Done():
		slog.Debug("JSCover exited during startup", "port", port, "stderr", process.Stderr())
		return 0, nil, fmt.Errorf("%w on port %d: %s", ErrPortConflict, port, strings.TrimSpace(process.Stderr()))
	case <-ctx.Done():
		_ = process.Stop()
		return 0, nil, ctx.Err()
	case <-timer.C:
	}

	return port, process, nil
}

// InstrumentedSource fetches the instrumented file at relPath from JSCover,
// retrying while the service is still booting.
func (i *JSCoverInstrumenter) InstrumentedSource(ctx context.Context, relPath string) ([]byte, error) {
	port, running := i.current()
	if !running {
		if err := i.Start(ctx); err != nil {
			return nil, err
		}

		port, _ = i.current()
	}

	policy := pkg.RetryPolicy{
		MaxAttempts: i.opts.MaxConnectAttempts,
		Delay:       i.opts.RetryDelay,
		FailFast:    pkg.FailFastOn(ErrInstrumentation, context.Canceled, context.DeadlineExceeded),
	}

	content, err := pkg.Retry(ctx, policy, func() ([]byte, error) {
		return i.fetch(ctx, port, relPath)
	})
	if err != nil {
		if errors.Is(err, ErrInstrumentation) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: could not connect to JSCover server: %w", ErrInstrumentation, err)
	}

	return content, nil
}

func (i *JSCoverInstrumenter) fetch(ctx context.Context, port int, relPath string) ([]byte, error) {
	target := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		Path:   "/" + strings.TrimPrefix(relPath, "/"),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstrumentation, err)
	}

	resp, err := i.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: could not retrieve url %q: status code %d", ErrInstrumentation, target.String(), resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// Stop terminates JSCover if it is running.
func (i *JSCoverInstrumenter) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.process == nil {
		slog.Warn("stop() called with no instance of JSCover running", "rootDir", i.rootDir)
		return nil
	}

	err := i.process.Stop()
	i.process = nil

	if err != nil {
		return err
	}

	slog.Debug("stopped JSCover", "rootDir", i.rootDir, "port", i.port)

	return nil
}

// Port returns the port JSCover listens on, or 0 when not running.
func (i *JSCoverInstrumenter) Port() int {
	port, _ := i.current()
	return port
}

func (i *JSCoverInstrumenter) current() (int, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.process == nil {
		return 0, false
	}

	return i.port, true
}
