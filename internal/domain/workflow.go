package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"jstool.dev/pkg/jstool/internal/adapter"
	"jstool.dev/pkg/jstool/internal/controller"
	m "jstool.dev/pkg/jstool/internal/model"
)

const stopTimeout = 5 * time.Second

// RunArgs contains the arguments for a headless run.
type RunArgs struct {
	SuitePaths      []string
	Coverage        bool
	CoverageTimeout time.Duration
	// Parallel bounds how many suite pages are loaded at once.
	Parallel int
}

// ServeArgs contains the arguments for the interactive dev server.
type ServeArgs struct {
	SuitePaths []string
	Coverage   bool
}

// ListArgs contains the arguments for listing suites.
type ListArgs struct {
	SuitePaths []string
}

// Workflow drives the commands of the CLI.
type Workflow interface {
	List(ctx context.Context, args ListArgs) error
	// Run serves every suite, loads each page in a browser and collects the
	// results and coverage. It returns ErrTestsFailed when any suite failed.
	Run(ctx context.Context, args RunArgs) ([]m.SuiteResult, error)
	// Serve blocks until ctx is cancelled.
	Serve(ctx context.Context, args ServeArgs) error
}

// ServerFactory builds the suite page server for a set of suites.
type ServerFactory func(suites []*m.SuiteDescription, coverage bool) (SuitePageServer, error)

// BrowserFactory opens the browser used by Run.
type BrowserFactory func() (adapter.Browser, error)

type workflow struct {
	adapter.SuiteLoader
	adapter.ReportStore
	controller.UI

	newServer  ServerFactory
	newBrowser BrowserFactory
}

// NewWorkflow creates a new Workflow instance with the provided dependencies.
func NewWorkflow(
	loader adapter.SuiteLoader,
	reportStore adapter.ReportStore,
	ui controller.UI,
	newServer ServerFactory,
	newBrowser BrowserFactory,
) Workflow {
	return &workflow{
		SuiteLoader: loader,
		ReportStore: reportStore,
		UI:          ui,
		newServer:   newServer,
		newBrowser:  newBrowser,
	}
}

func (w *workflow) List(ctx context.Context, args ListArgs) error {
	if err := w.Start(ctx, controller.WithListMode()); err != nil {
		slog.Error("Failed to start UI", "error", err)
		return err
	}
	defer w.Close(ctx)

	suites, err := w.LoadAll(args.SuitePaths)
	if err != nil {
		slog.Error("Failed to load suites", "error", err)
		return fmt.Errorf("load suites: %w", err)
	}

	if err := w.DisplaySuites(ctx, suites); err != nil {
		return fmt.Errorf("display: %w", err)
	}

	w.Wait(ctx)

	return nil
}

func (w *workflow) Run(ctx context.Context, args RunArgs) ([]m.SuiteResult, error) {
	if err := w.Start(ctx, controller.WithRunMode()); err != nil {
		slog.Error("Failed to start UI", "error", err)
		return nil, err
	}
	defer w.Close(ctx)

	suites, err := w.LoadAll(args.SuitePaths)
	if err != nil {
		slog.Error("Failed to load suites", "error", err)
		return nil, fmt.Errorf("load suites: %w", err)
	}

	server, err := w.startServer(ctx, suites, args.Coverage)
	if err != nil {
		return nil, err
	}
	defer w.stopServer(ctx, server)

	browser, err := w.newBrowser()
	if err != nil {
		slog.Error("Failed to open browser", "error", err)
		return nil, fmt.Errorf("open browser: %w", err)
	}

	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			slog.Warn("Failed to close browser", "error", closeErr)
		}
	}()

	results, err := w.visitSuites(ctx, server, browser, args.Parallel)
	if err != nil {
		return results, err
	}

	if err := w.DisplayResults(ctx, results); err != nil {
		return results, fmt.Errorf("display: %w", err)
	}

	if args.Coverage {
		timeout := args.CoverageTimeout
		if timeout <= 0 {
			timeout = DefaultCoverageTimeout
		}

		if err := w.collectCoverage(ctx, server, timeout); err != nil {
			return results, err
		}
	}

	for _, result := range results {
		if !result.Passed() {
			return results, ErrTestsFailed
		}
	}

	return results, nil
}

func (w *workflow) Serve(ctx context.Context, args ServeArgs) error {
	if err := w.Start(ctx, controller.WithServeMode()); err != nil {
		slog.Error("Failed to start UI", "error", err)
		return err
	}
	defer w.Close(context.WithoutCancel(ctx))

	suites, err := w.LoadAll(args.SuitePaths)
	if err != nil {
		slog.Error("Failed to load suites", "error", err)
		return fmt.Errorf("load suites: %w", err)
	}

	server, err := w.startServer(ctx, suites, args.Coverage)
	if err != nil {
		return err
	}
	defer w.stopServer(ctx, server)

	links := make([]controller.SuiteLink, 0, len(suites))
	for _, name := range server.SuiteNames() {
		links = append(links, controller.SuiteLink{Name: name, URL: server.SuiteURL(name)})
	}

	w.DisplayServerInfo(ctx, server.RootURL(), links)

	<-ctx.Done()

	if !args.Coverage {
		return nil
	}

	// Only report coverage when every suite page was opened at least once.
	if err := w.collectCoverage(context.WithoutCancel(ctx), server, 0); err != nil {
		slog.Info("Skipping coverage report", "reason", err)
	}

	return nil
}

func (w *workflow) startServer(ctx context.Context, suites []*m.SuiteDescription, coverage bool) (SuitePageServer, error) {
	server, err := w.newServer(suites, coverage)
	if err != nil {
		slog.Error("Failed to create suite page server", "error", err)
		return nil, fmt.Errorf("create server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		w.stopServer(ctx, server)
		return nil, fmt.Errorf("start server: %w", err)
	}

	return server, nil
}

func (w *workflow) stopServer(ctx context.Context, server SuitePageServer) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()

	if err := server.Stop(stopCtx); err != nil {
		slog.Error("Failed to stop suite page server", "error", err)
	}
}

// visitSuites loads every suite page with at most parallel pages open.
// A failing page is recorded in its SuiteResult and does not stop the others.
func (w *workflow) visitSuites(ctx context.Context, server SuitePageServer, browser adapter.Browser, parallel int) ([]m.SuiteResult, error) {
	names := server.SuiteNames()
	results := make([]m.SuiteResult, len(names))

	if parallel <= 0 {
		parallel = 1
	}

	var group errgroup.Group
	group.SetLimit(parallel)

	for i, name := range names {
		link := controller.SuiteLink{Name: name, URL: server.SuiteURL(name)}

		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			w.DisplayStartingSuiteInfo(ctx, link)

			tests, err := browser.PageResults(ctx, link.URL)
			if err != nil {
				slog.Error("Failed to run suite", "suite", name, "url", link.URL, "error", err)
			}

			results[i] = m.SuiteResult{Suite: name, URL: link.URL, Results: tests, Err: err}
			w.DisplaySuiteResult(ctx, results[i])

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return results, err
	}

	return results, nil
}

func (w *workflow) collectCoverage(ctx context.Context, server SuitePageServer, timeout time.Duration) error {
	store, err := server.WaitForAllCoverage(ctx, timeout)
	if err != nil {
		if errors.Is(err, ErrCoverageTimeout) {
			return err
		}

		return fmt.Errorf("wait for coverage: %w", err)
	}

	if store == nil {
		return nil
	}

	snapshot := store.Snapshot()

	if err := w.SaveReports(snapshot); err != nil {
		slog.Error("Failed to save coverage reports", "error", err)
		return fmt.Errorf("save reports: %w", err)
	}

	if err := w.DisplayCoverage(ctx, snapshot); err != nil {
		return fmt.Errorf("display: %w", err)
	}

	return nil
}
