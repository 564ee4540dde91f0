// Package controller provides output adapters for displaying suites, test
// results and coverage.
package controller

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	m "jstool.dev/pkg/jstool/internal/model"
)

// StartMode defines the mode of operation for the UI.
type StartMode int

// Available StartMode values.
const (
	ModeRun StartMode = iota
	ModeServe
	ModeList
)

// StartOption is a functional option for Start method.
type StartOption func(*StartConfig)

// StartConfig holds configuration for starting the UI.
type StartConfig struct {
	mode StartMode
}

// WithRunMode sets the UI to headless run mode.
func WithRunMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeRun
	}
}

// WithServeMode sets the UI to interactive serve mode.
func WithServeMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeServe
	}
}

// WithListMode sets the UI to suite listing mode.
func WithListMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeList
	}
}

func applyStartOptions(options []StartOption) StartConfig {
	cfg := StartConfig{mode: ModeRun}
	for _, option := range options {
		option(&cfg)
	}

	return cfg
}

// SuiteLink names the URL a suite is served at.
type SuiteLink struct {
	Name string
	URL  string
}

// UI defines how suites, results and coverage are shown to the user.
// Implementations must be safe for concurrent use: suites are visited in parallel.
type UI interface {
	Start(ctx context.Context, options ...StartOption) error
	Close(ctx context.Context)
	Wait(ctx context.Context) // Wait for UI to finish (user closes it)
	DisplaySuites(ctx context.Context, suites []*m.SuiteDescription) error
	DisplayServerInfo(ctx context.Context, rootURL string, suites []SuiteLink)
	DisplayStartingSuiteInfo(ctx context.Context, suite SuiteLink)
	DisplaySuiteResult(ctx context.Context, result m.SuiteResult)
	DisplayResults(ctx context.Context, results []m.SuiteResult) error
	DisplayCoverage(ctx context.Context, snapshot m.CoverageSnapshot) error
}

// NewUI picks the interactive TUI for terminals and SimpleUI otherwise.
func NewUI(cmd *cobra.Command, tty bool) UI {
	if tty {
		return NewTUI(cmd.OutOrStdout())
	}

	return NewSimpleUI(cmd)
}

// IsTTY reports whether f is attached to a terminal.
func IsTTY(f *os.File) bool {
	if f == nil {
		return false
	}

	return term.IsTerminal(int(f.Fd()))
}
