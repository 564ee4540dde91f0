// Package adapter contains the infrastructure jstool talks to: the local
// filesystem, suite description files, the JSCover instrumenter process,
// the runner page templates, report files and the headless browser.
package adapter

import (
	"os"
	"path/filepath"
)

// SourceFSAdapter abstracts the filesystem operations used to resolve suite
// files, serve their contents and write reports. It hides direct `os`
// access so the domain layer can be tested without touching the disk.
type SourceFSAdapter interface {
	// Walk traverses root recursively in lexical order.
	Walk(root string, fn FilepathWalkFunc) error

	// ReadFile loads a file from disk and returns its contents.
	ReadFile(path string) ([]byte, error)

	// FileInfo returns metadata for a path so callers can check existence or
	// distinguish between files and directories.
	FileInfo(path string) (os.FileInfo, error)

	// WriteFile writes content to a file, creating parent directories.
	WriteFile(path string, content []byte, perm os.FileMode) error

	// RelPath returns the relative path from base to target.
	RelPath(base, target string) (string, error)

	// JoinPath joins path elements into a single path.
	JoinPath(elem ...string) string
}

// FilepathWalkFunc mirrors the callback shape used by filepath.Walk. It is
// defined here to avoid leaking the standard-library type into the domain layer.
type FilepathWalkFunc func(path string, info os.FileInfo, err error) error

// LocalSourceFSAdapter implements SourceFSAdapter on the local disk.
type LocalSourceFSAdapter struct{}

// NewLocalSourceFSAdapter constructs a LocalSourceFSAdapter instance ready to
// be wired into the loader and the page handlers.
func NewLocalSourceFSAdapter() *LocalSourceFSAdapter {
	return &LocalSourceFSAdapter{}
}

// Walk iterates over every file and directory under root.
func (a *LocalSourceFSAdapter) Walk(root string, fn FilepathWalkFunc) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		return fn(path, info, err)
	})
}

// ReadFile loads file contents from disk.
func (a *LocalSourceFSAdapter) ReadFile(path string) ([]byte, error) {
	// #nosec G304 - callers only pass paths declared in a suite description
	return os.ReadFile(path)
}

// FileInfo returns os.FileInfo metadata for the given path.
func (a *LocalSourceFSAdapter) FileInfo(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// WriteFile writes content to a file with the given permissions.
func (a *LocalSourceFSAdapter) WriteFile(path string, content []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	return os.WriteFile(path, content, perm)
}

// RelPath returns the relative path from base to target.
func (a *LocalSourceFSAdapter) RelPath(base, target string) (string, error) {
	return filepath.Rel(base, target)
}

// JoinPath joins path elements into a single path.
func (a *LocalSourceFSAdapter) JoinPath(elem ...string) string {
	return filepath.Join(elem...)
}
