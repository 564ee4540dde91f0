package domain

import (
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	m "jstool.dev/pkg/jstool/internal/model"
)

// CoverageStore accumulates line coverage reported by browsers across
// every suite. All methods are safe for concurrent use.
type CoverageStore interface {
	// RegisterExpectedSource records a source file before any report arrives,
	// so it shows up with 0% coverage if no browser ever executes it.
	RegisterExpectedSource(rootDir, relPath string)
	// MarkSuiteReported records that suiteName posted at least one report.
	MarkSuiteReported(suiteName string)
	// MergeReport ORs report into the stored coverage. Paths in report are
	// relative to rootDir.
	MergeReport(rootDir string, report m.CoverageReport)
	// SourceList returns every known absolute source path, sorted.
	SourceList() []string
	// CoverageFor returns a copy of the coverage for path.
	CoverageFor(path string) (m.LineCoverage, bool)
	// ReportedSuiteNames returns the suites seen so far, sorted.
	ReportedSuiteNames() []string
	// HasAllSuites reports whether every name in suiteNames has reported.
	HasAllSuites(suiteNames []string) bool
	// Snapshot copies the whole store.
	Snapshot() m.CoverageSnapshot
}

type coverageStore struct {
	mu             sync.RWMutex
	coverage       map[string]m.LineCoverage
	expectedFiles  map[string]struct{}
	reportedSuites map[string]struct{}
	rootDirs       map[string]struct{}
}

// NewCoverageStore constructs an empty CoverageStore.
func NewCoverageStore() CoverageStore {
	return &coverageStore{
		coverage:       make(map[string]m.LineCoverage),
		expectedFiles:  make(map[string]struct{}),
		reportedSuites: make(map[string]struct{}),
		rootDirs:       make(map[string]struct{}),
	}
}

func sourcePath(rootDir, relPath string) string {
	relPath = strings.TrimLeft(relPath, `/\`)
	return filepath.Join(rootDir, filepath.FromSlash(relPath))
}

func (s *coverageStore) RegisterExpectedSource(rootDir, relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expectedFiles[sourcePath(rootDir, relPath)] = struct{}{}
	s.rootDirs[rootDir] = struct{}{}
}

func (s *coverageStore) MarkSuiteReported(suiteName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reportedSuites[suiteName] = struct{}{}
}

func (s *coverageStore) MergeReport(rootDir string, report m.CoverageReport) {
	// Convert outside the lock; the merge itself is one critical section so
	// a reader never sees half of a report.
	incoming := make(map[string]m.LineCoverage, len(report))

	for relPath, fileReport := range report {
		if fileReport.LineData == nil {
			continue
		}

		incoming[sourcePath(rootDir, relPath)] = fileReport.LineCoverage()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rootDirs[rootDir] = struct{}{}

	for path, lines := range incoming {
		existing, ok := s.coverage[path]
		if !ok {
			existing = make(m.LineCoverage, len(lines))
			s.coverage[path] = existing
		}

		for line, covered := range lines {
			existing[line] = existing[line] || covered
		}
	}
}

func (s *coverageStore) SourceList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sourceListLocked()
}

func (s *coverageStore) sourceListLocked() []string {
	paths := make([]string, 0, len(s.expectedFiles)+len(s.coverage))

	for path := range s.expectedFiles {
		paths = append(paths, path)
	}

	for path := range s.coverage {
		if _, ok := s.expectedFiles[path]; !ok {
			paths = append(paths, path)
		}
	}

	sort.Strings(paths)

	return paths
}

func (s *coverageStore) CoverageFor(path string) (m.LineCoverage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.coverageForLocked(path)
}

func (s *coverageStore) coverageForLocked(path string) (m.LineCoverage, bool) {
	if lines, ok := s.coverage[path]; ok {
		return lines.Clone(), true
	}

	if _, ok := s.expectedFiles[path]; ok {
		return m.LineCoverage{}, true
	}

	return nil, false
}

func (s *coverageStore) ReportedSuiteNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.reportedSuites))
	for name := range s.reportedSuites {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

func (s *coverageStore) HasAllSuites(suiteNames []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range suiteNames {
		if _, ok := s.reportedSuites[name]; !ok {
			return false
		}
	}

	return true
}

func (s *coverageStore) Snapshot() m.CoverageSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := m.CoverageSnapshot{}

	for root := range s.rootDirs {
		snapshot.RootDirs = append(snapshot.RootDirs, root)
	}

	sort.Strings(snapshot.RootDirs)

	for _, path := range s.sourceListLocked() {
		lines, _ := s.coverageForLocked(path)
		snapshot.Files = append(snapshot.Files, m.FileCoverage{Path: path, Lines: lines})
	}

	return snapshot
}
