package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotCoverageObject is returned when a coverage payload does not decode
// into a JSON object of per-file reports.
var ErrNotCoverageObject = errors.New("coverage data must be a JSON object")

// LineCoverage maps executable line numbers to whether they were executed.
type LineCoverage map[int]bool

// Covered returns the number of executed lines.
func (lc LineCoverage) Covered() int {
	covered := 0

	for _, hit := range lc {
		if hit {
			covered++
		}
	}

	return covered
}

// Total returns the number of executable lines.
func (lc LineCoverage) Total() int {
	return len(lc)
}

// Rate returns the covered fraction in [0, 1]. A file without executable
// lines has a rate of 0.
func (lc LineCoverage) Rate() float64 {
	if len(lc) == 0 {
		return 0
	}

	return float64(lc.Covered()) / float64(len(lc))
}

// Lines returns the executable line numbers in ascending order.
func (lc LineCoverage) Lines() []int {
	lines := make([]int, 0, len(lc))
	for line := range lc {
		lines = append(lines, line)
	}

	sort.Ints(lines)

	return lines
}

// Clone returns an independent copy.
func (lc LineCoverage) Clone() LineCoverage {
	clone := make(LineCoverage, len(lc))
	for line, hit := range lc {
		clone[line] = hit
	}

	return clone
}

// FileReport is the per-file payload posted by JSCover-instrumented pages.
// LineData is indexed by line number; nil entries are not executable and
// numbers are execution counts. Function and branch data are ignored.
type FileReport struct {
	LineData []*int `json:"lineData"`
}

// LineCoverage converts the execution counts into covered flags.
func (r FileReport) LineCoverage() LineCoverage {
	lines := make(LineCoverage, len(r.LineData))

	for num, count := range r.LineData {
		if count == nil {
			continue
		}

		lines[num] = *count > 0
	}

	return lines
}

// CoverageReport is one POSTed coverage payload keyed by source path
// relative to the suite root.
type CoverageReport map[string]FileReport

// ParseCoverageReport decodes a coverage POST body.
func ParseCoverageReport(body []byte) (CoverageReport, error) {
	var report CoverageReport

	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCoverageObject, err)
	}

	if report == nil {
		return nil, ErrNotCoverageObject
	}

	return report, nil
}

// FileCoverage is the coverage of one absolute source path.
type FileCoverage struct {
	Path  string
	Lines LineCoverage
}

// CoverageSnapshot is a point-in-time copy of aggregated coverage, sorted by path.
type CoverageSnapshot struct {
	RootDirs []string
	Files    []FileCoverage
}

// Covered returns the number of executed lines across all files.
func (s CoverageSnapshot) Covered() int {
	covered := 0
	for _, file := range s.Files {
		covered += file.Lines.Covered()
	}

	return covered
}

// Total returns the number of executable lines across all files.
func (s CoverageSnapshot) Total() int {
	total := 0
	for _, file := range s.Files {
		total += file.Lines.Total()
	}

	return total
}

// Rate returns the overall covered fraction in [0, 1].
func (s CoverageSnapshot) Rate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}

	return float64(s.Covered()) / float64(total)
}

// RelPath returns path relative to the longest root directory containing it,
// with forward slashes. Paths outside every root are returned unchanged.
func (s CoverageSnapshot) RelPath(path string) string {
	best := ""

	for _, root := range s.RootDirs {
		if len(root) <= len(best) {
			continue
		}

		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			best = root
		}
	}

	if best == "" {
		return path
	}

	rel, err := filepath.Rel(best, path)
	if err != nil {
		return path
	}

	return filepath.ToSlash(rel)
}
