// Package model defines the data structures shared by the suite server,
// the coverage store and the command-line workflow.
package model

import (
	"regexp"
	"slices"
)

// TestRunner names the JavaScript test framework a suite page is rendered for.
type TestRunner string

const (
	// RunnerJasmine renders a Jasmine runner page.
	RunnerJasmine TestRunner = "jasmine"
)

// SuiteDescription is an immutable description of one JavaScript test suite.
// All paths are relative to RootDir and use forward slashes.
type SuiteDescription struct {
	Name         string
	RootDir      string
	TestRunner   TestRunner
	LibPaths     []string
	SrcPaths     []string
	SpecPaths    []string
	FixturePaths []string

	includeInPage   []*regexp.Regexp
	excludeFromPage []*regexp.Regexp
}

// NewSuiteDescription builds a SuiteDescription. The include and exclude
// rules decide which scripts get a <script> tag on the runner page.
func NewSuiteDescription(name, rootDir string, runner TestRunner, include, exclude []*regexp.Regexp) *SuiteDescription {
	return &SuiteDescription{
		Name:            name,
		RootDir:         rootDir,
		TestRunner:      runner,
		includeInPage:   include,
		excludeFromPage: exclude,
	}
}

// IncludeInPage reports whether the script at path belongs on the runner page.
// Scripts are included unless an exclude rule matches and no include rule does.
func (s *SuiteDescription) IncludeInPage(path string) bool {
	for _, rule := range s.includeInPage {
		if rule.MatchString(path) {
			return true
		}
	}

	for _, rule := range s.excludeFromPage {
		if rule.MatchString(path) {
			return false
		}
	}

	return true
}

// InPage filters paths down to those included on the runner page.
func (s *SuiteDescription) InPage(paths []string) []string {
	filtered := make([]string, 0, len(paths))

	for _, path := range paths {
		if s.IncludeInPage(path) {
			filtered = append(filtered, path)
		}
	}

	return filtered
}

// IsSource reports whether path is one of the suite's declared source files.
func (s *SuiteDescription) IsSource(path string) bool {
	return slices.Contains(s.SrcPaths, path)
}

// IsDependency reports whether path is declared anywhere in the suite:
// as a library, source, spec or fixture file.
func (s *SuiteDescription) IsDependency(path string) bool {
	return slices.Contains(s.LibPaths, path) ||
		slices.Contains(s.SrcPaths, path) ||
		slices.Contains(s.SpecPaths, path) ||
		slices.Contains(s.FixturePaths, path)
}
