package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	m "jstool.dev/pkg/jstool/internal/model"
)

// supportedRunners lists the test runners a suite may name.
var supportedRunners = []m.TestRunner{m.RunnerJasmine}

// stringList accepts either a YAML sequence of strings or a single scalar.
type stringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *stringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*s = stringList{value.Value}
		return nil
	}

	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}

	*s = list

	return nil
}

type suiteFile struct {
	Name            string     `yaml:"name,omitempty"`
	TestRunner      string     `yaml:"test_runner,omitempty"`
	LibPaths        stringList `yaml:"lib_paths,omitempty"`
	SrcPaths        stringList `yaml:"src_paths,omitempty"`
	SpecPaths       stringList `yaml:"spec_paths,omitempty"`
	FixturePaths    stringList `yaml:"fixture_paths,omitempty"`
	IncludeInPage   stringList `yaml:"include_in_page,omitempty"`
	ExcludeFromPage stringList `yaml:"exclude_from_page,omitempty"`
}

// SuiteLoader turns suite description files into SuiteDescriptions.
type SuiteLoader interface {
	Load(descPath string) (*m.SuiteDescription, error)
	LoadAll(descPaths []string) ([]*m.SuiteDescription, error)
}

// YAMLSuiteLoader loads YAML suite descriptions. Paths inside a description
// are relative to the directory containing it.
type YAMLSuiteLoader struct {
	fs SourceFSAdapter
}

// NewYAMLSuiteLoader constructs a YAMLSuiteLoader reading through fs.
func NewYAMLSuiteLoader(fs SourceFSAdapter) *YAMLSuiteLoader {
	return &YAMLSuiteLoader{fs: fs}
}

// LoadAll loads every description in order.
func (l *YAMLSuiteLoader) LoadAll(descPaths []string) ([]*m.SuiteDescription, error) {
	suites := make([]*m.SuiteDescription, 0, len(descPaths))

	for _, descPath := range descPaths {
		suite, err := l.Load(descPath)
		if err != nil {
			return nil, err
		}

		suites = append(suites, suite)
	}

	return suites, nil
}

// Load reads and validates one suite description, resolving its path lists.
func (l *YAMLSuiteLoader) Load(descPath string) (*m.SuiteDescription, error) {
	data, err := l.fs.ReadFile(descPath)
	if err != nil {
		return nil, fmt.Errorf("%w: could not load suite description file %q: %w", ErrSuiteDescription, descPath, err)
	}

	var desc suiteFile

	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSuiteDescription, descPath, describeYAMLError(err))
	}

	if err := validateSuiteFile(desc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSuiteDescription, descPath, err)
	}

	rootDir, err := filepath.Abs(filepath.Dir(descPath))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSuiteDescription, err)
	}

	if info, err := l.fs.FileInfo(rootDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a valid directory", ErrSuiteDescription, rootDir)
	}

	include, err := compileRules(desc.IncludeInPage)
	if err != nil {
		return nil, fmt.Errorf("%w: include_in_page: %w", ErrSuiteDescription, err)
	}

	exclude, err := compileRules(desc.ExcludeFromPage)
	if err != nil {
		return nil, fmt.Errorf("%w: exclude_from_page: %w", ErrSuiteDescription, err)
	}

	name := desc.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(descPath), filepath.Ext(descPath))
	}

	suite := m.NewSuiteDescription(name, rootDir, m.TestRunner(desc.TestRunner), include, exclude)
	suite.LibPaths = l.filePaths(rootDir, desc.LibPaths, isJSFile)
	suite.SrcPaths = l.filePaths(rootDir, desc.SrcPaths, isJSFile)
	suite.SpecPaths = l.filePaths(rootDir, desc.SpecPaths, isJSFile)
	suite.FixturePaths = l.filePaths(rootDir, desc.FixturePaths, nil)

	slog.Debug("loaded suite description", "suite", name, "rootDir", rootDir,
		"libs", len(suite.LibPaths), "srcs", len(suite.SrcPaths), "specs", len(suite.SpecPaths), "fixtures", len(suite.FixturePaths))

	return suite, nil
}

func describeYAMLError(err error) error {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf(`suite description must be a dictionary of keys like

spec_paths:
    - spec

and not a list like

- spec_paths:
    - spec

(%w)`, err)
	}

	return err
}

func validateSuiteFile(desc suiteFile) error {
	required := map[string]bool{
		"src_paths":   len(desc.SrcPaths) > 0,
		"spec_paths":  len(desc.SpecPaths) > 0,
		"test_runner": desc.TestRunner != "",
	}

	for _, key := range []string{"src_paths", "spec_paths", "test_runner"} {
		if !required[key] {
			return fmt.Errorf("missing required key '%s'", key)
		}
	}

	if !slices.Contains(supportedRunners, m.TestRunner(desc.TestRunner)) {
		return fmt.Errorf("'%s' is not a supported test runner", desc.TestRunner)
	}

	return nil
}

func compileRules(rules []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(rules))

	for _, rule := range rules {
		re, err := regexp.Compile(rule)
		if err != nil {
			return nil, err
		}

		compiled = append(compiled, re)
	}

	return compiled, nil
}

func isJSFile(path string) bool {
	return filepath.Ext(path) == ".js"
}

// filePaths expands files and directories in paths to the files they
// contain, relative to rootDir with forward slashes. Files found under one
// directory are sorted case-insensitively while the order of the listed
// paths is kept. Duplicates are dropped. A nil keep accepts every file.
func (l *YAMLSuiteLoader) filePaths(rootDir string, paths []string, keep func(string) bool) []string {
	if keep == nil {
		keep = func(string) bool { return true }
	}

	var found []string

	for _, path := range paths {
		fullPath := l.fs.JoinPath(rootDir, path)

		info, err := l.fs.FileInfo(fullPath)
		if err != nil {
			slog.Warn("Could not find file or directory", "path", path)
			continue
		}

		if !info.IsDir() {
			if keep(fullPath) {
				found = append(found, fullPath)
			} else {
				slog.Warn("Skipping file because it does not have a '.js' extension", "path", path)
			}

			continue
		}

		found = append(found, l.walkDir(fullPath, keep)...)
	}

	relPaths := make([]string, 0, len(found))
	seen := make(map[string]struct{}, len(found))

	for _, fullPath := range found {
		rel, err := l.fs.RelPath(rootDir, fullPath)
		if err != nil {
			slog.Warn("Could not resolve path relative to suite root", "path", fullPath, "error", err)
			continue
		}

		rel = filepath.ToSlash(rel)
		if _, dup := seen[rel]; dup {
			continue
		}

		seen[rel] = struct{}{}
		relPaths = append(relPaths, rel)
	}

	return relPaths
}

func (l *YAMLSuiteLoader) walkDir(dir string, keep func(string) bool) []string {
	var inner []string

	err := l.fs.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && keep(path) {
			inner = append(inner, path)
		}

		return nil
	})
	if err != nil {
		slog.Warn("Failed to walk directory", "dir", dir, "error", err)
	}

	sort.SliceStable(inner, func(i, j int) bool {
		return strings.ToLower(inner[i]) < strings.ToLower(inner[j])
	})

	return inner
}
