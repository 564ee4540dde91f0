package adapter

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"gopkg.in/yaml.v3"

	m "jstool.dev/pkg/jstool/internal/model"
)

// DefaultSuiteFile is the description file `jstool init` creates.
const DefaultSuiteFile = "js_test_suite.yml"

const defaultSuiteHeader = `# JavaScript test suite description.
# Paths are relative to this file. Directories are searched recursively.
`

// DefaultSuiteDescription returns the YAML of a starter suite description.
func DefaultSuiteDescription() ([]byte, error) {
	desc := suiteFile{
		TestRunner:   string(m.RunnerJasmine),
		LibPaths:     stringList{"lib"},
		SrcPaths:     stringList{"src"},
		SpecPaths:    stringList{"spec"},
		FixturePaths: stringList{"fixtures"},
	}

	body, err := yaml.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("marshal default suite: %w", err)
	}

	return append([]byte(defaultSuiteHeader), body...), nil
}

// WriteDefaultSuite writes the starter description to path. An existing file
// is left untouched and reported with created == false.
func WriteDefaultSuite(fsAdapter SourceFSAdapter, path string) (created bool, err error) {
	if _, err := fsAdapter.FileInfo(path); err == nil {
		slog.Warn("Suite description already exists, not overwriting", "path", path)
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	content, err := DefaultSuiteDescription()
	if err != nil {
		return false, err
	}

	if err := fsAdapter.WriteFile(path, content, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}

	return true, nil
}
