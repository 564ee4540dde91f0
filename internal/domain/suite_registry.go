package domain

import (
	"fmt"

	m "jstool.dev/pkg/jstool/internal/model"
)

// SuiteRegistry is an immutable, name-indexed set of suites.
type SuiteRegistry interface {
	// Lookup returns the suite called name.
	Lookup(name string) (*m.SuiteDescription, bool)
	// Names returns suite names in registration order.
	Names() []string
	// Suites returns the suites in registration order.
	Suites() []*m.SuiteDescription
}

type suiteRegistry struct {
	byName map[string]*m.SuiteDescription
	suites []*m.SuiteDescription
}

// NewSuiteRegistry indexes suites by name. Duplicate names fail with ErrDuplicateSuite.
func NewSuiteRegistry(suites []*m.SuiteDescription) (SuiteRegistry, error) {
	registry := &suiteRegistry{
		byName: make(map[string]*m.SuiteDescription, len(suites)),
		suites: make([]*m.SuiteDescription, 0, len(suites)),
	}

	for _, suite := range suites {
		if suite == nil {
			return nil, fmt.Errorf("suite description is nil")
		}

		if _, dup := registry.byName[suite.Name]; dup {
			return nil, fmt.Errorf("%w: '%s'", ErrDuplicateSuite, suite.Name)
		}

		registry.byName[suite.Name] = suite
		registry.suites = append(registry.suites, suite)
	}

	return registry, nil
}

func (r *suiteRegistry) Lookup(name string) (*m.SuiteDescription, bool) {
	suite, ok := r.byName[name]
	return suite, ok
}

func (r *suiteRegistry) Names() []string {
	names := make([]string, 0, len(r.suites))
	for _, suite := range r.suites {
		names = append(names, suite.Name)
	}

	return names
}

func (r *suiteRegistry) Suites() []*m.SuiteDescription {
	suites := make([]*m.SuiteDescription, len(r.suites))
	copy(suites, r.suites)

	return suites
}
