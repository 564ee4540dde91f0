package adapter

import "errors"

var (
	// ErrToolNotFound means the instrumenter (JSCover JAR or the java
	// binary) is missing. It is a configuration error and is never retried.
	ErrToolNotFound = errors.New("instrumenter tool not found")

	// ErrPortConflict means the instrumenter process exited right after
	// launch, which is how JSCover reports a port that is already bound.
	ErrPortConflict = errors.New("instrumenter exited immediately")

	// ErrNoFreePort means the port registry has leased every port in its range.
	ErrNoFreePort = errors.New("no unused port left in range")

	// ErrInstrumenterStart means every start attempt failed.
	ErrInstrumenterStart = errors.New("could not start instrumenter")

	// ErrInstrumentation means an instrumented source could not be fetched.
	ErrInstrumentation = errors.New("could not retrieve instrumented source")

	// ErrSuiteDescription means a suite description file is invalid.
	ErrSuiteDescription = errors.New("invalid suite description")

	// ErrRender means a runner page could not be rendered.
	ErrRender = errors.New("could not render runner page")

	// ErrBrowser means a suite page could not be loaded or read in the browser.
	ErrBrowser = errors.New("browser error")
)
