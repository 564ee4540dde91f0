package domain

import "errors"

var (
	// ErrDuplicateSuite means two suites share a name. It is a configuration error.
	ErrDuplicateSuite = errors.New("duplicate suite name")

	// ErrCoverageTimeout means not every suite reported coverage before the deadline.
	ErrCoverageTimeout = errors.New("timed out waiting for coverage")

	// ErrTestsFailed means at least one suite had a failing or erroring test,
	// or its page could not be run.
	ErrTestsFailed = errors.New("tests failed")
)
