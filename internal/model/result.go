package model

// ResultStatus is the outcome of a single JavaScript test.
type ResultStatus string

const (
	// StatusPass marks a passing test.
	StatusPass ResultStatus = "pass"
	// StatusFail marks a failing expectation.
	StatusFail ResultStatus = "fail"
	// StatusError marks a test that threw.
	StatusError ResultStatus = "error"
	// StatusSkip marks a disabled or pending test.
	StatusSkip ResultStatus = "skip"
)

// TestResult is one test reported by a suite runner page.
type TestResult struct {
	Group  string       `json:"testGroup"`
	Name   string       `json:"testName"`
	Status ResultStatus `json:"testStatus"`
	Detail string       `json:"testDetail"`
}

// SuiteResult holds every test result produced by one suite page.
type SuiteResult struct {
	Suite   string
	URL     string
	Results []TestResult
	Err     error
}

// ResultStats counts results by status.
type ResultStats struct {
	Passed  int
	Failed  int
	Errored int
	Skipped int
}

// Stats tallies the suite's results. Unknown statuses are not counted.
func (r SuiteResult) Stats() ResultStats {
	var stats ResultStats

	for _, result := range r.Results {
		switch result.Status {
		case StatusPass:
			stats.Passed++
		case StatusFail:
			stats.Failed++
		case StatusError:
			stats.Errored++
		case StatusSkip:
			stats.Skipped++
		}
	}

	return stats
}

// Passed reports whether the suite ran and nothing failed or errored.
func (r SuiteResult) Passed() bool {
	if r.Err != nil {
		return false
	}

	stats := r.Stats()

	return stats.Failed == 0 && stats.Errored == 0
}
