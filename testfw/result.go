package testfw

import (
	"fmt"
	"strings"
)

// TestID identifies a test as a path of nested Run names.
type TestID struct {
	Path []string
}

func (t TestID) String() string {
	return strings.Join(t.Path, "/")
}

// TestResult is the outcome of a single test.
type TestResult struct {
	TestID  TestID
	Errors  []error
	Skipped bool
}

// Results accumulates the outcomes of a suite run.
type Results struct {
	Tests    []TestResult
	Failures []TestResult
}

// OK is true if no test failed.
func (r Results) OK() bool {
	return len(r.Failures) == 0
}

// TestFailure pairs a test identifier with the error that failed it.
type TestFailure struct {
	ID  TestID
	Err error
}

func (f TestFailure) Error() string {
	return fmt.Sprintf("[%s]: %s", f.ID, f.Err)
}
