package main

import (
	"fmt"
	"os"

	"github.com/isotx/isotx/selftest"
	"github.com/isotx/isotx/testfw"
)

func main() {
	var params commandParams
	if !params.Read(os.Args) {
		os.Exit(1)
	}

	workDir := params.workDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "isotx-selftest")
		if err != nil {
			fmt.Fprintf(os.Stderr, "creating working directory: %s\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		workDir = dir
	}

	fmt.Println()
	printFilterDescription(params.filters)

	fmt.Println("Running self-test suite")

	testLogger := &ConsoleTestLogger{
		DebugOutputOnFailure: params.debug || params.debugAll,
		DebugOutputOnSuccess: params.debugAll,
	}

	results := selftest.RunSuite(workDir, params.filters.AsFilter, testLogger)

	fmt.Println()
	printResults(results)
	if !results.OK() {
		fmt.Printf("To re-run just the failed tests: %s\n", rerunCommand(os.Args[0], results.Failures))
		os.Exit(1)
	}
}

func printFilterDescription(filters testfw.RegexFilters) {
	if !filters.MustMatch.IsDefined() && !filters.MustNotMatch.IsDefined() {
		return
	}
	fmt.Println("Some tests will be skipped based on the filter criteria for this test run:")
	if filters.MustMatch.IsDefined() {
		fmt.Printf("  skip any not matching %s\n", filters.MustMatch)
	}
	if filters.MustNotMatch.IsDefined() {
		fmt.Printf("  skip any matching %s\n", filters.MustNotMatch)
	}
	fmt.Println()
}

func printResults(results testfw.Results) {
	if results.OK() {
		passColor.Printf("All tests passed (%d total)\n", len(results.Tests))
		return
	}
	failColor.Printf("%d of %d tests failed:\n", len(results.Failures), len(results.Tests))
	for _, f := range results.Failures {
		fmt.Printf("  %s\n", f.TestID)
	}
}
