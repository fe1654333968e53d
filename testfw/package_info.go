// Package testfw is a minimal test-running framework used by the isotx
// self-test suite. It provides hierarchical test contexts, regex-based
// filtering, and pluggable result/debug-output reporting, independent of the
// standard testing package so that suites can be driven from a CLI binary.
package testfw
