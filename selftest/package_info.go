// Package selftest contains the engine's self-verification suite and its
// supporting API.
//
// The suite runs the isolation engine end to end against real SQLite stores:
// transactional rollback between tests, the access guard, the fixture flush
// and snapshot cycles, per-test data copies, the live server, and the
// cross-process serialization lock. It runs outside the Go test runner so it
// can be shipped in the command-line binary and pointed at any environment.
package selftest
