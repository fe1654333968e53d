package selftest

import (
	"os"
	"path/filepath"

	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/fixtures"
	"github.com/isotx/isotx/registry"
	"github.com/isotx/isotx/testfw"
)

// seedFixture is the canonical seed used across the suite: one table, one
// baseline row.
const seedFixture = `[
	{"table": "notes", "rows": [{"id": 1, "body": "baseline"}]}
]`

type environment struct {
	workDir string
}

// T represents a test or subtest in the self-verification suite.
//
// It implements the same basic functionality as Go's testing.T, but in an
// environment outside the Go test runner, with buffered debug logging
// provided by the lower-level testfw package. To make assertions, pass the
// *T to the assert and require packages as if it were a *testing.T.
//
// It also carries the suite-specific helpers: constructing throwaway SQLite
// registries, writing fixture files, and registering cleanups that run when
// the subtest ends.
type T struct {
	context  *testfw.Context
	env      *environment
	cleanups []func()
}

func newTestScope(context *testfw.Context, env *environment) *T {
	return &T{context: context, env: env}
}

func (t *T) close() {
	for i := len(t.cleanups) - 1; i >= 0; i-- {
		t.cleanups[i]()
	}
	t.cleanups = nil
}

// Errorf is called by assertions to log a test failure. It does not cause an
// immediate exit.
func (t *T) Errorf(format string, args ...interface{}) {
	t.context.Errorf(format, args...)
}

// FailNow is called by assertions when a test should fail and immediately
// exit. The methods in the require package call FailNow.
func (t *T) FailNow() {
	t.context.FailNow()
}

// Run runs a subtest, equivalent to the Run method of testing.T. The
// function receives a new T whose cleanups run when it returns.
func (t *T) Run(name string, action func(*T)) {
	var t1 *T
	t.context.Run(name, func(c *testfw.Context) {
		t1 = newTestScope(c, t.env)
		action(t1)
	})
	if t1 != nil {
		t1.close()
	}
}

// Debug logs some debug output for the test. The output is passed to the
// test logger at the end of the test.
func (t *T) Debug(format string, args ...interface{}) {
	t.context.Debug(format, args...)
}

// DebugLogger exposes the test's buffered debug log to engine components.
func (t *T) DebugLogger() testfw.Logger {
	return t.context.DebugLogger()
}

// Cleanup registers a function to run, in reverse order, when the subtest
// ends.
func (t *T) Cleanup(fn func()) {
	t.cleanups = append(t.cleanups, fn)
}

// NewRegistry builds a registry over throwaway in-memory stores and arranges
// for every connection to be closed when the subtest ends.
func (t *T) NewRegistry(databases map[string]registry.Database) *registry.SQLiteRegistry {
	reg := registry.NewSQLiteRegistry(databases)
	t.Cleanup(func() {
		for _, alias := range reg.Aliases() {
			_ = reg.Close(alias)
		}
	})
	return reg
}

// NewSeededRegistry builds a registry whose every alias has the notes table,
// plus a loader resolving the "seed" fixture. This is the standard starting
// point for lifecycle tests.
func (t *T) NewSeededRegistry(databases map[string]registry.Database) (*registry.SQLiteRegistry, *fixtures.JSONLoader) {
	reg := t.NewRegistry(databases)
	for alias := range databases {
		require.NoError(t, reg.Exec(alias, "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)"))
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.json"), []byte(seedFixture), 0600))
	return reg, &fixtures.JSONLoader{Dir: dir, DB: reg, Logger: t.DebugLogger()}
}

// TempDir creates a directory under the suite's working directory, removed
// when the subtest ends.
func (t *T) TempDir() string {
	dir, err := os.MkdirTemp(t.env.workDir, "scope")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// TempFile creates an empty file under a fresh temp directory and returns
// its path.
func (t *T) TempFile(name string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, nil, 0600))
	return path
}

// CountNotes reads the row count of the notes table on an alias, failing the
// test on query errors.
func CountNotes(t *T, reg *registry.SQLiteRegistry, alias string) int {
	n, err := reg.QueryInt(alias, "SELECT count(*) FROM notes")
	require.NoError(t, err)
	return n
}
