package fixtures

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/registry"
)

const seedFixture = `[
	{
		"table": "authors",
		"rows": [
			{"id": 1, "name": "First"},
			{"id": 2, "name": "Second"}
		]
	},
	{
		"table": "books",
		"rows": [
			{"id": 1, "author_id": 1, "title": "One"}
		]
	}
]`

func newLoaderFixture(t *testing.T) (*JSONLoader, *registry.SQLiteRegistry) {
	t.Helper()
	reg := registry.NewSQLiteRegistry(map[string]registry.Database{
		"default": {DSN: ":memory:"},
	})
	require.NoError(t, reg.Exec("default",
		"CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT)"))
	require.NoError(t, reg.Exec("default",
		"CREATE TABLE books (id INTEGER PRIMARY KEY, author_id INTEGER REFERENCES authors(id), title TEXT)"))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.json"), []byte(seedFixture), 0600))

	return &JSONLoader{Dir: dir, DB: reg}, reg
}

func TestLoadFixturesInsertsRows(t *testing.T) {
	loader, reg := newLoaderFixture(t)

	require.NoError(t, loader.LoadFixtures([]string{"seed"}, "default"))

	n, err := reg.QueryInt("default", "SELECT count(*) FROM authors")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = reg.QueryInt("default", "SELECT count(*) FROM books WHERE author_id = 1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadFixturesUnknownFile(t *testing.T) {
	loader, _ := newLoaderFixture(t)
	err := loader.LoadFixtures([]string{"missing"}, "default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestFlushEmptiesAllTables(t *testing.T) {
	loader, reg := newLoaderFixture(t)
	require.NoError(t, loader.LoadFixtures([]string{"seed"}, "default"))

	var notified []string
	loader.FlushNotify = func(alias string) { notified = append(notified, alias) }

	require.NoError(t, loader.Flush("default", false, false))
	n, err := reg.QueryInt("default", "SELECT count(*) FROM authors")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"default"}, notified)
}

func TestFlushSuppressesNotificationForPartialSchemas(t *testing.T) {
	loader, _ := newLoaderFixture(t)
	notified := false
	loader.FlushNotify = func(string) { notified = true }

	require.NoError(t, loader.Flush("default", true, true))
	assert.False(t, notified)
}

func TestResetSequencesWithoutAutoincrementIsANoOp(t *testing.T) {
	loader, _ := newLoaderFixture(t)
	assert.NoError(t, loader.ResetSequences("default"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	loader, reg := newLoaderFixture(t)
	require.NoError(t, loader.LoadFixtures([]string{"seed"}, "default"))

	blob, err := loader.CaptureSnapshot("default")
	require.NoError(t, err)

	// Wreck the baseline, then restore.
	require.NoError(t, reg.Exec("default", "DELETE FROM books"))
	require.NoError(t, reg.Exec("default", "UPDATE authors SET name = 'overwritten'"))

	require.NoError(t, loader.RestoreSnapshot("default", blob))

	n, err := reg.QueryInt("default", "SELECT count(*) FROM books")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = reg.QueryInt("default", "SELECT count(*) FROM authors WHERE name = 'First'")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRestoreSnapshotRejectsMalformedBlob(t *testing.T) {
	loader, _ := newLoaderFixture(t)
	require.Error(t, loader.RestoreSnapshot("default", []byte("{not json")))
}
