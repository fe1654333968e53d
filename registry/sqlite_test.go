package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()
	r := NewSQLiteRegistry(map[string]Database{
		"default": {DSN: ":memory:"},
		"replica": {DSN: ":memory:"},
	})
	t.Cleanup(func() {
		for _, alias := range r.Aliases() {
			_ = r.Close(alias)
		}
	})
	require.NoError(t, r.Exec("default", "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"))
	return r
}

func TestConnectionIsLazy(t *testing.T) {
	r := NewSQLiteRegistry(map[string]Database{"default": {DSN: ":memory:"}})
	assert.False(t, r.IsConnected("default"))
	require.NoError(t, r.Connect("default"))
	assert.True(t, r.IsConnected("default"))
}

func TestUnknownAlias(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Connect("bogus")
	var unknown *UnknownAliasError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Alias)
}

func TestNestedScopesRollBackIndependently(t *testing.T) {
	r := newTestRegistry(t)

	outer, err := r.BeginNested("default")
	require.NoError(t, err)
	require.NoError(t, r.Exec("default", "INSERT INTO widgets (name) VALUES (?)", "kept"))

	inner, err := r.BeginNested("default")
	require.NoError(t, err)
	require.NoError(t, r.Exec("default", "INSERT INTO widgets (name) VALUES (?)", "discarded"))

	require.NoError(t, r.MarkForRollback("default"))
	require.NoError(t, r.ExitScope("default", inner))

	n, err := r.QueryInt("default", "SELECT count(*) FROM widgets")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "inner scope's insert should be gone, outer's kept")

	require.NoError(t, r.MarkForRollback("default"))
	require.NoError(t, r.ExitScope("default", outer))

	n, err = r.QueryInt("default", "SELECT count(*) FROM widgets")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOutermostScopeCommitsWhenNotMarked(t *testing.T) {
	r := newTestRegistry(t)

	token, err := r.BeginNested("default")
	require.NoError(t, err)
	require.NoError(t, r.Exec("default", "INSERT INTO widgets (name) VALUES (?)", "durable"))
	require.NoError(t, r.ExitScope("default", token))

	n, err := r.QueryInt("default", "SELECT count(*) FROM widgets")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutOfOrderExitIsRejected(t *testing.T) {
	r := newTestRegistry(t)

	outer, err := r.BeginNested("default")
	require.NoError(t, err)
	inner, err := r.BeginNested("default")
	require.NoError(t, err)

	err = r.ExitScope("default", outer)
	var outOfOrder *OutOfOrderExitError
	require.ErrorAs(t, err, &outOfOrder)

	require.NoError(t, r.ExitScope("default", inner))
	require.NoError(t, r.MarkForRollback("default"))
	require.NoError(t, r.ExitScope("default", outer))
}

func TestDisabledCapabilities(t *testing.T) {
	r := NewSQLiteRegistry(map[string]Database{
		"flat":  {DSN: ":memory:", DisableTransactions: true},
		"notsp": {DSN: ":memory:", DisableSavepoints: true},
	})
	assert.False(t, r.SupportsTransactions("flat"))
	assert.False(t, r.SupportsSavepoints("flat"))
	_, err := r.BeginNested("flat")
	require.Error(t, err)

	assert.True(t, r.SupportsTransactions("notsp"))
	assert.False(t, r.SupportsSavepoints("notsp"))
	outer, err := r.BeginNested("notsp")
	require.NoError(t, err)
	_, err = r.BeginNested("notsp")
	require.Error(t, err)
	require.NoError(t, r.MarkForRollback("notsp"))
	require.NoError(t, r.ExitScope("notsp", outer))
}

func TestStaleWriteDetection(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Exec("default", "INSERT INTO widgets (id, name) VALUES (1, 'live')"))

	// Someone else deletes the row out from under us.
	require.NoError(t, r.Exec("default", "DELETE FROM widgets WHERE id = 1"))

	err := r.ExecExpectingRows("default", "widgets", "1",
		"UPDATE widgets SET name = 'renamed' WHERE id = 1")
	var stale *StaleWriteError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "widgets", stale.Table)
	assert.Equal(t, "1", stale.Key)

	// A plain driver failure is not a StaleWriteError.
	err = r.ExecExpectingRows("default", "nope", "1", "UPDATE nope SET x = 1")
	require.Error(t, err)
	assert.False(t, errors.As(err, &stale))
}

func TestCheckDeferredConstraints(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Exec("default",
		"CREATE TABLE parts (id INTEGER PRIMARY KEY, widget_id INTEGER REFERENCES widgets(id))"))

	token, err := r.BeginNested("default")
	require.NoError(t, err)
	require.NoError(t, r.Exec("default", "INSERT INTO widgets (id, name) VALUES (1, 'w')"))
	require.NoError(t, r.Exec("default", "INSERT INTO parts (id, widget_id) VALUES (1, 1)"))
	assert.NoError(t, r.CheckDeferredConstraints("default"))

	require.NoError(t, r.MarkForRollback("default"))
	require.NoError(t, r.ExitScope("default", token))
}

func TestShareableFlagPairing(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.SetShareable("default", true))
	assert.True(t, r.IsShareable("default"))
	require.NoError(t, r.SetShareable("default", false))
	assert.False(t, r.IsShareable("default"))
}

func TestCloseDiscardsOpenScopes(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.BeginNested("default")
	require.NoError(t, err)
	require.NoError(t, r.Close("default"))
	assert.False(t, r.IsConnected("default"))
}
