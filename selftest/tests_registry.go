package selftest

import (
	"errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/registry"
)

func DoRegistryTests(t *T) {
	databases := map[string]registry.Database{
		"default": {DSN: ":memory:"},
		"replica": {DSN: ":memory:"},
	}

	t.Run("connects lazily on first use", func(t *T) {
		reg := t.NewRegistry(databases)
		assert.False(t, reg.IsConnected("default"))
		require.NoError(t, reg.Connect("default"))
		assert.True(t, reg.IsConnected("default"))
		assert.False(t, reg.IsConnected("replica"), "untouched alias stays unconnected")
	})

	t.Run("rejects unknown aliases", func(t *T) {
		reg := t.NewRegistry(databases)
		err := reg.Connect("bogus")
		var unknown *registry.UnknownAliasError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "bogus", unknown.Alias)
	})

	t.Run("nested scopes roll back independently", func(t *T) {
		reg, _ := t.NewSeededRegistry(databases)

		outer, err := reg.BeginNested("default")
		require.NoError(t, err)
		require.NoError(t, reg.Exec("default", "INSERT INTO notes (body) VALUES ('kept')"))

		inner, err := reg.BeginNested("default")
		require.NoError(t, err)
		require.NoError(t, reg.Exec("default", "INSERT INTO notes (body) VALUES ('discarded')"))

		require.NoError(t, reg.MarkForRollback("default"))
		require.NoError(t, reg.ExitScope("default", inner))
		assert.Equal(t, 1, CountNotes(t, reg, "default"))

		require.NoError(t, reg.MarkForRollback("default"))
		require.NoError(t, reg.ExitScope("default", outer))
		assert.Equal(t, 0, CountNotes(t, reg, "default"))
	})

	t.Run("exiting scopes out of order is rejected", func(t *T) {
		reg := t.NewRegistry(databases)

		outer, err := reg.BeginNested("default")
		require.NoError(t, err)
		inner, err := reg.BeginNested("default")
		require.NoError(t, err)

		err = reg.ExitScope("default", outer)
		var outOfOrder *registry.OutOfOrderExitError
		require.ErrorAs(t, err, &outOfOrder)

		require.NoError(t, reg.ExitScope("default", inner))
		require.NoError(t, reg.MarkForRollback("default"))
		require.NoError(t, reg.ExitScope("default", outer))
	})

	t.Run("writes hitting zero rows surface as stale writes", func(t *T) {
		reg, _ := t.NewSeededRegistry(databases)
		require.NoError(t, reg.Exec("default", "INSERT INTO notes (id, body) VALUES (1, 'live')"))
		require.NoError(t, reg.Exec("default", "DELETE FROM notes WHERE id = 1"))

		err := reg.ExecExpectingRows("default", "notes", "1",
			"UPDATE notes SET body = 'renamed' WHERE id = 1")
		var stale *registry.StaleWriteError
		require.ErrorAs(t, err, &stale)
		assert.Equal(t, "notes", stale.Table)

		// A plain driver failure keeps its own identity.
		err = reg.ExecExpectingRows("default", "nope", "1", "UPDATE nope SET x = 1")
		require.Error(t, err)
		assert.False(t, errors.As(err, &stale))
	})

	t.Run("capability flags gate scope entry", func(t *T) {
		reg := t.NewRegistry(map[string]registry.Database{
			"flat": {DSN: ":memory:", DisableTransactions: true},
		})
		assert.False(t, reg.SupportsTransactions("flat"))
		_, err := reg.BeginNested("flat")
		require.Error(t, err)
	})
}
