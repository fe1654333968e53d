package selftest

import (
	"errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/guard"
	"github.com/isotx/isotx/registry"
)

func DoGuardTests(t *T) {
	databases := map[string]registry.Database{
		"default": {DSN: ":memory:"},
		"other":   {DSN: ":memory:"},
	}

	t.Run("undeclared aliases are forbidden", func(t *T) {
		reg := t.NewRegistry(databases)
		g := guard.Install(reg, []string{"default"}, "selftest class")

		require.NoError(t, g.Connect("default"))

		err := g.Connect("other")
		var forbidden *guard.ForbiddenError
		require.ErrorAs(t, err, &forbidden)
		assert.Equal(t, "other", forbidden.Alias)
		assert.False(t, reg.IsConnected("other"), "forbidden call must not reach the store")
	})

	t.Run("the sentinel alias is never the guard's to reject", func(t *T) {
		reg := t.NewRegistry(databases)
		g := guard.Install(reg, nil, "selftest class")
		err := g.Connect(registry.NoDatabase)
		var forbidden *guard.ForbiddenError
		assert.False(t, errors.As(err, &forbidden))
	})

	t.Run("error names the owning class", func(t *T) {
		reg := t.NewRegistry(databases)
		g := guard.Install(reg, []string{"default"}, "NoteTests")
		_, err := g.BeginNested("other")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NoteTests")
		assert.Contains(t, err.Error(), `add "other"`)
	})

	t.Run("uninstall makes the guard transparent", func(t *T) {
		reg := t.NewRegistry(databases)
		g := guard.Install(reg, []string{"default"}, "selftest class")

		_, err := g.BeginNested("other")
		require.Error(t, err)

		g.Uninstall()
		token, err := g.BeginNested("other")
		require.NoError(t, err)
		require.NoError(t, g.MarkForRollback("other"))
		require.NoError(t, g.ExitScope("other", token))
	})
}
