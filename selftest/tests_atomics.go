package selftest

import (
	"errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/atomics"
	"github.com/isotx/isotx/registry"
)

func DoAtomicScopeTests(t *T) {
	t.Run("scopes open in declared order and roll back in reverse", func(t *T) {
		mock := registry.NewMockRegistry("alpha", "beta", "gamma")
		stack, err := atomics.EnterAll(mock, []string{"alpha", "beta", "gamma"}, t.DebugLogger())
		require.NoError(t, err)
		require.Equal(t, 3, stack.Len())

		stack.RollbackAll(mock, t.DebugLogger())
		assert.Equal(t, []string{
			"beginNested(alpha)",
			"beginNested(beta)",
			"beginNested(gamma)",
			"markForRollback(gamma)",
			"exitScope(gamma)",
			"markForRollback(beta)",
			"exitScope(beta)",
			"markForRollback(alpha)",
			"exitScope(alpha)",
		}, mock.Calls())
		assert.Zero(t, stack.Len())
	})

	t.Run("a mid-entry failure unwinds what already opened", func(t *T) {
		mock := registry.NewMockRegistry("alpha", "beta", "gamma")
		mock.BeginNestedErr["beta"] = errors.New("store down")

		_, err := atomics.EnterAll(mock, []string{"alpha", "beta", "gamma"}, t.DebugLogger())
		require.Error(t, err)
		assert.Zero(t, mock.OpenScopeCount("alpha"), "alpha's scope must not leak")
		assert.Zero(t, mock.OpenScopeCount("gamma"))
	})

	t.Run("rollback continues past a broken connection", func(t *T) {
		mock := registry.NewMockRegistry("alpha", "beta")
		mock.ExitScopeErr["beta"] = errors.New("connection lost")

		stack, err := atomics.EnterAll(mock, []string{"alpha", "beta"}, t.DebugLogger())
		require.NoError(t, err)
		stack.RollbackAll(mock, t.DebugLogger())
		assert.Zero(t, mock.OpenScopeCount("alpha"), "alpha must still roll back after beta failed")
	})

	t.Run("stacked scopes on one store nest correctly", func(t *T) {
		reg, _ := t.NewSeededRegistry(map[string]registry.Database{
			"default": {DSN: ":memory:"},
		})

		classScopes, err := atomics.EnterAll(reg, []string{"default"}, t.DebugLogger())
		require.NoError(t, err)
		require.NoError(t, reg.Exec("default", "INSERT INTO notes (body) VALUES ('class baseline')"))

		testScopes, err := atomics.EnterAll(reg, []string{"default"}, t.DebugLogger())
		require.NoError(t, err)
		require.NoError(t, reg.Exec("default", "INSERT INTO notes (body) VALUES ('per test')"))
		assert.Equal(t, 2, CountNotes(t, reg, "default"))

		testScopes.RollbackAll(reg, t.DebugLogger())
		assert.Equal(t, 1, CountNotes(t, reg, "default"), "class baseline survives the test rollback")

		classScopes.RollbackAll(reg, t.DebugLogger())
		assert.Equal(t, 0, CountNotes(t, reg, "default"))
	})
}
