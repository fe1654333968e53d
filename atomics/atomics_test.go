package atomics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/registry"
)

func TestEnterAllOpensScopesInDeclaredOrder(t *testing.T) {
	mock := registry.NewMockRegistry("a", "b", "c")
	stack, err := EnterAll(mock, []string{"a", "b", "c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stack.Len())
	assert.Equal(t, []string{
		"beginNested(a)",
		"beginNested(b)",
		"beginNested(c)",
	}, mock.Calls())
}

func TestRollbackAllRunsInStrictReverseOrder(t *testing.T) {
	mock := registry.NewMockRegistry("a", "b", "c")
	stack, err := EnterAll(mock, []string{"a", "b", "c"}, nil)
	require.NoError(t, err)

	stack.RollbackAll(mock, nil)
	assert.Zero(t, stack.Len())

	calls := mock.Calls()[3:] // skip the beginNested calls
	assert.Equal(t, []string{
		"markForRollback(c)",
		"exitScope(c)",
		"markForRollback(b)",
		"exitScope(b)",
		"markForRollback(a)",
		"exitScope(a)",
	}, calls)
}

func TestEnterAllUnwindsPartiallyOpenedScopes(t *testing.T) {
	mock := registry.NewMockRegistry("a", "b", "c")
	boom := errors.New("backend down")
	mock.BeginNestedErr["c"] = boom

	stack, err := EnterAll(mock, []string{"a", "b", "c"}, nil)
	require.ErrorIs(t, err, boom)
	assert.Nil(t, stack)

	// The two scopes that did open were rolled back, newest first.
	assert.Equal(t, []string{
		"beginNested(a)",
		"beginNested(b)",
		"beginNested(c)",
		"markForRollback(b)",
		"exitScope(b)",
		"markForRollback(a)",
		"exitScope(a)",
	}, mock.Calls())
	assert.Zero(t, mock.OpenScopeCount("a"))
	assert.Zero(t, mock.OpenScopeCount("b"))
}

func TestRollbackAllContinuesPastBrokenConnections(t *testing.T) {
	mock := registry.NewMockRegistry("a", "b")
	mock.ExitScopeErr["b"] = errors.New("connection already closed")

	stack, err := EnterAll(mock, []string{"a", "b"}, nil)
	require.NoError(t, err)

	stack.RollbackAll(mock, nil)

	// b's failure must not stop a from being rolled back.
	assert.Zero(t, mock.OpenScopeCount("a"))
	assert.Zero(t, stack.Len())
}

func TestTokensAreHarnessOwned(t *testing.T) {
	mock := registry.NewMockRegistry("a")
	stack, err := EnterAll(mock, []string{"a"}, nil)
	require.NoError(t, err)
	token, ok := stack.Token("a")
	require.True(t, ok)
	assert.True(t, token.HarnessOwned())
}

func TestNestedStacksAgainstRealStore(t *testing.T) {
	reg := registry.NewSQLiteRegistry(map[string]registry.Database{
		"default": {DSN: ":memory:"},
	})
	require.NoError(t, reg.Exec("default", "CREATE TABLE rows_ (n INTEGER)"))

	classStack, err := EnterAll(reg, []string{"default"}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Exec("default", "INSERT INTO rows_ (n) VALUES (1)"))

	testStack, err := EnterAll(reg, []string{"default"}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Exec("default", "INSERT INTO rows_ (n) VALUES (2)"))

	testStack.RollbackAll(reg, nil)
	n, err := reg.QueryInt("default", "SELECT count(*) FROM rows_")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "test-level insert rolled back, class-level fixture kept")

	classStack.RollbackAll(reg, nil)
	n, err = reg.QueryInt("default", "SELECT count(*) FROM rows_")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
