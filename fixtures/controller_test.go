package fixtures

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/registry"
)

// recordingLoader records the loader calls the controller makes, in order.
type recordingLoader struct {
	calls   []string
	loadErr error
}

func (r *recordingLoader) LoadFixtures(names []string, alias string) error {
	r.calls = append(r.calls, fmt.Sprintf("load(%v,%s)", names, alias))
	return r.loadErr
}

func (r *recordingLoader) Flush(alias string, allowCascade, suppressNotification bool) error {
	r.calls = append(r.calls, fmt.Sprintf("flush(%s,%t,%t)", alias, allowCascade, suppressNotification))
	return nil
}

func (r *recordingLoader) ResetSequences(alias string) error {
	r.calls = append(r.calls, fmt.Sprintf("resetSequences(%s)", alias))
	return nil
}

func (r *recordingLoader) RestoreSnapshot(alias string, blob []byte) error {
	r.calls = append(r.calls, fmt.Sprintf("restoreSnapshot(%s,%d)", alias, len(blob)))
	return nil
}

func TestTransactionalRequiresEveryAliasCapable(t *testing.T) {
	mock := registry.NewMockRegistry("default", "legacy")
	c := &Controller{Registry: mock, Loader: &recordingLoader{}}

	assert.True(t, c.Transactional([]string{"default"}))

	mock.NoTransactions["legacy"] = true
	assert.False(t, c.Transactional([]string{"default", "legacy"}))
	assert.False(t, c.Transactional(nil))
}

func TestBeforeTestPrefersSnapshotOverReload(t *testing.T) {
	loader := &recordingLoader{}
	c := &Controller{Registry: registry.NewMockRegistry("default", "replica"), Loader: loader}

	err := c.BeforeTest(Cycle{
		Aliases:        []string{"default", "replica"},
		Fixtures:       []string{"seed"},
		ResetSequences: true,
		Snapshots:      map[string][]byte{"default": []byte("blob")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"resetSequences(default)",
		"restoreSnapshot(default,4)",
		"resetSequences(replica)",
		"load([seed],replica)",
	}, loader.calls)
}

func TestAfterTestFlushesEveryAlias(t *testing.T) {
	loader := &recordingLoader{}
	c := &Controller{Registry: registry.NewMockRegistry("default", "replica"), Loader: loader}

	c.AfterTest(Cycle{Aliases: []string{"default", "replica"}, PartialSchemas: true})
	assert.Equal(t, []string{
		"flush(default,true,true)",
		"flush(replica,true,true)",
	}, loader.calls)
}

func TestCheckConstraintsSkipsUnusableConnections(t *testing.T) {
	mock := registry.NewMockRegistry("ok", "marked", "offline", "nodefer")
	c := &Controller{Registry: mock, Loader: &recordingLoader{}}

	require.NoError(t, mock.Connect("ok"))
	require.NoError(t, mock.Connect("marked"))
	_, err := mock.BeginNested("marked")
	require.NoError(t, err)
	require.NoError(t, mock.MarkForRollback("marked"))
	mock.NoDeferredCheck["nodefer"] = true

	require.NoError(t, c.CheckConstraints([]string{"ok", "marked", "offline", "nodefer"}))

	// Only the healthy, connected, deferring alias was actually checked.
	checked := 0
	for _, call := range mock.Calls() {
		if call == "checkDeferredConstraints(ok)" {
			checked++
		}
		assert.NotEqual(t, "checkDeferredConstraints(marked)", call)
		assert.NotEqual(t, "checkDeferredConstraints(offline)", call)
		assert.NotEqual(t, "checkDeferredConstraints(nodefer)", call)
	}
	assert.Equal(t, 1, checked)
}

func TestLoadClassFixturesPropagatesFailure(t *testing.T) {
	loader := &recordingLoader{loadErr: fmt.Errorf("corrupt fixture")}
	c := &Controller{Registry: registry.NewMockRegistry("default"), Loader: loader}

	err := c.LoadClassFixtures([]string{"seed"}, []string{"default"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt fixture")

	assert.NoError(t, c.LoadClassFixtures(nil, []string{"default"}))
}
