package selftest

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/guard"
	"github.com/isotx/isotx/harness"
	"github.com/isotx/isotx/registry"
)

func DoClassLifecycleTests(t *T) {
	t.Run("tests on a transactional class never see each other's writes", func(t *T) {
		reg, loader := t.NewSeededRegistry(map[string]registry.Database{
			"default": {DSN: ":memory:"},
			"replica": {DSN: ":memory:"},
		})

		class, err := harness.NewClass(reg, loader, harness.Config{
			Name:      "NoteTests",
			Databases: []string{"default", "replica"},
			Fixtures:  []string{"seed"},
		}, t.DebugLogger())
		require.NoError(t, err)
		require.True(t, class.Transactional())
		require.NoError(t, class.SetUp())
		t.Cleanup(class.TearDown)

		testA, err := class.StartTest("creates a note")
		require.NoError(t, err)
		require.NoError(t, reg.Exec("default", "INSERT INTO notes (body) VALUES ('A')"))
		assert.Equal(t, 2, CountNotes(t, reg, "default"))
		require.NoError(t, testA.Finish())

		testB, err := class.StartTest("sees the baseline")
		require.NoError(t, err)
		assert.Equal(t, 1, CountNotes(t, reg, "default"))
		require.NoError(t, testB.Finish())
	})

	t.Run("a non-transactional class cycles through flush and snapshot restore", func(t *T) {
		reg, loader := t.NewSeededRegistry(map[string]registry.Database{
			"default": {DSN: ":memory:", DisableSavepoints: true},
		})

		class, err := harness.NewClass(reg, loader, harness.Config{
			Name:               "SnapshotTests",
			Databases:          []string{"default"},
			Fixtures:           []string{"seed"},
			SerializedRollback: true,
		}, t.DebugLogger())
		require.NoError(t, err)
		require.False(t, class.Transactional())
		require.NoError(t, class.SetUp())
		t.Cleanup(class.TearDown)

		testA, err := class.StartTest("dirties the store")
		require.NoError(t, err)
		require.NoError(t, reg.Exec("default", "INSERT INTO notes (body) VALUES ('dirt')"))
		require.NoError(t, testA.Finish())

		testB, err := class.StartTest("starts from the snapshot")
		require.NoError(t, err)
		assert.Equal(t, 1, CountNotes(t, reg, "default"))
		require.NoError(t, testB.Finish())
	})

	t.Run("a typoed alias earns a suggestion before any test runs", func(t *T) {
		reg, loader := t.NewSeededRegistry(map[string]registry.Database{
			"default": {DSN: ":memory:"},
		})
		_, err := harness.NewClass(reg, loader, harness.Config{
			Name:      "TypoTests",
			Databases: []string{"defualt"},
		}, t.DebugLogger())
		var cfgErr *harness.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "default", cfgErr.Suggestion)
	})

	t.Run("the class guard covers the whole class lifetime", func(t *T) {
		reg, loader := t.NewSeededRegistry(map[string]registry.Database{
			"default": {DSN: ":memory:"},
			"other":   {DSN: ":memory:"},
		})
		class, err := harness.NewClass(reg, loader, harness.Config{
			Name:      "GuardedTests",
			Databases: []string{"default"},
		}, t.DebugLogger())
		require.NoError(t, err)
		require.NoError(t, class.SetUp())

		_, err = class.Registry().BeginNested("other")
		var forbidden *guard.ForbiddenError
		require.ErrorAs(t, err, &forbidden)

		class.TearDown()
		token, err := class.Registry().BeginNested("other")
		require.NoError(t, err)
		require.NoError(t, reg.MarkForRollback("other"))
		require.NoError(t, reg.ExitScope("other", token))
	})

	t.Run("a live server runs for exactly the class lifetime", func(t *T) {
		reg, loader := t.NewSeededRegistry(map[string]registry.Database{
			"default": {DSN: ":memory:"},
		})
		class, err := harness.NewClass(reg, loader, harness.Config{
			Name:      "ServerTests",
			Databases: []string{"default"},
			Server:    &harness.ServerConfig{},
		}, t.DebugLogger())
		require.NoError(t, err)
		require.NoError(t, class.SetUp())
		require.NotNil(t, class.Server())
		assert.NotZero(t, class.Server().Port())

		class.TearDown()
		class.TearDown()
	})
}
