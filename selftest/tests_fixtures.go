package selftest

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/fixtures"
	"github.com/isotx/isotx/registry"
)

func DoFixtureLifecycleTests(t *T) {
	databases := map[string]registry.Database{
		"default": {DSN: ":memory:"},
	}

	t.Run("loads declared fixtures into the store", func(t *T) {
		reg, loader := t.NewSeededRegistry(databases)
		require.NoError(t, loader.LoadFixtures([]string{"seed"}, "default"))
		assert.Equal(t, 1, CountNotes(t, reg, "default"))
	})

	t.Run("flush empties every user table", func(t *T) {
		reg, loader := t.NewSeededRegistry(databases)
		require.NoError(t, loader.LoadFixtures([]string{"seed"}, "default"))

		var notified []string
		loader.FlushNotify = func(alias string) { notified = append(notified, alias) }

		require.NoError(t, loader.Flush("default", false, false))
		assert.Equal(t, 0, CountNotes(t, reg, "default"))
		assert.Equal(t, []string{"default"}, notified)
	})

	t.Run("partial-schema flush suppresses the notification", func(t *T) {
		_, loader := t.NewSeededRegistry(databases)
		notified := false
		loader.FlushNotify = func(string) { notified = true }
		require.NoError(t, loader.Flush("default", true, true))
		assert.False(t, notified)
	})

	t.Run("snapshot restore beats a reload", func(t *T) {
		reg, loader := t.NewSeededRegistry(databases)
		ctrl := &fixtures.Controller{Registry: reg, Loader: loader, Logger: t.DebugLogger()}

		require.NoError(t, loader.LoadFixtures([]string{"seed"}, "default"))
		blob, err := loader.CaptureSnapshot("default")
		require.NoError(t, err)

		require.NoError(t, reg.Exec("default", "INSERT INTO notes (body) VALUES ('dirt')"))
		require.NoError(t, ctrl.BeforeTest(fixtures.Cycle{
			Aliases:   []string{"default"},
			Fixtures:  []string{"seed"},
			Snapshots: map[string][]byte{"default": blob},
		}))
		assert.Equal(t, 1, CountNotes(t, reg, "default"))
		n, err := reg.QueryInt("default", "SELECT count(*) FROM notes WHERE body = 'baseline'")
		require.NoError(t, err)
		assert.Equal(t, 1, n, "restored row is the snapshot's, not a reloaded one")
	})

	t.Run("per-test cycle flushes after each test", func(t *T) {
		reg, loader := t.NewSeededRegistry(databases)
		ctrl := &fixtures.Controller{Registry: reg, Loader: loader, Logger: t.DebugLogger()}
		cycle := fixtures.Cycle{Aliases: []string{"default"}, Fixtures: []string{"seed"}}

		require.NoError(t, ctrl.BeforeTest(cycle))
		require.NoError(t, reg.Exec("default", "INSERT INTO notes (body) VALUES ('dirt')"))
		assert.Equal(t, 2, CountNotes(t, reg, "default"))

		ctrl.AfterTest(cycle)
		assert.Equal(t, 0, CountNotes(t, reg, "default"))

		require.NoError(t, ctrl.BeforeTest(cycle))
		assert.Equal(t, 1, CountNotes(t, reg, "default"))
	})

	t.Run("sequence reset restarts auto-increment ids", func(t *T) {
		reg, loader := t.NewSeededRegistry(databases)
		require.NoError(t, reg.Exec("default",
			"CREATE TABLE counters (id INTEGER PRIMARY KEY AUTOINCREMENT, label TEXT)"))
		require.NoError(t, reg.Exec("default", "INSERT INTO counters (label) VALUES ('first')"))
		require.NoError(t, reg.Exec("default", "DELETE FROM counters"))

		require.NoError(t, loader.ResetSequences("default"))
		require.NoError(t, reg.Exec("default", "INSERT INTO counters (label) VALUES ('again')"))
		id, err := reg.QueryInt("default", "SELECT id FROM counters")
		require.NoError(t, err)
		assert.Equal(t, 1, id, "the counter restarts from the beginning")
	})
}
