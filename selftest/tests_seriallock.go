package selftest

import (
	"path/filepath"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/seriallock"
)

func DoSerialLockTests(t *T) {
	t.Run("a missing lock file fails at declaration time", func(t *T) {
		_, err := seriallock.New(filepath.Join(t.TempDir(), "never-created.lock"))
		var cfgErr *seriallock.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Error(), "does not exist")
	})

	t.Run("holders exclude each other", func(t *T) {
		path := t.TempFile("serial.lock")

		l1, err := seriallock.New(path)
		require.NoError(t, err)
		require.NoError(t, l1.Acquire())

		l2, err := seriallock.New(path)
		require.NoError(t, err)
		ok, err := l2.TryAcquire()
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, l1.Release())
		ok, err = l2.TryAcquire()
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, l2.Release())
	})

	t.Run("release without acquire is harmless", func(t *T) {
		l, err := seriallock.New(t.TempFile("serial.lock"))
		require.NoError(t, err)
		assert.NoError(t, l.Release())
	})
}
