package seriallock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "serial.lock")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	return path
}

func TestMissingPathFailsFast(t *testing.T) {
	_, err := New("")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = New(filepath.Join(t.TempDir(), "never-created.lock"))
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "does not exist")
}

func TestDirectoryPathIsRejected(t *testing.T) {
	_, err := New(t.TempDir())
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLockExcludesOtherHolders(t *testing.T) {
	path := lockFile(t)

	l1, err := New(path)
	require.NoError(t, err)
	require.NoError(t, l1.Acquire())

	l2, err := New(path)
	require.NoError(t, err)
	ok, err := l2.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire while the first holds the lock")

	require.NoError(t, l1.Release())
	ok, err = l2.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l2.Release())
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	path := lockFile(t)

	l1, err := New(path)
	require.NoError(t, err)
	require.NoError(t, l1.Acquire())

	l2, err := New(path)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		if err := l2.Acquire(); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, l1.Release())
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked acquirer never woke after release")
	}
	require.NoError(t, l2.Release())
}

func TestReleaseWithoutAcquireIsSafe(t *testing.T) {
	l, err := New(lockFile(t))
	require.NoError(t, err)
	assert.NoError(t, l.Release())
}
