// Package seriallock serializes test classes that share an external,
// un-isolatable resource (a fixed port, a device) so they run one at a
// time, even across separate test-runner processes. It is a thin wrapper
// over an exclusive OS-level file lock.
package seriallock

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// ConfigError reports a missing or unusable lock-file path. It is raised
// when the lock is declared, before any test runs, never at acquire time.
type ConfigError struct {
	Path   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("serialization lock file %q: %s", e.Path, e.Reason)
}

// Lock is an exclusive, blocking, cross-process lock on a file path. The
// file must already exist: creating it is a deployment concern, and a
// missing file usually means the path is wrong.
type Lock struct {
	path string
	fl   *flock.Flock
}

// New validates the path and prepares a lock. It does not acquire anything.
func New(path string) (*Lock, error) {
	if path == "" {
		return nil, &ConfigError{Path: path, Reason: "no path configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{Path: path, Reason: "file does not exist"}
		}
		return nil, &ConfigError{Path: path, Reason: err.Error()}
	}
	if info.IsDir() {
		return nil, &ConfigError{Path: path, Reason: "path is a directory"}
	}
	return &Lock{path: path, fl: flock.New(path)}, nil
}

// Path returns the configured lock-file path.
func (l *Lock) Path() string { return l.path }

// Acquire blocks until this process holds the exclusive lock. The lock is
// held until Release, typically for the whole test class lifetime.
func (l *Lock) Acquire() error {
	if err := l.fl.Lock(); err != nil {
		return fmt.Errorf("acquiring serialization lock %q: %w", l.path, err)
	}
	return nil
}

// TryAcquire attempts the lock without blocking and reports whether it was
// obtained.
func (l *Lock) TryAcquire() (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring serialization lock %q: %w", l.path, err)
	}
	return ok, nil
}

// Release closes the underlying handle, releasing the lock. Safe to call
// when the lock was never acquired.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing serialization lock %q: %w", l.path, err)
	}
	return nil
}
