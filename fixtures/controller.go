package fixtures

import (
	"fmt"

	"github.com/isotx/isotx/registry"
	"github.com/isotx/isotx/testfw"
)

// Controller selects and drives one of two fixture lifecycles per store
// capability:
//
// Transactional mode: fixtures load once per class, right after the
// class-level atomic scopes open; per-test isolation is the atomic stack
// manager's rollback, so no reload or flush happens between tests.
//
// Non-transactional mode: before every test, sequences are optionally
// reset and the baseline is re-established (snapshot restore when
// available, fixture reload otherwise); after every test, all declared
// stores are flushed.
type Controller struct {
	Registry registry.Registry
	Loader   Loader
	Logger   testfw.Logger
}

// Cycle describes the per-test fixture cycle for one test class.
type Cycle struct {
	Aliases        []string
	Fixtures       []string
	ResetSequences bool

	// Snapshots holds the serialized snapshot per alias for classes that
	// declared serialized rollback. Aliases without an entry fall back to
	// re-running fixture loads.
	Snapshots map[string][]byte

	// PartialSchemas is set when only a subset of the application's schemas
	// is in play; flushes then cascade wide and suppress the flush
	// notification so unrelated subsystems see no side effects.
	PartialSchemas bool
}

func (c *Controller) logger() testfw.Logger {
	if c.Logger == nil {
		return testfw.NullLogger()
	}
	return c.Logger
}

// Transactional reports whether every alias supports the transactional
// lifecycle. A single alias without transaction and savepoint support
// forces the whole class onto the flush-based cycle.
func (c *Controller) Transactional(aliases []string) bool {
	for _, alias := range aliases {
		if !c.Registry.SupportsTransactions(alias) || !c.Registry.SupportsSavepoints(alias) {
			return false
		}
	}
	return len(aliases) > 0
}

// LoadClassFixtures loads the declared fixtures once, for transactional
// mode. It runs inside the already-open class scopes so the data rolls back
// at class teardown.
func (c *Controller) LoadClassFixtures(names []string, aliases []string) error {
	if len(names) == 0 {
		return nil
	}
	for _, alias := range aliases {
		if err := c.Loader.LoadFixtures(names, alias); err != nil {
			return fmt.Errorf("class fixture load on %q: %w", alias, err)
		}
	}
	return nil
}

// BeforeTest re-establishes the fixture baseline for one test in
// non-transactional mode.
func (c *Controller) BeforeTest(cycle Cycle) error {
	for _, alias := range cycle.Aliases {
		if cycle.ResetSequences {
			if err := c.Loader.ResetSequences(alias); err != nil {
				return fmt.Errorf("reset sequences on %q: %w", alias, err)
			}
		}
		if blob, ok := cycle.Snapshots[alias]; ok {
			if err := c.Loader.RestoreSnapshot(alias, blob); err != nil {
				return fmt.Errorf("snapshot restore on %q: %w", alias, err)
			}
			continue
		}
		if len(cycle.Fixtures) > 0 {
			if err := c.Loader.LoadFixtures(cycle.Fixtures, alias); err != nil {
				return fmt.Errorf("fixture load on %q: %w", alias, err)
			}
		}
	}
	return nil
}

// AfterTest flushes every declared store in non-transactional mode.
// Failures are logged, not raised: teardown must still flush the remaining
// aliases.
func (c *Controller) AfterTest(cycle Cycle) {
	for _, alias := range cycle.Aliases {
		err := c.Loader.Flush(alias, cycle.PartialSchemas, cycle.PartialSchemas)
		if err != nil {
			c.logger().Printf("post-test flush of %q failed: %s", alias, err)
		}
	}
}

// CheckConstraints verifies deferred constraints before a transactional
// rollback. The check runs only where the store supports deferring
// constraints, the scope has not been marked unusable by a prior error, and
// the connection is reachable; anywhere else it is skipped, not attempted
// and swallowed.
func (c *Controller) CheckConstraints(aliases []string) error {
	for _, alias := range aliases {
		if !c.Registry.SupportsDeferredConstraints(alias) {
			continue
		}
		if c.Registry.NeedsRollback(alias) {
			continue
		}
		if !c.Registry.IsConnected(alias) {
			continue
		}
		if err := c.Registry.CheckDeferredConstraints(alias); err != nil {
			return fmt.Errorf("deferred constraints on %q: %w", alias, err)
		}
	}
	return nil
}
