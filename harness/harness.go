package harness

import (
	"fmt"

	"github.com/isotx/isotx/atomics"
	"github.com/isotx/isotx/classdata"
	"github.com/isotx/isotx/fixtures"
	"github.com/isotx/isotx/guard"
	"github.com/isotx/isotx/liveserver"
	"github.com/isotx/isotx/registry"
	"github.com/isotx/isotx/seriallock"
	"github.com/isotx/isotx/testfw"
)

// SnapshotCapturer is implemented by loaders that can dump a store's full
// state, letting the harness capture its own snapshots when the class
// declares serialized rollback without supplying blobs.
type SnapshotCapturer interface {
	CaptureSnapshot(alias string) ([]byte, error)
}

// Class runs the lifecycle of one test class: guard installation, atomic
// scope stacks, fixture loading, live server, and serialization lock.
//
// The flow is: SetUp, then for each test StartTest / test body / Finish,
// then TearDown. All of it happens on a single controller goroutine; the
// only concurrency is the live server.
type Class struct {
	cfg     Config
	inner   registry.Registry
	guard   *guard.Guard
	loader  fixtures.Loader
	ctrl    *fixtures.Controller
	logger  testfw.Logger
	aliases []string

	transactional bool
	classScopes   *atomics.ScopeStack
	snapshots     map[string][]byte
	data          map[string]*classdata.Descriptor

	lock   *seriallock.Lock
	server *liveserver.Server

	active   bool
	tornDown bool
}

// NewClass validates the declarative configuration and prepares a class.
// All configuration errors surface here, before any test runs.
func NewClass(reg registry.Registry, loader fixtures.Loader, cfg Config, logger testfw.Logger) (*Class, error) {
	if logger == nil {
		logger = testfw.NullLogger()
	}

	aliases, err := validateDatabases(&cfg, reg)
	if err != nil {
		return nil, err
	}
	if err := validateServer(&cfg, aliases); err != nil {
		return nil, err
	}

	ctrl := &fixtures.Controller{Registry: reg, Loader: loader, Logger: logger}
	transactional := ctrl.Transactional(aliases)

	if cfg.ResetSequences && transactional {
		return nil, &ConfigError{
			Class: cfg.name(),
			Reason: "reset sequences requested, but every declared database supports transactions; " +
				"sequences only reset on the per-test flush cycle",
		}
	}

	var lock *seriallock.Lock
	if cfg.LockFile != "" {
		lock, err = seriallock.New(cfg.LockFile)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Server != nil && len(cfg.Server.SharedConnections) > 0 {
		if _, ok := reg.(registry.ShareableRegistry); !ok {
			return nil, &ConfigError{
				Class:  cfg.name(),
				Reason: "live server shares connections, but the registry cannot flag connections shareable",
			}
		}
	}

	return &Class{
		cfg:           cfg,
		inner:         reg,
		loader:        loader,
		ctrl:          ctrl,
		logger:        logger,
		aliases:       aliases,
		transactional: transactional,
		snapshots:     cfg.Snapshots,
		data:          make(map[string]*classdata.Descriptor),
		lock:          lock,
	}, nil
}

// Transactional reports which fixture lifecycle the class runs under.
func (c *Class) Transactional() bool { return c.transactional }

// Registry returns the guarded registry tests should use. Before SetUp and
// after TearDown it is the unguarded registry.
func (c *Class) Registry() registry.Registry {
	if c.guard != nil {
		return c.guard
	}
	return c.inner
}

// Server returns the live server, or nil if the class declared none.
func (c *Class) Server() *liveserver.Server { return c.server }

// SetTestData registers a class-level canonical value, normally from the
// SetUpTestData hook. Tests read it back through TestInstance.Data and only
// ever see their own deep copy.
func (c *Class) SetTestData(name string, value interface{}) {
	c.data[name] = classdata.New(name, value)
}

// SetUp establishes the class-level baseline. On any failure everything
// already established is unwound, in reverse, before the error returns: a
// failed class setup never leaks a held lock, an installed guard, or a
// dangling transaction into subsequent classes.
func (c *Class) SetUp() error {
	if c.active {
		return fmt.Errorf("test class %s: SetUp called twice", c.cfg.name())
	}

	if c.lock != nil {
		if err := c.lock.Acquire(); err != nil {
			return err
		}
	}

	c.guard = guard.Install(c.inner, c.cfg.Databases, c.cfg.name())
	c.ctrl.Registry = c.guard

	if err := c.setUpDatabases(); err != nil {
		c.guard.Uninstall()
		c.guard = nil
		c.ctrl.Registry = c.inner
		if c.lock != nil {
			if relErr := c.lock.Release(); relErr != nil {
				c.logger.Printf("releasing serialization lock after failed setup: %s", relErr)
			}
		}
		return err
	}

	if c.cfg.Server != nil {
		if err := c.startServer(); err != nil {
			c.unwindDatabases()
			c.guard.Uninstall()
			c.guard = nil
			c.ctrl.Registry = c.inner
			if c.lock != nil {
				if relErr := c.lock.Release(); relErr != nil {
					c.logger.Printf("releasing serialization lock after failed setup: %s", relErr)
				}
			}
			return err
		}
	}

	c.active = true
	return nil
}

func (c *Class) setUpDatabases() error {
	if c.transactional {
		stack, err := atomics.EnterAll(c.guard, c.aliases, c.logger)
		if err != nil {
			return err
		}
		c.classScopes = stack

		// From here on, a failure must roll the scopes back before it
		// propagates.
		if err := c.ctrl.LoadClassFixtures(c.cfg.Fixtures, c.aliases); err != nil {
			c.classScopes.RollbackAll(c.guard, c.logger)
			c.classScopes = nil
			return err
		}
		if err := c.runTestDataHook(); err != nil {
			c.classScopes.RollbackAll(c.guard, c.logger)
			c.classScopes = nil
			return err
		}
		return nil
	}

	// Non-transactional cycle: no scopes. Establish the baseline once so a
	// serialized snapshot can be captured; per-test reloads start from it.
	if err := c.ctrl.LoadClassFixtures(c.cfg.Fixtures, c.aliases); err != nil {
		return err
	}
	if c.cfg.SerializedRollback && len(c.snapshots) == 0 {
		capturer, ok := c.loader.(SnapshotCapturer)
		if !ok {
			return &ConfigError{
				Class:  c.cfg.name(),
				Reason: "serialized rollback requested, but the fixture loader cannot capture snapshots",
			}
		}
		c.snapshots = make(map[string][]byte, len(c.aliases))
		for _, alias := range c.aliases {
			blob, err := capturer.CaptureSnapshot(alias)
			if err != nil {
				return fmt.Errorf("capturing snapshot of %q: %w", alias, err)
			}
			c.snapshots[alias] = blob
		}
	}
	return c.runTestDataHook()
}

func (c *Class) runTestDataHook() error {
	if c.cfg.SetUpTestData == nil {
		return nil
	}
	if err := c.cfg.SetUpTestData(c); err != nil {
		return fmt.Errorf("setUpTestData for %s: %w", c.cfg.name(), err)
	}
	return nil
}

func (c *Class) startServer() error {
	srvCfg := liveserver.Config{
		Host:          c.cfg.Server.Host,
		Port:          c.cfg.Server.Port,
		Handler:       c.cfg.Server.Handler,
		StaticRoutes:  c.cfg.Server.StaticRoutes,
		SharedAliases: c.cfg.Server.SharedConnections,
		Logger:        c.logger,
	}
	if len(srvCfg.SharedAliases) > 0 {
		srvCfg.Registry = c.inner.(registry.ShareableRegistry)
	}
	c.server = liveserver.New(srvCfg)
	if err := c.server.StartAndWait(); err != nil {
		c.server.Terminate()
		c.server = nil
		return err
	}
	return nil
}

func (c *Class) unwindDatabases() {
	if c.classScopes != nil {
		c.classScopes.RollbackAll(c.guard, c.logger)
		c.classScopes = nil
	}
}

// cycle builds the per-test fixture cycle for the non-transactional mode.
func (c *Class) cycle() fixtures.Cycle {
	cycle := fixtures.Cycle{
		Aliases:        c.aliases,
		Fixtures:       c.cfg.Fixtures,
		ResetSequences: c.cfg.ResetSequences,
		PartialSchemas: c.cfg.PartialSchemas,
	}
	if c.cfg.SerializedRollback {
		cycle.Snapshots = c.snapshots
	}
	return cycle
}

// StartTest opens the isolation boundary for one test and returns the
// instance handle the test runs against.
func (c *Class) StartTest(name string) (*TestInstance, error) {
	if !c.active {
		return nil, fmt.Errorf("test class %s: StartTest before SetUp", c.cfg.name())
	}

	inst := &TestInstance{
		class: c,
		name:  name,
		state: classdata.NewInstance(),
	}
	if c.transactional {
		stack, err := atomics.EnterAll(c.guard, c.aliases, c.logger)
		if err != nil {
			return nil, err
		}
		inst.scopes = stack
		return inst, nil
	}
	if err := c.ctrl.BeforeTest(c.cycle()); err != nil {
		return nil, err
	}
	return inst, nil
}

// TearDown releases everything the class holds: live server, class scopes,
// guard, serialization lock. It is safe to call after a failed SetUp and is
// idempotent.
func (c *Class) TearDown() {
	if c.tornDown {
		return
	}
	c.tornDown = true
	c.active = false

	if c.server != nil {
		c.server.Terminate()
		c.server = nil
	}
	c.unwindDatabases()
	if c.guard != nil {
		c.guard.Uninstall()
		c.guard = nil
		c.ctrl.Registry = c.inner
	}
	if c.lock != nil {
		if err := c.lock.Release(); err != nil {
			c.logger.Printf("releasing serialization lock: %s", err)
		}
	}
}

// TestInstance is the harness's view of one running test.
type TestInstance struct {
	class    *Class
	name     string
	state    *classdata.Instance
	scopes   *atomics.ScopeStack
	finished bool
}

func (t *TestInstance) Name() string { return t.name }

// Data returns this instance's private copy of a class-level canonical
// value registered by SetTestData, or nil if the name is unknown. Copies
// are made once per instance and preserve references between values.
func (t *TestInstance) Data(name string) interface{} {
	d, ok := t.class.data[name]
	if !ok {
		return nil
	}
	return d.Get(t.state)
}

// Finish closes the test's isolation boundary. In transactional mode it
// checks deferred constraints where that is safe, then rolls the test
// scopes back in reverse; otherwise it flushes the declared stores. The
// returned error is a constraint violation the test should fail on;
// teardown itself always completes.
func (t *TestInstance) Finish() error {
	if t.finished {
		return nil
	}
	t.finished = true

	if t.class.transactional {
		err := t.class.ctrl.CheckConstraints(t.class.aliases)
		t.scopes.RollbackAll(t.class.guard, t.class.logger)
		t.scopes = nil
		return err
	}
	t.class.ctrl.AfterTest(t.class.cycle())
	return nil
}
