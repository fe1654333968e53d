package selftest

import (
	"github.com/isotx/isotx/testfw"
)

// AllGroups names the top-level test groups, in run order. The command-line
// runner prints it so filter patterns have something to match against.
var AllGroups = []string{
	"connection registry",
	"access guard",
	"atomic scopes",
	"fixture lifecycle",
	"test data",
	"live server",
	"serialization lock",
	"class lifecycle",
}

// RunSuite executes the self-verification suite. workDir is where the suite
// puts its throwaway stores, fixture files, and lock files; the caller owns
// its removal.
func RunSuite(workDir string, filter testfw.Filter, testLogger testfw.TestLogger) testfw.Results {
	env := &environment{workDir: workDir}
	return testfw.Run(filter, testLogger, func(c *testfw.Context) {
		t := newTestScope(c, env)

		t.Run("connection registry", DoRegistryTests)
		t.Run("access guard", DoGuardTests)
		t.Run("atomic scopes", DoAtomicScopeTests)
		t.Run("fixture lifecycle", DoFixtureLifecycleTests)
		t.Run("test data", DoTestDataTests)
		t.Run("live server", DoLiveServerTests)
		t.Run("serialization lock", DoSerialLockTests)
		t.Run("class lifecycle", DoClassLifecycleTests)
	})
}
