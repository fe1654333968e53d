// Package harness coordinates test-class lifecycles: it installs the access
// guard, opens and rolls back atomic scope stacks, drives the fixture
// lifecycle, exposes class-computed test data as per-test copies, and
// manages the optional live server and cross-process serialization lock.
package harness

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/isotx/isotx/registry"
)

// suggestionThreshold is the largest edit distance at which an unknown
// alias still earns a "did you mean" hint.
const suggestionThreshold = 3

// ConfigError reports a misdeclared test class. It is raised when the class
// is constructed, before any test runs.
type ConfigError struct {
	Class      string
	Reason     string
	Suggestion string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("test class %s: %s", e.Class, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// ServerConfig declares the optional live server for a test class.
type ServerConfig struct {
	Host string
	// Port zero asks the OS for a free port, resolved after startup.
	Port    int
	Handler http.Handler

	// StaticRoutes maps URL path prefixes to filesystem roots served ahead
	// of Handler.
	StaticRoutes map[string]string

	// SharedConnections names declared aliases whose open connections the
	// server's handlers reuse instead of opening their own.
	SharedConnections []string
}

// Config is the declarative surface a test class fills in. The fields have
// no behavior of their own; NewClass validates them and the Class lifecycle
// acts on them.
type Config struct {
	// Name identifies the class in error messages.
	Name string

	// Databases is the set of aliases the class may touch. Anything else is
	// rejected by the access guard. The no-database sentinel is always
	// implicitly included.
	Databases []string

	// Fixtures names the seed data loaded for every test's baseline.
	Fixtures []string

	// SerializedRollback selects the snapshot fast path for stores without
	// transactional isolation: restore a serialized dump instead of
	// re-running fixture loads before each test.
	SerializedRollback bool

	// Snapshots supplies pre-captured snapshots per alias. When empty and
	// SerializedRollback is set, the harness captures its own at class
	// setup.
	Snapshots map[string][]byte

	// ResetSequences asks for auto-increment counters to be reset before
	// each test. Only meaningful on the non-transactional cycle.
	ResetSequences bool

	// PartialSchemas declares that only a subset of the application's
	// schemas is in play, so flushes cascade wide and suppress the flush
	// notification.
	PartialSchemas bool

	// SetUpTestData computes class-level canonical fixture objects once.
	// Values registered through Class.SetTestData are exposed to each test
	// as independent deep copies.
	SetUpTestData func(*Class) error

	// Server, if set, runs a live server for the class's lifetime.
	Server *ServerConfig

	// LockFile, if set, serializes this class against every other process
	// holding the same path.
	LockFile string
}

func (cfg *Config) name() string {
	if cfg.Name == "" {
		return "(unnamed)"
	}
	return cfg.Name
}

// validateDatabases checks every declared alias against the registry's
// known set, attaching a closest-match suggestion to failures.
func validateDatabases(cfg *Config, reg registry.Registry) ([]string, error) {
	known := reg.Aliases()
	knownSet := make(map[string]bool, len(known))
	for _, alias := range known {
		knownSet[alias] = true
	}

	seen := make(map[string]bool, len(cfg.Databases))
	var aliases []string
	for _, alias := range cfg.Databases {
		if seen[alias] {
			return nil, &ConfigError{
				Class:  cfg.name(),
				Reason: fmt.Sprintf("database alias %q declared twice", alias),
			}
		}
		seen[alias] = true
		if alias == registry.NoDatabase {
			continue
		}
		if !knownSet[alias] {
			return nil, &ConfigError{
				Class:      cfg.name(),
				Reason:     fmt.Sprintf("unknown database alias %q", alias),
				Suggestion: closestAlias(alias, known),
			}
		}
		aliases = append(aliases, alias)
	}
	// Scopes are entered in alias order; sorting here is what defines it.
	sort.Strings(aliases)
	return aliases, nil
}

func closestAlias(alias string, known []string) string {
	best := ""
	bestDistance := suggestionThreshold + 1
	for _, candidate := range known {
		if d := fuzzy.LevenshteinDistance(alias, candidate); d < bestDistance {
			bestDistance = d
			best = candidate
		}
	}
	return best
}

func validateServer(cfg *Config, declared []string) error {
	if cfg.Server == nil {
		return nil
	}
	declaredSet := make(map[string]bool, len(declared))
	for _, alias := range declared {
		declaredSet[alias] = true
	}
	for _, alias := range cfg.Server.SharedConnections {
		if !declaredSet[alias] {
			return &ConfigError{
				Class: cfg.name(),
				Reason: fmt.Sprintf(
					"live server shares connection %q which is not among the declared databases", alias),
			}
		}
	}
	return nil
}
