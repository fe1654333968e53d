// Package registry defines the named data-store connection abstraction that
// the isolation harness coordinates, together with a SQLite-backed
// implementation and a recording mock for tests.
package registry

import (
	"fmt"

	"github.com/google/uuid"
)

// NoDatabase is the sentinel alias for tests that declare no data-store
// access at all. The access guard always permits it.
const NoDatabase = "__nodb__"

// ScopeToken identifies one nested transaction scope opened by BeginNested.
// Tokens are opaque to callers; the harness-owned marker lets other
// components distinguish harness scopes from a test's own nested
// transactions.
type ScopeToken struct {
	id           string
	alias        string
	savepoint    string
	harnessOwned bool
}

// NewScopeToken is used by Registry implementations to mint a token.
func NewScopeToken(alias, savepoint string, harnessOwned bool) ScopeToken {
	return ScopeToken{
		id:           uuid.NewString(),
		alias:        alias,
		savepoint:    savepoint,
		harnessOwned: harnessOwned,
	}
}

func (t ScopeToken) ID() string         { return t.id }
func (t ScopeToken) Alias() string      { return t.alias }
func (t ScopeToken) Savepoint() string  { return t.savepoint }
func (t ScopeToken) HarnessOwned() bool { return t.harnessOwned }

// Registry supplies named, lazily-connected data-store handles and the
// nested-transaction primitives the harness builds isolation on.
type Registry interface {
	// Connect establishes the connection for an alias if it is not already
	// open.
	Connect(alias string) error

	// IsConnected reports whether the alias currently has a live handle.
	IsConnected(alias string) bool

	// BeginNested opens one nested transaction scope (an outer transaction at
	// depth zero, a savepoint below that) and returns its token.
	BeginNested(alias string) (ScopeToken, error)

	// MarkForRollback flags the alias's enclosing transaction so that scope
	// exits roll back instead of committing.
	MarkForRollback(alias string) error

	// NeedsRollback reports whether the alias is currently flagged for
	// rollback (and therefore unusable for constraint checking).
	NeedsRollback(alias string) bool

	// ExitScope closes the given scope. Scopes must be exited in reverse
	// order of entry; implementations fail loudly on out-of-order exits.
	ExitScope(alias string, token ScopeToken) error

	SupportsTransactions(alias string) bool
	SupportsSavepoints(alias string) bool
	SupportsDeferredConstraints(alias string) bool

	// CheckDeferredConstraints verifies deferred constraints on the open
	// transaction without closing it.
	CheckDeferredConstraints(alias string) error

	// Close disconnects the alias, discarding any open scopes.
	Close(alias string) error

	// Aliases lists every alias the registry knows, in stable order.
	Aliases() []string
}

// ShareableRegistry is implemented by registries whose connections can be
// flagged for use from more than one goroutine. Flag changes must always be
// paired; the live server reverts every flag it sets.
type ShareableRegistry interface {
	Registry
	SetShareable(alias string, shareable bool) error
	IsShareable(alias string) bool
}

// UnknownAliasError reports an operation against an alias the registry has
// never heard of.
type UnknownAliasError struct {
	Alias string
}

func (e *UnknownAliasError) Error() string {
	return fmt.Sprintf("unknown database alias %q", e.Alias)
}

// StaleWriteError reports that a write targeting a specific row found the
// row gone: some other actor deleted or invalidated it after this scope
// loaded it. Callers use it to tell "someone else invalidated this" apart
// from "the store is unreachable".
type StaleWriteError struct {
	Alias string
	Table string
	Key   string
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("row %q in table %q on %q was removed by a concurrent actor", e.Key, e.Table, e.Alias)
}

// OutOfOrderExitError reports an ExitScope call whose token is not the most
// recently opened scope on the connection. Exiting scopes out of order
// corrupts nested-savepoint accounting, so it is rejected rather than
// attempted.
type OutOfOrderExitError struct {
	Alias    string
	Expected string
	Got      string
}

func (e *OutOfOrderExitError) Error() string {
	return fmt.Sprintf("scope exit out of order on %q: expected token %s at top of stack, got %s",
		e.Alias, e.Expected, e.Got)
}
