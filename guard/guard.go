// Package guard enforces a test class's declared database alias set. It
// wraps a registry.Registry so that any alias-addressed operation outside
// the declared set fails loudly instead of silently connecting.
package guard

import (
	"fmt"
	"sort"
	"sync"

	"github.com/isotx/isotx/registry"
)

// ForbiddenError reports a guarded operation against an undeclared alias.
// It is always fatal to the test that triggered it.
type ForbiddenError struct {
	Op    string
	Alias string
	Owner string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf(
		"database operation %q on alias %q is not allowed: add %q to the databases declared by %s",
		e.Op, e.Alias, e.Alias, e.Owner)
}

// Guard is a registry.Registry that checks every alias-addressed call
// against the declared set at the moment of the call. Because the check
// happens per call rather than per alias at install time, connections opened
// implicitly later, from any goroutine, and aliases added to the inner
// registry after installation are all covered.
//
// Uninstall reverts the guard to a transparent pass-through; the wrapper
// itself remains a valid Registry, so callers holding it keep working.
type Guard struct {
	inner     registry.Registry
	allowed   map[string]bool
	owner     string
	installed bool
	lock      sync.Mutex
}

var _ registry.Registry = (*Guard)(nil)

// Install wraps inner so that only the given aliases (plus the no-database
// sentinel) may be used. owner names the test class for error messages.
func Install(inner registry.Registry, aliases []string, owner string) *Guard {
	allowed := make(map[string]bool, len(aliases)+1)
	for _, a := range aliases {
		allowed[a] = true
	}
	allowed[registry.NoDatabase] = true
	return &Guard{
		inner:     inner,
		allowed:   allowed,
		owner:     owner,
		installed: true,
	}
}

// Uninstall makes the guard transparent. Safe to call more than once.
func (g *Guard) Uninstall() {
	g.lock.Lock()
	g.installed = false
	g.lock.Unlock()
}

// Inner returns the wrapped registry.
func (g *Guard) Inner() registry.Registry { return g.inner }

// AllowedAliases returns the declared alias set in sorted order, without
// the sentinel.
func (g *Guard) AllowedAliases() []string {
	g.lock.Lock()
	defer g.lock.Unlock()
	var aliases []string
	for a := range g.allowed {
		if a != registry.NoDatabase {
			aliases = append(aliases, a)
		}
	}
	sort.Strings(aliases)
	return aliases
}

func (g *Guard) check(op, alias string) error {
	g.lock.Lock()
	defer g.lock.Unlock()
	if !g.installed || g.allowed[alias] {
		return nil
	}
	return &ForbiddenError{Op: op, Alias: alias, Owner: g.owner}
}

func (g *Guard) Connect(alias string) error {
	if err := g.check("connect", alias); err != nil {
		return err
	}
	return g.inner.Connect(alias)
}

func (g *Guard) IsConnected(alias string) bool {
	return g.inner.IsConnected(alias)
}

func (g *Guard) BeginNested(alias string) (registry.ScopeToken, error) {
	if err := g.check("beginNested", alias); err != nil {
		return registry.ScopeToken{}, err
	}
	return g.inner.BeginNested(alias)
}

func (g *Guard) MarkForRollback(alias string) error {
	if err := g.check("markForRollback", alias); err != nil {
		return err
	}
	return g.inner.MarkForRollback(alias)
}

func (g *Guard) NeedsRollback(alias string) bool {
	return g.inner.NeedsRollback(alias)
}

func (g *Guard) ExitScope(alias string, token registry.ScopeToken) error {
	if err := g.check("exitScope", alias); err != nil {
		return err
	}
	return g.inner.ExitScope(alias, token)
}

func (g *Guard) SupportsTransactions(alias string) bool {
	return g.inner.SupportsTransactions(alias)
}

func (g *Guard) SupportsSavepoints(alias string) bool {
	return g.inner.SupportsSavepoints(alias)
}

func (g *Guard) SupportsDeferredConstraints(alias string) bool {
	return g.inner.SupportsDeferredConstraints(alias)
}

func (g *Guard) CheckDeferredConstraints(alias string) error {
	if err := g.check("checkDeferredConstraints", alias); err != nil {
		return err
	}
	return g.inner.CheckDeferredConstraints(alias)
}

func (g *Guard) Close(alias string) error {
	if err := g.check("close", alias); err != nil {
		return err
	}
	return g.inner.Close(alias)
}

func (g *Guard) Aliases() []string {
	return g.inner.Aliases()
}
