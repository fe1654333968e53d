// Package atomics manages the stacks of nested transaction scopes that give
// each test class and each test its isolation boundary.
package atomics

import (
	"fmt"

	"github.com/isotx/isotx/registry"
	"github.com/isotx/isotx/testfw"
)

type scopeEntry struct {
	alias string
	token registry.ScopeToken
}

// ScopeStack records opened scopes in entry order. It is deliberately a
// stack rather than a map: exit order must be the strict reverse of entry
// order, and a LIFO structure makes that impossible to get wrong by
// iterating an unordered collection.
type ScopeStack struct {
	entries []scopeEntry
}

// Len reports how many scopes are open.
func (s *ScopeStack) Len() int { return len(s.entries) }

// Token returns the scope token for an alias, if one is open.
func (s *ScopeStack) Token(alias string) (registry.ScopeToken, bool) {
	for _, e := range s.entries {
		if e.alias == alias {
			return e.token, true
		}
	}
	return registry.ScopeToken{}, false
}

// EnterAll opens one nested scope per alias, in the order given. If any
// scope fails to open, the scopes already opened are rolled back in reverse
// before the error is returned, so a failed setup never leaves a dangling
// transaction.
func EnterAll(reg registry.Registry, aliases []string, logger testfw.Logger) (*ScopeStack, error) {
	if logger == nil {
		logger = testfw.NullLogger()
	}
	stack := &ScopeStack{}
	for _, alias := range aliases {
		token, err := reg.BeginNested(alias)
		if err != nil {
			stack.RollbackAll(reg, logger)
			return nil, fmt.Errorf("opening atomic scope on %q: %w", alias, err)
		}
		stack.entries = append(stack.entries, scopeEntry{alias: alias, token: token})
	}
	return stack, nil
}

// RollbackAll rolls every open scope back, newest first. For each alias the
// enclosing transaction is first marked for rollback and then the scope is
// exited; doing it in that order, strictly newest-to-oldest, is what keeps
// nested-savepoint accounting intact on backends that track a single level
// of rollback intent.
//
// Failures on an individual scope are logged and skipped so that teardown
// still proceeds for the remaining aliases. The stack is empty afterwards
// regardless.
func (s *ScopeStack) RollbackAll(reg registry.Registry, logger testfw.Logger) {
	if logger == nil {
		logger = testfw.NullLogger()
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if err := reg.MarkForRollback(e.alias); err != nil {
			logger.Printf("could not mark %q for rollback: %s", e.alias, err)
		}
		if err := reg.ExitScope(e.alias, e.token); err != nil {
			logger.Printf("rollback of atomic scope on %q failed: %s", e.alias, err)
		}
	}
	s.entries = nil
}
