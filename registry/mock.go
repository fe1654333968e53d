package registry

import (
	"fmt"
	"sort"
	"sync"
)

// MockRegistry is an in-memory Registry that records every call in order.
// Suites use it to verify call sequencing (notably reverse rollback order)
// and to inject failures without a real store.
type MockRegistry struct {
	KnownAliases    []string
	NoTransactions  map[string]bool
	NoSavepoints    map[string]bool
	NoDeferredCheck map[string]bool

	// BeginNestedErr, when set for an alias, makes the next BeginNested on
	// that alias fail.
	BeginNestedErr map[string]error
	// ExitScopeErr, when set for an alias, makes every ExitScope on that
	// alias fail (teardown must still proceed for other aliases).
	ExitScopeErr map[string]error

	calls         []string
	connected     map[string]bool
	scopes        map[string][]ScopeToken
	needsRollback map[string]bool
	shareable     map[string]bool
	lock          sync.Mutex
}

var _ ShareableRegistry = (*MockRegistry)(nil)

func NewMockRegistry(aliases ...string) *MockRegistry {
	return &MockRegistry{
		KnownAliases:    aliases,
		NoTransactions:  make(map[string]bool),
		NoSavepoints:    make(map[string]bool),
		NoDeferredCheck: make(map[string]bool),
		BeginNestedErr:  make(map[string]error),
		ExitScopeErr:    make(map[string]error),
		connected:       make(map[string]bool),
		scopes:          make(map[string][]ScopeToken),
		needsRollback:   make(map[string]bool),
		shareable:       make(map[string]bool),
	}
}

// Calls returns the recorded call log.
func (m *MockRegistry) Calls() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockRegistry) record(format string, args ...interface{}) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *MockRegistry) knows(alias string) bool {
	for _, a := range m.KnownAliases {
		if a == alias {
			return true
		}
	}
	return false
}

func (m *MockRegistry) Connect(alias string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.record("connect(%s)", alias)
	if !m.knows(alias) {
		return &UnknownAliasError{Alias: alias}
	}
	m.connected[alias] = true
	return nil
}

func (m *MockRegistry) IsConnected(alias string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.connected[alias]
}

func (m *MockRegistry) BeginNested(alias string) (ScopeToken, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.record("beginNested(%s)", alias)
	if !m.knows(alias) {
		return ScopeToken{}, &UnknownAliasError{Alias: alias}
	}
	if err := m.BeginNestedErr[alias]; err != nil {
		return ScopeToken{}, err
	}
	m.connected[alias] = true
	depth := len(m.scopes[alias])
	token := NewScopeToken(alias, fmt.Sprintf("sp_%d", depth), true)
	m.scopes[alias] = append(m.scopes[alias], token)
	return token, nil
}

func (m *MockRegistry) MarkForRollback(alias string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.record("markForRollback(%s)", alias)
	m.needsRollback[alias] = true
	return nil
}

func (m *MockRegistry) NeedsRollback(alias string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.needsRollback[alias]
}

func (m *MockRegistry) ExitScope(alias string, token ScopeToken) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.record("exitScope(%s)", alias)
	if err := m.ExitScopeErr[alias]; err != nil {
		return err
	}
	stack := m.scopes[alias]
	if len(stack) == 0 {
		return fmt.Errorf("no open scope on %q", alias)
	}
	top := stack[len(stack)-1]
	if top.ID() != token.ID() {
		return &OutOfOrderExitError{Alias: alias, Expected: top.ID(), Got: token.ID()}
	}
	m.scopes[alias] = stack[:len(stack)-1]
	m.needsRollback[alias] = false
	return nil
}

func (m *MockRegistry) SupportsTransactions(alias string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.knows(alias) && !m.NoTransactions[alias]
}

func (m *MockRegistry) SupportsSavepoints(alias string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.knows(alias) && !m.NoTransactions[alias] && !m.NoSavepoints[alias]
}

func (m *MockRegistry) SupportsDeferredConstraints(alias string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.knows(alias) && !m.NoDeferredCheck[alias]
}

func (m *MockRegistry) CheckDeferredConstraints(alias string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.record("checkDeferredConstraints(%s)", alias)
	return nil
}

func (m *MockRegistry) Close(alias string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.record("close(%s)", alias)
	m.connected[alias] = false
	m.scopes[alias] = nil
	return nil
}

func (m *MockRegistry) Aliases() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	aliases := append([]string(nil), m.KnownAliases...)
	sort.Strings(aliases)
	return aliases
}

func (m *MockRegistry) SetShareable(alias string, shareable bool) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.record("setShareable(%s,%t)", alias, shareable)
	if !m.knows(alias) {
		return &UnknownAliasError{Alias: alias}
	}
	m.shareable[alias] = shareable
	return nil
}

func (m *MockRegistry) IsShareable(alias string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.shareable[alias]
}

// OpenScopeCount reports how many scopes are currently open on an alias.
func (m *MockRegistry) OpenScopeCount(alias string) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.scopes[alias])
}
