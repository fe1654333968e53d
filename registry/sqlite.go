package registry

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Database describes one named SQLite store managed by SQLiteRegistry.
// Capability toggles exist so that suites can exercise the harness's
// non-transactional fixture cycle against a real store.
type Database struct {
	DSN                 string
	DisableTransactions bool
	DisableSavepoints   bool
}

type sqliteConn struct {
	db            *sql.DB
	tx            *sql.Tx
	scopes        []ScopeToken
	savepointSeq  int
	needsRollback bool
	shareable     bool
}

// SQLiteRegistry is a Registry over named SQLite databases. Connections are
// opened lazily: any operation that needs a handle establishes one first,
// which is what lets the access guard intercept implicit connections at the
// moment they happen.
type SQLiteRegistry struct {
	databases map[string]Database
	conns     map[string]*sqliteConn
	lock      sync.Mutex
}

var _ ShareableRegistry = (*SQLiteRegistry)(nil)

func NewSQLiteRegistry(databases map[string]Database) *SQLiteRegistry {
	dbs := make(map[string]Database, len(databases))
	for alias, d := range databases {
		dbs[alias] = d
	}
	return &SQLiteRegistry{
		databases: dbs,
		conns:     make(map[string]*sqliteConn),
	}
}

// conn returns the live connection for alias, opening it if necessary.
// Callers must hold r.lock.
func (r *SQLiteRegistry) conn(alias string) (*sqliteConn, error) {
	if c := r.conns[alias]; c != nil {
		return c, nil
	}
	spec, ok := r.databases[alias]
	if !ok {
		return nil, &UnknownAliasError{Alias: alias}
	}
	db, err := sql.Open("sqlite3", spec.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", alias, err)
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from silently multiplying per pool slot.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure %q: %w", alias, err)
		}
	}
	c := &sqliteConn{db: db}
	r.conns[alias] = c
	return c, nil
}

func (r *SQLiteRegistry) Connect(alias string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	_, err := r.conn(alias)
	return err
}

func (r *SQLiteRegistry) IsConnected(alias string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.conns[alias] != nil
}

func (r *SQLiteRegistry) BeginNested(alias string) (ScopeToken, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	spec, ok := r.databases[alias]
	if !ok {
		return ScopeToken{}, &UnknownAliasError{Alias: alias}
	}
	if spec.DisableTransactions {
		return ScopeToken{}, fmt.Errorf("database %q does not support transactions", alias)
	}
	c, err := r.conn(alias)
	if err != nil {
		return ScopeToken{}, err
	}

	if c.tx == nil {
		tx, err := c.db.Begin()
		if err != nil {
			return ScopeToken{}, fmt.Errorf("begin transaction on %q: %w", alias, err)
		}
		c.tx = tx
		token := NewScopeToken(alias, "", true)
		c.scopes = append(c.scopes, token)
		return token, nil
	}

	if spec.DisableSavepoints {
		return ScopeToken{}, fmt.Errorf("database %q does not support savepoints", alias)
	}
	c.savepointSeq++
	name := fmt.Sprintf("isotx_sp_%d", c.savepointSeq)
	if _, err := c.tx.Exec("SAVEPOINT " + name); err != nil {
		return ScopeToken{}, fmt.Errorf("savepoint on %q: %w", alias, err)
	}
	token := NewScopeToken(alias, name, true)
	c.scopes = append(c.scopes, token)
	return token, nil
}

func (r *SQLiteRegistry) MarkForRollback(alias string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c := r.conns[alias]
	if c == nil {
		return fmt.Errorf("cannot mark %q for rollback: not connected", alias)
	}
	c.needsRollback = true
	return nil
}

func (r *SQLiteRegistry) NeedsRollback(alias string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	c := r.conns[alias]
	return c != nil && c.needsRollback
}

func (r *SQLiteRegistry) ExitScope(alias string, token ScopeToken) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	c := r.conns[alias]
	if c == nil || c.tx == nil {
		return fmt.Errorf("no open scope on %q", alias)
	}
	top := c.scopes[len(c.scopes)-1]
	if top.ID() != token.ID() {
		return &OutOfOrderExitError{Alias: alias, Expected: top.ID(), Got: token.ID()}
	}
	c.scopes = c.scopes[:len(c.scopes)-1]

	if token.Savepoint() != "" {
		if c.needsRollback {
			// The rollback intent is consumed by this exit; the enclosing
			// transaction is usable again afterwards.
			c.needsRollback = false
			if _, err := c.tx.Exec("ROLLBACK TO SAVEPOINT " + token.Savepoint()); err != nil {
				return fmt.Errorf("rollback to savepoint on %q: %w", alias, err)
			}
		}
		if _, err := c.tx.Exec("RELEASE SAVEPOINT " + token.Savepoint()); err != nil {
			return fmt.Errorf("release savepoint on %q: %w", alias, err)
		}
		return nil
	}

	// Outermost scope: close the transaction itself.
	tx := c.tx
	c.tx = nil
	c.savepointSeq = 0
	rollback := c.needsRollback
	c.needsRollback = false
	if rollback {
		if err := tx.Rollback(); err != nil {
			return fmt.Errorf("rollback on %q: %w", alias, err)
		}
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit on %q: %w", alias, err)
	}
	return nil
}

func (r *SQLiteRegistry) SupportsTransactions(alias string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	spec, ok := r.databases[alias]
	return ok && !spec.DisableTransactions
}

func (r *SQLiteRegistry) SupportsSavepoints(alias string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	spec, ok := r.databases[alias]
	return ok && !spec.DisableTransactions && !spec.DisableSavepoints
}

func (r *SQLiteRegistry) SupportsDeferredConstraints(alias string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	spec, ok := r.databases[alias]
	// Foreign keys are the only deferrable constraints SQLite has, and only
	// inside a transaction.
	return ok && !spec.DisableTransactions
}

func (r *SQLiteRegistry) CheckDeferredConstraints(alias string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c := r.conns[alias]
	if c == nil || c.tx == nil {
		return fmt.Errorf("no open transaction on %q to check constraints", alias)
	}
	rows, err := c.tx.Query("PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("constraint check on %q: %w", alias, err)
	}
	defer rows.Close()
	if rows.Next() {
		var table string
		var rowid sql.NullInt64
		var parent string
		var fkid int
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("constraint check on %q: %w", alias, err)
		}
		return fmt.Errorf("deferred constraint violation on %q: table %q references missing row in %q", alias, table, parent)
	}
	return rows.Err()
}

func (r *SQLiteRegistry) Close(alias string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c := r.conns[alias]
	if c == nil {
		return nil
	}
	delete(r.conns, alias)
	if c.tx != nil {
		_ = c.tx.Rollback()
	}
	return c.db.Close()
}

func (r *SQLiteRegistry) Aliases() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	aliases := make([]string, 0, len(r.databases))
	for alias := range r.databases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

func (r *SQLiteRegistry) SetShareable(alias string, shareable bool) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c, err := r.conn(alias)
	if err != nil {
		return err
	}
	c.shareable = shareable
	return nil
}

func (r *SQLiteRegistry) IsShareable(alias string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	c := r.conns[alias]
	return c != nil && c.shareable
}

// Exec runs a statement on the alias, inside the open transaction if there
// is one, so that harness-scoped writes roll back with the scope.
func (r *SQLiteRegistry) Exec(alias string, stmt string, args ...interface{}) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c, err := r.conn(alias)
	if err != nil {
		return err
	}
	if c.tx != nil {
		_, err = c.tx.Exec(stmt, args...)
	} else {
		_, err = c.db.Exec(stmt, args...)
	}
	if err != nil {
		return fmt.Errorf("exec on %q: %w", alias, err)
	}
	return nil
}

// ExecExpectingRows runs a statement that must affect at least one row.
// Zero affected rows means a concurrent actor removed the row this scope
// still believed was live, reported as a StaleWriteError.
func (r *SQLiteRegistry) ExecExpectingRows(alias, table, key, stmt string, args ...interface{}) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	c, err := r.conn(alias)
	if err != nil {
		return err
	}
	var res sql.Result
	if c.tx != nil {
		res, err = c.tx.Exec(stmt, args...)
	} else {
		res, err = c.db.Exec(stmt, args...)
	}
	if err != nil {
		return fmt.Errorf("exec on %q: %w", alias, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("exec on %q: %w", alias, err)
	}
	if n == 0 {
		return &StaleWriteError{Alias: alias, Table: table, Key: key}
	}
	return nil
}

// Query runs a query on the alias, inside the open transaction if there is
// one.
func (r *SQLiteRegistry) Query(alias string, query string, args ...interface{}) (*sql.Rows, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	c, err := r.conn(alias)
	if err != nil {
		return nil, err
	}
	if c.tx != nil {
		return c.tx.Query(query, args...)
	}
	return c.db.Query(query, args...)
}

// QueryInt runs a single-value query and scans the result into an int.
func (r *SQLiteRegistry) QueryInt(alias string, query string, args ...interface{}) (int, error) {
	rows, err := r.Query(alias, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("query on %q returned no rows", alias)
	}
	var n int
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
