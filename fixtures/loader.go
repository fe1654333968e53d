// Package fixtures loads declared seed data into data stores and manages
// the per-test fixture lifecycle for stores with and without transactional
// isolation.
package fixtures

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	"github.com/isotx/isotx/testfw"
)

// Loader is the fixture collaborator consumed by the lifecycle controller.
type Loader interface {
	// LoadFixtures loads the named fixture sets into the alias.
	LoadFixtures(names []string, alias string) error

	// Flush truncates every user table on the alias. allowCascade permits
	// wide cascading deletes when only a subset of the application's schemas
	// is in play; suppressNotification skips the flush notification hook so
	// unrelated subsystems are not poked about a partial flush.
	Flush(alias string, allowCascade, suppressNotification bool) error

	// ResetSequences resets auto-increment counters on the alias.
	ResetSequences(alias string) error

	// RestoreSnapshot repopulates the alias from a serialized snapshot
	// without re-running fixture-load commands.
	RestoreSnapshot(alias string, blob []byte) error
}

// Execer is the slice of the SQLite registry the JSON loader needs.
type Execer interface {
	Exec(alias string, stmt string, args ...interface{}) error
	Query(alias string, query string, args ...interface{}) (*sql.Rows, error)
}

// JSONLoader loads fixtures from JSON files. A fixture file is an array of
// {"table": ..., "rows": [...]} objects; rows are inserted in file order.
type JSONLoader struct {
	// Dir is the directory fixture files are resolved against.
	Dir string

	// DB executes the generated statements.
	DB Execer

	// FlushNotify, if set, is invoked after each flush unless the flush was
	// asked to suppress notifications.
	FlushNotify func(alias string)

	Logger testfw.Logger
}

var _ Loader = (*JSONLoader)(nil)

func (l *JSONLoader) logger() testfw.Logger {
	if l.Logger == nil {
		return testfw.NullLogger()
	}
	return l.Logger
}

func (l *JSONLoader) LoadFixtures(names []string, alias string) error {
	for _, name := range names {
		path := name
		if filepath.Ext(path) == "" {
			path += ".json"
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(l.Dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("fixture %q: %w", name, err)
		}
		doc := ldvalue.Parse(data)
		if doc.Type() != ldvalue.ArrayType {
			return fmt.Errorf("fixture %q: expected a JSON array of table objects", name)
		}
		l.logger().Printf("loading fixture %q into %q", name, alias)
		for i := 0; i < doc.Count(); i++ {
			entry := doc.GetByIndex(i)
			table := entry.GetByKey("table").StringValue()
			if table == "" {
				return fmt.Errorf("fixture %q: entry %d has no table name", name, i)
			}
			rows := entry.GetByKey("rows")
			for j := 0; j < rows.Count(); j++ {
				if err := l.insertRow(alias, table, rows.GetByIndex(j)); err != nil {
					return fmt.Errorf("fixture %q: table %q row %d: %w", name, table, j, err)
				}
			}
		}
	}
	return nil
}

func (l *JSONLoader) insertRow(alias, table string, row ldvalue.Value) error {
	cols := row.Keys()
	sort.Strings(cols)
	if len(cols) == 0 {
		return fmt.Errorf("empty row object")
	}
	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = row.GetByKey(col).AsArbitraryValue()
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return l.DB.Exec(alias, stmt, args...)
}

// userTables lists non-internal tables on the alias in creation order.
func (l *JSONLoader) userTables(alias string) ([]string, error) {
	rows, err := l.DB.Query(alias,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (l *JSONLoader) Flush(alias string, allowCascade, suppressNotification bool) error {
	tables, err := l.userTables(alias)
	if err != nil {
		return fmt.Errorf("flush %q: %w", alias, err)
	}
	if allowCascade {
		// Deleting a subset of schemas may break references into tables we
		// are not managing; defer enforcement until the flush is complete.
		if err := l.DB.Exec(alias, "PRAGMA defer_foreign_keys = ON"); err != nil {
			return fmt.Errorf("flush %q: %w", alias, err)
		}
	}
	// Reverse creation order so children empty before parents.
	for i := len(tables) - 1; i >= 0; i-- {
		if err := l.DB.Exec(alias, "DELETE FROM "+tables[i]); err != nil {
			return fmt.Errorf("flush %q: table %q: %w", alias, tables[i], err)
		}
	}
	l.logger().Printf("flushed %d tables on %q", len(tables), alias)
	if l.FlushNotify != nil && !suppressNotification {
		l.FlushNotify(alias)
	}
	return nil
}

func (l *JSONLoader) ResetSequences(alias string) error {
	err := l.DB.Exec(alias, "DELETE FROM sqlite_sequence")
	if err != nil && strings.Contains(err.Error(), "no such table") {
		// AUTOINCREMENT was never used on this store; nothing to reset.
		return nil
	}
	return err
}
