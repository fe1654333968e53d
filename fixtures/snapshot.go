package fixtures

import (
	"fmt"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// CaptureSnapshot serializes the full contents of every user table on the
// alias into an opaque blob. The blob is the fast path for repopulating a
// store that lacks transactional isolation: restoring it skips re-running
// fixture-load commands entirely.
//
// Snapshots are normally captured once per store at suite setup, after
// migrations and initial fixture loading.
func (l *JSONLoader) CaptureSnapshot(alias string) ([]byte, error) {
	tables, err := l.userTables(alias)
	if err != nil {
		return nil, fmt.Errorf("snapshot of %q: %w", alias, err)
	}
	doc := ldvalue.ArrayBuild()
	for _, table := range tables {
		rows, err := l.DB.Query(alias, "SELECT * FROM "+table)
		if err != nil {
			return nil, fmt.Errorf("snapshot of %q: table %q: %w", alias, table, err)
		}
		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("snapshot of %q: table %q: %w", alias, table, err)
		}
		rowsOut := ldvalue.ArrayBuild()
		for rows.Next() {
			raw := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range raw {
				ptrs[i] = &raw[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return nil, fmt.Errorf("snapshot of %q: table %q: %w", alias, table, err)
			}
			rowOut := ldvalue.ObjectBuild()
			for i, col := range cols {
				rowOut.Set(col, ldvalue.CopyArbitraryValue(normalizeScanValue(raw[i])))
			}
			rowsOut.Add(rowOut.Build())
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("snapshot of %q: table %q: %w", alias, table, err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("snapshot of %q: table %q: %w", alias, table, closeErr)
		}
		doc.Add(ldvalue.ObjectBuild().
			Set("table", ldvalue.String(table)).
			Set("rows", rowsOut.Build()).
			Build())
	}
	return []byte(doc.Build().JSONString()), nil
}

// RestoreSnapshot replaces the contents of every table recorded in the blob.
func (l *JSONLoader) RestoreSnapshot(alias string, blob []byte) error {
	doc := ldvalue.Parse(blob)
	if doc.Type() != ldvalue.ArrayType {
		return fmt.Errorf("restore snapshot on %q: malformed blob", alias)
	}
	// Clear in reverse of capture (creation) order, refill forwards, so
	// foreign keys hold at every step.
	for i := doc.Count() - 1; i >= 0; i-- {
		table := doc.GetByIndex(i).GetByKey("table").StringValue()
		if err := l.DB.Exec(alias, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("restore snapshot on %q: table %q: %w", alias, table, err)
		}
	}
	for i := 0; i < doc.Count(); i++ {
		entry := doc.GetByIndex(i)
		table := entry.GetByKey("table").StringValue()
		rows := entry.GetByKey("rows")
		for j := 0; j < rows.Count(); j++ {
			if err := l.insertRow(alias, table, rows.GetByIndex(j)); err != nil {
				return fmt.Errorf("restore snapshot on %q: table %q row %d: %w", alias, table, j, err)
			}
		}
	}
	l.logger().Printf("restored snapshot on %q (%d tables)", alias, doc.Count())
	return nil
}

// normalizeScanValue maps driver scan results onto JSON-representable
// values.
func normalizeScanValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
