package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/uql/internal/schema"
)

// Migrate creates a table for each model that does not have one yet, with
// its primary key, single unique index and combined unique indexes. It is
// idempotent. The parent of an extended model must be passed as well.
func (d *DB) Migrate(ctx context.Context, models ...*schema.Model) error {
	for _, m := range models {
		ddl := CreateTable(d.driver, m)
		if _, err := d.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", m.Collection(), err)
		}
	}
	return nil
}

// CreateTable renders the CREATE TABLE IF NOT EXISTS statement for m.
// Primary keys are generated by the database when an insert omits them.
func CreateTable(driver Driver, m *schema.Model) string {
	var defs []string
	for _, f := range m.Fields() {
		def := f.Name + " " + columnType(driver, f.Type, f.Name == m.PrimaryKey())
		defs = append(defs, def)
	}
	if u := m.UniqueIndex(); u != "" {
		defs = append(defs, "UNIQUE ("+u+")")
	}
	for _, group := range m.CombinedIndexes() {
		defs = append(defs, "UNIQUE ("+strings.Join(group, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", m.Collection(), strings.Join(defs, ", "))
}

func columnType(driver Driver, t schema.FieldType, primary bool) string {
	if driver == SQLite {
		if primary {
			switch t {
			case schema.Integer:
				return "INTEGER PRIMARY KEY"
			case schema.UUID, schema.String, schema.Text:
				return "TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16))))"
			}
			return sqliteType(t) + " PRIMARY KEY"
		}
		return sqliteType(t)
	}

	if primary {
		switch t {
		case schema.Integer:
			return "BIGSERIAL PRIMARY KEY"
		case schema.UUID:
			return "UUID PRIMARY KEY DEFAULT gen_random_uuid()"
		}
		return postgresType(t) + " PRIMARY KEY"
	}
	return postgresType(t)
}

// sqliteType maps field types to column affinities. Dates are kept as
// ISO text so they compare and round-trip as written.
func sqliteType(t schema.FieldType) string {
	switch t {
	case schema.Integer:
		return "INTEGER"
	case schema.Decimal:
		return "REAL"
	case schema.Boolean:
		return "BOOLEAN"
	}
	return "TEXT"
}

func postgresType(t schema.FieldType) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Decimal:
		return "NUMERIC"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.JSON:
		return "JSONB"
	case schema.Date:
		return "TIMESTAMPTZ"
	case schema.UUID:
		return "UUID"
	case schema.Array:
		return "TEXT[]"
	}
	return "TEXT"
}
