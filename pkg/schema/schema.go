// Package schema declares the typed table shape that every other package in
// this module compiles against: column names, scalar kinds, and primary-key
// ordering. Schemas are immutable configuration values with no I/O of their
// own — see pkg/richcatalog for deriving one from a live Postgres catalog.
package schema

import "fmt"

// Kind is the scalar type of a column.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBoolean
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Column describes one column of a table.
type Column struct {
	Name string
	Kind Kind
}

// Table is the declared shape of a single relational table.
//
// Invariant: every entry in PrimaryKey names a column present in Columns.
// Order of PrimaryKey is significant — it is the lexicographic cursor order
// used by the pagination planner.
type Table struct {
	Name       string
	Columns    map[string]Column
	PrimaryKey []string
}

// New validates and returns a Table. It is the only constructor — a Table
// built any other way may violate the primary-key invariant silently.
func New(name string, columns []Column, primaryKey []string) (*Table, error) {
	colMap := make(map[string]Column, len(columns))
	for _, c := range columns {
		colMap[c.Name] = c
	}
	t := &Table{Name: name, Columns: colMap, PrimaryKey: append([]string(nil), primaryKey...)}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the primary-key-columns-present invariant.
func (t *Table) Validate() error {
	if len(t.PrimaryKey) == 0 {
		return fmt.Errorf("schema %q: primary key must name at least one column", t.Name)
	}
	for _, pk := range t.PrimaryKey {
		if _, ok := t.Columns[pk]; !ok {
			return fmt.Errorf("schema %q: primary key column %q not declared", t.Name, pk)
		}
	}
	return nil
}

// HasColumn reports whether name is a declared column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Columns[name]
	return ok
}

// ColumnNames returns all declared column names, in map iteration order is
// not guaranteed; callers that need a stable order should sort or use
// PrimaryKey / an explicit projection list instead.
func (t *Table) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for name := range t.Columns {
		out = append(out, name)
	}
	return out
}

// Row is a mapping from column name to a scalar value matching the
// declared kind for that column.
type Row map[string]any

// PrimaryKeyRecord is a Row restricted to primary-key columns.
type PrimaryKeyRecord map[string]any

// ExtractPrimaryKey returns the subset of row naming the schema's primary
// key columns, in PrimaryKey order semantics (the map itself is unordered;
// ordering is reimposed by callers via t.PrimaryKey).
func (t *Table) ExtractPrimaryKey(row Row) PrimaryKeyRecord {
	pk := make(PrimaryKeyRecord, len(t.PrimaryKey))
	for _, col := range t.PrimaryKey {
		pk[col] = row[col]
	}
	return pk
}

// KeyTuple materializes the primary-key values of row (or pk) in schema
// primary-key declaration order — the tuple used to partition reactive
// events by key.
func (t *Table) KeyTuple(values map[string]any) []any {
	out := make([]any, len(t.PrimaryKey))
	for i, col := range t.PrimaryKey {
		out[i] = values[col]
	}
	return out
}
