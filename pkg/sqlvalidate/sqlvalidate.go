// Package sqlvalidate structurally validates SQL text emitted by
// pkg/relsql, parsing it with the real Postgres grammar rather than
// trusting the compiler's own rendering logic. It repurposes this
// module's pg_query_go dependency — used for multi-table provenance and
// rewrite analysis elsewhere in the wider example pack this module draws
// on — for a narrower, in-scope job: catching a malformed compiler output
// string before it ever reaches a driver.
package sqlvalidate

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Validate parses sql and returns an error if it is not syntactically
// valid Postgres SQL. The compiler renders positional "?" placeholders,
// which are not valid Postgres syntax on their own, so Validate first
// substitutes a harmless literal for each placeholder.
func Validate(sql string) error {
	rendered := substitutePlaceholders(sql)
	if _, err := pg_query.Parse(rendered); err != nil {
		return fmt.Errorf("sqlvalidate: %q failed to parse: %w", sql, err)
	}
	return nil
}

// substitutePlaceholders replaces every "?" with a literal NULL so the
// statement parses as standalone SQL; it does not attempt to distinguish
// placeholders appearing inside string literals, since the compiler never
// emits those.
func substitutePlaceholders(sql string) string {
	return strings.ReplaceAll(sql, "?", "NULL")
}
