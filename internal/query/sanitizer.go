// Package query builds the parameterized SQL the record store runs against
// a source, and parses the small expression languages used for ordering
// and access-rule filters.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierRegex matches the field and table names a caller may reference.
var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// sqlReservedWords contains SQL keywords that cannot be used as
// caller-supplied identifiers.
var sqlReservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"EXEC": true, "EXECUTE": true, "UNION": true, "INTO": true,
	"FROM": true, "WHERE": true, "TABLE": true, "DATABASE": true,
	"GRANT": true, "REVOKE": true, "PROCEDURE": true, "TRIGGER": true,
}

// ValidateIdentifier reports whether name may be spliced into SQL as a
// quoted identifier: non-empty, at most 128 characters, plain ASCII word
// characters and not a reserved word.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("identifier too long (max 128 chars): %q", name)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	if sqlReservedWords[strings.ToUpper(name)] {
		return fmt.Errorf("identifier %q is a SQL reserved word", name)
	}
	return nil
}
