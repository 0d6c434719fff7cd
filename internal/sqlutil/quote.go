// Package sqlutil provides SQL helpers shared by the MySQL and SQLite code paths.
package sqlutil

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength is MySQL's limit for table names. SQLite has none, but
// a catalog must be movable between the two.
const MaxIdentifierLength = 64

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdentifier wraps name in backticks, doubling embedded backticks.
// Both MySQL and SQLite accept this form.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// CheckIdentifier reports why name cannot be spliced into a statement, or nil.
func CheckIdentifier(name string) error {
	switch {
	case name == "":
		return &InvalidIdentifierError{Name: name, Reason: "name is empty"}
	case len(name) > MaxIdentifierLength:
		return &InvalidIdentifierError{Name: name, Reason: fmt.Sprintf("longer than %d characters", MaxIdentifierLength)}
	case !identifierPattern.MatchString(name):
		return &InvalidIdentifierError{Name: name, Reason: "must start with a letter or underscore and contain only alphanumeric characters and underscores"}
	case strings.HasPrefix(strings.ToLower(name), "sqlite_"):
		return &InvalidIdentifierError{Name: name, Reason: "the sqlite_ prefix is reserved"}
	}
	return nil
}

// IsValidIdentifier reports whether CheckIdentifier accepts name.
func IsValidIdentifier(name string) bool {
	return CheckIdentifier(name) == nil
}

// QuoteIdentifierSafe quotes a configured table name after checking it.
func QuoteIdentifierSafe(name string) (string, error) {
	if err := CheckIdentifier(name); err != nil {
		return "", err
	}
	return QuoteIdentifier(name), nil
}

// InvalidIdentifierError is returned for table names that fail CheckIdentifier.
type InvalidIdentifierError struct {
	Name   string
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Name, e.Reason)
}
