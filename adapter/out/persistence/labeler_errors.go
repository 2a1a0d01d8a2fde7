// Package persistence provides SQL adapters implementing outbound ports.
package persistence

import "errors"

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Dialect selects the SQL flavour an adapter speaks.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DialectOf infers the dialect from the sqlx driver name.
func DialectOf(driverName string) Dialect {
	switch driverName {
	case "sqlite", "sqlite3":
		return DialectSQLite
	default:
		return DialectPostgres
	}
}
