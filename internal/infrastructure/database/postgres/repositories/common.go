// Package repositories contains the PostgreSQL implementations of the domain
// repository interfaces.  Every repository wraps the shared *sql.DB from the
// postgres package and maps database failures onto application error codes.
package repositories

import (
	"database/sql"
	stderrors "errors"

	"github.com/reachforge/outreach-core/pkg/errors"
)

// wrapDB converts a driver error into an ErrCodeDatabaseError carrying the
// failed operation name.
func wrapDB(err error, op string) error {
	return errors.Wrap(err, errors.ErrCodeDatabaseError, "postgres: "+op)
}

// isNoRows reports whether err is the no-rows sentinel of database/sql.
func isNoRows(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}
