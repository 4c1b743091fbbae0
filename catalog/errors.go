package catalog

import (
	"strings"

	"github.com/jameshyojaelee/omnispatial/errors"
)

// ErrDatabaseClosed is returned when the catalog is used after Close.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is
// closed, either as ErrDatabaseClosed or as a raw driver error.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	// the sql package returns its own unexported error value
	return strings.Contains(err.Error(), "database is closed")
}

func wrapDB(err error, msg string) error {
	if IsDatabaseClosed(err) {
		err = errors.Mark(err, ErrDatabaseClosed)
	}
	return errors.Wrap(err, msg)
}
