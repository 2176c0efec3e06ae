package sqlitedb

import "errors"

var (
	ErrEmptyDatabase  = errors.New("database buffer is empty")
	ErrNotSQLite      = errors.New("buffer is not a SQLite database")
	ErrOpenFailed     = errors.New("failed to open database")
	ErrQueryFailed    = errors.New("query failed")
	ErrUnknownTable   = errors.New("table does not exist")
	ErrRowNotFound    = errors.New("row not found")
	ErrDatabaseClosed = errors.New("database is closed")
)
