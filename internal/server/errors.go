package server

import (
	"errors"
	"net/http"

	"github.com/sanspareilsmyn/sqlitelens/internal/session"
	"github.com/sanspareilsmyn/sqlitelens/internal/source"
	"github.com/sanspareilsmyn/sqlitelens/internal/sqlitedb"
)

var (
	ErrS3Disabled         = errors.New("s3 store is not configured")
	ErrStatsUnavailable   = errors.New("analytics not available for the loaded database")
	ErrInvalidParameter   = errors.New("invalid query parameter")
	ErrMissingUpload      = errors.New("request carries no database file")
	ErrUploadTooLarge     = errors.New("upload exceeds the configured limit")
	ErrListenFailed       = errors.New("failed to start http listener")
	ErrShutdownIncomplete = errors.New("http server did not shut down cleanly")
)

// statusFor maps an error from the lower layers to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrMissingUpload),
		errors.Is(err, source.ErrInvalidName),
		errors.Is(err, sqlitedb.ErrEmptyDatabase),
		errors.Is(err, sqlitedb.ErrNotSQLite):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoDatabase),
		errors.Is(err, ErrStatsUnavailable),
		errors.Is(err, source.ErrNotFound),
		errors.Is(err, sqlitedb.ErrUnknownTable),
		errors.Is(err, sqlitedb.ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, sqlitedb.ErrDatabaseClosed):
		return http.StatusConflict
	case errors.Is(err, ErrUploadTooLarge),
		errors.Is(err, source.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrS3Disabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
