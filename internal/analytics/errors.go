package analytics

import "errors"

var (
	ErrQueryFailed   = errors.New("failed to read analytics table")
	ErrNoFingerprint = errors.New("database has no fingerprint")
)
