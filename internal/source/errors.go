package source

import "errors"

var (
	ErrInvalidName  = errors.New("invalid file name")
	ErrNotFound     = errors.New("file not found")
	ErrStoreFailed  = errors.New("file store operation failed")
	ErrS3Connect    = errors.New("failed to connect to s3 bucket")
	ErrS3Request    = errors.New("s3 request failed")
	ErrWatchFailed  = errors.New("failed to watch directory")
	ErrFileTooLarge = errors.New("file exceeds size limit")
)
