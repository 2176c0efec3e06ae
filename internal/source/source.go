// Package source acquires database files: a local file cache directory, an
// S3 bucket, and a watcher that reports files dropped into the directory.
package source

import (
	"context"
	"strings"
	"time"
)

// FileInfo describes a stored database file.
type FileInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// File is a stored database file with its contents.
type File struct {
	FileInfo
	Data []byte
}

// Store lists, fetches and deletes database files.
type Store interface {
	List(ctx context.Context) ([]FileInfo, error)
	Fetch(ctx context.Context, name string) (File, error)
	Delete(ctx context.Context, name string) error
}

var databaseExtensions = []string{".sqlite", ".sqlite3", ".db"}

// IsDatabaseName reports whether name carries a SQLite file extension.
func IsDatabaseName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range databaseExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
