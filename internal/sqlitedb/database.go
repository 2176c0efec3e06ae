// Package sqlitedb opens SQLite database images and runs read-only queries
// against them.
package sqlitedb

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sanspareilsmyn/sqlitelens/internal/resultset"
)

const driverName = "sqlite"

// sqliteMagic is the fixed 16 byte header of every SQLite 3 database file.
var sqliteMagic = []byte("SQLite format 3\x00")

// Database is a read-only handle over one loaded database image.
type Database struct {
	name        string
	path        string
	size        int64
	fingerprint string
	logger      *zap.Logger

	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// Open writes data to a private temporary file under tmpDir (os.TempDir when
// empty) and opens it read-only. name is informational.
func Open(ctx context.Context, name string, data []byte, tmpDir string, logger *zap.Logger) (*Database, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDatabase
	}
	if !bytes.HasPrefix(data, sqliteMagic) {
		return nil, ErrNotSQLite
	}

	fingerprint := Fingerprint(data)
	data = legacyJournalHeader(data)

	f, err := os.CreateTemp(tmpDir, "sqlitelens-*.sqlite")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	db, err := sql.Open(driverName, "file:"+filepath.ToSlash(path)+"?mode=ro")
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	d := &Database{
		name:        name,
		path:        path,
		size:        int64(len(data)),
		fingerprint: fingerprint,
		logger:      logger.With(zap.String("database", name)),
		db:          db,
	}
	d.logger.Debug("Database opened",
		zap.String("temp_path", path),
		zap.Int64("size_bytes", d.size),
		zap.String("fingerprint", d.fingerprint),
	)
	return d, nil
}

// Fingerprint returns the content hash used to key derived results.
func Fingerprint(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

func (d *Database) Name() string        { return d.name }
func (d *Database) Size() int64         { return d.size }
func (d *Database) Fingerprint() string { return d.fingerprint }

// Exec runs a single statement and returns its result set. Statements that
// produce no columns return an empty slice.
func (d *Database) Exec(ctx context.Context, query string, args ...any) ([]resultset.ResultSet, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrDatabaseClosed
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	if len(columns) == 0 {
		return []resultset.ResultSet{}, nil
	}

	rs := resultset.ResultSet{Columns: columns, Values: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
		}
		rs.Values = append(rs.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	return []resultset.ResultSet{rs}, nil
}

// Tables lists the user tables in sqlite_master order.
func (d *Database) Tables(ctx context.Context) ([]string, error) {
	res, err := d.Exec(ctx, "SELECT name FROM sqlite_master WHERE type='table';")
	if err != nil {
		return nil, err
	}
	tables := []string{}
	if len(res) == 0 {
		return tables, nil
	}
	for _, row := range res[0].Values {
		tables = append(tables, resultset.ToString(row[0]))
	}
	return tables, nil
}

// HasTable reports whether table exists.
func (d *Database) HasTable(ctx context.Context, table string) (bool, error) {
	tables, err := d.Tables(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t == table {
			return true, nil
		}
	}
	return false, nil
}

// SelectAll returns every row of table.
func (d *Database) SelectAll(ctx context.Context, table string) (resultset.ResultSet, error) {
	if err := d.requireTable(ctx, table); err != nil {
		return resultset.ResultSet{}, err
	}
	return d.single(ctx, "SELECT * FROM "+QuoteIdent(table)+";")
}

// Rows pages through table in storage order. A non-positive limit returns
// every row from offset on.
func (d *Database) Rows(ctx context.Context, table string, limit, offset int) (resultset.ResultSet, error) {
	if err := d.requireTable(ctx, table); err != nil {
		return resultset.ResultSet{}, err
	}
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	return d.single(ctx, "SELECT * FROM "+QuoteIdent(table)+" LIMIT ? OFFSET ?;", limit, offset)
}

// Count returns the number of rows in table.
func (d *Database) Count(ctx context.Context, table string) (int64, error) {
	if err := d.requireTable(ctx, table); err != nil {
		return 0, err
	}
	rs, err := d.single(ctx, "SELECT COUNT(*) FROM "+QuoteIdent(table)+";")
	if err != nil {
		return 0, err
	}
	if rs.Len() == 0 {
		return 0, nil
	}
	return resultset.ToInt64(rs.Values[0][0]), nil
}

// Lookup returns the row of table whose id column equals id. This backs the
// cross-table navigation for columns that reference another table's id.
func (d *Database) Lookup(ctx context.Context, table, id string) (resultset.Item, error) {
	if err := d.requireTable(ctx, table); err != nil {
		return nil, err
	}
	rs, err := d.single(ctx, "SELECT * FROM "+QuoteIdent(table)+" WHERE id = ? LIMIT 1;", id)
	if err != nil {
		return nil, err
	}
	if rs.Len() == 0 {
		return nil, fmt.Errorf("%w: %s id=%s", ErrRowNotFound, table, id)
	}
	return rs.Item(0), nil
}

// Close releases the handle and removes the temporary file. It is safe to
// call more than once.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	err := d.db.Close()
	if rmErr := os.Remove(d.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	d.logger.Debug("Database closed")
	return err
}

func (d *Database) single(ctx context.Context, query string, args ...any) (resultset.ResultSet, error) {
	res, err := d.Exec(ctx, query, args...)
	if err != nil {
		return resultset.ResultSet{}, err
	}
	if len(res) == 0 {
		return resultset.ResultSet{}, nil
	}
	return res[0], nil
}

func (d *Database) requireTable(ctx context.Context, table string) error {
	ok, err := d.HasTable(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return nil
}

// legacyJournalHeader rewrites the WAL file-format bytes of the header to
// rollback-journal mode on a copy. A WAL database without its -wal/-shm
// siblings cannot be opened read-only otherwise.
func legacyJournalHeader(data []byte) []byte {
	if len(data) < 20 || data[18] != 2 || data[19] != 2 {
		return data
	}
	patched := make([]byte, len(data))
	copy(patched, data)
	patched[18], patched[19] = 1, 1
	return patched
}

// QuoteIdent quotes a SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
