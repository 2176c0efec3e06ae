// Package testutil builds small SQLite fixtures for package tests.
package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// EvInfoSchema matches the layout of the event table the analytics read.
const EvInfoSchema = `CREATE TABLE EvInfo (
	id INTEGER PRIMARY KEY,
	network TEXT,
	tx_hash TEXT,
	multi_id TEXT,
	receive_time INTEGER
);`

// EvRow is one EvInfo fixture row.
type EvRow struct {
	Network     string
	TxHash      string
	MultiID     string
	ReceiveTime int64
}

// BuildDatabase runs stmts against a fresh database file and returns its bytes.
func BuildDatabase(t testing.TB, stmts ...string) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.sqlite")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, "statement: %s", stmt)
	}
	require.NoError(t, db.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// BuildEvInfo returns a database holding rows in the EvInfo table, inserted
// in order, plus any extra statements.
func BuildEvInfo(t testing.TB, rows []EvRow, extra ...string) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "evinfo.sqlite")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	_, err = db.Exec(EvInfoSchema)
	require.NoError(t, err)
	for _, r := range rows {
		_, err := db.Exec(
			"INSERT INTO EvInfo (network, tx_hash, multi_id, receive_time) VALUES (?, ?, ?, ?)",
			r.Network, r.TxHash, r.MultiID, r.ReceiveTime,
		)
		require.NoError(t, err)
	}
	for _, stmt := range extra {
		_, err := db.Exec(stmt)
		require.NoError(t, err, "statement: %s", stmt)
	}
	require.NoError(t, db.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
