package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIsSingleConnection(t *testing.T) {
	conn, err := NewSqliteDB()
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, 1, conn.Stats().MaxOpenConnections)

	_, err = conn.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = conn.Exec("INSERT INTO kv (k, v) VALUES ('a', 'b')")
	require.NoError(t, err)

	var v string
	require.NoError(t, conn.Get(&v, "SELECT v FROM kv WHERE k = 'a'"))
	assert.Equal(t, "b", v)
}

func TestFileCreatesParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "broker.db")

	conn, err := NewSqliteDB(WithPath(path), WithMaxOpenConns(4))
	require.NoError(t, err)
	defer conn.Close()

	assert.DirExists(t, filepath.Dir(path))
	assert.Equal(t, 4, conn.Stats().MaxOpenConnections)
}

func TestBadPragma(t *testing.T) {
	_, err := NewSqliteDB(WithPragmas("PRAGMA nope("))
	assert.Error(t, err)
}
