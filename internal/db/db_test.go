package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{
		"":           SQLite,
		"sqlite":     SQLite,
		"SQLite3":    SQLite,
		"postgres":   Postgres,
		"postgresql": Postgres,
		" pgx ":      Postgres,
	} {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := `UPDATE requests SET state=? WHERE id=? AND version=?`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `UPDATE requests SET state=$1 WHERE id=$2 AND version=$3`, Postgres.Rebind(q))
}

func TestForUpdate(t *testing.T) {
	assert.Empty(t, SQLite.ForUpdate())
	assert.Equal(t, " FOR UPDATE", Postgres.ForUpdate())
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, dialect, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, SQLite, dialect)
	require.NoError(t, conn.Ping())
	assert.FileExists(t, Path(dir))
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	_, _, err := Open(Config{Driver: "postgres"})
	assert.Error(t, err)
}
