package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutoMigrate_SQLite_Idempotent(t *testing.T) {
	req := require.New(t)
	database, err := NewDatabase(DriverSQLite, filepath.Join(t.TempDir(), "nested", "chat.db"))
	req.NoError(err)
	defer database.Close()

	req.NoError(database.AutoMigrate())
	// Running twice must not fail
	req.NoError(database.AutoMigrate())

	for _, table := range []string{"users", "direct_messages", "rooms", "room_members", "room_messages"} {
		var name string
		err := database.Conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=$1`, table).Scan(&name)
		req.NoError(err, table)
		req.Equal(table, name)
	}
}

func TestNewDatabase_UnknownDriver(t *testing.T) {
	_, err := NewDatabase("mysql", "whatever")
	require.Error(t, err)
}
