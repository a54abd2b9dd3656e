package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

type Database struct {
	Conn   *sql.DB
	Driver string
}

// NewDatabase opens and pings a connection pool for the given driver.
// For sqlite3 the dsn is a file path; foreign keys and WAL are switched on.
func NewDatabase(driver, dsn string) (*Database, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
		}
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if driver == DriverSQLite {
		// One writer at a time keeps sqlite away from SQLITE_BUSY under websocket fan-in.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(25)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}
	return &Database{Conn: conn, Driver: driver}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

func (d *Database) AutoMigrate() error {
	queries := postgresSchema
	if d.Driver == DriverSQLite {
		queries = sqliteSchema
	}

	for _, query := range queries {
		_, err := d.Conn.Exec(query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            online BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

	`CREATE TABLE IF NOT EXISTS direct_messages (
            id BIGSERIAL PRIMARY KEY,
            sender TEXT NOT NULL,
            receiver TEXT NOT NULL,
            text TEXT NOT NULL,
            sent_at VARCHAR(5) NOT NULL,
            is_read BOOLEAN NOT NULL DEFAULT FALSE
        )`,
	`CREATE INDEX IF NOT EXISTS idx_direct_messages_unread ON direct_messages(receiver, is_read)`,

	`CREATE TABLE IF NOT EXISTS rooms (
            id TEXT PRIMARY KEY,
            name VARCHAR(100) NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            creator_id TEXT NOT NULL REFERENCES users(id),
            created_at TIMESTAMPTZ NOT NULL
        )`,

	`CREATE TABLE IF NOT EXISTS room_members (
            room_id TEXT REFERENCES rooms(id) ON DELETE CASCADE,
            user_id TEXT REFERENCES users(id) ON DELETE CASCADE,
            joined_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (room_id, user_id)
        )`,

	`CREATE TABLE IF NOT EXISTS room_messages (
            id TEXT PRIMARY KEY,
            room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            sender_name TEXT NOT NULL,
            text TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            reply_sender_id TEXT,
            reply_sender_name TEXT,
            reply_text TEXT
        )`,
	`CREATE INDEX IF NOT EXISTS idx_room_messages_room ON room_messages(room_id, id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            username TEXT UNIQUE NOT NULL,
            password TEXT NOT NULL,
            online BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

	`CREATE TABLE IF NOT EXISTS direct_messages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            sender TEXT NOT NULL,
            receiver TEXT NOT NULL,
            text TEXT NOT NULL,
            sent_at TEXT NOT NULL,
            is_read BOOLEAN NOT NULL DEFAULT 0
        )`,
	`CREATE INDEX IF NOT EXISTS idx_direct_messages_unread ON direct_messages(receiver, is_read)`,

	`CREATE TABLE IF NOT EXISTS rooms (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            creator_id TEXT NOT NULL REFERENCES users(id),
            created_at DATETIME NOT NULL
        )`,

	`CREATE TABLE IF NOT EXISTS room_members (
            room_id TEXT REFERENCES rooms(id) ON DELETE CASCADE,
            user_id TEXT REFERENCES users(id) ON DELETE CASCADE,
            joined_at DATETIME NOT NULL,
            PRIMARY KEY (room_id, user_id)
        )`,

	`CREATE TABLE IF NOT EXISTS room_messages (
            id TEXT PRIMARY KEY,
            room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            sender_name TEXT NOT NULL,
            text TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            reply_sender_id TEXT,
            reply_sender_name TEXT,
            reply_text TEXT
        )`,
	`CREATE INDEX IF NOT EXISTS idx_room_messages_room ON room_messages(room_id, id)`,
}
