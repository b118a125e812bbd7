package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	temperature REAL,
	humidity REAL,
	timestamp TEXT
);

CREATE TABLE IF NOT EXISTS relay_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	relay_number INTEGER,
	state TEXT,
	timestamp TEXT
);

CREATE INDEX IF NOT EXISTS idx_readings_timestamp ON readings (timestamp);
CREATE INDEX IF NOT EXISTS idx_relay_logs_timestamp ON relay_logs (timestamp);
`

// Open connects to the sqlite file at path and applies the schema. A single
// pooled connection serializes the poll loop and HTTP handlers at the driver.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), conn); err != nil {
		conn.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Database initialized with readings and relay logs tables")
	return conn, nil
}

func InitSchema(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func dsn(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
}
