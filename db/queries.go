package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jnbntc/sensor-app/internal/model"
)

const (
	HistoryLimit   = 1000
	RelayLogsLimit = 100
)

// GetReadings returns at most limit readings, newest first.
func GetReadings(ctx context.Context, db *sql.DB, limit int) ([]model.Reading, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, temperature, humidity, timestamp FROM readings ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := make([]model.Reading, 0)
	for rows.Next() {
		var r model.Reading
		var ts string
		if err := rows.Scan(&r.ID, &r.Temperature, &r.Humidity, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Timestamp, err = model.ParseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("reading %d: %w", r.ID, err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return readings, nil
}

// GetRelayEvents returns at most limit relay log entries, newest first.
func GetRelayEvents(ctx context.Context, db *sql.DB, limit int) ([]model.RelayEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, relay_number, state, timestamp FROM relay_logs ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query relay logs: %w", err)
	}
	defer rows.Close()

	events := make([]model.RelayEvent, 0)
	for rows.Next() {
		var ev model.RelayEvent
		var relay int
		var state, ts string
		if err := rows.Scan(&ev.ID, &relay, &state, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan relay log: %w", err)
		}
		ev.Relay = model.RelayID(relay)
		if ev.On, err = model.ParseState(state); err != nil {
			return nil, fmt.Errorf("relay log %d: %w", ev.ID, err)
		}
		if ev.Timestamp, err = model.ParseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("relay log %d: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate relay logs: %w", err)
	}
	return events, nil
}

// CountReadings is used by the debug CLI.
func CountReadings(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return n, nil
}
