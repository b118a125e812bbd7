package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jnbntc/sensor-app/internal/model"
)

// InsertReading appends a reading and returns its row id.
func InsertReading(ctx context.Context, db *sql.DB, r model.Reading) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO readings (temperature, humidity, timestamp) VALUES (?, ?, ?)`,
		r.Temperature, r.Humidity, model.FormatTimestamp(r.Timestamp))
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading id: %w", err)
	}
	return id, nil
}

// InsertRelayEvent appends a relay state record and returns its row id.
func InsertRelayEvent(ctx context.Context, db *sql.DB, ev model.RelayEvent) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO relay_logs (relay_number, state, timestamp) VALUES (?, ?, ?)`,
		int(ev.Relay), model.StateString(ev.On), model.FormatTimestamp(ev.Timestamp))
	if err != nil {
		return 0, fmt.Errorf("insert relay event for %s: %w", ev.Relay, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("relay event id: %w", err)
	}
	return id, nil
}

// PruneReadings deletes readings older than the newest keep rows, in one transaction.
func PruneReadings(ctx context.Context, db *sql.DB, keep int) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("start transaction: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM readings WHERE id NOT IN (SELECT id FROM readings ORDER BY timestamp DESC, id DESC LIMIT ?)`, keep)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return res.RowsAffected()
}

// Store adapts the package functions to the log interfaces used by the
// poll loop, relay controller and API.
type Store struct {
	conn *sql.DB
}

func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

func (s *Store) InsertReading(ctx context.Context, r model.Reading) (int64, error) {
	return InsertReading(ctx, s.conn, r)
}

func (s *Store) AppendRelayEvent(ctx context.Context, ev model.RelayEvent) (int64, error) {
	return InsertRelayEvent(ctx, s.conn, ev)
}

func (s *Store) Readings(ctx context.Context, limit int) ([]model.Reading, error) {
	return GetReadings(ctx, s.conn, limit)
}

func (s *Store) RelayEvents(ctx context.Context, limit int) ([]model.RelayEvent, error) {
	return GetRelayEvents(ctx, s.conn, limit)
}
