package db

import (
	"context"
	"fmt"
	"io"

	"github.com/jnbntc/sensor-app/internal/model"
)

func PrintHistoryCLI(ctx context.Context, dbPath string, limit int, w io.Writer) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	total, err := CountReadings(ctx, conn)
	if err != nil {
		return err
	}
	readings, err := GetReadings(ctx, conn, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%d of %d readings\n", len(readings), total)
	for _, r := range readings {
		fmt.Fprintf(w, "%6d  %s  %5.1f°C  %5.1f%%\n", r.ID, model.FormatTimestamp(r.Timestamp), r.Temperature, r.Humidity)
	}
	return nil
}

func PrintRelayLogsCLI(ctx context.Context, dbPath string, limit int, w io.Writer) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	events, err := GetRelayEvents(ctx, conn, limit)
	if err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Fprintf(w, "%6d  %s  relay %d  %s\n", ev.ID, model.FormatTimestamp(ev.Timestamp), int(ev.Relay), model.StateString(ev.On))
	}
	return nil
}

func PruneReadingsCLI(ctx context.Context, dbPath string, keep int, w io.Writer) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	n, err := PruneReadings(ctx, conn, keep)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "deleted %d readings\n", n)
	return nil
}
