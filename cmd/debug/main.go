package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/jnbntc/sensor-app/db"
	"github.com/jnbntc/sensor-app/internal/config"
	"github.com/jnbntc/sensor-app/internal/gpio"
	"github.com/jnbntc/sensor-app/internal/pinctrl"
)

// readPinState is replaced in tests.
var readPinState = pinctrl.ReadPin

type options struct {
	DBPath     string `long:"db" default:"sensor_data.db" description:"Path to the SQLite database file"`
	ConfigFile string `long:"config-file" default:"config.json" description:"Threshold config holding the relay wiring"`
	Limit      int    `short:"n" long:"limit" default:"20" description:"Rows to print, or rows to keep for prune"`

	Args struct {
		Command string `positional-arg-name:"command" choice:"history" choice:"relay-logs" choice:"prune" choice:"pins" required:"yes"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] history|relay-logs|prune|pins"
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	command := opts.Args.Command
	if err := runCommand(context.Background(), opts, os.Stdout); err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, opts options, w io.Writer) error {
	if opts.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", opts.Limit)
	}

	switch opts.Args.Command {
	case "history":
		return db.PrintHistoryCLI(ctx, opts.DBPath, opts.Limit, w)
	case "relay-logs":
		return db.PrintRelayLogsCLI(ctx, opts.DBPath, opts.Limit, w)
	case "prune":
		return db.PruneReadingsCLI(ctx, opts.DBPath, opts.Limit, w)
	case "pins":
		return printPins(opts.ConfigFile, w)
	default:
		return fmt.Errorf("unknown command %q", opts.Args.Command)
	}
}

func printPins(configFile string, w io.Writer) error {
	if _, err := os.Stat(configFile); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	file, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}

	reports, err := gpio.ReadPins(file.Pins())
	if err != nil {
		return err
	}
	for _, r := range reports {
		state := "inactive"
		if r.Active {
			state = "ACTIVE"
		}
		level := "lo"
		if r.High {
			level = "hi"
		}
		fmt.Fprintf(w, "%s  GPIO%-2d  active_high=%-5t  level=%s  %s", r.Relay, r.Pin.Number, r.Pin.ActiveHigh, level, state)
		if ps, err := readPinState(r.Pin.Number); err == nil {
			fmt.Fprintf(w, "  (mode=%s pull=%s drive=%s)", ps.Mode, ps.Pull, ps.Drive)
		}
		fmt.Fprintln(w)
	}
	return nil
}
