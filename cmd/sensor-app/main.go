package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"

	"github.com/jnbntc/sensor-app/db"
	"github.com/jnbntc/sensor-app/internal/api"
	"github.com/jnbntc/sensor-app/internal/config"
	"github.com/jnbntc/sensor-app/internal/datadog"
	"github.com/jnbntc/sensor-app/internal/gpio"
	"github.com/jnbntc/sensor-app/internal/logging"
	"github.com/jnbntc/sensor-app/internal/metrics"
	"github.com/jnbntc/sensor-app/internal/mqtt"
	"github.com/jnbntc/sensor-app/internal/notifications"
	"github.com/jnbntc/sensor-app/internal/poller"
	"github.com/jnbntc/sensor-app/internal/relay"
	"github.com/jnbntc/sensor-app/internal/sensor"
	"github.com/jnbntc/sensor-app/system/shutdown"
	"github.com/jnbntc/sensor-app/system/startup"
)

// observer receives both poll and relay notifications.
type observer interface {
	poller.Observer
	relay.Observer
}

func main() {
	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logCloser, err := logging.Init(config.ParseLogLevel(opts.LogLevel), opts.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logCloser.Close()

	cfg, err := config.FromOptions(opts)
	if err != nil {
		log.Error().Err(err).Msg("Configuration could not be established, refusing to start")
		os.Exit(1)
	}

	if cfg.InstallService {
		os.Exit(installService(cfg))
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("db", cfg.DBPath).
		Float64("temperature_threshold", cfg.Thresholds.TemperatureThreshold).
		Float64("humidity_threshold", cfg.Thresholds.HumidityThreshold).
		Msg("Starting sensor app")

	output, err := openOutput(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open relay outputs")
		return 1
	}
	defer output.Close()

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open database")
		return 1
	}
	defer conn.Close()
	store := db.NewStore(conn)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	m := metrics.New()
	observers := []observer{m}

	if cfg.DDAgentAddr != "" {
		dd, err := datadog.New(cfg.DDAgentAddr, cfg.DDNamespace, cfg.DDTags)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		} else {
			defer dd.Close()
			observers = append(observers, dd)
		}
	}

	if cfg.MQTTBroker != "" {
		pub, err := mqtt.NewRealPublisher(cfg.MQTTBroker, cfg.MQTTTopic)
		if err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTTBroker).Msg("MQTT disabled")
		} else {
			defer pub.Close()
			bridge := mqtt.NewBridge(pub, cfg.MQTTTopic)
			observers = append(observers, bridge)
			wg.Add(1)
			go func() {
				defer wg.Done()
				bridge.Run(ctx)
			}()
		}
	}

	if cfg.NtfyTopic != "" {
		notifier := notifications.New(cfg.NtfyTopic)
		defer notifier.Wait()
		observers = append(observers, notifier)
	} else {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
	}

	relayObservers := make([]relay.Observer, 0, len(observers))
	pollObservers := make([]poller.Observer, 0, len(observers))
	for _, o := range observers {
		relayObservers = append(relayObservers, o)
		pollObservers = append(pollObservers, o)
	}

	relays := relay.NewController(output, store, cfg.Pins,
		relay.WithManualHold(cfg.ManualHold),
		relay.WithObservers(relayObservers...),
	)
	if err := relays.Reset(); err != nil {
		shutdown.ShutdownWithError(relays, err, "Failed to initialize relays off")
	}
	for id, pin := range cfg.Pins {
		log.Info().Str("relay", id.String()).Int("pin", pin.Number).Bool("active_high", pin.ActiveHigh).Msg("Relay initialized off")
	}
	if !cfg.SafeMode {
		if err := gpio.ValidateInactive(cfg.Pins); err != nil {
			log.Warn().Err(err).Msg("Could not confirm relay pins are released")
		}
	}

	source := sensor.NewDHT22(cfg.SensorDevice, cfg.SensorRetries, cfg.SensorRetryDelay)
	loop := poller.New(source, store, relays, cfg.Thresholds, cfg.PollInterval, pollObservers...)
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	server := api.NewServer(store, source, relays, m.Handler(), cfg.StaticDir)
	server.Use(m.Middleware)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe(net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port))))
	}()

	code := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			code = 1
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	wg.Wait()

	if rc := shutdown.Release(relays); rc != 0 {
		code = rc
	}
	log.Info().Msg("Sensor app stopped")
	return code
}

func openOutput(cfg *config.Config) (gpio.Output, error) {
	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED - relay GPIO writes are disabled")
		return gpio.NewSafeOutput(), nil
	}

	switch cfg.GPIOBackend {
	case "pinctrl":
		return gpio.PinctrlOutput{}, nil
	default:
		return gpio.NewCdevOutput(cfg.GPIOChip)
	}
}

func installService(cfg *config.Config) int {
	exe, err := os.Executable()
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve executable path")
		return 1
	}
	workdir, err := os.Getwd()
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve working directory")
		return 1
	}
	user := os.Getenv("SUDO_USER")
	if user == "" {
		user = os.Getenv("USER")
	}

	args := []string{exe,
		"--config-file", absPath(workdir, cfg.ConfigFile),
		"--db", absPath(workdir, cfg.DBPath),
		"--static-dir", absPath(workdir, cfg.StaticDir),
		"--gpio-backend", cfg.GPIOBackend,
	}
	svc := startup.Service{User: user, WorkingDir: workdir, ExecStart: strings.Join(args, " ")}
	paths := startup.Paths{BootScript: cfg.BootScript, GPIOUnit: cfg.GPIOUnit, MainUnit: cfg.MainUnit}

	if err := startup.Install(paths, cfg.Pins, svc); err != nil {
		log.Error().Err(err).Msg("Failed to install services")
		return 1
	}
	if err := startup.RunStartupScript(paths.BootScript); err != nil {
		log.Warn().Err(err).Str("boot_script", paths.BootScript).Msg("Boot script failed; relay pins not yet set to inactive")
	}
	log.Info().
		Str("boot_script", paths.BootScript).
		Str("gpio_unit", paths.GPIOUnit).
		Str("main_unit", paths.MainUnit).
		Msg("Services installed; run 'systemctl daemon-reload' and enable both units")
	return 0
}

func absPath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
