package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jnbntc/sensor-app/internal/model"
)

// Options are the process flags. Control thresholds live in the JSON file.
type Options struct {
	ConfigFile string `long:"config-file" default:"config.json" description:"Path to threshold config file"`
	DBPath     string `long:"db" default:"sensor_data.db" description:"Path to the SQLite database file"`
	LogLevel   string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogFile    string `long:"log-file" default:"sensor_app.log" description:"Log file (empty for stderr only)"`

	Host      string `short:"H" long:"host" default:"0.0.0.0" description:"IP to listen on"`
	Port      uint16 `short:"P" long:"port" default:"5000" description:"Port to listen on"`
	StaticDir string `long:"static-dir" default:"static" description:"Directory holding index.html and assets"`

	PollInterval time.Duration `long:"poll-interval" default:"60s" description:"Delay between sensor samples"`

	SensorDevice     string        `long:"sensor-device" default:"/sys/bus/iio/devices/iio:device0" description:"IIO directory of the DHT22"`
	SensorRetries    int           `long:"sensor-retries" default:"15" description:"Retries per sensor read"`
	SensorRetryDelay time.Duration `long:"sensor-retry-delay" default:"2s" description:"Delay between sensor retries"`

	GPIOBackend string `long:"gpio-backend" default:"cdev" choice:"cdev" choice:"pinctrl" description:"Relay output driver"`
	GPIOChip    string `long:"gpio-chip" default:"gpiochip0" description:"GPIO character device for the cdev backend"`
	SafeMode    bool   `long:"safe-mode" description:"Log relay changes without touching GPIO"`

	MQTTBroker string `long:"mqtt-broker" description:"MQTT broker URL (empty disables MQTT)"`
	MQTTTopic  string `long:"mqtt-topic" default:"sensor-app" description:"MQTT topic prefix"`

	DDAgentAddr string   `long:"dd-agent" description:"DogStatsD address (empty disables Datadog)"`
	DDNamespace string   `long:"dd-namespace" default:"sensor_app." description:"Datadog metric namespace"`
	DDTags      []string `long:"dd-tag" description:"Datadog tag, repeatable"`

	NtfyTopic string `long:"ntfy-topic" description:"ntfy.sh topic for alerts (empty disables)"`

	InstallService bool   `long:"install-service" description:"Write boot script and systemd units, then exit"`
	BootScript     string `long:"boot-script" default:"/usr/local/bin/sensor-app-gpio.sh" description:"Boot script path"`
	GPIOUnit       string `long:"gpio-unit" default:"/etc/systemd/system/sensor-app-gpio.service" description:"GPIO boot unit path"`
	MainUnit       string `long:"main-unit" default:"/etc/systemd/system/sensor-app.service" description:"Service unit path"`
}

// File is the on-disk threshold config. Pointer fields distinguish missing
// keys from zero values.
type File struct {
	TemperatureThreshold  *float64 `json:"temperature_threshold"`
	TemperatureHysteresis *float64 `json:"temperature_hysteresis"`
	HumidityThreshold     *float64 `json:"humidity_threshold"`
	HumidityHysteresis    *float64 `json:"humidity_hysteresis"`

	Relays            *Relays `json:"relays,omitempty"`
	ManualHoldSeconds int     `json:"manual_hold_seconds,omitempty"`
}

type Relays struct {
	Relay1 *Pin `json:"relay1,omitempty"`
	Relay2 *Pin `json:"relay2,omitempty"`
}

type Pin struct {
	Pin        int  `json:"pin"`
	ActiveHigh bool `json:"active_high"`
}

type Config struct {
	Options

	Level      zerolog.Level
	Thresholds model.ThresholdConfig
	Pins       map[model.RelayID]model.GPIOPin
	ManualHold time.Duration
}

// Default relay wiring: BCM18/BCM19 on an active-low relay board.
var DefaultPins = map[model.RelayID]model.GPIOPin{
	model.Relay1: {Number: 18, ActiveHigh: false},
	model.Relay2: {Number: 19, ActiveHigh: false},
}

func DefaultFile() File {
	return File{
		TemperatureThreshold:  float64Ptr(30.0),
		TemperatureHysteresis: float64Ptr(5.0),
		HumidityThreshold:     float64Ptr(70.0),
		HumidityHysteresis:    float64Ptr(5.0),
	}
}

// ParseOptions parses command line arguments. A *flags.Error of type
// flags.ErrHelp is returned when help was requested.
func ParseOptions(args []string) (Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return opts, err
	}
	if opts.PollInterval <= 0 {
		return opts, fmt.Errorf("poll interval must be positive, got %s", opts.PollInterval)
	}
	if opts.SensorRetries < 0 {
		return opts, fmt.Errorf("sensor retries must not be negative, got %d", opts.SensorRetries)
	}
	return opts, nil
}

// Load parses flags and establishes the threshold config, creating the
// default file when none exists.
func Load(args []string) (*Config, error) {
	opts, err := ParseOptions(args)
	if err != nil {
		return nil, err
	}
	return FromOptions(opts)
}

// FromOptions loads the threshold file named by opts.
func FromOptions(opts Options) (*Config, error) {
	file, err := LoadFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Options:    opts,
		Level:      ParseLogLevel(opts.LogLevel),
		Thresholds: file.Thresholds(),
		Pins:       file.Pins(),
		ManualHold: time.Duration(file.ManualHoldSeconds) * time.Second,
	}
	return cfg, nil
}

// LoadFile reads and validates path. A missing or undecodable file is
// replaced by the persisted default config; the undecodable file is kept
// as <path>.invalid. A file that decodes but fails validation is an error.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Error().Str("path", path).Msg("Configuration file not found. Creating default configuration.")
		def := DefaultFile()
		if err := SaveFile(path, def); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Error saving default configuration file")
		}
		return def, nil
	}
	if err != nil {
		return File{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Error decoding configuration file. Replacing with default configuration.")
		if err := os.Rename(path, path+".invalid"); err != nil {
			return File{}, fmt.Errorf("failed to set aside malformed config file: %w", err)
		}
		def := DefaultFile()
		if err := SaveFile(path, def); err != nil {
			return File{}, fmt.Errorf("failed to save default config: %w", err)
		}
		return def, nil
	}
	if err := f.validate(); err != nil {
		return File{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	log.Debug().
		Float64("temperature_threshold", *f.TemperatureThreshold).
		Float64("temperature_hysteresis", *f.TemperatureHysteresis).
		Float64("humidity_threshold", *f.HumidityThreshold).
		Float64("humidity_hysteresis", *f.HumidityHysteresis).
		Msg("Configuration loaded")
	return f, nil
}

// SaveFile writes f atomically next to path.
func SaveFile(path string, f File) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "    ")
	if err := enc.Encode(f); err != nil {
		out.Close()
		return err
	}
	out.Sync()
	out.Close()
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	log.Debug().Str("path", path).Msg("Configuration saved")
	return nil
}

func (f File) Thresholds() model.ThresholdConfig {
	return model.ThresholdConfig{
		TemperatureThreshold:  *f.TemperatureThreshold,
		TemperatureHysteresis: *f.TemperatureHysteresis,
		HumidityThreshold:     *f.HumidityThreshold,
		HumidityHysteresis:    *f.HumidityHysteresis,
	}
}

// Pins merges any configured relay wiring over DefaultPins.
func (f File) Pins() map[model.RelayID]model.GPIOPin {
	pins := make(map[model.RelayID]model.GPIOPin, len(DefaultPins))
	for id, p := range DefaultPins {
		pins[id] = p
	}
	if f.Relays == nil {
		return pins
	}
	if f.Relays.Relay1 != nil {
		pins[model.Relay1] = model.GPIOPin{Number: f.Relays.Relay1.Pin, ActiveHigh: f.Relays.Relay1.ActiveHigh}
	}
	if f.Relays.Relay2 != nil {
		pins[model.Relay2] = model.GPIOPin{Number: f.Relays.Relay2.Pin, ActiveHigh: f.Relays.Relay2.ActiveHigh}
	}
	return pins
}

func ParseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (f *File) validate() error {
	var (
		missing  []string
		problems []string
	)

	v := reflect.ValueOf(*f)
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() != reflect.Ptr || field.Type().Elem().Kind() != reflect.Float64 {
			continue
		}
		name := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		if field.IsNil() {
			missing = append(missing, name)
			continue
		}
		if strings.HasSuffix(name, "_hysteresis") && field.Elem().Float() < 0 {
			problems = append(problems, fmt.Sprintf("%s must not be negative", name))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	if f.ManualHoldSeconds < 0 {
		problems = append(problems, "manual_hold_seconds must not be negative")
	}

	pins := f.Pins()
	usedPins := map[int]model.RelayID{}
	for _, id := range model.Relays {
		p := pins[id]
		if p.Number < 0 {
			problems = append(problems, fmt.Sprintf("%s pin must not be negative", id))
			continue
		}
		if other, exists := usedPins[p.Number]; exists {
			problems = append(problems, fmt.Sprintf("%s and %s both use pin %d", id, other, p.Number))
		} else {
			usedPins[p.Number] = id
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func float64Ptr(v float64) *float64 {
	return &v
}
