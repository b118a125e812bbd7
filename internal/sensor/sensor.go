// Package sensor reads temperature and relative humidity.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"
)

// ErrReadFailed is returned when no valid sample could be taken.
var ErrReadFailed = errors.New("failed to retrieve data from sensor")

// Source returns one temperature/humidity sample per call.
type Source interface {
	Read(ctx context.Context) (physic.Env, error)
}

const (
	DefaultRetries    = 15
	DefaultRetryDelay = 2 * time.Second

	// IIO scales: milli degrees Celsius and milli percent RH.
	tempFile     = "in_temp_input"
	humidityFile = "in_humidityrelative_input"

	minTempC = -40.0
	maxTempC = 80.0
)

// DHT22 reads a DHT22 exposed by the Linux dht11 IIO driver, where dir is
// the device directory under /sys/bus/iio/devices. The bus is single-wire
// and timing sensitive, so reads are serialized and retried.
type DHT22 struct {
	mu      sync.Mutex
	dir     string
	retries int
	delay   time.Duration

	readFile func(string) ([]byte, error)
}

func NewDHT22(dir string, retries int, delay time.Duration) *DHT22 {
	if retries < 1 {
		retries = 1
	}
	return &DHT22{dir: dir, retries: retries, delay: delay, readFile: os.ReadFile}
}

// Read makes up to the configured number of attempts, waiting between them.
func (d *DHT22) Read(ctx context.Context) (physic.Env, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		env, err := d.sample()
		if err == nil {
			log.Debug().
				Float64("temperature", env.Temperature.Celsius()).
				Float64("humidity", Humidity(env)).
				Int("attempt", attempt).
				Msg("Sensor read")
			return env, nil
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt).Msg("Sensor read attempt failed")

		if attempt == d.retries {
			break
		}
		select {
		case <-ctx.Done():
			return physic.Env{}, fmt.Errorf("%w: %w", ErrReadFailed, ctx.Err())
		case <-time.After(d.delay):
		}
	}
	return physic.Env{}, fmt.Errorf("%w after %d attempts: %w", ErrReadFailed, d.retries, lastErr)
}

func (d *DHT22) sample() (physic.Env, error) {
	milliC, err := d.readInt(tempFile)
	if err != nil {
		return physic.Env{}, err
	}
	milliRH, err := d.readInt(humidityFile)
	if err != nil {
		return physic.Env{}, err
	}

	tempC := float64(milliC) / 1000
	if tempC < minTempC || tempC > maxTempC {
		return physic.Env{}, fmt.Errorf("temperature %.1f°C out of range", tempC)
	}
	if milliRH < 0 || milliRH > 100000 {
		return physic.Env{}, fmt.Errorf("humidity %.1f%% out of range", float64(milliRH)/1000)
	}

	return physic.Env{
		Temperature: physic.ZeroCelsius + physic.Temperature(milliC)*physic.MilliKelvin,
		Humidity:    physic.RelativeHumidity(milliRH) * (physic.PercentRH / 1000),
	}, nil
}

func (d *DHT22) readInt(name string) (int64, error) {
	data, err := d.readFile(filepath.Join(d.dir, name))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

// Env builds a physic.Env from °C and %RH.
func Env(tempC, humidity float64) physic.Env {
	return physic.Env{
		Temperature: physic.ZeroCelsius + physic.Temperature(math.Round(tempC*1e9)),
		Humidity:    physic.RelativeHumidity(math.Round(humidity * float64(physic.PercentRH))),
	}
}

// Humidity returns env's relative humidity in percent.
func Humidity(env physic.Env) float64 {
	return float64(env.Humidity) / float64(physic.PercentRH)
}
