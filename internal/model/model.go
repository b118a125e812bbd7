package model

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

// TimestampLayout is fixed width in UTC so that lexical order matches time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

type RelayID int

const (
	Relay1 RelayID = 1 // driven by temperature
	Relay2 RelayID = 2 // driven by humidity
)

// Relays lists every relay in evaluation order.
var Relays = []RelayID{Relay1, Relay2}

func (id RelayID) Valid() bool {
	return id == Relay1 || id == Relay2
}

func (id RelayID) String() string {
	return fmt.Sprintf("relay%d", int(id))
}

type Reading struct {
	ID          int64
	Temperature float64 // °C
	Humidity    float64 // %RH
	Timestamp   time.Time
}

// NewReading converts a sensor sample into a Reading.
func NewReading(env physic.Env, ts time.Time) Reading {
	return Reading{
		Temperature: env.Temperature.Celsius(),
		Humidity:    float64(env.Humidity) / float64(physic.PercentRH),
		Timestamp:   ts,
	}
}

type RelayEvent struct {
	ID        int64
	Relay     RelayID
	On        bool
	Timestamp time.Time
}

type ThresholdConfig struct {
	TemperatureThreshold  float64
	TemperatureHysteresis float64
	HumidityThreshold     float64
	HumidityHysteresis    float64
}

// GPIOPin carries the electrical polarity of an output. ActiveHigh=false means
// a low level engages the relay.
type GPIOPin struct {
	Number     int
	ActiveHigh bool
}

func StateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func ParseState(s string) (bool, error) {
	switch s {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	default:
		return false, fmt.Errorf("unknown relay state %q", s)
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		// rows written by other tools may carry any RFC3339 variant
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}
