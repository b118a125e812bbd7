// Package gpio drives relay outputs. Backends translate a logical relay
// state into an electrical level using the pin's polarity.
package gpio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jnbntc/sensor-app/internal/model"
	"github.com/jnbntc/sensor-app/internal/pinctrl"
)

// Output sets relay pins.
type Output interface {
	// Set drives pin so that the relay is engaged when on is true.
	Set(pin model.GPIOPin, on bool) error

	// Close releases any held lines.
	Close() error
}

// Level returns the electrical level (true = high) that puts pin in the
// requested logical state.
func Level(pin model.GPIOPin, on bool) bool {
	return on == pin.ActiveHigh
}

// IsActive is the inverse of Level.
func IsActive(pin model.GPIOPin, high bool) bool {
	return high == pin.ActiveHigh
}

// PinctrlOutput shells out to the Raspberry Pi pinctrl tool.
type PinctrlOutput struct{}

func (PinctrlOutput) Set(pin model.GPIOPin, on bool) error {
	if err := pinctrl.SetPin(pin.Number, "op", "pn", pinctrl.DriveFor(Level(pin, on))); err != nil {
		return fmt.Errorf("set pin %d: %w", pin.Number, err)
	}
	return nil
}

func (PinctrlOutput) Close() error { return nil }

// SafeOutput logs writes without touching hardware.
type SafeOutput struct {
	mu    sync.Mutex
	state map[int]bool
}

func NewSafeOutput() *SafeOutput {
	return &SafeOutput{state: make(map[int]bool)}
}

func (s *SafeOutput) Set(pin model.GPIOPin, on bool) error {
	s.mu.Lock()
	s.state[pin.Number] = on
	s.mu.Unlock()

	log.Info().
		Int("pin", pin.Number).
		Bool("on", on).
		Bool("high", Level(pin, on)).
		Msg("Safe mode: skipping GPIO write")
	return nil
}

// Active reports the last logical state written to pin.
func (s *SafeOutput) Active(pin int) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	on, ok := s.state[pin]
	return on, ok
}

func (s *SafeOutput) Close() error { return nil }

type PinReport struct {
	Relay  model.RelayID
	Pin    model.GPIOPin
	High   bool
	Active bool
}

// ReadLevel reads a pin's electrical level. Replaced in tests.
var ReadLevel = pinctrl.ReadLevel

// ReadPins reports the current level of every relay pin, in relay order.
func ReadPins(pins map[model.RelayID]model.GPIOPin) ([]PinReport, error) {
	ids := make([]model.RelayID, 0, len(pins))
	for id := range pins {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	reports := make([]PinReport, 0, len(ids))
	for _, id := range ids {
		pin := pins[id]
		high, err := ReadLevel(pin.Number)
		if err != nil {
			return nil, fmt.Errorf("failed to read pin level for %s (GPIO %d): %w", id, pin.Number, err)
		}
		reports = append(reports, PinReport{Relay: id, Pin: pin, High: high, Active: IsActive(pin, high)})
	}
	return reports, nil
}

// ValidateInactive returns an error if any relay pin is currently engaged.
func ValidateInactive(pins map[model.RelayID]model.GPIOPin) error {
	reports, err := ReadPins(pins)
	if err != nil {
		return err
	}
	for _, r := range reports {
		if r.Active {
			return fmt.Errorf("pin %d (%s) is active, expected inactive", r.Pin.Number, r.Relay)
		}
	}
	return nil
}
