// Package relay decides and applies relay states from threshold and
// hysteresis rules.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jnbntc/sensor-app/internal/gpio"
	"github.com/jnbntc/sensor-app/internal/model"
)

var ErrUnknownRelay = errors.New("unknown relay")

// OutputError reports a failed physical write. Commanded state is left
// unchanged and no event is logged.
type OutputError struct {
	Relay model.RelayID
	On    bool
	Err   error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("failed to set %s %s: %v", e.Relay, model.StateString(e.On), e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// EventLog persists relay transitions.
type EventLog interface {
	AppendRelayEvent(ctx context.Context, ev model.RelayEvent) (int64, error)
}

// Observer is told about applied transitions and failed writes. Calls are
// made without the controller lock held.
type Observer interface {
	RelayChanged(ev model.RelayEvent, manual bool)
	RelayFailed(id model.RelayID, on bool, err error)
}

// Evaluate applies the hysteresis rule: on above threshold, off below
// threshold-hysteresis, unchanged in between.
func Evaluate(value, threshold, hysteresis float64, current bool) bool {
	if value > threshold {
		return true
	}
	if value < threshold-hysteresis {
		return false
	}
	return current
}

type Option func(*Controller)

// WithManualHold suspends automatic control of a relay for d after a
// manual command. Zero disables the hold.
func WithManualHold(d time.Duration) Option {
	return func(c *Controller) { c.hold = d }
}

func WithObservers(obs ...Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, obs...) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns the commanded state of both relays. A single mutex
// covers state, output writes and event appends.
type Controller struct {
	mu        sync.Mutex
	output    gpio.Output
	events    EventLog
	pins      map[model.RelayID]model.GPIOPin
	state     map[model.RelayID]bool
	heldUntil map[model.RelayID]time.Time

	hold      time.Duration
	observers []Observer
	now       func() time.Time
}

func NewController(output gpio.Output, events EventLog, pins map[model.RelayID]model.GPIOPin, opts ...Option) *Controller {
	c := &Controller{
		output:    output,
		events:    events,
		pins:      make(map[model.RelayID]model.GPIOPin, len(pins)),
		state:     make(map[model.RelayID]bool, len(pins)),
		heldUntil: make(map[model.RelayID]time.Time),
		now:       time.Now,
	}
	for id, pin := range pins {
		c.pins[id] = pin
		c.state[id] = false
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply drives relay id to on, records the new state and appends an event.
func (c *Controller) Apply(ctx context.Context, id model.RelayID, on bool) error {
	return c.set(ctx, id, on, false)
}

// SetManual is Apply for operator commands. It starts the manual hold window
// when one is configured.
func (c *Controller) SetManual(ctx context.Context, id model.RelayID, on bool) error {
	return c.set(ctx, id, on, true)
}

func (c *Controller) set(ctx context.Context, id model.RelayID, on, manual bool) error {
	c.mu.Lock()
	ev, err := c.applyLocked(ctx, id, on)
	if err == nil && manual && c.hold > 0 {
		c.heldUntil[id] = ev.Timestamp.Add(c.hold)
	}
	c.mu.Unlock()

	c.notify(ev, id, on, manual, err)
	return err
}

func (c *Controller) applyLocked(ctx context.Context, id model.RelayID, on bool) (model.RelayEvent, error) {
	pin, ok := c.pins[id]
	if !ok {
		return model.RelayEvent{}, fmt.Errorf("%w: %d", ErrUnknownRelay, int(id))
	}

	if err := c.output.Set(pin, on); err != nil {
		return model.RelayEvent{}, &OutputError{Relay: id, On: on, Err: err}
	}
	c.state[id] = on

	ev := model.RelayEvent{Relay: id, On: on, Timestamp: c.now()}
	if c.events != nil {
		rowID, err := c.events.AppendRelayEvent(ctx, ev)
		if err != nil {
			log.Error().Err(err).Str("relay", id.String()).Msg("Failed to log relay state")
		}
		ev.ID = rowID
	}

	log.Info().
		Str("relay", id.String()).
		Str("state", model.StateString(on)).
		Int("pin", pin.Number).
		Msg("Relay set")
	return ev, nil
}

func (c *Controller) notify(ev model.RelayEvent, id model.RelayID, on, manual bool, err error) {
	var outErr *OutputError
	for _, o := range c.observers {
		switch {
		case err == nil:
			o.RelayChanged(ev, manual)
		case errors.As(err, &outErr):
			o.RelayFailed(id, on, err)
		}
	}
}

// EvaluateAndApply computes the desired state of each relay from reading
// and applies it where it differs from the commanded state.
func (c *Controller) EvaluateAndApply(ctx context.Context, reading model.Reading, cfg model.ThresholdConfig) error {
	type change struct {
		ev  model.RelayEvent
		id  model.RelayID
		on  bool
		err error
	}
	var changes []change

	c.mu.Lock()
	now := c.now()
	for _, id := range model.Relays {
		if _, ok := c.pins[id]; !ok {
			continue
		}
		if until, held := c.heldUntil[id]; held {
			if now.Before(until) {
				log.Debug().Str("relay", id.String()).Time("until", until).Msg("Manual hold active, skipping")
				continue
			}
			delete(c.heldUntil, id)
		}

		current := c.state[id]
		var desired bool
		switch id {
		case model.Relay1:
			desired = Evaluate(reading.Temperature, cfg.TemperatureThreshold, cfg.TemperatureHysteresis, current)
		case model.Relay2:
			desired = Evaluate(reading.Humidity, cfg.HumidityThreshold, cfg.HumidityHysteresis, current)
		}
		if desired == current {
			continue
		}

		ev, err := c.applyLocked(ctx, id, desired)
		changes = append(changes, change{ev: ev, id: id, on: desired, err: err})
	}
	c.mu.Unlock()

	var errs []error
	for _, ch := range changes {
		c.notify(ch.ev, ch.id, ch.on, false, ch.err)
		if ch.err != nil {
			errs = append(errs, ch.err)
		}
	}
	return errors.Join(errs...)
}

// Status returns the commanded state of relay id.
func (c *Controller) Status(id model.RelayID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	on, ok := c.state[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownRelay, int(id))
	}
	return on, nil
}

// Snapshot returns the commanded state of every relay.
func (c *Controller) Snapshot() map[model.RelayID]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[model.RelayID]bool, len(c.state))
	for id, on := range c.state {
		out[id] = on
	}
	return out
}

// Reset drives every relay off without logging events and clears any
// manual hold. Used at startup and shutdown.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, id := range model.Relays {
		pin, ok := c.pins[id]
		if !ok {
			continue
		}
		if err := c.output.Set(pin, false); err != nil {
			errs = append(errs, &OutputError{Relay: id, On: false, Err: err})
			continue
		}
		c.state[id] = false
	}
	c.heldUntil = make(map[model.RelayID]time.Time)
	return errors.Join(errs...)
}
