package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/jnbntc/sensor-app/internal/model"
)

// Statsd is the subset of the DogStatsD client used here.
type Statsd interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Incr(name string, tags []string, rate float64) error
	Close() error
}

// Client forwards readings and relay changes to DogStatsD.
type Client struct {
	statsd Statsd
}

func New(addr, namespace string, tags []string) (*Client, error) {
	c, err := statsd.New(addr, statsd.WithNamespace(namespace), statsd.WithTags(tags))
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("addr", addr).
		Str("namespace", namespace).
		Strs("tags", tags).
		Msg("Datadog metrics initialized")
	return &Client{statsd: c}, nil
}

func NewWithStatsd(s Statsd) *Client {
	return &Client{statsd: s}
}

func (c *Client) Gauge(name string, value float64, tags ...string) {
	if err := c.statsd.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (c *Client) Incr(name string, tags ...string) {
	if err := c.statsd.Incr(name, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
	}
}

func (c *Client) ReadingTaken(r model.Reading) {
	c.Gauge("temperature", r.Temperature)
	c.Gauge("humidity", r.Humidity)
}

func (c *Client) SensorFailed(err error) {
	c.Incr("sensor.failure")
}

func (c *Client) RelayChanged(ev model.RelayEvent, manual bool) {
	state := 0.0
	if ev.On {
		state = 1
	}
	source := "source:auto"
	if manual {
		source = "source:manual"
	}
	c.Gauge("relay.state", state, "relay:"+ev.Relay.String())
	c.Incr("relay.change", "relay:"+ev.Relay.String(), source)
}

func (c *Client) RelayFailed(id model.RelayID, on bool, err error) {
	c.Incr("relay.failure", "relay:"+id.String())
}

func (c *Client) Close() error {
	return c.statsd.Close()
}
