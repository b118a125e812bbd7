// Package mqtt publishes readings and relay transitions to a broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jnbntc/sensor-app/internal/model"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close() error
}

type ReadingPayload struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Timestamp   string  `json:"timestamp"`
}

type RelayPayload struct {
	Relay     int    `json:"relay"`
	State     string `json:"state"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

func ReadingTopic(prefix string) string { return prefix + "/reading" }

func RelayTopic(prefix string, id model.RelayID) string {
	return fmt.Sprintf("%s/relay/%d", prefix, int(id))
}

func StatusTopic(prefix string) string { return prefix + "/status" }

func FormatReading(r model.Reading) ([]byte, error) {
	return json.Marshal(ReadingPayload{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Timestamp:   model.FormatTimestamp(r.Timestamp),
	})
}

func FormatRelay(ev model.RelayEvent, manual bool) ([]byte, error) {
	source := "auto"
	if manual {
		source = "manual"
	}
	return json.Marshal(RelayPayload{
		Relay:     int(ev.Relay),
		State:     model.StateString(ev.On),
		Source:    source,
		Timestamp: model.FormatTimestamp(ev.Timestamp),
	})
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// Bridge turns poll and relay notifications into MQTT messages. Messages are
// queued and published by Run so callers never wait on the broker; when the
// queue is full new messages are dropped.
type Bridge struct {
	pub    Publisher
	prefix string
	queue  chan message
}

const queueSize = 64

func NewBridge(pub Publisher, prefix string) *Bridge {
	return &Bridge{pub: pub, prefix: prefix, queue: make(chan message, queueSize)}
}

// Run publishes queued messages until ctx is done, then drains what is left.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case m := <-b.queue:
			b.publish(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-b.queue:
					b.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publish(m message) {
	if err := b.pub.Publish(m.topic, m.qos, m.retained, m.payload); err != nil {
		log.Warn().Err(err).Str("topic", m.topic).Msg("MQTT publish failed")
	}
}

func (b *Bridge) enqueue(m message) {
	select {
	case b.queue <- m:
	default:
		log.Warn().Str("topic", m.topic).Msg("MQTT queue full, dropping message")
	}
}

func (b *Bridge) ReadingTaken(r model.Reading) {
	payload, err := FormatReading(r)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to format reading payload")
		return
	}
	b.enqueue(message{topic: ReadingTopic(b.prefix), payload: payload})
}

func (b *Bridge) SensorFailed(err error) {
	payload, _ := json.Marshal(map[string]string{"event": "sensor_failure", "error": err.Error()})
	b.enqueue(message{topic: StatusTopic(b.prefix), qos: 1, payload: payload})
}

// RelayChanged publishes retained so new subscribers see the current state.
func (b *Bridge) RelayChanged(ev model.RelayEvent, manual bool) {
	payload, err := FormatRelay(ev, manual)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to format relay payload")
		return
	}
	b.enqueue(message{topic: RelayTopic(b.prefix, ev.Relay), qos: 1, retained: true, payload: payload})
}

func (b *Bridge) RelayFailed(id model.RelayID, on bool, err error) {
	payload, _ := json.Marshal(map[string]string{
		"event": "relay_failure",
		"relay": id.String(),
		"state": model.StateString(on),
		"error": err.Error(),
	})
	b.enqueue(message{topic: StatusTopic(b.prefix), qos: 1, payload: payload})
}
