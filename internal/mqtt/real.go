package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	prefix string
}

// NewRealPublisher connects to broker. The status topic carries a retained
// "online" message, replaced by "offline" through the last will.
func NewRealPublisher(broker, prefix string) (*RealPublisher, error) {
	clientID := "sensor-app-" + uuid.NewString()[:8]
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(StatusTopic(prefix), `{"event":"offline"}`, 1, true).
		SetOnConnectHandler(func(c paho.Client) {
			c.Publish(StatusTopic(prefix), 1, true, `{"event":"online"}`)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	log.Info().Str("broker", broker).Str("client_id", clientID).Msg("MQTT connected")
	return &RealPublisher{client: client, prefix: prefix}, nil
}

func (p *RealPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close publishes a clean offline status and disconnects.
func (p *RealPublisher) Close() error {
	token := p.client.Publish(StatusTopic(p.prefix), 1, true, `{"event":"offline"}`)
	token.WaitTimeout(2 * time.Second)
	p.client.Disconnect(1000)
	return nil
}
