package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jnbntc/sensor-app/internal/model"
)

const (
	DefaultBaseURL = "https://ntfy.sh"

	// DefaultFailureStreak is how many consecutive failed samples trigger an alert.
	DefaultFailureStreak = 5
)

// Notifier pushes alerts to an ntfy topic. Sends run in the background so
// observers return immediately.
type Notifier struct {
	client  *http.Client
	baseURL string
	topic   string
	streak  int

	mu       sync.Mutex
	failures int
	alerted  bool

	wg sync.WaitGroup
}

func New(topic string) *Notifier {
	return NewWithURL(DefaultBaseURL, topic, DefaultFailureStreak)
}

func NewWithURL(baseURL, topic string, streak int) *Notifier {
	log.Info().Str("topic", topic).Msg("Ntfy notifications initialized")
	return &Notifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		topic:   topic,
		streak:  streak,
	}
}

// Send posts a notification to the topic.
func (n *Notifier) Send(title, message string) error {
	payload := map[string]interface{}{
		"topic":   n.topic,
		"title":   title,
		"message": message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")
	return nil
}

func (n *Notifier) sendAsync(title, message string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.Send(title, message); err != nil {
			log.Warn().Err(err).Str("title", title).Msg("Failed to send notification")
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) ReadingTaken(r model.Reading) {
	n.mu.Lock()
	recovered := n.alerted
	failures := n.failures
	n.failures = 0
	n.alerted = false
	n.mu.Unlock()

	if recovered {
		n.sendAsync("Sensor recovered", fmt.Sprintf("Sensor reading succeeded after %d failed attempts: %.1f°C, %.1f%%", failures, r.Temperature, r.Humidity))
	}
}

// SensorFailed alerts once per failure streak.
func (n *Notifier) SensorFailed(err error) {
	n.mu.Lock()
	n.failures++
	fire := n.failures >= n.streak && !n.alerted
	if fire {
		n.alerted = true
	}
	failures := n.failures
	n.mu.Unlock()

	if fire {
		n.sendAsync("Sensor failure", fmt.Sprintf("%d consecutive sensor reads failed: %v", failures, err))
	}
}

func (n *Notifier) RelayChanged(ev model.RelayEvent, manual bool) {}

func (n *Notifier) RelayFailed(id model.RelayID, on bool, err error) {
	n.sendAsync("Relay failure", fmt.Sprintf("Failed to set %s %s: %v", id, model.StateString(on), err))
}
