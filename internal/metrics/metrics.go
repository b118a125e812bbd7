// Package metrics exports readings, relay states and HTTP traffic to
// Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jnbntc/sensor-app/internal/model"
)

const namespace = "sensor_app"

type Metrics struct {
	registry *prometheus.Registry

	temperature    prometheus.Gauge
	humidity       prometheus.Gauge
	lastReading    prometheus.Gauge
	sensorFailures prometheus.Counter
	relayState     *prometheus.GaugeVec
	relayChanges   *prometheus.CounterVec
	relayFailures  *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last sampled temperature.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "humidity_percent",
			Help:      "Last sampled relative humidity.",
		}),
		lastReading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reading_timestamp_seconds",
			Help:      "Unix time of the last successful sample.",
		}),
		sensorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_failures_total",
			Help:      "Samples that could not be taken after retries.",
		}),
		relayState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_on",
			Help:      "Commanded relay state (1 on, 0 off).",
		}, []string{"relay"}),
		relayChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_changes_total",
			Help:      "Applied relay states by source.",
		}, []string{"relay", "source"}),
		relayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_failures_total",
			Help:      "Failed relay output writes.",
		}, []string{"relay"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.temperature,
		m.humidity,
		m.lastReading,
		m.sensorFailures,
		m.relayState,
		m.relayChanges,
		m.relayFailures,
		m.httpRequests,
		m.httpDuration,
	)

	for _, id := range model.Relays {
		m.relayState.WithLabelValues(id.String()).Set(0)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ReadingTaken(r model.Reading) {
	m.temperature.Set(r.Temperature)
	m.humidity.Set(r.Humidity)
	m.lastReading.Set(float64(r.Timestamp.Unix()))
}

func (m *Metrics) SensorFailed(err error) {
	m.sensorFailures.Inc()
}

func (m *Metrics) RelayChanged(ev model.RelayEvent, manual bool) {
	state := 0.0
	if ev.On {
		state = 1
	}
	source := "auto"
	if manual {
		source = "manual"
	}
	m.relayState.WithLabelValues(ev.Relay.String()).Set(state)
	m.relayChanges.WithLabelValues(ev.Relay.String(), source).Inc()
}

func (m *Metrics) RelayFailed(id model.RelayID, on bool, err error) {
	m.relayFailures.WithLabelValues(id.String()).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and durations labelled by route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := "unknown"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
