package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jnbntc/sensor-app/internal/model"
	"github.com/jnbntc/sensor-app/internal/sensor"
)

// ReadingLog persists readings.
type ReadingLog interface {
	InsertReading(ctx context.Context, r model.Reading) (int64, error)
}

// Relays applies the control rules to a reading.
type Relays interface {
	EvaluateAndApply(ctx context.Context, reading model.Reading, cfg model.ThresholdConfig) error
}

// Observer is told about every sample outcome.
type Observer interface {
	ReadingTaken(r model.Reading)
	SensorFailed(err error)
}

type Poller struct {
	source     sensor.Source
	readings   ReadingLog
	relays     Relays
	thresholds model.ThresholdConfig
	interval   time.Duration
	observers  []Observer
	now        func() time.Time
}

func New(source sensor.Source, readings ReadingLog, relays Relays, thresholds model.ThresholdConfig, interval time.Duration, observers ...Observer) *Poller {
	return &Poller{
		source:     source,
		readings:   readings,
		relays:     relays,
		thresholds: thresholds,
		interval:   interval,
		observers:  observers,
		now:        time.Now,
	}
}

// Run samples immediately and then once per interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	log.Info().Dur("interval", p.interval).Msg("Starting sensor poll loop")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Cycle(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Sensor poll loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// Cycle takes one sample, stores it and evaluates the relays. A failed read
// skips persistence and evaluation; later failures are logged only.
func (p *Poller) Cycle(ctx context.Context) {
	env, err := p.source.Read(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to retrieve data from sensor")
		for _, o := range p.observers {
			o.SensorFailed(err)
		}
		return
	}

	reading := model.NewReading(env, p.now())
	if id, err := p.readings.InsertReading(ctx, reading); err != nil {
		log.Error().Err(err).Msg("Error saving reading")
	} else {
		reading.ID = id
	}

	log.Info().
		Float64("temperature", reading.Temperature).
		Float64("humidity", reading.Humidity).
		Msg("Reading taken")
	for _, o := range p.observers {
		o.ReadingTaken(reading)
	}

	if err := p.relays.EvaluateAndApply(ctx, reading, p.thresholds); err != nil {
		log.Error().Err(err).Msg("Relay control failed")
	}
}
