package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnbntc/sensor-app/internal/gpio"
	"github.com/jnbntc/sensor-app/internal/model"
)

type memLog struct {
	mu     sync.Mutex
	events []model.RelayEvent
	err    error
}

func (m *memLog) AppendRelayEvent(ctx context.Context, ev model.RelayEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.events = append(m.events, ev)
	return int64(len(m.events)), nil
}

func (m *memLog) all() []model.RelayEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RelayEvent(nil), m.events...)
}

type recorder struct {
	mu      sync.Mutex
	changed []model.RelayEvent
	manual  []bool
	failed  []model.RelayID
}

func (r *recorder) RelayChanged(ev model.RelayEvent, manual bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, ev)
	r.manual = append(r.manual, manual)
}

func (r *recorder) RelayFailed(id model.RelayID, on bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, id)
}

var testPins = map[model.RelayID]model.GPIOPin{
	model.Relay1: {Number: 18, ActiveHigh: false},
	model.Relay2: {Number: 19, ActiveHigh: true},
}

var defaultThresholds = model.ThresholdConfig{
	TemperatureThreshold:  30,
	TemperatureHysteresis: 5,
	HumidityThreshold:     70,
	HumidityHysteresis:    5,
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *gpio.FakeOutput, *memLog) {
	t.Helper()
	out := gpio.NewFakeOutput()
	events := &memLog{}
	return NewController(out, events, testPins, opts...), out, events
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		current  bool
		expected bool
	}{
		{"above threshold turns on", 30.1, false, true},
		{"above threshold stays on", 35, true, true},
		{"at threshold keeps off", 30, false, false},
		{"at threshold keeps on", 30, true, true},
		{"dead band keeps on", 27, true, true},
		{"dead band keeps off", 27, false, false},
		{"at lower edge keeps on", 25, true, true},
		{"below lower edge turns off", 24.9, true, false},
		{"below lower edge stays off", 10, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Evaluate(tc.value, 30, 5, tc.current))
		})
	}
}

func TestEvaluateZeroHysteresis(t *testing.T) {
	assert.True(t, Evaluate(70.1, 70, 0, false))
	assert.True(t, Evaluate(70, 70, 0, true))
	assert.False(t, Evaluate(69.9, 70, 0, true))
}

func TestEvaluateAndApplyTemperatureSequence(t *testing.T) {
	c, out, events := newTestController(t)
	ctx := context.Background()

	steps := []struct {
		temp     float64
		expected bool
	}{
		{28.0, false},
		{31.0, true},
		{27.0, true},
		{24.9, false},
	}
	for _, step := range steps {
		require.NoError(t, c.EvaluateAndApply(ctx, model.Reading{Temperature: step.temp, Humidity: 50}, defaultThresholds))
		on, err := c.Status(model.Relay1)
		require.NoError(t, err)
		assert.Equal(t, step.expected, on, "after %.1f°C", step.temp)
	}

	logged := events.all()
	require.Len(t, logged, 2, "only true transitions are logged")
	assert.Equal(t, model.Relay1, logged[0].Relay)
	assert.True(t, logged[0].On)
	assert.False(t, logged[1].On)

	// active-low: on drives low, off drives high
	assert.True(t, out.Levels[18])
	assert.Equal(t, []gpio.Write{{Pin: 18, On: true}, {Pin: 18, On: false}}, out.Snapshot())
}

func TestEvaluateAndApplyHumidity(t *testing.T) {
	c, out, events := newTestController(t)

	require.NoError(t, c.EvaluateAndApply(context.Background(), model.Reading{Temperature: 20, Humidity: 75}, defaultThresholds))

	on, _ := c.Status(model.Relay2)
	assert.True(t, on)
	off, _ := c.Status(model.Relay1)
	assert.False(t, off)
	assert.True(t, out.Levels[19], "active-high pin driven high when on")
	require.Len(t, events.all(), 1)
	assert.Equal(t, model.Relay2, events.all()[0].Relay)
}

func TestDeadBandDoesNotOscillate(t *testing.T) {
	c, out, events := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.EvaluateAndApply(ctx, model.Reading{Temperature: 31}, defaultThresholds))
	for _, temp := range []float64{29, 26, 28, 25.5, 29.9, 25} {
		require.NoError(t, c.EvaluateAndApply(ctx, model.Reading{Temperature: temp}, defaultThresholds))
	}

	assert.Len(t, out.Snapshot(), 1)
	assert.Len(t, events.all(), 1)
}

func TestApplyOutputFailureLeavesStateAndLog(t *testing.T) {
	rec := &recorder{}
	c, out, events := newTestController(t, WithObservers(rec))
	out.SetFail(18, errors.New("line busy"))

	err := c.Apply(context.Background(), model.Relay1, true)

	var outErr *OutputError
	require.ErrorAs(t, err, &outErr)
	assert.Equal(t, model.Relay1, outErr.Relay)
	assert.EqualError(t, errors.Unwrap(err), "line busy")

	on, _ := c.Status(model.Relay1)
	assert.False(t, on)
	assert.Empty(t, events.all())
	assert.Equal(t, []model.RelayID{model.Relay1}, rec.failed)
	assert.Empty(t, rec.changed)
}

func TestEvaluateAndApplyJoinsErrors(t *testing.T) {
	c, out, events := newTestController(t)
	out.SetFail(18, errors.New("relay1 dead"))
	out.SetFail(19, errors.New("relay2 dead"))

	err := c.EvaluateAndApply(context.Background(), model.Reading{Temperature: 40, Humidity: 90}, defaultThresholds)
	require.Error(t, err)
	assert.ErrorContains(t, err, "relay1 dead")
	assert.ErrorContains(t, err, "relay2 dead")
	assert.Empty(t, events.all())

	// retried on the next cycle since state did not change
	out.SetFail(18, nil)
	out.SetFail(19, nil)
	require.NoError(t, c.EvaluateAndApply(context.Background(), model.Reading{Temperature: 40, Humidity: 90}, defaultThresholds))
	assert.Len(t, events.all(), 2)
}

func TestEventLogFailureIsNotReturned(t *testing.T) {
	c, out, events := newTestController(t)
	events.err = errors.New("disk full")

	require.NoError(t, c.Apply(context.Background(), model.Relay1, true))
	on, _ := c.Status(model.Relay1)
	assert.True(t, on)
	assert.Len(t, out.Snapshot(), 1)
}

func TestApplyAndSetManualAlwaysLog(t *testing.T) {
	rec := &recorder{}
	c, _, events := newTestController(t, WithObservers(rec))
	ctx := context.Background()

	require.NoError(t, c.Apply(ctx, model.Relay2, false))
	require.NoError(t, c.SetManual(ctx, model.Relay2, false))

	assert.Len(t, events.all(), 2)
	assert.Equal(t, []bool{false, true}, rec.manual)
}

func TestUnknownRelay(t *testing.T) {
	c, out, events := newTestController(t)

	_, err := c.Status(model.RelayID(3))
	assert.ErrorIs(t, err, ErrUnknownRelay)

	err = c.SetManual(context.Background(), model.RelayID(0), true)
	assert.ErrorIs(t, err, ErrUnknownRelay)
	assert.Empty(t, out.Snapshot())
	assert.Empty(t, events.all())
}

func TestManualOverrideWithoutHoldIsReplaced(t *testing.T) {
	c, _, events := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.SetManual(ctx, model.Relay1, true))
	require.NoError(t, c.EvaluateAndApply(ctx, model.Reading{Temperature: 20}, defaultThresholds))

	on, _ := c.Status(model.Relay1)
	assert.False(t, on)
	assert.Len(t, events.all(), 2)
}

func TestManualHoldSuspendsAutomaticControl(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c, _, events := newTestController(t, WithManualHold(10*time.Minute), WithClock(clock))
	ctx := context.Background()

	require.NoError(t, c.SetManual(ctx, model.Relay1, true))

	now = now.Add(5 * time.Minute)
	require.NoError(t, c.EvaluateAndApply(ctx, model.Reading{Temperature: 20, Humidity: 80}, defaultThresholds))
	on, _ := c.Status(model.Relay1)
	assert.True(t, on, "held relay untouched")
	on, _ = c.Status(model.Relay2)
	assert.True(t, on, "other relay still automatic")

	now = now.Add(6 * time.Minute)
	require.NoError(t, c.EvaluateAndApply(ctx, model.Reading{Temperature: 20, Humidity: 80}, defaultThresholds))
	on, _ = c.Status(model.Relay1)
	assert.False(t, on, "hold expired")
	assert.Len(t, events.all(), 3)
	assert.True(t, events.all()[0].Timestamp.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestReset(t *testing.T) {
	c, out, events := newTestController(t, WithManualHold(time.Hour))
	ctx := context.Background()
	require.NoError(t, c.SetManual(ctx, model.Relay1, true))
	require.NoError(t, c.Apply(ctx, model.Relay2, true))

	require.NoError(t, c.Reset())

	assert.Equal(t, map[model.RelayID]bool{model.Relay1: false, model.Relay2: false}, c.Snapshot())
	assert.True(t, out.Levels[18])
	assert.False(t, out.Levels[19])
	assert.Len(t, events.all(), 2, "reset is not logged")

	// hold cleared
	require.NoError(t, c.EvaluateAndApply(ctx, model.Reading{Temperature: 35}, defaultThresholds))
	on, _ := c.Status(model.Relay1)
	assert.True(t, on)
}

func TestConcurrentManualAndAutomatic(t *testing.T) {
	c, out, events := newTestController(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.SetManual(ctx, model.Relay1, i%2 == 0))
		}(i)
		go func(i int) {
			defer wg.Done()
			temp := 20.0
			if i%2 == 0 {
				temp = 35
			}
			assert.NoError(t, c.EvaluateAndApply(ctx, model.Reading{Temperature: temp, Humidity: 50}, defaultThresholds))
		}(i)
	}
	wg.Wait()

	// every write was logged and the last write matches commanded state
	writes := out.Snapshot()
	logged := events.all()
	require.Equal(t, len(writes), len(logged))
	on, _ := c.Status(model.Relay1)
	assert.Equal(t, writes[len(writes)-1].On, on)
	assert.Equal(t, logged[len(logged)-1].On, on)
}
