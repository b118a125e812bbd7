package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

func TestNewReadingConvertsUnits(t *testing.T) {
	env := physic.Env{
		Temperature: physic.ZeroCelsius + 23500*physic.MilliKelvin,
		Humidity:    456 * physic.PercentRH / 10,
	}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	r := NewReading(env, ts)

	assert.InDelta(t, 23.5, r.Temperature, 1e-9)
	assert.InDelta(t, 45.6, r.Humidity, 1e-9)
	assert.Equal(t, ts, r.Timestamp)
}

func TestRelayIDValid(t *testing.T) {
	assert.True(t, Relay1.Valid())
	assert.True(t, Relay2.Valid())
	assert.False(t, RelayID(0).Valid())
	assert.False(t, RelayID(3).Valid())
	assert.Equal(t, "relay2", Relay2.String())
}

func TestStateRoundTrip(t *testing.T) {
	for _, on := range []bool{true, false} {
		got, err := ParseState(StateString(on))
		require.NoError(t, err)
		assert.Equal(t, on, got)
	}

	_, err := ParseState("on")
	assert.Error(t, err)
}

func TestTimestampOrderingIsLexical(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 59, 59, 999999000, time.FixedZone("CET", 3600))
	earlier := FormatTimestamp(base)
	later := FormatTimestamp(base.Add(time.Microsecond))

	assert.Len(t, later, len(earlier))
	assert.Less(t, earlier, later)

	parsed, err := ParseTimestamp(later)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(base.Add(time.Microsecond)))
}

func TestParseTimestampAcceptsRFC3339(t *testing.T) {
	parsed, err := ParseTimestamp("2024-01-01T10:00:00.5+02:00")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(time.Date(2024, 1, 1, 8, 0, 0, 500000000, time.UTC)))
}
