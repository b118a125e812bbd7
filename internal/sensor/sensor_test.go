package sensor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIIO(t *testing.T, temp, humidity string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, tempFile), []byte(temp), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, humidityFile), []byte(humidity), 0o644))
	return dir
}

func TestDHT22Read(t *testing.T) {
	dir := writeIIO(t, "23400\n", "48700\n")
	d := NewDHT22(dir, 3, time.Millisecond)

	env, err := d.Read(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 23.4, env.Temperature.Celsius(), 1e-9)
	assert.InDelta(t, 48.7, Humidity(env), 1e-9)
}

func TestDHT22NegativeTemperature(t *testing.T) {
	dir := writeIIO(t, "-5200", "90000")
	d := NewDHT22(dir, 1, 0)

	env, err := d.Read(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, -5.2, env.Temperature.Celsius(), 1e-9)
}

func TestDHT22OutOfRange(t *testing.T) {
	tests := []struct {
		name      string
		temp, hum string
	}{
		{"too hot", "95000", "50000"},
		{"too cold", "-41000", "50000"},
		{"humidity over 100", "20000", "100100"},
		{"garbage", "abc", "50000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDHT22(writeIIO(t, tc.temp, tc.hum), 2, 0)
			_, err := d.Read(context.Background())
			assert.ErrorIs(t, err, ErrReadFailed)
			assert.ErrorContains(t, err, "after 2 attempts")
		})
	}
}

func TestDHT22RetriesUntilSuccess(t *testing.T) {
	d := NewDHT22("/iio", 5, time.Millisecond)
	var calls int
	d.readFile = func(name string) ([]byte, error) {
		calls++
		if calls <= 2 {
			return nil, errors.New("timed out")
		}
		if filepath.Base(name) == tempFile {
			return []byte("21000"), nil
		}
		return []byte("40000"), nil
	}

	env, err := d.Read(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 21.0, env.Temperature.Celsius(), 1e-9)
	assert.Equal(t, 4, calls, "two failed attempts then temperature and humidity")
}

func TestDHT22ContextCancelStopsRetrying(t *testing.T) {
	d := NewDHT22("/iio", 15, time.Hour)
	d.readFile = func(string) ([]byte, error) { return nil, errors.New("timed out") }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Read(ctx)
	assert.ErrorIs(t, err, ErrReadFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDHT22SerializesReads(t *testing.T) {
	d := NewDHT22("/iio", 1, 0)
	var inFlight, maxInFlight int32
	d.readFile = func(name string) ([]byte, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return []byte("20000"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Read(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestEnvHelper(t *testing.T) {
	env := Env(31.0, 72.5)
	assert.InDelta(t, 31.0, env.Temperature.Celsius(), 1e-9)
	assert.InDelta(t, 72.5, Humidity(env), 1e-9)
}

func TestFake(t *testing.T) {
	boom := errors.New("boom")
	f := NewFake(Result{Err: boom}, Result{Env: Env(20, 50)})

	_, err := f.Read(context.Background())
	assert.ErrorIs(t, err, boom)

	env, err := f.Read(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 20.0, env.Temperature.Celsius(), 1e-9)

	// last result repeats
	_, err = f.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.Calls())

	_, err = NewFake().Read(context.Background())
	assert.Error(t, err)
}
