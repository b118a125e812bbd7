package gpio

import (
	"sync"

	"github.com/jnbntc/sensor-app/internal/model"
)

// Write records one call to FakeOutput.Set.
type Write struct {
	Pin int
	On  bool
}

// FakeOutput is a test double that records writes and can fail on demand.
type FakeOutput struct {
	mu sync.Mutex

	// Writes lists successful writes in order.
	Writes []Write

	// Levels holds the electrical level last written per pin.
	Levels map[int]bool

	// Fail, if set for a pin, is returned by Set for that pin.
	Fail map[int]error

	Closed bool
}

func NewFakeOutput() *FakeOutput {
	return &FakeOutput{Levels: make(map[int]bool), Fail: make(map[int]error)}
}

func (f *FakeOutput) Set(pin model.GPIOPin, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Fail[pin.Number]; err != nil {
		return err
	}
	f.Writes = append(f.Writes, Write{Pin: pin.Number, On: on})
	f.Levels[pin.Number] = Level(pin, on)
	return nil
}

// SetFail makes subsequent writes to pin return err. A nil err clears it.
func (f *FakeOutput) SetFail(pin int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Fail, pin)
		return
	}
	f.Fail[pin] = err
}

// Snapshot returns a copy of the recorded writes.
func (f *FakeOutput) Snapshot() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.Writes...)
}

func (f *FakeOutput) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
