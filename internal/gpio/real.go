//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/jnbntc/sensor-app/internal/model"
)

// CdevOutput drives pins through the Linux GPIO character device. Lines are
// requested as outputs on first use and held until Close.
type CdevOutput struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

func NewCdevOutput(chipName string) (*CdevOutput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &CdevOutput{chip: chip, lines: make(map[int]*gpiocdev.Line)}, nil
}

func (c *CdevOutput) Set(pin model.GPIOPin, on bool) error {
	value := 0
	if Level(pin, on) {
		value = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line, ok := c.lines[pin.Number]
	if !ok {
		l, err := c.chip.RequestLine(pin.Number, gpiocdev.AsOutput(value))
		if err != nil {
			return fmt.Errorf("request pin %d: %w", pin.Number, err)
		}
		c.lines[pin.Number] = l
		return nil
	}
	if err := line.SetValue(value); err != nil {
		return fmt.Errorf("set pin %d: %w", pin.Number, err)
	}
	return nil
}

func (c *CdevOutput) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for n, line := range c.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", n, err))
		}
		delete(c.lines, n)
	}
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		c.chip = nil
	}
	return errors.Join(errs...)
}
