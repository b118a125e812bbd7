//go:build !linux

package gpio

import (
	"errors"

	"github.com/jnbntc/sensor-app/internal/model"
)

// CdevOutput is not available on non-Linux platforms.
type CdevOutput struct{}

func NewCdevOutput(chipName string) (*CdevOutput, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

func (c *CdevOutput) Set(pin model.GPIOPin, on bool) error {
	return errors.New("gpio: not supported")
}

func (c *CdevOutput) Close() error {
	return nil
}
