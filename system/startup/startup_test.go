package startup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnbntc/sensor-app/internal/model"
)

var pins = map[model.RelayID]model.GPIOPin{
	model.Relay2: {Number: 19, ActiveHigh: true},
	model.Relay1: {Number: 18, ActiveHigh: false},
}

func TestWriteStartupScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpio.sh")
	require.NoError(t, WriteStartupScript(path, pins))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	expected := `#!/bin/bash

# Relay GPIO pin configuration at boot

# relay1
pinctrl set 18 op pn dh

# relay2
pinctrl set 19 op pn dl

`
	assert.Equal(t, expected, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100, "owner executable")
}

func TestInstall(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{
		BootScript: filepath.Join(dir, "sensor-app-gpio.sh"),
		GPIOUnit:   filepath.Join(dir, "sensor-app-gpio.service"),
		MainUnit:   filepath.Join(dir, "sensor-app.service"),
	}
	svc := Service{User: "pi", WorkingDir: "/home/pi/sensor-app", ExecStart: "/usr/local/bin/sensor-app --port 5000"}

	require.NoError(t, Install(paths, pins, svc))

	gpioUnit, err := os.ReadFile(paths.GPIOUnit)
	require.NoError(t, err)
	assert.Contains(t, string(gpioUnit), "ExecStart="+paths.BootScript)
	assert.Contains(t, string(gpioUnit), "Type=oneshot")

	mainUnit, err := os.ReadFile(paths.MainUnit)
	require.NoError(t, err)
	assert.Contains(t, string(mainUnit), "Requires=sensor-app-gpio.service")
	assert.Contains(t, string(mainUnit), "User=pi")
	assert.Contains(t, string(mainUnit), "ExecStart=/usr/local/bin/sensor-app --port 5000")
}

func TestInstallReportsStep(t *testing.T) {
	dir := t.TempDir()
	err := Install(Paths{
		BootScript: filepath.Join(dir, "gpio.sh"),
		GPIOUnit:   filepath.Join(dir, "missing", "gpio.service"),
		MainUnit:   filepath.Join(dir, "main.service"),
	}, pins, Service{})
	assert.ErrorContains(t, err, "write gpio unit")
}
