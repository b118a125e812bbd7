package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jnbntc/sensor-app/internal/gpio"
	"github.com/jnbntc/sensor-app/internal/model"
	"github.com/jnbntc/sensor-app/internal/pinctrl"
)

// Paths locates the files written by Install.
type Paths struct {
	BootScript string
	GPIOUnit   string
	MainUnit   string
}

// Service describes how systemd should run the main binary.
type Service struct {
	User       string
	WorkingDir string
	ExecStart  string
}

// WriteStartupScript writes a boot script that drives every relay pin to
// its inactive level before the service starts.
func WriteStartupScript(path string, pins map[model.RelayID]model.GPIOPin) error {
	ids := make([]model.RelayID, 0, len(pins))
	for id := range pins {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	lines := []string{"#!/bin/bash", "", "# Relay GPIO pin configuration at boot", ""}
	for _, id := range ids {
		pin := pins[id]
		lines = append(lines,
			fmt.Sprintf("# %s", id),
			fmt.Sprintf("pinctrl set %d op pn %s", pin.Number, pinctrl.DriveFor(gpio.Level(pin, false))),
			"")
	}

	contents := strings.Join(lines, "\n") + "\n"
	return os.WriteFile(path, []byte(contents), 0755)
}

func InstallStartupService(unitPath, scriptPath string) error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Configure relay GPIO pins at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, scriptPath)

	return os.WriteFile(unitPath, []byte(unitContents), 0644)
}

func InstallMainService(unitPath, gpioUnitPath string, svc Service) error {
	gpioUnitName := filepath.Base(gpioUnitPath)

	unit := fmt.Sprintf(`[Unit]
Description=Sensor poller and relay controller
After=%s
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, svc.User, svc.WorkingDir, svc.ExecStart)

	return os.WriteFile(unitPath, []byte(unit), 0644)
}

// Install writes the boot script and both units.
func Install(paths Paths, pins map[model.RelayID]model.GPIOPin, svc Service) error {
	if err := WriteStartupScript(paths.BootScript, pins); err != nil {
		return fmt.Errorf("write boot script: %w", err)
	}
	if err := InstallStartupService(paths.GPIOUnit, paths.BootScript); err != nil {
		return fmt.Errorf("write gpio unit: %w", err)
	}
	if err := InstallMainService(paths.MainUnit, paths.GPIOUnit, svc); err != nil {
		return fmt.Errorf("write service unit: %w", err)
	}
	return nil
}

func RunStartupScript(path string) error {
	cmd := exec.Command("/bin/bash", path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
