package relay

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIO drives the relay directly from a host GPIO pin, realizing the
// "GPIO... driven power relay" half of spec §1's purpose statement
// (the USB-serial backend in spec §4.4 covers the other half). Pin
// selection and host init follow the teacher's wshat driver.
type GPIO struct {
	state
	pin gpio.PinIO
}

// OpenGPIO initializes the periph.io host drivers and claims pinName
// (e.g. "GPIO17") as an output.
func OpenGPIO(pinName string) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("relay: gpio host init: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("relay: gpio: unknown pin %q", pinName)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("relay: gpio: configure %s as output: %w", pinName, err)
	}
	return &GPIO{pin: pin}, nil
}

func (g *GPIO) SetDrive(on bool) error {
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := g.pin.Out(level); err != nil {
		return fmt.Errorf("relay: gpio: set %v: %w", level, err)
	}
	g.mu.Lock()
	g.drive = on
	g.mu.Unlock()
	return nil
}

func (g *GPIO) GetDrive() bool { return g.getDrive() }

func (g *GPIO) GetPinLevel() (bool, bool) {
	return g.pin.Read() == gpio.High, true
}

func (g *GPIO) Close() error { return nil }

var _ Relay = (*GPIO)(nil)
