package handset

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// openPeriph waits for edge interrupts on the pin through periph.io.
func openPeriph(opts Options) (Input, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	name := fmt.Sprintf("GPIO%d", opts.Pin)
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("periph: no pin %s", name)
	}
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("periph: configure %s: %w", name, err)
	}

	return newLevelInput(opts.Debounce,
		func() bool { return pin.Read() == gpio.Low },
		// Returns early on an edge; the timeout keeps the debounce
		// confirmation and Close responsive.
		func() { pin.WaitForEdge(opts.PollInterval) },
		pin.Halt,
	), nil
}
