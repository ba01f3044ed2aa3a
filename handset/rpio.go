package handset

import (
	"fmt"
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// openRPIO polls the pin through /dev/gpiomem.
func openRPIO(opts Options) (Input, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("rpio open: %w", err)
	}
	pin := rpio.Pin(opts.Pin)
	pin.Input()
	pin.PullUp()

	return newLevelInput(opts.Debounce,
		func() bool { return pin.Read() == rpio.Low },
		func() { time.Sleep(opts.PollInterval) },
		rpio.Close,
	), nil
}
