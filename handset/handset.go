// Package handset turns the phone's hook switch into pickup and hangup events.
//
// Several mechanisms can read the switch. They are tried in a fixed order at
// startup and the first one that opens is used for the life of the process:
// interrupt-driven GPIO (periph), polled GPIO (rpio), GPIO character device
// line events (gpiocdev) and finally a console simulation (keyboard). The
// switch is active low with a pull-up: low means the handset is off hook.
package handset

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Event is a hook switch transition.
type Event int

const (
	Pickup Event = iota + 1
	Hangup
)

func (e Event) String() string {
	switch e {
	case Pickup:
		return "pickup"
	case Hangup:
		return "hangup"
	default:
		return "unknown"
	}
}

// Input is an opened source of hook switch events.
type Input interface {
	// Events delivers debounced transitions. Backends may close it on Close.
	Events() <-chan Event
	Close() error
}

// Options configures every backend.
type Options struct {
	Pin          int
	Chip         string
	Debounce     time.Duration
	PollInterval time.Duration
}

// DefaultOptions returns BCM pin 4 on gpiochip0 with a 100ms debounce.
func DefaultOptions() Options {
	return Options{
		Pin:          4,
		Chip:         "gpiochip0",
		Debounce:     100 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Chip == "" {
		o.Chip = d.Chip
	}
	if o.Debounce < d.Debounce {
		o.Debounce = d.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}

// Factory opens one input mechanism. Library-specific types stay inside Open.
type Factory struct {
	Name string
	Open func(Options) (Input, error)
}

var (
	Periph   = Factory{Name: "periph", Open: openPeriph}
	RPIO     = Factory{Name: "rpio", Open: openRPIO}
	GPIOCDev = Factory{Name: "gpiocdev", Open: openGPIOCDev}
	Keyboard = Factory{Name: "keyboard", Open: openKeyboard}
)

// DefaultFactories returns the backends in the order they are tried.
func DefaultFactories() []Factory {
	return []Factory{Periph, RPIO, GPIOCDev, Keyboard}
}

// Select opens the first factory that succeeds. When none do, it returns an
// input that never fires so the caller can keep running idle.
func Select(factories []Factory, opts Options) (Input, string) {
	opts = opts.withDefaults()
	for _, f := range factories {
		in, err := f.Open(opts)
		if err != nil {
			log.Warn().Err(err).Str("backend", f.Name).Msg("handset input unavailable, trying next")
			continue
		}
		log.Info().Str("backend", f.Name).Int("pin", opts.Pin).Dur("debounce", opts.Debounce).Msg("handset input ready")
		return in, f.Name
	}
	log.Error().Msg("no handset input available, staying idle")
	return newNoInput(), "none"
}

// noInput never emits.
type noInput struct {
	events chan Event
}

func newNoInput() *noInput {
	return &noInput{events: make(chan Event)}
}

func (n *noInput) Events() <-chan Event { return n.events }
func (n *noInput) Close() error         { return nil }
