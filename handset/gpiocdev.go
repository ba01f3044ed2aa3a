package handset

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/warthog618/go-gpiocdev"
)

// lineInput receives edge events for one line from the GPIO character
// device. Debouncing is done by the kernel.
type lineInput struct {
	line   *gpiocdev.Line
	events chan Event

	mu     sync.Mutex
	filter *levelFilter
	closed bool
}

func openGPIOCDev(opts Options) (Input, error) {
	in := &lineInput{events: make(chan Event, 16)}

	line, err := gpiocdev.RequestLine(opts.Chip, opts.Pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(opts.Debounce),
		gpiocdev.WithConsumer("gossipline"),
		gpiocdev.WithEventHandler(in.handle),
	)
	if err != nil {
		return nil, fmt.Errorf("gpiocdev request %s:%d: %w", opts.Chip, opts.Pin, err)
	}
	v, err := line.Value()
	if err != nil {
		line.Close()
		return nil, fmt.Errorf("gpiocdev read %s:%d: %w", opts.Chip, opts.Pin, err)
	}

	in.mu.Lock()
	in.line = line
	in.filter = newLevelFilter(0, v == 0)
	in.mu.Unlock()
	return in, nil
}

func (in *lineInput) handle(evt gpiocdev.LineEvent) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed || in.filter == nil {
		return
	}
	offHook := evt.Type == gpiocdev.LineEventFallingEdge
	ev, ok := in.filter.observe(offHook, time.Now())
	if !ok {
		return
	}
	select {
	case in.events <- ev:
	default:
		log.Warn().Stringer("event", ev).Msg("handset event queue full, dropping event")
	}
}

func (in *lineInput) Events() <-chan Event { return in.events }

func (in *lineInput) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	close(in.events)
	in.mu.Unlock()
	return in.line.Close()
}
