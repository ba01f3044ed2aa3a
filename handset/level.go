package handset

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// levelFilter reports a hook level only after it has held for period, and
// never reports the same level twice in a row.
type levelFilter struct {
	period   time.Duration
	reported bool // off hook
	pending  bool
	since    time.Time
}

func newLevelFilter(period time.Duration, offHook bool) *levelFilter {
	return &levelFilter{period: period, reported: offHook}
}

func (f *levelFilter) observe(offHook bool, now time.Time) (Event, bool) {
	if offHook == f.reported {
		f.pending = false
		return 0, false
	}
	if !f.pending {
		f.pending = true
		f.since = now
	}
	if now.Sub(f.since) < f.period {
		return 0, false
	}
	f.reported = offHook
	f.pending = false
	if offHook {
		return Pickup, true
	}
	return Hangup, true
}

// levelInput samples a pin level in a goroutine. wait blocks until the next
// sample is due (a sleep for polling backends, an edge wait with timeout
// for interrupt backends).
type levelInput struct {
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	read    func() bool
	wait    func()
	release func() error
}

func newLevelInput(debounce time.Duration, read func() bool, wait func(), release func() error) *levelInput {
	in := &levelInput{
		events:  make(chan Event, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		read:    read,
		wait:    wait,
		release: release,
	}
	filter := newLevelFilter(debounce, read())
	go in.run(filter)
	return in
}

func (in *levelInput) run(filter *levelFilter) {
	defer close(in.done)
	for {
		select {
		case <-in.stop:
			return
		default:
		}

		in.wait()
		ev, ok := filter.observe(in.read(), time.Now())
		if !ok {
			continue
		}
		log.Debug().Stringer("event", ev).Msg("handset level changed")
		select {
		case in.events <- ev:
		case <-in.stop:
			return
		}
	}
}

func (in *levelInput) Events() <-chan Event { return in.events }

func (in *levelInput) Close() error {
	var err error
	in.once.Do(func() {
		close(in.stop)
		<-in.done
		close(in.events)
		if in.release != nil {
			err = in.release()
		}
	})
	return err
}
