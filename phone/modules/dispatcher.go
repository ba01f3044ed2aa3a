package modules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrQueueFull        = errors.New("job queue full")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

type job struct {
	name string
	run  func(ctx context.Context)
}

// Dispatcher runs submitted jobs one at a time on a single worker goroutine.
type Dispatcher struct {
	queue chan job
	done  chan struct{}
	drain time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewDispatcher starts a worker with room for size pending jobs. Close waits
// up to drain for queued jobs before canceling them.
func NewDispatcher(size int, drain time.Duration) *Dispatcher {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:  make(chan job, size),
		done:   make(chan struct{}),
		drain:  drain,
		ctx:    ctx,
		cancel: cancel,
	}
	go d.worker()
	return d
}

// Submit queues a job without blocking. A full queue drops the job.
func (d *Dispatcher) Submit(name string, run func(ctx context.Context)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- job{name: name, run: run}:
		return nil
	default:
		log.Error().Str("job", name).Int("pending", len(d.queue)).Msg("job queue full, dropping job")
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for j := range d.queue {
		d.runJob(j)
	}
}

func (d *Dispatcher) runJob(j job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job", j.name).Interface("panic", r).Msg("recovered from panic in job")
		}
	}()

	j.run(d.ctx)
	log.Debug().Str("job", j.name).Dur("elapsed", time.Since(start)).Msg("job finished")
}

// Close stops accepting jobs and waits for the queue to drain.
func (d *Dispatcher) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		select {
		case <-d.done:
		case <-time.After(d.drain):
			err = fmt.Errorf("dispatcher: jobs still running after %v, canceled", d.drain)
		}
		d.cancel()
	})
	return err
}
