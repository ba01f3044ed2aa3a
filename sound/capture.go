package sound

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ChunkSource delivers fixed-size chunks of mono 16-bit samples.
type ChunkSource interface {
	ReadChunk() ([]int16, error)
	Close() error
}

// Recording is the raw audio captured during one call.
type Recording struct {
	Samples    []int16
	Chunks     int
	SampleRate int
}

// Duration reports the recorded length.
func (r Recording) Duration() time.Duration {
	if r.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(r.Samples)) * time.Second / time.Duration(r.SampleRate)
}

// Peak returns the largest absolute sample value.
func (r Recording) Peak() int {
	peak := 0
	for _, v := range r.Samples {
		a := int(v)
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	return peak
}

// Capture drains a ChunkSource on its own goroutine until Stop is called.
type Capture struct {
	src  ChunkSource
	rate int

	stop atomic.Bool
	done chan struct{}

	mu      sync.Mutex
	samples []int16
	chunks  int
	err     error
}

// StartCapture begins draining src in the background.
func StartCapture(src ChunkSource, sampleRate int) *Capture {
	c := &Capture{
		src:  src,
		rate: sampleRate,
		done: make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Capture) run() {
	defer close(c.done)
	for !c.stop.Load() {
		chunk, err := c.src.ReadChunk()
		if err != nil {
			log.Error().Err(err).Msg("recording error")
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.samples = append(c.samples, chunk...)
		c.chunks++
		c.mu.Unlock()
	}
}

// Stop raises the stop flag, waits up to timeout for the capture goroutine
// to notice it and hands over everything read so far. The Capture must not
// be used afterwards.
func (c *Capture) Stop(timeout time.Duration) (Recording, error) {
	c.stop.Store(true)

	select {
	case <-c.done:
		if err := c.src.Close(); err != nil {
			log.Warn().Err(err).Msg("closing capture source")
		}
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("capture did not stop in time, using what was read")
		go func() {
			<-c.done
			c.src.Close()
		}()
	}

	c.mu.Lock()
	rec := Recording{Samples: c.samples, Chunks: c.chunks, SampleRate: c.rate}
	err := c.err
	c.samples = nil
	c.mu.Unlock()

	if err != nil {
		return rec, fmt.Errorf("capture: %w", err)
	}
	return rec, nil
}
