package modules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gossipline/handset"
	"gossipline/pipeline"
	"gossipline/sound"
)

// Run feeds handset events to the controller until ctx is done or events closes.
func (c *Controller) Run(ctx context.Context, events <-chan handset.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.cleanup.done:
			return
		case ev, ok := <-events:
			if !ok {
				c.logger.Warn().Msg("handset event stream closed")
				return
			}
			c.logger.Info().Stringer("event", ev).Stringer("state", c.State()).Msg("handset event")
			switch ev {
			case handset.Pickup:
				c.HandlePickup()
			case handset.Hangup:
				c.HandleHangup()
			}
		}
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState records a transition. Callers hold c.mu.
func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Info().Stringer("from", c.state).Stringer("to", s).Msg("state transition")
	c.state = s
}

// HandlePickup starts a call when the phone is idle.
func (c *Controller) HandlePickup() {
	defer c.recoverToIdle("pickup")

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.cleanup.done:
		return
	default:
	}
	if c.state != Idle {
		c.logger.Debug().Stringer("state", c.state).Msg("pickup ignored")
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.seq++
	s := &session{id: c.seq, cancel: cancel, done: make(chan struct{})}
	c.session = s
	c.setState(Prompting)
	go c.runSession(ctx, s)
}

// HandleHangup ends the live call. A hangup during prompts discards the
// call; a hangup while recording hands the recording to the pipeline.
func (c *Controller) HandleHangup() {
	defer c.recoverToIdle("hangup")

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Prompting:
		c.endSessionLocked()
		c.logger.Info().Msg("hung up during prompts, nothing recorded")
		c.setState(Idle)
	case Recording:
		capture := c.capture
		c.capture = nil
		c.endSessionLocked()
		c.setState(Processing)
		c.finishRecording(capture)
		c.setState(Idle)
	default:
		c.logger.Debug().Stringer("state", c.state).Msg("hangup ignored")
	}
}

// finishRecording stops the capture, writes the WAV artifact and queues the
// pipeline. It never waits for the pipeline itself.
func (c *Controller) finishRecording(capture *sound.Capture) {
	if capture == nil {
		return
	}
	rec, err := capture.Stop(c.opts.CaptureJoinTimeout)
	if err != nil {
		c.logger.Error().Err(err).Msg("recording failed, discarding")
		return
	}
	if rec.Chunks == 0 {
		c.logger.Warn().Msg("recording is empty, nothing to process")
		return
	}

	wav, err := sound.WriteWAV(c.opts.RecordingPath, rec)
	if err != nil {
		c.logger.Error().Err(err).Msg("saving recording failed")
		return
	}
	c.logger.Info().
		Str("path", c.opts.RecordingPath).
		Int("chunks", rec.Chunks).
		Dur("duration", rec.Duration()).
		Msg("recording saved")

	err = c.deps.Jobs.Submit("gossip", func(ctx context.Context) {
		res, err := c.deps.Pipeline.Process(ctx, wav)
		switch {
		case errors.Is(err, pipeline.ErrNoSpeech):
			c.logger.Info().Msg("no speech in recording, nothing stored")
		case err != nil:
			c.logger.Error().Err(err).Msg("processing gossip failed")
		default:
			c.logger.Info().Int64("id", res.ID).Str("gossip", res.AnonymizedText).Msg("new gossip stored")
		}
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("could not queue recording")
	}
}

// endSessionLocked cancels the live session. Callers hold c.mu.
func (c *Controller) endSessionLocked() {
	if c.session != nil {
		c.session.cancel()
		c.session = nil
	}
}

// resetLocked drops the live call without processing it. Callers hold c.mu.
func (c *Controller) resetLocked() {
	c.endSessionLocked()
	if c.capture != nil {
		if _, err := c.capture.Stop(c.opts.CaptureJoinTimeout); err != nil {
			c.logger.Warn().Err(err).Msg("stopping discarded capture")
		}
		c.capture = nil
	}
	c.setState(Idle)
}

// abort resets to Idle if s is still the live session.
func (c *Controller) abort(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		c.resetLocked()
	}
}

// recoverToIdle is deferred by every handler so a panic never escapes.
func (c *Controller) recoverToIdle(handler string) {
	if r := recover(); r != nil {
		c.logger.Error().Str("handler", handler).Interface("panic", r).Msg("recovered from panic, resetting to idle")
		c.mu.Lock()
		defer c.mu.Unlock()
		c.resetLocked()
	}
}

// runSession plays the prompts and then starts recording.
func (c *Controller) runSession(ctx context.Context, s *session) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("recovered from panic in call session")
			c.abort(s)
		}
	}()

	clog := c.logger.With().Uint64("session", s.id).Logger()
	clog.Info().Msg("call started")

	if !c.play(ctx, s, clog, "welcome", c.opts.WelcomeAudio) || !c.pause(ctx, c.opts.PromptGap) {
		return
	}
	if !c.playPreviousGossip(ctx, s, clog) || !c.pause(ctx, c.opts.PromptGap) {
		return
	}
	if !c.play(ctx, s, clog, "transition", c.opts.TransitionAudio) || !c.pause(ctx, c.opts.RecordDelay) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s || ctx.Err() != nil {
		return
	}
	capture, err := c.deps.Recorder.StartCapture()
	if err != nil {
		clog.Error().Err(err).Msg("could not start recording")
		c.resetLocked()
		return
	}
	c.capture = capture
	c.setState(Recording)
	clog.Info().Msg("recording, hang up to finish")
}

func (c *Controller) playPreviousGossip(ctx context.Context, s *session, clog zerolog.Logger) bool {
	rec, err := c.deps.Gossip.RandomActive()
	if err != nil {
		clog.Warn().Err(err).Msg("could not pick a previous gossip")
	}
	if rec != nil {
		clog.Info().Int64("id", rec.ID).Msg("playing previous gossip")
		return c.play(ctx, s, clog, "gossip", rec.AudioPath)
	}

	clog.Info().Msg("no previous gossip, this is the first caller")
	if c.opts.FirstTimeAudio != "" {
		err := c.deps.Player.PlayBlocking(ctx, c.opts.FirstTimeAudio)
		if err == nil {
			return true
		}
		if !errors.Is(err, sound.ErrAssetMissing) {
			return c.playFailed(ctx, s, clog, "first time", err)
		}
	}
	return c.pause(ctx, c.opts.FirstTimePause)
}

// play runs one prompt step and reports whether the call should continue.
func (c *Controller) play(ctx context.Context, s *session, clog zerolog.Logger, step, path string) bool {
	err := c.deps.Player.PlayBlocking(ctx, path)
	if err == nil {
		return ctx.Err() == nil
	}
	return c.playFailed(ctx, s, clog, step, err)
}

func (c *Controller) playFailed(ctx context.Context, s *session, clog zerolog.Logger, step string, err error) bool {
	switch {
	case ctx.Err() != nil:
		return false
	case errors.Is(err, sound.ErrAssetMissing), errors.Is(err, sound.ErrDeviceUnavailable):
		clog.Warn().Err(err).Str("step", step).Msg("skipping prompt")
		return true
	default:
		clog.Error().Err(fmt.Errorf("%s prompt: %w", step, err)).Msg("playback failed, ending call")
		c.abort(s)
		return false
	}
}

// pause sleeps for d unless the call ends first.
func (c *Controller) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
