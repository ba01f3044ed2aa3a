package main

import (
	"context"
	"errors"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"

	"gossipline/handset"
	"gossipline/pipeline"
	"gossipline/sound"
)

// micQuietPeak is the peak below which a test recording counts as silent.
const micQuietPeak = 100

type backendStatus struct {
	backend string
	err     error
}

// checkBackends opens and closes every backend once and reports which work.
func checkBackends(factories []handset.Factory, opts handset.Options) []backendStatus {
	results := make([]backendStatus, 0, len(factories))
	for _, f := range factories {
		in, err := f.Open(opts)
		if err == nil {
			err = in.Close()
		}
		results = append(results, backendStatus{backend: f.Name, err: err})
	}
	return results
}

// testHandset reports which GPIO backends can read the hook switch, then
// logs switch events from the first working one until ctx is done.
func testHandset(ctx context.Context, factories []handset.Factory, opts handset.Options) error {
	working := 0
	for _, r := range checkBackends(factories, opts) {
		if r.err != nil {
			log.Warn().Err(r.err).Str("backend", r.backend).Msg("handset backend FAIL")
			continue
		}
		log.Info().Str("backend", r.backend).Msg("handset backend OK")
		working++
	}
	if working == 0 {
		return errors.New("no handset backend works; the phone would fall back to keyboard simulation")
	}

	input, backend := handset.Select(factories, opts)
	defer input.Close()
	log.Info().Str("backend", backend).Msg("lift and replace the handset, Ctrl+C to stop")
	return watchHandset(ctx, input.Events())
}

func watchHandset(ctx context.Context, events <-chan handset.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			log.Info().Stringer("event", ev).Msg("hook switch")
		}
	}
}

// testMic lists input devices, records for d and reports the peak level.
// The recording is kept at path for listening back.
func testMic(ctx context.Context, recorder *sound.Recorder, d time.Duration, path string) error {
	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}
	for i, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		log.Info().Int("index", i).Str("name", dev.Name).Int("channels", dev.MaxInputChannels).
			Float64("rate", dev.DefaultSampleRate).Bool("external", sound.IsExternalName(dev.Name)).Msg("input device")
	}

	capture, err := recorder.StartCapture()
	if err != nil {
		return err
	}
	log.Info().Dur("duration", d).Msg("speak into the handset")
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
	rec, err := capture.Stop(2 * time.Second)
	if err != nil {
		return err
	}
	if _, err := sound.WriteWAV(path, rec); err != nil {
		return err
	}

	peak := rec.Peak()
	log.Info().Int("chunks", rec.Chunks).Int("rate", rec.SampleRate).Int("peak", peak).Str("path", path).Msg("recording complete")
	if peak < micQuietPeak {
		return errors.New("very low or no audio detected")
	}
	log.Info().Msg("microphone is working")
	return nil
}

// processFile runs one WAV file through the pipeline, as if it had just been
// recorded on the phone.
func processFile(ctx context.Context, pipe *pipeline.Pipeline, path string) error {
	res, err := pipe.Run(ctx, path)
	if err != nil {
		return err
	}
	log.Info().Int64("id", res.ID).Str("gossip", res.AnonymizedText).Str("path", res.AudioPath).Msg("processed")
	return nil
}
