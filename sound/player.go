package sound

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAssetMissing is returned when an audio file is absent or cannot be decoded.
	ErrAssetMissing = errors.New("audio asset missing")
	// ErrDeviceUnavailable is returned when no audio device could be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

const (
	outputFramesPerBuffer = 1024
	resampleQuality       = 4
)

// sink plays a decoded stream to completion or until ctx is done.
type sink interface {
	Play(ctx context.Context, s beep.Streamer, format beep.Format) error
	// SampleRate is the only rate the sink accepts, or 0 if it takes any.
	SampleRate() beep.SampleRate
}

// Player plays audio files one at a time. The output sink is exclusive:
// concurrent PlayBlocking calls queue behind each other.
type Player struct {
	mu        sync.Mutex
	preferred sink
	fallback  sink
}

// NewPlayer returns a Player that prefers the given output device and falls
// back to the system default. A nil device means default only.
func NewPlayer(device *portaudio.DeviceInfo) *Player {
	p := &Player{fallback: &speakerSink{}}
	if device != nil {
		p.preferred = deviceSink{device: device}
	}
	return p
}

// PlayBlocking plays the file at path and returns when it has finished or
// ctx is canceled. Missing or undecodable files return ErrAssetMissing
// without touching the device.
func (p *Player) PlayBlocking(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	streamer, format, err := decodeFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cannot play audio file")
		return err
	}
	defer streamer.Close()

	if p.preferred != nil {
		err := playOn(ctx, p.preferred, streamer, format)
		if err == nil || !errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		log.Warn().Err(err).Msg("preferred output device failed, retrying on default device")
		if err := streamer.Seek(0); err != nil {
			return fmt.Errorf("rewind %s: %w", path, err)
		}
	}

	if err := playOn(ctx, p.fallback, streamer, format); err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			log.Error().Err(err).Str("path", path).Msg("audio output disabled for this playback")
		}
		return err
	}
	return nil
}

// playOn resamples s when the sink runs at a fixed rate other than the file's.
func playOn(ctx context.Context, sk sink, s beep.Streamer, format beep.Format) error {
	if rate := sk.SampleRate(); rate > 0 && rate != format.SampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, rate, s)
		format.SampleRate = rate
	}
	return sk.Play(ctx, s, format)
}

func decodeFile(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("%w: %v", ErrAssetMissing, err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		streamer, format, err = mp3.Decode(f)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("%w: decode %s: %v", ErrAssetMissing, path, err)
	}
	return streamer, format, nil
}

// deviceSink plays through a portaudio output stream on a specific device.
// The stream is opened at the device's default rate: USB codecs opened as
// raw hw devices reject anything else.
type deviceSink struct {
	device *portaudio.DeviceInfo
}

func (d deviceSink) SampleRate() beep.SampleRate {
	return beep.SampleRate(math.Round(d.device.DefaultSampleRate))
}

func (d deviceSink) Play(ctx context.Context, s beep.Streamer, format beep.Format) error {
	out := make([]float32, outputFramesPerBuffer*2)

	params := portaudio.HighLatencyParameters(nil, d.device)
	params.Output.Channels = 2
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = outputFramesPerBuffer

	stream, err := portaudio.OpenStream(params, out)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, d.device.Name, err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", ErrDeviceUnavailable, d.device.Name, err)
	}
	defer stream.Stop()

	samples := make([][2]float64, outputFramesPerBuffer)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, ok := s.Stream(samples)
		for i := range samples {
			if i < n {
				out[2*i] = float32(samples[i][0])
				out[2*i+1] = float32(samples[i][1])
			} else {
				out[2*i], out[2*i+1] = 0, 0
			}
		}
		if n > 0 {
			if err := stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
				return fmt.Errorf("write output: %w", err)
			}
		}
		if !ok || n < len(samples) {
			return nil
		}
	}
}

// speakerSink plays through beep's speaker on the system default device,
// which resamples in ALSA, so the speaker is reinitialised per file rate.
type speakerSink struct {
	rate beep.SampleRate
}

func (sp *speakerSink) SampleRate() beep.SampleRate { return 0 }

func (sp *speakerSink) Play(ctx context.Context, s beep.Streamer, format beep.Format) error {
	if sp.rate != format.SampleRate {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			return fmt.Errorf("%w: speaker: %v", ErrDeviceUnavailable, err)
		}
		sp.rate = format.SampleRate
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}
