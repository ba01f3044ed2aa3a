package sound

import (
	"fmt"
	"math"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSampleRate = 16000
	DefaultChunkSize  = 1024
)

// Recorder opens microphone captures, preferring an external input device.
// SampleRate applies to the system default device only; a preferred device
// is opened at its own default rate.
type Recorder struct {
	SampleRate int
	ChunkSize  int

	preferred *portaudio.DeviceInfo
}

// NewRecorder returns a Recorder for the given preferred input device (nil
// for the system default).
func NewRecorder(device *portaudio.DeviceInfo) *Recorder {
	return &Recorder{
		SampleRate: DefaultSampleRate,
		ChunkSize:  DefaultChunkSize,
		preferred:  device,
	}
}

// StartCapture opens an input stream and starts draining it. If the
// preferred device cannot be opened the default device is tried once.
func (r *Recorder) StartCapture() (*Capture, error) {
	src, rate, err := r.open(r.preferred)
	if err != nil && r.preferred != nil {
		log.Warn().Err(err).Str("device", r.preferred.Name).Msg("preferred input failed, retrying on default device")
		src, rate, err = r.open(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	log.Info().Int("rate", rate).Msg("recording started")
	return StartCapture(src, rate), nil
}

// captureRate is the rate device is opened at.
func captureRate(device *portaudio.DeviceInfo, fallback int) int {
	if device == nil || device.DefaultSampleRate <= 0 {
		return fallback
	}
	return int(math.Round(device.DefaultSampleRate))
}

func (r *Recorder) open(device *portaudio.DeviceInfo) (*streamSource, int, error) {
	buf := make([]int16, r.ChunkSize)
	rate := captureRate(device, r.SampleRate)

	var (
		stream *portaudio.Stream
		err    error
	)
	if device == nil {
		stream, err = portaudio.OpenDefaultStream(1, 0, float64(rate), len(buf), buf)
	} else {
		params := portaudio.LowLatencyParameters(device, nil)
		params.Input.Channels = 1
		params.SampleRate = float64(rate)
		params.FramesPerBuffer = len(buf)
		stream, err = portaudio.OpenStream(params, buf)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("error opening stream at %d Hz: %v", rate, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, 0, fmt.Errorf("error starting stream: %v", err)
	}
	return &streamSource{stream: stream, buf: buf}, rate, nil
}

// streamSource adapts a started portaudio input stream to ChunkSource.
type streamSource struct {
	stream *portaudio.Stream
	buf    []int16
}

func (s *streamSource) ReadChunk() ([]int16, error) {
	// Overflow only means samples were dropped; keep recording.
	if err := s.stream.Read(); err != nil && err != portaudio.InputOverflowed {
		return nil, err
	}
	chunk := make([]int16, len(s.buf))
	copy(chunk, s.buf)
	return chunk, nil
}

func (s *streamSource) Close() error {
	if err := s.stream.Stop(); err != nil {
		log.Warn().Err(err).Msg("error stopping stream")
	}
	return s.stream.Close()
}
