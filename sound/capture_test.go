package sound

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"
)

type fakeSource struct {
	chunk  int
	delay  time.Duration
	failAt int32 // fail on this read (1-based), 0 never
	reads  atomic.Int32
	closed atomic.Bool
}

func (f *fakeSource) ReadChunk() ([]int16, error) {
	n := f.reads.Add(1)
	if f.failAt > 0 && n == f.failAt {
		return nil, errors.New("stream broke")
	}
	time.Sleep(f.delay)
	out := make([]int16, f.chunk)
	for i := range out {
		out[i] = int16(n)
	}
	return out, nil
}

func (f *fakeSource) Close() error {
	f.closed.Store(true)
	return nil
}

func TestCaptureCollectsChunks(t *testing.T) {
	src := &fakeSource{chunk: 4, delay: 2 * time.Millisecond}
	c := StartCapture(src, 16000)
	time.Sleep(30 * time.Millisecond)

	rec, err := c.Stop(time.Second)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Chunks == 0 {
		t.Fatal("expected at least one chunk")
	}
	if len(rec.Samples) != rec.Chunks*4 {
		t.Fatalf("len(Samples) = %d, want %d", len(rec.Samples), rec.Chunks*4)
	}
	if rec.Samples[0] != 1 {
		t.Errorf("first sample = %d, want 1 (first chunk)", rec.Samples[0])
	}
	if !src.closed.Load() {
		t.Error("expected source closed after Stop")
	}
	if rec.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", rec.SampleRate)
	}
}

func TestCaptureReadErrorSurfacesFromStop(t *testing.T) {
	src := &fakeSource{chunk: 4, failAt: 3}
	c := StartCapture(src, 16000)
	time.Sleep(10 * time.Millisecond)

	rec, err := c.Stop(time.Second)
	if err == nil {
		t.Fatal("expected capture error")
	}
	if rec.Chunks != 2 {
		t.Errorf("Chunks = %d, want 2 before failure", rec.Chunks)
	}
}

func TestCaptureStopTimeout(t *testing.T) {
	src := &fakeSource{chunk: 4, delay: 200 * time.Millisecond}
	c := StartCapture(src, 16000)

	start := time.Now()
	if _, err := c.Stop(20 * time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("Stop took %v, expected bounded by timeout", elapsed)
	}

	// The source is closed once the goroutine finishes its last read.
	deadline := time.Now().Add(time.Second)
	for !src.closed.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !src.closed.Load() {
		t.Fatal("source never closed after timed-out Stop")
	}
}

func TestRecordingDuration(t *testing.T) {
	rec := Recording{Samples: make([]int16, 8000), SampleRate: 16000}
	if d := rec.Duration(); d != 500*time.Millisecond {
		t.Fatalf("Duration = %v, want 500ms", d)
	}
	if d := (Recording{}).Duration(); d != 0 {
		t.Fatalf("empty Duration = %v, want 0", d)
	}
}

func TestCaptureRate(t *testing.T) {
	cases := []struct {
		device *portaudio.DeviceInfo
		want   int
	}{
		{nil, DefaultSampleRate},
		{&portaudio.DeviceInfo{Name: "USB PnP Sound Device: Audio (hw:1,0)", DefaultSampleRate: 48000}, 48000},
		{&portaudio.DeviceInfo{Name: "KT USB Audio", DefaultSampleRate: 44100}, 44100},
		{&portaudio.DeviceInfo{Name: "odd", DefaultSampleRate: 0}, DefaultSampleRate},
	}
	for _, tc := range cases {
		if got := captureRate(tc.device, DefaultSampleRate); got != tc.want {
			t.Errorf("captureRate(%v) = %d, want %d", tc.device, got, tc.want)
		}
	}
}

func TestCaptureCarriesDeviceRateIntoWAV(t *testing.T) {
	c := StartCapture(&fakeSource{chunk: 480, delay: time.Millisecond}, 48000)
	time.Sleep(10 * time.Millisecond)
	rec, err := c.Stop(time.Second)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.SampleRate != 48000 {
		t.Fatalf("SampleRate = %d, want 48000", rec.SampleRate)
	}
	raw, err := EncodeWAV(rec)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	dec := wav.NewDecoder(bytes.NewReader(raw))
	if !dec.IsValidFile() || dec.SampleRate != 48000 {
		t.Fatalf("wav header rate = %d, want 48000", dec.SampleRate)
	}
}

func TestRecordingPeak(t *testing.T) {
	rec := Recording{Samples: []int16{3, -120, 40, -32768}}
	if p := rec.Peak(); p != 32768 {
		t.Fatalf("Peak = %d, want 32768", p)
	}
	if p := (Recording{}).Peak(); p != 0 {
		t.Fatalf("empty Peak = %d", p)
	}
}
