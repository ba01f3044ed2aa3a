package sound

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// EncodeWAV renders a recording as a 16-bit mono RIFF WAV file in memory.
func EncodeWAV(rec Recording) ([]byte, error) {
	data := make([]int, len(rec.Samples))
	for i, s := range rec.Samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: rec.SampleRate, NumChannels: 1},
		Data:           data,
		SourceBitDepth: 16,
	}

	out := &writerseeker.WriterSeeker{}
	encoder := wav.NewEncoder(out, rec.SampleRate, 16, 1, 1)
	if err := encoder.Write(buf); err != nil {
		return nil, fmt.Errorf("encoder write buffer: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encoder close: %w", err)
	}

	riffWav, err := io.ReadAll(out.Reader())
	if err != nil {
		return nil, fmt.Errorf("reading wav into memory: %w", err)
	}
	return riffWav, nil
}

// WriteWAV encodes rec and writes it to path, replacing any previous file.
func WriteWAV(path string, rec Recording) ([]byte, error) {
	riffWav, err := EncodeWAV(rec)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, riffWav, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return riffWav, nil
}
