package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/speech/apiv1/speechpb"
	tts "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

type synthesizeFunc func(ctx context.Context, req *tts.SynthesizeSpeechRequest) (*tts.SynthesizeSpeechResponse, error)

// GoogleTranscriber transcribes with Cloud Speech-to-Text.
type GoogleTranscriber struct {
	recognize    recognizeFunc
	languageCode string
}

// Transcribe only accepts PCM WAV; the sample rate is read from the header.
func (g *GoogleTranscriber) Transcribe(ctx context.Context, audio []byte, name string) (string, error) {
	dec := wav.NewDecoder(bytes.NewReader(audio))
	if !dec.IsValidFile() {
		return "", fmt.Errorf("%w: %s is not a PCM WAV file", ErrUnsupportedAudio, name)
	}
	rate := int32(dec.SampleRate)

	resp, err := g.recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: rate,
			LanguageCode:    g.languageCode,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("speech recognize: %w", err)
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		parts = append(parts, result.Alternatives[0].Transcript)
	}
	return strings.Join(parts, " "), nil
}

// GoogleSynthesizer renders MP3 with Cloud Text-to-Speech.
type GoogleSynthesizer struct {
	synthesize  synthesizeFunc
	voice       *tts.VoiceSelectionParams
	audioConfig *tts.AudioConfig
	dir         string
}

func newGoogleSynthesizer(fn synthesizeFunc, languageCode, voice, dir string) *GoogleSynthesizer {
	return &GoogleSynthesizer{
		synthesize: fn,
		voice: &tts.VoiceSelectionParams{
			LanguageCode: languageCode,
			Name:         voice,
		},
		audioConfig: &tts.AudioConfig{
			AudioEncoding: tts.AudioEncoding_MP3,
		},
		dir: dir,
	}
}

func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	resp, err := g.synthesize(ctx, &tts.SynthesizeSpeechRequest{
		Input: &tts.SynthesisInput{
			InputSource: &tts.SynthesisInput_Text{Text: text},
		},
		Voice:       g.voice,
		AudioConfig: g.audioConfig,
	})
	if err != nil {
		return "", fmt.Errorf("text-to-speech: %w", err)
	}
	if len(resp.AudioContent) == 0 {
		return "", errors.New("text-to-speech: empty audio")
	}
	return writeAudioFile(g.dir, resp.AudioContent)
}

// writeAudioFile stores MP3 bytes under dir with a fresh unique name.
func writeAudioFile(dir string, audio []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".mp3")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	return path, nil
}
