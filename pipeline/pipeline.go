// Package pipeline turns a recorded story into a stored, anonymized gossip:
// speech to text, a language model rewrite, then text to speech.
//
// Each stage is an opaque service behind a small interface. Stages run in
// order with no retries; the first failure stops the run and nothing is
// stored.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Stage names used in StageError and logs.
const (
	StageRead       = "read"
	StageTranscribe = "transcribe"
	StageAnonymize  = "anonymize"
	StageSynthesize = "synthesize"
	StageStore      = "store"
)

var (
	// ErrNoSpeech means the transcript was empty, so there is nothing to keep.
	ErrNoSpeech = errors.New("no speech in recording")
	// ErrUnsupportedAudio is returned by transcribers that cannot read the
	// uploaded container format.
	ErrUnsupportedAudio = errors.New("unsupported audio format")
)

// RecordingName is the file name recordings from the handset are sent under.
const RecordingName = "recording.wav"

// StageError reports which stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Transcriber converts recorded audio to text. name is the original file
// name; its extension tells the service the container format.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, name string) (string, error)
}

// Anonymizer rewrites a story as anonymized gossip in the same language.
type Anonymizer interface {
	Anonymize(ctx context.Context, text string) (string, error)
}

// Synthesizer renders text to an audio file and returns its path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Store persists a finished gossip.
type Store interface {
	Insert(path, originalText, anonymizedText string) (int64, error)
}

// Player plays a finished gossip back.
type Player interface {
	PlayBlocking(ctx context.Context, path string) error
}

// Options tunes a Pipeline.
type Options struct {
	// PlayResult plays the synthesized gossip once it is stored.
	PlayResult bool
}

// Result describes one completed run.
type Result struct {
	ID             int64
	AudioPath      string
	OriginalText   string
	AnonymizedText string
	Elapsed        time.Duration
}

type Pipeline struct {
	stt    Transcriber
	llm    Anonymizer
	tts    Synthesizer
	store  Store
	player Player
	opts   Options
}

// New builds a pipeline. player may be nil.
func New(stt Transcriber, llm Anonymizer, tts Synthesizer, store Store, player Player, opts Options) *Pipeline {
	return &Pipeline{stt: stt, llm: llm, tts: tts, store: store, player: player, opts: opts}
}

// Run processes the WAV file at wavPath.
func (p *Pipeline) Run(ctx context.Context, wavPath string) (Result, error) {
	wav, err := os.ReadFile(wavPath)
	if err != nil {
		return Result{}, &StageError{Stage: StageRead, Err: err}
	}
	return p.Process(ctx, wav)
}

// Process transcribes, anonymizes, synthesizes and stores one recording.
func (p *Pipeline) Process(ctx context.Context, wav []byte) (Result, error) {
	start := time.Now()
	logger := log.With().Str("component", "pipeline").Logger()

	text, err := p.stt.Transcribe(ctx, wav, RecordingName)
	if err != nil {
		return Result{}, &StageError{Stage: StageTranscribe, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		logger.Info().Int("wav_bytes", len(wav)).Msg("empty transcript, nothing stored")
		return Result{}, ErrNoSpeech
	}
	logger.Info().Str("transcript", text).Msg("transcribed")

	gossip, err := p.llm.Anonymize(ctx, text)
	if err != nil {
		return Result{}, &StageError{Stage: StageAnonymize, Err: err}
	}
	gossip = strings.TrimSpace(gossip)
	if gossip == "" {
		return Result{}, &StageError{Stage: StageAnonymize, Err: errors.New("empty response")}
	}
	logger.Info().Str("gossip", gossip).Msg("anonymized")

	path, err := p.tts.Synthesize(ctx, gossip)
	if err != nil {
		return Result{}, &StageError{Stage: StageSynthesize, Err: err}
	}

	id, err := p.store.Insert(path, text, gossip)
	if err != nil {
		// An audio file without a row would still be listed by the web loop.
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn().Err(rmErr).Str("path", path).Msg("could not remove orphaned audio")
		}
		return Result{}, &StageError{Stage: StageStore, Err: err}
	}

	res := Result{
		ID:             id,
		AudioPath:      path,
		OriginalText:   text,
		AnonymizedText: gossip,
		Elapsed:        time.Since(start),
	}
	logger.Info().Int64("id", id).Str("path", path).Dur("elapsed", res.Elapsed).Msg("gossip stored")

	if p.opts.PlayResult && p.player != nil {
		if err := p.player.PlayBlocking(ctx, path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("playing result failed")
		}
	}
	return res, nil
}
