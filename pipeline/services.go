package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	tts "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"
	"google.golang.org/genai"

	"gossipline/config"
)

// Services owns the clients for the external speech and language services.
// Google clients are created on first use and live until Close.
type Services struct {
	cfg    config.Config
	openai *openai.Client

	speechOnce   sync.Once
	speechClient *speech.Client
	speechErr    error

	ttsOnce   sync.Once
	ttsClient *texttospeech.Client
	ttsErr    error

	genaiOnce   sync.Once
	genaiClient *genai.Client
	genaiErr    error
}

func NewServices(cfg config.Config) *Services {
	s := &Services{cfg: cfg}
	if cfg.OpenAIKey != "" {
		s.openai = openai.NewClient(cfg.OpenAIKey)
	}
	return s
}

func (s *Services) googleOptions() []option.ClientOption {
	if s.cfg.GoogleCredsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(s.cfg.GoogleCredsFile)}
}

func (s *Services) speech(ctx context.Context) (*speech.Client, error) {
	s.speechOnce.Do(func() {
		log.Info().Msg("creating speech client")
		s.speechClient, s.speechErr = speech.NewClient(context.WithoutCancel(ctx), s.googleOptions()...)
	})
	return s.speechClient, s.speechErr
}

func (s *Services) textToSpeech(ctx context.Context) (*texttospeech.Client, error) {
	s.ttsOnce.Do(func() {
		log.Info().Msg("creating text-to-speech client")
		s.ttsClient, s.ttsErr = texttospeech.NewClient(context.WithoutCancel(ctx), s.googleOptions()...)
	})
	return s.ttsClient, s.ttsErr
}

func (s *Services) gemini(ctx context.Context) (*genai.Client, error) {
	s.genaiOnce.Do(func() {
		s.genaiClient, s.genaiErr = genai.NewClient(context.WithoutCancel(ctx), &genai.ClientConfig{
			APIKey:  s.cfg.GeminiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return s.genaiClient, s.genaiErr
}

func (s *Services) requireOpenAI() error {
	if s.openai == nil {
		return errors.New("OPENAI_API_KEY is not set")
	}
	return nil
}

// Transcriber returns the backend named by STT_PROVIDER.
func (s *Services) Transcriber() (Transcriber, error) {
	switch s.cfg.STTProvider {
	case "whisper", "openai", "":
		if err := s.requireOpenAI(); err != nil {
			return nil, err
		}
		return NewWhisperTranscriber(s.openai, isoLanguage(s.cfg.LanguageCode)), nil
	case "google":
		return &GoogleTranscriber{
			languageCode: s.cfg.LanguageCode,
			recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
				c, err := s.speech(ctx)
				if err != nil {
					return nil, fmt.Errorf("speech client: %w", err)
				}
				return c.Recognize(ctx, req)
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown STT_PROVIDER %q", s.cfg.STTProvider)
	}
}

// Anonymizer returns the backend named by LLM_PROVIDER.
func (s *Services) Anonymizer() (Anonymizer, error) {
	switch s.cfg.LLMProvider {
	case "openai", "":
		if err := s.requireOpenAI(); err != nil {
			return nil, err
		}
		return NewChatAnonymizer(s.openai, s.cfg.OpenAIModel), nil
	case "gemini":
		if s.cfg.GeminiKey == "" {
			return nil, errors.New("GEMINI_API_KEY is not set")
		}
		return &GeminiAnonymizer{
			model: s.cfg.GeminiModel,
			generate: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				c, err := s.gemini(ctx)
				if err != nil {
					return nil, fmt.Errorf("gemini client: %w", err)
				}
				return c.Models.GenerateContent(ctx, model, contents, cfg)
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", s.cfg.LLMProvider)
	}
}

// Synthesizer returns the backend named by TTS_PROVIDER.
func (s *Services) Synthesizer() (Synthesizer, error) {
	switch s.cfg.TTSProvider {
	case "google", "":
		fn := func(ctx context.Context, req *tts.SynthesizeSpeechRequest) (*tts.SynthesizeSpeechResponse, error) {
			c, err := s.textToSpeech(ctx)
			if err != nil {
				return nil, fmt.Errorf("text-to-speech client: %w", err)
			}
			return c.SynthesizeSpeech(ctx, req)
		}
		return newGoogleSynthesizer(fn, s.cfg.LanguageCode, s.cfg.TTSVoice, s.cfg.AudioDir), nil
	case "openai":
		if err := s.requireOpenAI(); err != nil {
			return nil, err
		}
		return NewSpeechSynthesizer(s.openai, s.cfg.TTSVoice, s.cfg.AudioDir), nil
	default:
		return nil, fmt.Errorf("unknown TTS_PROVIDER %q", s.cfg.TTSProvider)
	}
}

// Build wires a Pipeline from the configured backends.
func (s *Services) Build(store Store, player Player) (*Pipeline, error) {
	stt, err := s.Transcriber()
	if err != nil {
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	llm, err := s.Anonymizer()
	if err != nil {
		return nil, fmt.Errorf("anonymizer: %w", err)
	}
	synth, err := s.Synthesizer()
	if err != nil {
		return nil, fmt.Errorf("synthesizer: %w", err)
	}
	return New(stt, llm, synth, store, player, Options{PlayResult: s.cfg.PlayResult}), nil
}

// Close releases any Google clients that were created.
func (s *Services) Close() error {
	var errs []error
	if s.speechClient != nil {
		errs = append(errs, s.speechClient.Close())
	}
	if s.ttsClient != nil {
		errs = append(errs, s.ttsClient.Close())
	}
	return errors.Join(errs...)
}

// isoLanguage turns "nl-NL" into "nl".
func isoLanguage(code string) string {
	lang, _, _ := strings.Cut(code, "-")
	return strings.ToLower(lang)
}
