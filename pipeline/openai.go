package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/sashabaranov/go-openai"
)

// AnonymizeInstruction is the fixed system instruction for every language model backend.
const AnonymizeInstruction = "You are changing gossip or stories that people give into an anonymized sentence in the form of gossip. The output should be the same language as the input."

const anonymizePrompt = "Change the given text into an anonymized sentence of gossip:\n%s"

// WhisperTranscriber transcribes with OpenAI's whisper model.
type WhisperTranscriber struct {
	client   *openai.Client
	language string
}

// NewWhisperTranscriber returns a transcriber. language is an ISO-639-1 hint
// and may be empty to let the model detect it.
func NewWhisperTranscriber(client *openai.Client, language string) *WhisperTranscriber {
	return &WhisperTranscriber{client: client, language: language}
}

// Transcribe accepts any container whisper supports (wav, mp3, m4a, webm,
// ...). The format is taken from the extension of name.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, name string) (string, error) {
	name = filepath.Base(name)
	if name == "" || name == "." || name == "/" {
		name = RecordingName
	}
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: name,
		Reader:   bytes.NewReader(audio),
		Language: w.language,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return resp.Text, nil
}

// ChatAnonymizer rewrites text with an OpenAI chat model.
type ChatAnonymizer struct {
	client *openai.Client
	model  string
}

func NewChatAnonymizer(client *openai.Client, model string) *ChatAnonymizer {
	if model == "" {
		model = openai.GPT4o
	}
	return &ChatAnonymizer{client: client, model: model}
}

func (c *ChatAnonymizer) Anonymize(ctx context.Context, text string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: AnonymizeInstruction},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(anonymizePrompt, text)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// SpeechSynthesizer renders MP3 with OpenAI text to speech.
type SpeechSynthesizer struct {
	client *openai.Client
	voice  openai.SpeechVoice
	dir    string
}

// NewSpeechSynthesizer writes its output under dir. An empty voice means alloy.
func NewSpeechSynthesizer(client *openai.Client, voice, dir string) *SpeechSynthesizer {
	v := openai.SpeechVoice(voice)
	if v == "" {
		v = openai.VoiceAlloy
	}
	return &SpeechSynthesizer{client: client, voice: v, dir: dir}
}

func (s *SpeechSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return "", fmt.Errorf("read speech: %w", err)
	}
	return writeAudioFile(s.dir, audio)
}
