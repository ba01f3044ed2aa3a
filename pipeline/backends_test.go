package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	tts "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"gossipline/config"
)

func testOpenAI(t *testing.T, h http.HandlerFunc) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func TestWhisperTranscriber(t *testing.T) {
	client := testOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart: %v", err)
		}
		if got := r.FormValue("model"); got != openai.Whisper1 {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("language"); got != "nl" {
			t.Errorf("language = %q", got)
		}
		if _, fh, err := r.FormFile("file"); err != nil || fh.Filename != RecordingName {
			t.Errorf("file = %v, %v", fh, err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"hallo daar"}`)
	})

	text, err := NewWhisperTranscriber(client, "nl").Transcribe(context.Background(), []byte("RIFF"), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hallo daar" {
		t.Fatalf("text = %q", text)
	}
}

func TestWhisperTranscriberKeepsUploadName(t *testing.T) {
	var got string
	client := testOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if _, fh, err := r.FormFile("file"); err == nil {
			got = fh.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"ok"}`)
	})

	if _, err := NewWhisperTranscriber(client, "").Transcribe(context.Background(), []byte("ID3"), "uploads/story.mp3"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "story.mp3" {
		t.Fatalf("forwarded as %q, want story.mp3", got)
	}
}

func TestChatAnonymizerSendsInstruction(t *testing.T) {
	client := testOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.Model != "gpt-4o" || len(req.Messages) != 2 {
			t.Errorf("unexpected request %+v", req)
			return
		}
		if req.Messages[0].Content != AnonymizeInstruction {
			t.Errorf("system message = %q", req.Messages[0].Content)
		}
		if !strings.HasSuffix(req.Messages[1].Content, "\nJan stole a bike") {
			t.Errorf("user message = %q", req.Messages[1].Content)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"Someone stole a bike."}}]}`)
	})

	out, err := NewChatAnonymizer(client, "").Anonymize(context.Background(), "Jan stole a bike")
	if err != nil {
		t.Fatalf("Anonymize: %v", err)
	}
	if out != "Someone stole a bike." {
		t.Fatalf("out = %q", out)
	}
}

func TestChatAnonymizerNoChoices(t *testing.T) {
	client := testOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[]}`)
	})
	if _, err := NewChatAnonymizer(client, "").Anonymize(context.Background(), "x"); err == nil {
		t.Fatal("expected an error with no choices")
	}
}

func TestSpeechSynthesizerWritesMP3(t *testing.T) {
	client := testOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3fake"))
	})
	dir := t.TempDir()

	path, err := NewSpeechSynthesizer(client, "", dir).Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if filepath.Dir(path) != dir || filepath.Ext(path) != ".mp3" {
		t.Fatalf("path = %s", path)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "ID3fake" {
		t.Fatalf("content = %q", raw)
	}
}

func encodeTestWAV(t *testing.T, rate int) []byte {
	t.Helper()
	ws := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(ws, rate, 16, 1, 1)
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: rate}, Data: make([]int, 160), SourceBitDepth: 16}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(ws.Reader())
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestGoogleTranscriber(t *testing.T) {
	var got *speechpb.RecognizeRequest
	g := &GoogleTranscriber{
		languageCode: "nl-NL",
		recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			got = req
			return &speechpb.RecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "de buurman"}}},
				{},
				{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "heeft een geheim"}}},
			}}, nil
		},
	}

	text, err := g.Transcribe(context.Background(), encodeTestWAV(t, 8000), RecordingName)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "de buurman heeft een geheim" {
		t.Fatalf("text = %q", text)
	}
	if got.Config.SampleRateHertz != 8000 || got.Config.LanguageCode != "nl-NL" {
		t.Fatalf("config = %+v", got.Config)
	}
	if got.Config.Encoding != speechpb.RecognitionConfig_LINEAR16 {
		t.Fatalf("encoding = %v", got.Config.Encoding)
	}
}

func TestGoogleTranscriberRejectsNonWAV(t *testing.T) {
	g := &GoogleTranscriber{
		languageCode: "nl-NL",
		recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			t.Error("recognize called for an mp3 upload")
			return &speechpb.RecognizeResponse{}, nil
		},
	}
	_, err := g.Transcribe(context.Background(), []byte("ID3\x04\x00not pcm"), "story.mp3")
	if !errors.Is(err, ErrUnsupportedAudio) {
		t.Fatalf("err = %v, want ErrUnsupportedAudio", err)
	}
}

func TestGoogleSynthesizer(t *testing.T) {
	dir := t.TempDir()
	g := newGoogleSynthesizer(func(ctx context.Context, req *tts.SynthesizeSpeechRequest) (*tts.SynthesizeSpeechResponse, error) {
		if req.AudioConfig.AudioEncoding != tts.AudioEncoding_MP3 {
			t.Errorf("encoding = %v", req.AudioConfig.AudioEncoding)
		}
		if req.Voice.LanguageCode != "nl-NL" {
			t.Errorf("language = %q", req.Voice.LanguageCode)
		}
		return &tts.SynthesizeSpeechResponse{AudioContent: []byte("mp3")}, nil
	}, "nl-NL", "", dir)

	a, err := g.Synthesize(context.Background(), "roddel")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	b, err := g.Synthesize(context.Background(), "roddel")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if a == b {
		t.Fatal("each synthesis needs its own file")
	}
}

func TestGoogleSynthesizerEmptyAudio(t *testing.T) {
	g := newGoogleSynthesizer(func(ctx context.Context, req *tts.SynthesizeSpeechRequest) (*tts.SynthesizeSpeechResponse, error) {
		return &tts.SynthesizeSpeechResponse{}, nil
	}, "en-US", "", t.TempDir())
	if _, err := g.Synthesize(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty audio")
	}
}

func TestGeminiAnonymizer(t *testing.T) {
	g := &GeminiAnonymizer{
		model: "gemini-2.0-flash",
		generate: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			if model != "gemini-2.0-flash" {
				t.Errorf("model = %q", model)
			}
			if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != AnonymizeInstruction {
				t.Errorf("missing system instruction")
			}
			return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{{Text: "Iemand heeft een geheim."}}},
			}}}, nil
		},
	}
	out, err := g.Anonymize(context.Background(), "Piet heeft een geheim")
	if err != nil {
		t.Fatalf("Anonymize: %v", err)
	}
	if out != "Iemand heeft een geheim." {
		t.Fatalf("out = %q", out)
	}
}

func TestServicesProviderSelection(t *testing.T) {
	cfg := config.Config{STTProvider: "whisper", LLMProvider: "openai", TTSProvider: "google", AudioDir: t.TempDir()}
	s := NewServices(cfg)
	if _, err := s.Transcriber(); err == nil {
		t.Fatal("whisper without an API key should fail")
	}

	cfg.OpenAIKey = "k"
	cfg.STTProvider = "google"
	cfg.LLMProvider = "gemini"
	cfg.GeminiKey = "g"
	s = NewServices(cfg)
	defer s.Close()
	if _, err := s.Transcriber(); err != nil {
		t.Fatalf("google transcriber: %v", err)
	}
	if _, err := s.Anonymizer(); err != nil {
		t.Fatalf("gemini anonymizer: %v", err)
	}
	if _, err := s.Build(nil, nil); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.speechClient != nil || s.ttsClient != nil || s.genaiClient != nil {
		t.Fatal("clients must not be created before first use")
	}

	cfg.TTSProvider = "festival"
	if _, err := NewServices(cfg).Synthesizer(); err == nil {
		t.Fatal("unknown provider should fail")
	}
}

func TestISOLanguage(t *testing.T) {
	if isoLanguage("nl-NL") != "nl" || isoLanguage("EN") != "en" || isoLanguage("") != "" {
		t.Fatal("unexpected iso language")
	}
}
