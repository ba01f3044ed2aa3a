package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeSTT struct {
	text  string
	err   error
	calls int
	name  string
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, name string) (string, error) {
	f.calls++
	f.name = name
	return f.text, f.err
}

type fakeLLM struct {
	out   string
	err   error
	calls int
	got   string
}

func (f *fakeLLM) Anonymize(ctx context.Context, text string) (string, error) {
	f.calls++
	f.got = text
	return f.out, f.err
}

type fakeTTS struct {
	path  string
	err   error
	calls int
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) (string, error) {
	f.calls++
	return f.path, f.err
}

type insert struct{ path, original, anonymized string }

type fakeStore struct {
	inserts []insert
	err     error
}

func (f *fakeStore) Insert(path, original, anonymized string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.inserts = append(f.inserts, insert{path, original, anonymized})
	return int64(len(f.inserts)), nil
}

type fakePlayer struct {
	played []string
	err    error
}

func (f *fakePlayer) PlayBlocking(ctx context.Context, path string) error {
	f.played = append(f.played, path)
	return f.err
}

func TestProcessStoresGossip(t *testing.T) {
	stt := &fakeSTT{text: "  my neighbour Jan painted his cat  "}
	llm := &fakeLLM{out: "Someone on this street painted their cat."}
	tts := &fakeTTS{path: "audio/x.mp3"}
	store := &fakeStore{}
	player := &fakePlayer{}

	p := New(stt, llm, tts, store, player, Options{PlayResult: true})
	res, err := p.Process(context.Background(), []byte("RIFF"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if llm.got != "my neighbour Jan painted his cat" {
		t.Errorf("anonymizer got %q, want trimmed transcript", llm.got)
	}
	if len(store.inserts) != 1 {
		t.Fatalf("inserts = %d, want 1", len(store.inserts))
	}
	want := insert{"audio/x.mp3", "my neighbour Jan painted his cat", "Someone on this street painted their cat."}
	if store.inserts[0] != want {
		t.Errorf("insert = %+v, want %+v", store.inserts[0], want)
	}
	if stt.name != RecordingName {
		t.Errorf("transcriber got name %q, want %q", stt.name, RecordingName)
	}
	if res.ID != 1 || res.AudioPath != "audio/x.mp3" {
		t.Errorf("result = %+v", res)
	}
	if len(player.played) != 1 || player.played[0] != "audio/x.mp3" {
		t.Errorf("played = %v", player.played)
	}
}

func TestProcessEmptyTranscript(t *testing.T) {
	llm := &fakeLLM{out: "x"}
	tts := &fakeTTS{path: "x.mp3"}
	store := &fakeStore{}

	p := New(&fakeSTT{text: " \n\t"}, llm, tts, store, nil, Options{})
	_, err := p.Process(context.Background(), nil)
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
	if llm.calls != 0 || tts.calls != 0 || len(store.inserts) != 0 {
		t.Fatal("later stages must not run after an empty transcript")
	}
}

func TestProcessStageFailures(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name  string
		stt   *fakeSTT
		llm   *fakeLLM
		tts   *fakeTTS
		store *fakeStore
		stage string
	}{
		{"transcribe", &fakeSTT{err: boom}, &fakeLLM{out: "g"}, &fakeTTS{path: "p"}, &fakeStore{}, StageTranscribe},
		{"anonymize", &fakeSTT{text: "t"}, &fakeLLM{err: boom}, &fakeTTS{path: "p"}, &fakeStore{}, StageAnonymize},
		{"anonymize empty", &fakeSTT{text: "t"}, &fakeLLM{out: "  "}, &fakeTTS{path: "p"}, &fakeStore{}, StageAnonymize},
		{"synthesize", &fakeSTT{text: "t"}, &fakeLLM{out: "g"}, &fakeTTS{err: boom}, &fakeStore{}, StageSynthesize},
		{"store", &fakeSTT{text: "t"}, &fakeLLM{out: "g"}, &fakeTTS{path: "p"}, &fakeStore{err: boom}, StageStore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			player := &fakePlayer{}
			p := New(tc.stt, tc.llm, tc.tts, tc.store, player, Options{PlayResult: true})
			_, err := p.Process(context.Background(), []byte("wav"))

			var se *StageError
			if !errors.As(err, &se) || se.Stage != tc.stage {
				t.Fatalf("err = %v, want StageError at %s", err, tc.stage)
			}
			if len(tc.store.inserts) != 0 {
				t.Fatal("nothing may be stored after a failure")
			}
			if len(player.played) != 0 {
				t.Fatal("nothing may be played after a failure")
			}
			if tc.stt.calls > 1 || tc.llm.calls > 1 || tc.tts.calls > 1 {
				t.Fatal("stages must not be retried")
			}
		})
	}
}

func TestProcessStoreFailureRemovesAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orphan.mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := New(&fakeSTT{text: "t"}, &fakeLLM{out: "g"}, &fakeTTS{path: path}, &fakeStore{err: errors.New("disk full")}, nil, Options{})

	_, err := p.Process(context.Background(), []byte("wav"))
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageStore {
		t.Fatalf("err = %v, want store StageError", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("synthesized audio left behind: %v", err)
	}
}

func TestProcessPlaybackFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{}
	p := New(&fakeSTT{text: "t"}, &fakeLLM{out: "g"}, &fakeTTS{path: "p"}, store, &fakePlayer{err: errors.New("no device")}, Options{PlayResult: true})
	if _, err := p.Process(context.Background(), []byte("wav")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(store.inserts) != 1 {
		t.Fatal("record should be stored even when playback fails")
	}
}

func TestProcessSkipsPlaybackWhenDisabled(t *testing.T) {
	player := &fakePlayer{}
	p := New(&fakeSTT{text: "t"}, &fakeLLM{out: "g"}, &fakeTTS{path: "p"}, &fakeStore{}, player, Options{})
	if _, err := p.Process(context.Background(), []byte("wav")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(player.played) != 0 {
		t.Fatal("played with PlayResult disabled")
	}
}

func TestRunReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phone_recording.wav")
	if err := os.WriteFile(path, []byte("RIFFdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := &fakeStore{}
	p := New(&fakeSTT{text: "t"}, &fakeLLM{out: "g"}, &fakeTTS{path: "p"}, store, nil, Options{})
	if _, err := p.Run(context.Background(), path); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.inserts) != 1 {
		t.Fatal("expected one insert")
	}

	_, err := p.Run(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageRead {
		t.Fatalf("err = %v, want read StageError", err)
	}
}
