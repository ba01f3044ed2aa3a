package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gossipline/config"
)

type fileSynth struct {
	dir   string
	texts []string
	fail  bool
}

func (f *fileSynth) Synthesize(ctx context.Context, text string) (string, error) {
	if f.fail {
		return "", errors.New("service down")
	}
	f.texts = append(f.texts, text)
	path := filepath.Join(f.dir, "tmp.mp3")
	return path, os.WriteFile(path, []byte(text), 0o644)
}

func testPrompts(dir string) []prompt {
	return promptsFor(config.Config{
		WelcomeAudio:    filepath.Join(dir, "welcome.mp3"),
		TransitionAudio: filepath.Join(dir, "transition.mp3"),
		FirstTimeAudio:  filepath.Join(dir, "first_time.mp3"),
	})
}

func TestGenerateWritesAllPrompts(t *testing.T) {
	dir := t.TempDir()
	synth := &fileSynth{dir: dir}

	if failed := generate(context.Background(), synth, testPrompts(dir), "nl", false); failed != 0 {
		t.Fatalf("failed = %d", failed)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "welcome.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "Welkom bij het roddel systeem. Eerst hoort u een roddel van een vorige gebruiker." {
		t.Fatalf("welcome = %q", raw)
	}
	for _, name := range []string{"transition.mp3", "first_time.mp3"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
}

func TestGenerateSkipsExistingUnlessForced(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "welcome.mp3"), []byte("old"), 0o644)
	synth := &fileSynth{dir: dir}

	generate(context.Background(), synth, testPrompts(dir), "en", false)
	if len(synth.texts) != 2 {
		t.Fatalf("synthesized %d prompts, want 2", len(synth.texts))
	}

	generate(context.Background(), synth, testPrompts(dir), "en", true)
	raw, _ := os.ReadFile(filepath.Join(dir, "welcome.mp3"))
	if string(raw) != "Welcome to the gossip system. First you will hear gossip from a previous user." {
		t.Fatalf("welcome = %q", raw)
	}
}

func TestGenerateCountsFailures(t *testing.T) {
	dir := t.TempDir()
	if failed := generate(context.Background(), &fileSynth{dir: dir, fail: true}, testPrompts(dir), "nl", false); failed != 3 {
		t.Fatalf("failed = %d, want 3", failed)
	}
	if failed := generate(context.Background(), &fileSynth{dir: dir}, testPrompts(dir), "fr", false); failed != 3 {
		t.Fatalf("unknown language: failed = %d, want 3", failed)
	}
}
