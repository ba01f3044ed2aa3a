// Command prompts synthesizes the spoken prompts the phone plays during a call.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gossipline/config"
	"gossipline/pipeline"
)

type prompt struct {
	name string
	path string
	text map[string]string
}

func promptsFor(cfg config.Config) []prompt {
	return []prompt{
		{
			name: "welcome",
			path: cfg.WelcomeAudio,
			text: map[string]string{
				"nl": "Welkom bij het roddel systeem. Eerst hoort u een roddel van een vorige gebruiker.",
				"en": "Welcome to the gossip system. First you will hear gossip from a previous user.",
			},
		},
		{
			name: "transition",
			path: cfg.TransitionAudio,
			text: map[string]string{
				"nl": "Nu is het uw beurt. Vertel uw roddel en hang op wanneer u klaar bent. Uw roddel wordt anoniem gemaakt.",
				"en": "Now it's your turn. Tell your gossip and hang up when you're done. Your gossip will be anonymized.",
			},
		},
		{
			name: "first_time",
			path: cfg.FirstTimeAudio,
			text: map[string]string{
				"nl": "U bent de eerste beller. Er zijn nog geen roddels.",
				"en": "You are the first caller. There is no gossip yet.",
			},
		},
	}
}

// generate renders every prompt in lang and moves it to its asset path.
// Existing assets are kept unless force is set. It returns the number of
// prompts that failed.
func generate(ctx context.Context, synth pipeline.Synthesizer, prompts []prompt, lang string, force bool) int {
	failed := 0
	for _, p := range prompts {
		if p.path == "" {
			continue
		}
		if _, err := os.Stat(p.path); err == nil && !force {
			log.Info().Str("prompt", p.name).Str("path", p.path).Msg("already exists, skipping")
			continue
		}
		text, ok := p.text[lang]
		if !ok {
			log.Error().Str("prompt", p.name).Str("lang", lang).Msg("no text for language")
			failed++
			continue
		}

		log.Info().Str("prompt", p.name).Msg("generating")
		tmp, err := synth.Synthesize(ctx, text)
		if err != nil {
			log.Error().Err(err).Str("prompt", p.name).Msg("synthesis failed")
			failed++
			continue
		}
		if err := os.Rename(tmp, p.path); err != nil {
			log.Error().Err(err).Str("prompt", p.name).Msg("could not move audio into place")
			failed++
			continue
		}
		log.Info().Str("prompt", p.name).Str("path", p.path).Msg("created")
	}
	return failed
}

func main() {
	lang := flag.String("lang", "nl", "prompt language (nl or en)")
	force := flag.Bool("force", false, "regenerate prompts that already exist")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	cfg := config.Load()
	*lang = strings.ToLower(*lang)
	if os.Getenv("LANGUAGE_CODE") == "" && *lang == "en" {
		cfg.LanguageCode = "en-US"
	}

	services := pipeline.NewServices(cfg)
	defer services.Close()
	synth, err := services.Synthesizer()
	if err != nil {
		log.Fatal().Err(err).Msg("no speech synthesizer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if failed := generate(ctx, synth, promptsFor(cfg), *lang, *force); failed > 0 {
		fmt.Fprintf(os.Stderr, "%d prompt(s) failed\n", failed)
		os.Exit(1)
	}
	log.Info().Msg("all prompts ready")
}
