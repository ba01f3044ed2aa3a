package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gossipline/config"
	"gossipline/gossip"
	"gossipline/handset"
	"gossipline/phone/modules"
	"gossipline/pipeline"
	"gossipline/sound"
)

const cardsPath = "/proc/asound/cards"

func main() {
	simulate := flag.Bool("simulate", false, "drive the phone from the keyboard instead of the hook switch")
	configureAudio := flag.Bool("configure-audio", false, "write ~/.asoundrc for the external sound card and exit")
	quietALSA := flag.Bool("quiet-alsa", true, "hide ALSA warnings printed while scanning audio devices")
	debug := flag.Bool("debug", false, "enable debug logging")
	testHandsetFlag := flag.Bool("test-handset", false, "check the GPIO backends and log hook switch events")
	testMicFlag := flag.Duration("test-mic", 0, "record from the microphone for this long, report the level and exit")
	process := flag.String("process", "", "run a recorded WAV file through the pipeline and exit")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *configureAudio {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal().Err(err).Msg("no home directory")
		}
		card, err := sound.ConfigureALSA(cardsPath, filepath.Join(home, ".asoundrc"))
		if err != nil {
			log.Fatal().Err(err).Msg("configuring ALSA failed")
		}
		log.Info().Int("card", card.Number).Str("name", card.Description).Msg("default sound card set, reboot or restart audio services to apply")
		return
	}

	cfg := config.Load()
	handsetOpts := handset.Options{
		Pin:      cfg.HandsetPin,
		Chip:     cfg.HandsetChip,
		Debounce: cfg.Debounce,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *testHandsetFlag {
		gpio := []handset.Factory{handset.Periph, handset.RPIO, handset.GPIOCDev}
		if err := testHandset(ctx, gpio, handsetOpts); err != nil {
			log.Fatal().Err(err).Msg("handset test failed")
		}
		return
	}

	// ALSA only complains while PortAudio scans the devices, so stderr is
	// hidden for that window only.
	restoreStderr := func() {}
	if *quietALSA {
		if f, restore, err := suppressAlsaWarnings(); err == nil {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: f, TimeFormat: time.TimeOnly})
			restoreStderr = restore
		}
	}
	if err := portaudio.Initialize(); err != nil {
		restoreStderr()
		log.Fatal().Err(err).Msg("failed to initialize PortAudio")
	}
	defer portaudio.Terminate()
	devices := sound.PreferredDevices()
	restoreStderr()

	player := sound.NewPlayer(devices.Output)
	recorder := sound.NewRecorder(devices.Input)

	if *testMicFlag > 0 {
		if err := testMic(ctx, recorder, *testMicFlag, "mic_test.wav"); err != nil {
			log.Error().Err(err).Msg("microphone test failed")
			os.Exit(1)
		}
		return
	}

	store, err := gossip.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open gossip store")
	}
	defer store.Close()
	if n, err := store.CountActive(); err == nil {
		log.Info().Int("active", n).Msg("gossip store opened")
	}

	services := pipeline.NewServices(cfg)
	defer services.Close()
	pipe, err := services.Build(store, player)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure pipeline")
	}

	if *process != "" {
		if err := processFile(ctx, pipe, *process); err != nil {
			log.Error().Err(err).Str("path", *process).Msg("processing failed")
			os.Exit(1)
		}
		return
	}

	if cfg.VolumeTarget > 0 {
		keeper := &sound.LevelKeeper{
			Mixer:     sound.NewAmixer(sound.ExternalCardNumber(cardsPath)),
			Target:    cfg.VolumeTarget,
			Tolerance: 5,
			Interval:  cfg.VolumeInterval,
			Controls:  sound.KeptControls,
		}
		go keeper.Run(ctx)
	}

	opts := modules.DefaultOptions()
	opts.WelcomeAudio = cfg.WelcomeAudio
	opts.TransitionAudio = cfg.TransitionAudio
	opts.FirstTimeAudio = cfg.FirstTimeAudio
	opts.RecordingPath = cfg.RecordingFile

	controller := modules.NewController(modules.Deps{
		Player:   player,
		Recorder: recorder,
		Gossip:   store,
		Pipeline: pipe,
		Jobs:     modules.NewDispatcher(8, 2*time.Minute),
	}, opts)
	defer controller.Cleanup()

	factories := handset.DefaultFactories()
	if *simulate {
		factories = []handset.Factory{handset.Keyboard}
	}
	input, backend := handset.Select(factories, handsetOpts)
	defer input.Close()

	log.Info().Str("handset", backend).Msg("phone ready, waiting for pickup")
	controller.Run(ctx, input.Events())
	log.Info().Msg("shutting down")
}
