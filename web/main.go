package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gossipline/config"
	"gossipline/gossip"
	"gossipline/pipeline"
	"gossipline/web/api"
)

func main() {
	addr := flag.String("addr", "", "listen address (overrides HTTP_ADDRESS and PORT)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	cfg := config.Load()
	if *addr != "" {
		cfg.HTTPAddress = *addr
	}

	services := pipeline.NewServices(cfg)
	defer services.Close()

	h := api.Handlers{AudioDir: cfg.AudioDir}
	var err error
	if h.Transcriber, err = services.Transcriber(); err != nil {
		log.Warn().Err(err).Msg("transcription disabled")
	}
	if h.Anonymizer, err = services.Anonymizer(); err != nil {
		log.Warn().Err(err).Msg("anonymization disabled")
	}
	if h.Synthesizer, err = services.Synthesizer(); err != nil {
		log.Warn().Err(err).Msg("speech synthesis disabled")
	}

	store, err := gossip.Open(cfg.DBPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.DBPath).Msg("gossip listing disabled")
	} else {
		defer store.Close()
		h.Gossip = store
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	h.Register(e)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		log.Info().Stringer("signal", sig).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
}
