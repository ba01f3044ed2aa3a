package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds everything the phone daemon, the web service and the prompt
// generator read from the environment.
type Config struct {
	// External services
	OpenAIKey       string
	OpenAIModel     string
	GeminiKey       string
	GeminiModel     string
	GoogleCredsFile string

	STTProvider  string
	LLMProvider  string
	TTSProvider  string
	LanguageCode string
	TTSVoice     string

	// Files
	AudioDir        string
	DBPath          string
	WelcomeAudio    string
	TransitionAudio string
	FirstTimeAudio  string
	RecordingFile   string

	// Handset
	HandsetPin  int
	HandsetChip string
	Debounce    time.Duration

	// Mixer level keeper; a target of 0 disables it.
	VolumeTarget   int
	VolumeInterval time.Duration

	PlayResult  bool
	HTTPAddress string
}

// Load reads .env (if present) and the environment, filling in defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := Config{
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o"),
		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GoogleCredsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),

		STTProvider:  strings.ToLower(getEnv("STT_PROVIDER", "whisper")),
		LLMProvider:  strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		TTSProvider:  strings.ToLower(getEnv("TTS_PROVIDER", "google")),
		LanguageCode: getEnv("LANGUAGE_CODE", "nl-NL"),
		TTSVoice:     os.Getenv("TTS_VOICE"),

		AudioDir:        getEnv("AUDIO_DIR", "audio"),
		DBPath:          getEnv("DB_PATH", "gossip.db"),
		WelcomeAudio:    getEnv("WELCOME_AUDIO", "welcome.mp3"),
		TransitionAudio: getEnv("TRANSITION_AUDIO", "transition.mp3"),
		FirstTimeAudio:  getEnv("FIRST_TIME_AUDIO", "first_time.mp3"),
		RecordingFile:   getEnv("RECORDING_FILE", "phone_recording.wav"),

		HandsetPin:  getEnvInt("HANDSET_PIN", 4),
		HandsetChip: getEnv("HANDSET_CHIP", "gpiochip0"),
		Debounce:    time.Duration(getEnvInt("DEBOUNCE_MS", 100)) * time.Millisecond,

		VolumeTarget:   getEnvInt("VOLUME_TARGET", 85),
		VolumeInterval: time.Duration(getEnvInt("VOLUME_INTERVAL_S", 30)) * time.Second,

		PlayResult:  getEnvBool("PLAY_RESULT", true),
		HTTPAddress: httpAddress(),
	}

	if cfg.Debounce < 100*time.Millisecond {
		log.Warn().Dur("debounce", cfg.Debounce).Msg("DEBOUNCE_MS below 100ms, using 100ms")
		cfg.Debounce = 100 * time.Millisecond
	}

	if cfg.VolumeTarget < 0 || cfg.VolumeTarget > 100 {
		log.Warn().Int("target", cfg.VolumeTarget).Msg("VOLUME_TARGET outside 0-100, using 85")
		cfg.VolumeTarget = 85
	}
	if cfg.VolumeInterval < time.Second {
		cfg.VolumeInterval = 30 * time.Second
	}

	if cfg.OpenAIKey == "" && (cfg.STTProvider == "whisper" || cfg.LLMProvider == "openai" || cfg.TTSProvider == "openai") {
		log.Warn().Msg("OPENAI_API_KEY not set - openai backed stages will fail")
	}
	if cfg.GoogleCredsFile == "" && (cfg.STTProvider == "google" || cfg.TTSProvider == "google") {
		log.Warn().Msg("GOOGLE_APPLICATION_CREDENTIALS not set - falling back to application default credentials")
	}
	if cfg.GeminiKey == "" && cfg.LLMProvider == "gemini" {
		log.Warn().Msg("GEMINI_API_KEY not set - anonymization will fail")
	}

	return cfg
}

// httpAddress honours HTTP_ADDRESS first and PORT second.
func httpAddress() string {
	if addr := os.Getenv("HTTP_ADDRESS"); addr != "" {
		return addr
	}
	return ":" + getEnv("PORT", "5000")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("not an integer, using default")
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("not a boolean, using default")
		return defaultValue
	}
	return b
}
