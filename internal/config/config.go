package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig contains all runtime settings for the voice client binary.
type ClientConfig struct {
	ProxyBaseURL string
	Model        string
	Voice        string
	Language     string
	SystemPrompt string

	InputSampleRate  int
	OutputSampleRate int
	FrameSize        int
	Lookahead        time.Duration

	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration

	RecordPath string
}

// ProxyConfig contains all runtime settings for the proxy binary.
type ProxyConfig struct {
	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration
	AllowAnyOrigin   bool

	UpstreamURL    string
	UpstreamAPIKey string
	CredentialTTL  time.Duration

	DatabaseURL string
}

// LoadClient reads environment variables for the client and applies safe
// defaults.
func LoadClient() (ClientConfig, error) {
	cfg := ClientConfig{
		ProxyBaseURL:         envOrDefault("INTERVOX_PROXY_URL", "http://127.0.0.1:8080"),
		Model:                envOrDefault("INTERVOX_MODEL", "models/gemini-2.0-flash-live-001"),
		Voice:                envOrDefault("INTERVOX_VOICE", "Aoede"),
		Language:             envOrDefault("INTERVOX_LANGUAGE", "en-US"),
		SystemPrompt:         stringsTrimSpace("INTERVOX_SYSTEM_PROMPT"),
		RecordPath:           stringsTrimSpace("INTERVOX_RECORD_PATH"),
		InputSampleRate:      16000,
		OutputSampleRate:     24000,
		FrameSize:            320, // 20 ms at 16 kHz
		Lookahead:            100 * time.Millisecond,
		ReconnectMaxAttempts: 3,
		ReconnectBaseDelay:   time.Second,
	}
	var err error
	cfg.InputSampleRate, err = intFromEnv("INTERVOX_INPUT_SAMPLE_RATE", cfg.InputSampleRate)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.OutputSampleRate, err = intFromEnv("INTERVOX_OUTPUT_SAMPLE_RATE", cfg.OutputSampleRate)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.FrameSize, err = intFromEnv("INTERVOX_FRAME_SIZE", cfg.FrameSize)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.Lookahead, err = durationFromEnv("INTERVOX_LOOKAHEAD", cfg.Lookahead)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.ReconnectMaxAttempts, err = intFromEnv("INTERVOX_RECONNECT_MAX_ATTEMPTS", cfg.ReconnectMaxAttempts)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.ReconnectBaseDelay, err = durationFromEnv("INTERVOX_RECONNECT_BASE_DELAY", cfg.ReconnectBaseDelay)
	if err != nil {
		return ClientConfig{}, err
	}

	if cfg.InputSampleRate <= 0 || cfg.OutputSampleRate <= 0 {
		return ClientConfig{}, fmt.Errorf("sample rates must be positive")
	}
	if cfg.FrameSize <= 0 {
		return ClientConfig{}, fmt.Errorf("INTERVOX_FRAME_SIZE must be positive")
	}
	if cfg.Lookahead < 10*time.Millisecond {
		return ClientConfig{}, fmt.Errorf("INTERVOX_LOOKAHEAD must be at least 10ms")
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		return ClientConfig{}, fmt.Errorf("INTERVOX_RECONNECT_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

// LoadProxy reads environment variables for the proxy and applies safe
// defaults.
func LoadProxy() (ProxyConfig, error) {
	cfg := ProxyConfig{
		BindAddr:         envOrDefault("PROXY_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("PROXY_METRICS_NAMESPACE", "intervox"),
		UpstreamURL: envOrDefault("GEMINI_LIVE_URL",
			"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"),
		UpstreamAPIKey:  stringsTrimSpace("GEMINI_API_KEY"),
		DatabaseURL:     stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout: 15 * time.Second,
		CredentialTTL:   5 * time.Minute,
		AllowAnyOrigin:  false,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("PROXY_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return ProxyConfig{}, err
	}
	cfg.CredentialTTL, err = durationFromEnv("PROXY_CREDENTIAL_TTL", cfg.CredentialTTL)
	if err != nil {
		return ProxyConfig{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("PROXY_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return ProxyConfig{}, err
	}

	if cfg.UpstreamAPIKey == "" {
		return ProxyConfig{}, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.CredentialTTL < 30*time.Second {
		return ProxyConfig{}, fmt.Errorf("PROXY_CREDENTIAL_TTL must be at least 30s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
