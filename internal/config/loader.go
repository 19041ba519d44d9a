package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"stt":       {"deepgram", "whisper"},
	"tts":       {"elevenlabs", "coqui"},
	"telephony": {"telnyx"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("telephony", cfg.Providers.Telephony.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; agents will not be able to generate responses")
	}
	if cfg.Providers.Telephony.Name == "" {
		errs = append(errs, errors.New("providers.telephony.name is required"))
	}

	// Document store
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; agent, api_key, and knowledge_base records will not be persisted")
	}

	// Cross-worker store
	if cfg.Store.RedisURL == "" {
		slog.Warn("store.redis_url is empty; falling back to single-worker in-process session storage")
	}

	// Vault
	if cfg.Vault.MasterKeyEnv == "" {
		errs = append(errs, errors.New("vault.master_key_env is required"))
	}

	// Knowledge base
	if cfg.Knowledge.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("knowledge.embedding_dimensions %d must not be negative", cfg.Knowledge.EmbeddingDimensions))
	}
	if cfg.Knowledge.TopK < 0 {
		errs = append(errs, fmt.Errorf("knowledge.top_k %d must not be negative", cfg.Knowledge.TopK))
	}

	// Dead-air defaults
	if cfg.DeadAir.SilenceTimeoutNormalSec < 0 {
		errs = append(errs, fmt.Errorf("dead_air.silence_timeout_normal_sec %d must not be negative", cfg.DeadAir.SilenceTimeoutNormalSec))
	}
	if cfg.DeadAir.SilenceTimeoutHoldOnSec < 0 {
		errs = append(errs, fmt.Errorf("dead_air.silence_timeout_hold_on_sec %d must not be negative", cfg.DeadAir.SilenceTimeoutHoldOnSec))
	}
	if cfg.DeadAir.MaxCheckinsBeforeDisconnect < 0 {
		errs = append(errs, fmt.Errorf("dead_air.max_checkins_before_disconnect %d must not be negative", cfg.DeadAir.MaxCheckinsBeforeDisconnect))
	}
	if cfg.DeadAir.MaxCallDurationSec < 0 {
		errs = append(errs, fmt.Errorf("dead_air.max_call_duration_sec %d must not be negative", cfg.DeadAir.MaxCallDurationSec))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
