// Command virevo is the main entry point for the virevo voice-agent
// orchestration server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/Radicalscale/virevo/internal/app"
	"github.com/Radicalscale/virevo/internal/config"
	"github.com/Radicalscale/virevo/internal/resilience"
	"github.com/Radicalscale/virevo/pkg/provider/llm"
	"github.com/Radicalscale/virevo/pkg/provider/llm/anyllm"
	"github.com/Radicalscale/virevo/pkg/provider/llm/openai"
	"github.com/Radicalscale/virevo/pkg/provider/stt"
	"github.com/Radicalscale/virevo/pkg/provider/stt/deepgram"
	"github.com/Radicalscale/virevo/pkg/provider/stt/whisper"
	"github.com/Radicalscale/virevo/pkg/provider/telephony"
	"github.com/Radicalscale/virevo/pkg/provider/telephony/telnyx"
	"github.com/Radicalscale/virevo/pkg/provider/tts"
	"github.com/Radicalscale/virevo/pkg/provider/tts/coqui"
	"github.com/Radicalscale/virevo/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "virevo: config file %q not found — pass its path with -config\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "virevo: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("virevo starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with virevo. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":       {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
	"stt":       {"deepgram", "whisper"},
	"tts":       {"elevenlabs", "coqui"},
	"telephony": {"telnyx"},
}

// registerBuiltinProviders wires the real provider constructors into reg.
// Every llm/anyllm backend name shares a single factory since any-llm-go
// dispatches on providerName at construction time.
func registerBuiltinProviders(reg *config.Registry) {
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		return openai.New(e.APIKey, e.Model, openai.WithBaseURL(e.BaseURL))
	})
	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			opts := []anyllmlib.Option{}
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		return deepgram.New(e.APIKey)
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		return whisper.New(e.BaseURL)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		return elevenlabs.New(e.APIKey)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		return coqui.New(e.BaseURL)
	})

	reg.RegisterTelephony("telnyx", func(e config.ProviderEntry) (telephony.Provider, error) {
		connectionID, _ := e.Options["connection_id"].(string)
		opts := []telnyx.Option{}
		if pubKey, ok := e.Options["webhook_public_key"].(string); ok && pubKey != "" {
			opts = append(opts, telnyx.WithPublicKey(pubKey))
		}
		return telnyx.New(e.APIKey, connectionID, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Each of LLM/STT/TTS is wrapped in a [resilience] fallback chain (§7): if the
// provider entry lists Fallbacks, failures of the primary (or an open circuit
// breaker) fall through to the next configured backend in order.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Resilience.MaxFailures,
			ResetTimeout: time.Duration(cfg.Resilience.ResetTimeoutSec) * time.Second,
			HalfOpenMax:  cfg.Resilience.HalfOpenMax,
		},
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered — skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			slog.Info("provider created", "kind", "llm", "name", name)
			fb := resilience.NewLLMFallback(p, name, fbCfg)
			for _, entry := range cfg.Providers.LLM.Fallbacks {
				fp, err := reg.CreateLLM(entry)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback provider %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, fp)
				slog.Info("provider fallback registered", "kind", "llm", "name", entry.Name)
			}
			ps.LLM = fb
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered — skipping", "kind", "stt", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			slog.Info("provider created", "kind", "stt", "name", name)
			fb := resilience.NewSTTFallback(p, name, fbCfg)
			for _, entry := range cfg.Providers.STT.Fallbacks {
				fp, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback provider %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, fp)
				slog.Info("provider fallback registered", "kind", "stt", "name", entry.Name)
			}
			ps.STT = fb
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			slog.Info("provider created", "kind", "tts", "name", name)
			fb := resilience.NewTTSFallback(p, name, fbCfg)
			for _, entry := range cfg.Providers.TTS.Fallbacks {
				fp, err := reg.CreateTTS(entry)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback provider %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, fp)
				slog.Info("provider fallback registered", "kind", "tts", "name", entry.Name)
			}
			ps.TTS = fb
		}
	}

	if name := cfg.Providers.Telephony.Name; name != "" {
		p, err := reg.CreateTelephony(cfg.Providers.Telephony)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered — skipping", "kind", "telephony", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create telephony provider %q: %w", name, err)
		} else {
			ps.Telephony = p
			slog.Info("provider created", "kind", "telephony", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         virevo — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Telephony", cfg.Providers.Telephony.Name, "")
	if cfg.Database.PostgresDSN != "" {
		fmt.Println("║  Database        : postgres            ║")
	} else {
		fmt.Println("║  Database        : (not configured)    ║")
	}
	if cfg.Store.RedisURL != "" {
		fmt.Println("║  Store           : redis               ║")
	} else {
		fmt.Println("║  Store           : in-process           ║")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
