// Command loqui runs the Loqui voice gateway: a WebSocket front that bridges
// browser microphone audio to a duplex speech model and streams synthesised
// replies and live transcripts back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/loqui-ai/loqui/internal/config"
	"github.com/loqui-ai/loqui/internal/gateway"
	"github.com/loqui-ai/loqui/internal/health"
	"github.com/loqui-ai/loqui/internal/observe"
	"github.com/loqui-ai/loqui/internal/quota"
	"github.com/loqui-ai/loqui/pkg/capture"
	"github.com/loqui-ai/loqui/pkg/live"
	geminilive "github.com/loqui-ai/loqui/pkg/live/gemini"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// A .env file is optional; environment variables already set win.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "loqui: config file %q not found — copy config.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "loqui: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.SlogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("loqui starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"provider", cfg.Provider.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "loqui",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Live-session provider ─────────────────────────────────────────────────
	apiKey := providerAPIKey(cfg)
	provider, err := buildProvider(cfg, apiKey)
	if err != nil {
		slog.Error("failed to build provider", "err", err)
		return 1
	}

	// ── Quota backend ─────────────────────────────────────────────────────────
	var (
		quotaStore  func(subject string) quota.Store
		probeStore  quota.Store
		quotaClose  func()
		quotaTarget = "disabled"
	)
	if cfg.Quota.Enabled {
		quotaStore, probeStore, quotaClose, err = buildQuotaStores(ctx, cfg)
		if err != nil {
			slog.Error("failed to set up quota store", "err", err)
			return 1
		}
		defer quotaClose()
		quotaTarget = "memory"
		if cfg.Quota.PostgresDSN != "" {
			quotaTarget = "postgres"
		}
		slog.Info("demo quota enabled",
			"backend", quotaTarget,
			"limit", cfg.Quota.Limit,
			"lock_window", cfg.Quota.LockWindow,
		)
	}

	// ── Readiness checks ──────────────────────────────────────────────────────
	checkers := []health.Checker{
		health.ProviderConfigured(func() string { return apiKey }),
	}
	if probeStore != nil {
		checkers = append(checkers, health.QuotaStore(probeStore))
	}

	// ── Gateway ───────────────────────────────────────────────────────────────
	gwCfg := gateway.Config{
		ListenAddr: cfg.Server.ListenAddr,
		Provider:   provider,
		Session: live.SessionConfig{
			Voice:                      cfg.Provider.Voice,
			Instructions:               cfg.Provider.Instructions,
			DisableInputTranscription:  cfg.Provider.DisableInputTranscription,
			DisableOutputTranscription: cfg.Provider.DisableOutputTranscription,
		},
		InputRate:      cfg.Audio.InputRate,
		OutputRate:     cfg.Audio.OutputRate,
		MergeWindow:    cfg.Transcript.UserMergeWindow,
		Delimiter:      cfg.Transcript.ThoughtDelimiter,
		DisableFencing: cfg.Transcript.DisableFencing,
		QuotaStore:     quotaStore,
		QuotaGrace:     cfg.Quota.GraceDelay,
		VideoOptions: []capture.VideoOption{
			capture.WithFrameInterval(cfg.Video.FrameInterval),
			capture.WithJPEGQuality(cfg.Video.JPEGQuality),
		},
		Logger:   logger,
		Checkers: checkers,
	}
	if cfg.Server.TLS != nil {
		gwCfg.TLSCertFile = cfg.Server.TLS.CertFile
		gwCfg.TLSKeyFile = cfg.Server.TLS.KeyFile
	}

	srv := gateway.New(gwCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// providerAPIKey resolves the provider credential. The environment variable
// takes precedence over the config file so keys stay out of YAML.
func providerAPIKey(cfg *config.Config) string {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	return cfg.Provider.APIKey
}

// buildProvider instantiates the configured live-session backend.
func buildProvider(cfg *config.Config, apiKey string) (live.Provider, error) {
	switch cfg.Provider.Name {
	case "gemini-live", "":
		var opts []geminilive.Option
		if cfg.Provider.Model != "" {
			opts = append(opts, geminilive.WithModel(cfg.Provider.Model))
		}
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(cfg.Provider.BaseURL))
		}
		return geminilive.New(apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

// buildQuotaStores returns the per-subject quota store factory, a store used
// for readiness probes, and a close func for the backing pool.
//
// With a PostgreSQL DSN the allowance is shared across gateway instances and
// survives restarts; without one each subject gets an in-process counter.
func buildQuotaStores(ctx context.Context, cfg *config.Config) (func(subject string) quota.Store, quota.Store, func(), error) {
	if dsn := cfg.Quota.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect quota database: %w", err)
		}
		probe := quota.NewPostgresStore(pool, "_probe", cfg.Quota.Limit, cfg.Quota.LockWindow)
		if err := probe.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate quota schema: %w", err)
		}
		factory := func(subject string) quota.Store {
			return quota.NewPostgresStore(pool, subject, cfg.Quota.Limit, cfg.Quota.LockWindow)
		}
		return factory, probe, pool.Close, nil
	}

	var (
		mu     sync.Mutex
		stores = map[string]*quota.MemoryStore{}
	)
	factory := func(subject string) quota.Store {
		mu.Lock()
		defer mu.Unlock()
		s, ok := stores[subject]
		if !ok {
			s = quota.NewMemoryStore(cfg.Quota.Limit, cfg.Quota.LockWindow)
			stores[subject] = s
		}
		return s
	}
	return factory, factory("_probe"), func() {}, nil
}
