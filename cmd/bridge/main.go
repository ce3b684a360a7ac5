package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/streamkoshin/external/audio"
	configloader "github.com/foxseedlab/streamkoshin/external/config"
	"github.com/foxseedlab/streamkoshin/external/discord"
	"github.com/foxseedlab/streamkoshin/external/httpapi"
	repositoryimpl "github.com/foxseedlab/streamkoshin/external/repository"
	transcriberimpl "github.com/foxseedlab/streamkoshin/external/transcriber"
	webhookimpl "github.com/foxseedlab/streamkoshin/external/webhook"
	"github.com/foxseedlab/streamkoshin/internal/config"
	discordpkg "github.com/foxseedlab/streamkoshin/internal/discord"
	"github.com/foxseedlab/streamkoshin/internal/observe"
	"github.com/foxseedlab/streamkoshin/internal/repository"
	"github.com/foxseedlab/streamkoshin/internal/session"
	"github.com/foxseedlab/streamkoshin/internal/transcript"
	"github.com/foxseedlab/streamkoshin/internal/voice"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const (
	discordConnectTimeout = 20 * time.Second
	shutdownTimeout       = 30 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	_, shutdownMetrics, err := observe.InitProvider()
	if err != nil {
		slog.Error("failed to initialise metrics provider", "error", err)
		os.Exit(1)
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "error", err)
		os.Exit(1)
	}

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg, metrics)

	code := 0
	if err := run(cfg, injector); err != nil {
		slog.Error("bridge stopped with error", "error", err)
		code = 1
	}
	closeRepository(cfg, injector)
	if err := shutdownMetrics(context.Background()); err != nil {
		slog.Warn("failed to shut down metrics provider", "error", err)
	}
	os.Exit(code)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config, metrics *observe.Metrics) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, metrics)
	do.ProvideValue[session.Metrics](injector, metrics)

	if cfg.PersistenceEnabled() {
		repositoryimpl.RegisterDI(injector)
	}
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	transcript.RegisterDI(injector)
	if cfg.PersistenceEnabled() || cfg.TranscriptWebhookURL != "" {
		do.Provide(injector, func(i do.Injector) ([]session.Sink, error) {
			rec, err := do.Invoke[*transcript.Recorder](i)
			if err != nil {
				return nil, err
			}
			return []session.Sink{rec}, nil
		})
	}
	session.RegisterDI(injector)
	httpapi.RegisterDI(injector)

	if cfg.DiscordEnabled() {
		audioimpl.RegisterDI(injector)
		discord.RegisterDI(injector)
		voice.RegisterDI(injector)
	}
	return injector
}

func run(cfg *config.Config, injector do.Injector) error {
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		return err
	}
	api, err := do.Invoke[*httpapi.Server](injector)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		dc    discordpkg.Client
		relay *voice.Relay
	)
	if cfg.DiscordEnabled() {
		dc, relay, err = startDiscord(injector)
		if err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.HTTPListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if relay != nil {
			if err := relay.Shutdown(shutdownCtx); err != nil {
				slog.Warn("discord relay shutdown incomplete", "error", err)
			}
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			slog.Warn("session shutdown incomplete", "error", err)
		}
		closeTranscriber(injector)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown failed", "error", err)
		}
		if dc != nil {
			if err := dc.Close(); err != nil {
				slog.Error("discord close failed", "error", err)
			}
		}
		return nil
	})
	return g.Wait()
}

func startDiscord(injector do.Injector) (discordpkg.Client, *voice.Relay, error) {
	dc, err := do.Invoke[discordpkg.Client](injector)
	if err != nil {
		return nil, nil, err
	}
	relay, err := do.Invoke[*voice.Relay](injector)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()
	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(ctx); err != nil {
		return nil, nil, err
	}
	if err := relay.Register(); err != nil {
		_ = dc.Close()
		return nil, nil, err
	}
	slog.Info("startup: discord connected")
	return dc, relay, nil
}

// closeTranscriber releases the speech client once no session can open a stream.
func closeTranscriber(injector do.Injector) {
	transport, err := do.Invoke[*transcriberimpl.CloudSpeechTransport](injector)
	if err != nil {
		return
	}
	if err := transport.Close(); err != nil {
		slog.Warn("speech client close failed", "error", err)
	}
}

func closeRepository(cfg *config.Config, injector do.Injector) {
	if !cfg.PersistenceEnabled() {
		return
	}
	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		return
	}
	if s, ok := repo.(interface{ Shutdown() }); ok {
		s.Shutdown()
	}
}
