// Command teleconsult is the clinician-side agent for one teleconsultation
// call: it gates on the appointment window, joins the call, captures the
// transcript and flushes it to the portal when the call ends.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	audioimpl "github.com/foxseedlab/teleconsult/external/audio"
	backendimpl "github.com/foxseedlab/teleconsult/external/backend"
	configloader "github.com/foxseedlab/teleconsult/external/config"
	credentialsimpl "github.com/foxseedlab/teleconsult/external/credentials"
	"github.com/foxseedlab/teleconsult/external/device"
	"github.com/foxseedlab/teleconsult/external/discord"
	repositoryimpl "github.com/foxseedlab/teleconsult/external/repository"
	"github.com/foxseedlab/teleconsult/external/rtc"
	"github.com/foxseedlab/teleconsult/external/speech"
	transcriberimpl "github.com/foxseedlab/teleconsult/external/transcriber"
	webhookimpl "github.com/foxseedlab/teleconsult/external/webhook"
	"github.com/foxseedlab/teleconsult/internal/call"
	"github.com/foxseedlab/teleconsult/internal/config"
	"github.com/foxseedlab/teleconsult/internal/metrics"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var envFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "teleconsult",
		Short:         "Clinician-side teleconsultation call agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", envOrDefault("ENV_FILE", ".env"), "dotenv file to load before reading the environment")

	root.AddCommand(newCallCommand())
	root.AddCommand(newWindowCommand())
	root.AddCommand(newCredentialsCommand())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := configloader.Load(envFile)
	if err != nil {
		return nil, err
	}
	initLogger(cfg)
	slog.Debug("configuration loaded", "env", cfg.Env)
	return cfg, nil
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, metrics.New())
	credentialsimpl.RegisterDI(injector)
	backendimpl.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	device.RegisterDI(injector)
	rtc.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	speech.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	call.RegisterDI(injector)

	return injector
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
