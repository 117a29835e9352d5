// scanmgrd boots the manager's persistence core: configuration, logging,
// tracing, and the scan database with its in-engine helper functions. The
// OMP/OTP protocol daemons attach to the same database from their own
// processes; this binary owns migrations and keeps the store healthy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/vulnwatch/scanmgr/internal/config"
	otelPkg "github.com/vulnwatch/scanmgr/internal/otel"
	"github.com/vulnwatch/scanmgr/internal/store"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config.yaml")
	dbPath := flag.String("db", "", "database path (overrides config)")
	checkOnly := flag.Bool("check", false, "open the store, run migrations, and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("scanmgrd", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		log.Error("otel init failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	st, err := store.Open(cfg.DBPath, store.Options{
		BusyTimeoutMS:  cfg.BusyTimeoutMS,
		GiveUpAttempts: cfg.GiveUpAttempts,
		Logger:         log,
	})
	if err != nil {
		log.Error("open store failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	if *checkOnly {
		log.Info("store check passed", "db", cfg.DBPath)
		return
	}

	log.Info("scanmgrd ready", "version", Version, "db", cfg.DBPath)
	<-ctx.Done()
	log.Info("shutting down")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "config.yaml"
	}
	return home + "/.scanmgr/config.yaml"
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
