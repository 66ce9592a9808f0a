// Package main is the entry point for the turn gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/compresr/turn-gateway/internal/config"
	"github.com/compresr/turn-gateway/internal/gateway"
	"github.com/compresr/turn-gateway/internal/monitoring"
	"github.com/compresr/turn-gateway/internal/persist"
	"github.com/compresr/turn-gateway/internal/session"
	"github.com/compresr/turn-gateway/internal/upstream"
)

var version = "dev"

// loadEnvFiles loads .env from the user config dir and the working directory.
func loadEnvFiles() {
	if homeDir, err := os.UserHomeDir(); err == nil {
		configEnv := filepath.Join(homeDir, ".config", "turn-gateway", ".env")
		if _, err := os.Stat(configEnv); err == nil {
			_ = godotenv.Load(configEnv)
		}
	}
	_ = godotenv.Load()
}

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	candidates := []string{"configs/config.yaml", "config.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append([]string{
			filepath.Join(homeDir, ".config", "turn-gateway", "config.yaml"),
		}, candidates...)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file found; specify --config")
}

func main() {
	loadEnvFiles()

	configPath := flag.String("config", "", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("turn-gateway", version)
		return
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	monitoring.Global(cfg.Logging)
	log.Info().Str("config", path).Str("version", version).Msg("starting turn gateway")

	store := session.NewMemoryStore(cfg.Sessions.TTL, cfg.Sessions.SweepInterval)
	defer store.Close()

	var audit *persist.Audit
	if cfg.Audit.Enabled {
		audit, err = persist.Open(cfg.Audit.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("opening audit trail")
		}
		defer audit.Close()
	}

	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.Timeout, nil)

	srv := gateway.New(cfg, store, client, audit)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}
}
