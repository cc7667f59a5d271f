package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/user/go-pubsync/internal/app"
	"github.com/user/go-pubsync/internal/config"
	"github.com/user/go-pubsync/internal/logging"
)

// EnvConfigPath names the config file when -config is not given.
const EnvConfigPath = "PUBSYNC_CONFIG"

func main() {
	configPath := flag.String("config", os.Getenv(EnvConfigPath), "path to the TOML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("pubsync", cfg.Logging)
	logger.Info().Str("config", *configPath).Msg("starting pubsync")

	a, err := app.NewApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	if err := a.Run(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("application exited with error")
	}
}
