package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/optimo/bridgebroker/internal/config"
	"github.com/optimo/bridgebroker/internal/secrets"
	"github.com/optimo/bridgebroker/internal/server"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	envConfig := config.LoadEnv()

	cfg, err := config.Load(envConfig.ConfigPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// The encryption key is validated before anything serves traffic;
	// there is no fallback key.
	key, err := envConfig.DecodeEncryptionKey()
	if err != nil {
		slog.Error("Invalid bridge encryption key", "error", err)
		os.Exit(1)
	}

	codec, err := secrets.NewCodec(key)
	if err != nil {
		slog.Error("Failed to initialize secret codec", "error", err)
		os.Exit(1)
	}

	if err := server.Start(cfg, codec); err != nil {
		os.Exit(1)
	}
}
