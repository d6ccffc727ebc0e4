package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Environment holds configuration sourced from environment variables.
// Secrets never live in the YAML file.
type Environment struct {
	ConfigPath    string
	EncryptionKey string
}

// LoadEnv loads the environment variables
func LoadEnv() *Environment {
	return &Environment{
		ConfigPath:    getEnv("CONFIG_PATH", "config.yaml"),
		EncryptionKey: strings.TrimSpace(os.Getenv("BRIDGE_ENCRYPTION_KEY")),
	}
}

// DecodeEncryptionKey validates and decodes the bridge encryption key.
// The key must be exactly 64 hex characters (32 bytes). A missing or
// malformed key is a startup failure; there is no fallback key.
func (e *Environment) DecodeEncryptionKey() ([]byte, error) {
	if len(e.EncryptionKey) != 64 {
		return nil, fmt.Errorf("BRIDGE_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), generate with: openssl rand -hex 32")
	}

	key, err := hex.DecodeString(e.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("BRIDGE_ENCRYPTION_KEY is not valid hex: %w", err)
	}

	return key, nil
}

// getEnv gets the environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}
