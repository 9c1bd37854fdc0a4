package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvPrivateKey  = "ARB_PRIVATE_KEY"
	EnvRPCEndpoint = "ARB_RPC_ENDPOINT"
	EnvNetwork     = "NETWORK"
)

// SecureConfig holds secrets that never touch the config file.
type SecureConfig struct {
	PrivateKey string
}

// LoadEnv loads environment variables from a .env file if present.
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value.
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetRequiredEnv gets an environment variable or errors if unset.
func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}

// LoadSecureConfig pulls signing material from the environment.
func LoadSecureConfig() (*SecureConfig, error) {
	privateKey, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}
	return &SecureConfig{PrivateKey: privateKey}, nil
}
