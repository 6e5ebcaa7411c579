package apns

import (
	"fmt"
	"os"
)

// EnvConfig is the environment-sourced APNs configuration.
type EnvConfig struct {
	KeyFile string // path to the .p8 provider key
	KeyID   string
	TeamID  string
	Sandbox bool
}

// ConfigFromEnv reads APNs settings from the environment. KeyFile empty means
// push dispatch is not configured.
func ConfigFromEnv() EnvConfig {
	return EnvConfig{
		KeyFile: os.Getenv("APNS_KEY_FILE"),
		KeyID:   os.Getenv("APNS_KEY_ID"),
		TeamID:  os.Getenv("APNS_TEAM_ID"),
		Sandbox: os.Getenv("APNS_SANDBOX") == "true",
	}
}

// NewClientFromEnv builds a client from environment configuration.
func NewClientFromEnv(cfg EnvConfig) (*Client, error) {
	keyPEM, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read APNs key file: %w", err)
	}

	token, err := NewProviderToken(keyPEM, cfg.KeyID, cfg.TeamID)
	if err != nil {
		return nil, err
	}

	host := HostProduction
	if cfg.Sandbox {
		host = HostDevelopment
	}

	return NewClient(Config{Host: host, Token: token}), nil
}
