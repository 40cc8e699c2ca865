package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides for secrets.
const (
	EnvTelegramToken      = "STREAMWATCH_TELEGRAM_TOKEN"
	EnvTwitchClientID     = "STREAMWATCH_TWITCH_CLIENT_ID"
	EnvTwitchClientSecret = "STREAMWATCH_TWITCH_CLIENT_SECRET"
	EnvStorageDSN         = "STREAMWATCH_STORAGE_DSN"
)

// LoadDotEnv loads a .env file next to the config file, then one in the
// working directory. Variables already set in the environment win.
func LoadDotEnv(cfgPath string) error {
	candidates := []string{filepath.Join(filepath.Dir(cfgPath), ".env"), ".env"}
	seen := map[string]bool{}
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err == nil {
			if seen[abs] {
				continue
			}
			seen[abs] = true
		}
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// applyEnv fills secrets from the environment. Non-empty variables override the file.
func applyEnv(cfg *Config) {
	if v := env(EnvTelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := env(EnvTwitchClientID); v != "" {
		cfg.Twitch.ClientID = v
	}
	if v := env(EnvTwitchClientSecret); v != "" {
		cfg.Twitch.ClientSecret = v
	}
	if v := env(EnvStorageDSN); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		cfg.Storage.DSN = v
	}
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }
