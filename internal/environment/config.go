// Package environment assembles runtime configuration: connection endpoints
// from the process environment, tunables and the problem catalog seed from a
// TOML file.
package environment

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/normal-oj/submissions/internal/subm"
)

type EnvConfig struct {
	ListenAddr string

	S3Bucket string
	S3Region string

	ResultQueueURL string
	NatsURL        string

	// SettingsPath points at the TOML tunables file. Empty means defaults.
	SettingsPath string
}

// ReadEnvConfig loads .env if present and reads the process environment.
// Missing optional values fall back to development defaults.
func ReadEnvConfig() *EnvConfig {
	// a missing .env file is fine outside development
	_ = godotenv.Load()

	return &EnvConfig{
		ListenAddr:     getenv("LISTEN_ADDR", ":8080"),
		S3Bucket:       getenv("S3_BUCKET", "noj-submissions"),
		S3Region:       getenv("S3_REGION", "eu-central-1"),
		ResultQueueURL: os.Getenv("RESULT_QUEUE_URL"),
		NatsURL:        os.Getenv("NATS_URL"),
		SettingsPath:   os.Getenv("SETTINGS_PATH"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Settings are the operational tunables, loaded from TOML.
type Settings struct {
	// PartURLTTLSeconds bounds how long a presigned part upload URL stays
	// valid.
	PartURLTTLSeconds int `toml:"part_url_ttl_seconds"`

	// SessionRetentionSeconds is how long an untouched upload session may
	// linger before the reaper aborts it.
	SessionRetentionSeconds int `toml:"session_retention_seconds"`

	// CodeURLTTLSeconds bounds presigned archive download URLs.
	CodeURLTTLSeconds int `toml:"code_url_ttl_seconds"`

	Problems []subm.ProblemConfig `toml:"problems"`
}

func DefaultSettings() Settings {
	return Settings{
		PartURLTTLSeconds:       15 * 60,
		SessionRetentionSeconds: 24 * 60 * 60,
		CodeURLTTLSeconds:       15 * 60,
	}
}

// LoadSettings reads the TOML file at path, overlaying defaults. An empty
// path returns the defaults untouched.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := toml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if settings.PartURLTTLSeconds <= 0 {
		return Settings{}, fmt.Errorf("part_url_ttl_seconds must be positive, got %d", settings.PartURLTTLSeconds)
	}
	if settings.SessionRetentionSeconds <= 0 {
		return Settings{}, fmt.Errorf("session_retention_seconds must be positive, got %d", settings.SessionRetentionSeconds)
	}
	return settings, nil
}

func (s Settings) PartURLTTL() time.Duration {
	return time.Duration(s.PartURLTTLSeconds) * time.Second
}

func (s Settings) SessionRetention() time.Duration {
	return time.Duration(s.SessionRetentionSeconds) * time.Second
}

func (s Settings) CodeURLTTL() time.Duration {
	return time.Duration(s.CodeURLTTLSeconds) * time.Second
}

// SeedCatalog registers every problem from the settings file.
func (s Settings) SeedCatalog(catalog *subm.Catalog) error {
	for i, cfg := range s.Problems {
		if cfg.ProblemID <= 0 {
			return fmt.Errorf("problems[%d]: problem_id must be positive, got %d", i, cfg.ProblemID)
		}
		catalog.Put(cfg)
	}
	return nil
}
