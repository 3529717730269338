package vault

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds the tunables of the vault client. Values come from the
// defaults below overlaid with VAULT_* environment variables.
type Config struct {
	BaseURL             string            `koanf:"base_url" validate:"required,url"`
	OAuth2              OAuth2Config      `koanf:"oauth2"`
	DataDir             string            `koanf:"data_dir" validate:"required"`
	Eventstream         EventstreamConfig `koanf:"eventstream"`
	Transfers           TransfersConfig   `koanf:"transfers"`
	RepoAutoLockDefault time.Duration     `koanf:"repo_auto_lock_default"`
	UserAgent           string            `koanf:"user_agent"`
}

// OAuth2Config holds the oauth2 endpoints and client identity.
type OAuth2Config struct {
	AuthBaseURL  string `koanf:"auth_base_url"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURI  string `koanf:"redirect_uri"`
}

// EventstreamConfig holds the event stream timing knobs.
type EventstreamConfig struct {
	PingInterval   time.Duration `koanf:"ping_interval" validate:"required,gt=0"`
	ReconnectDelay time.Duration `koanf:"reconnect_delay" validate:"required,gt=0"`
}

// TransfersConfig bounds the transfer engine.
type TransfersConfig struct {
	UploadConcurrency   int           `koanf:"upload_concurrency" validate:"required,gt=0"`
	DownloadConcurrency int           `koanf:"download_concurrency" validate:"required,gt=0"`
	ProgressThrottle    time.Duration `koanf:"progress_throttle" validate:"required,gt=0"`
	RetryInitialDelay   time.Duration `koanf:"retry_initial_delay" validate:"required,gt=0"`
	RetryMaxDelay       time.Duration `koanf:"retry_max_delay" validate:"required,gt=0"`
	RetryMaxAttempts    int           `koanf:"retry_max_attempts" validate:"required,gt=0"`
}

// DefaultConfig provides the default client configuration values.
var DefaultConfig = Config{
	BaseURL: "https://app.koofr.net",
	OAuth2: OAuth2Config{
		AuthBaseURL: "https://app.koofr.net",
		RedirectURI: "http://127.0.0.1:5173/oauth2callback",
	},
	DataDir: ".",
	Eventstream: EventstreamConfig{
		PingInterval:   30 * time.Second,
		ReconnectDelay: 3 * time.Second,
	},
	Transfers: TransfersConfig{
		UploadConcurrency:   4,
		DownloadConcurrency: 4,
		ProgressThrottle:    100 * time.Millisecond,
		RetryInitialDelay:   time.Second,
		RetryMaxDelay:       60 * time.Second,
		RetryMaxAttempts:    5,
	},
	RepoAutoLockDefault: time.Hour,
	UserAgent:           "vault-client/" + Version,
}

const envPrefix = "VAULT_"

// LoadConfig builds a Config from the defaults overlaid with VAULT_*
// environment variables (VAULT_TRANSFERS__UPLOAD_CONCURRENCY etc, "__"
// separating nested keys).
func LoadConfig() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}
	err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			key = strings.ReplaceAll(key, "__", ".")
			return key, value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	cfg := new(Config)
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for impossible values.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
