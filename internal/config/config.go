package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "FIELDHAND"
	defaultAPIBaseURL          = "http://localhost:5000/api"
	defaultAPITimeout          = 15 * time.Second
	defaultCredentialsPath     = "fieldhand.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultFeedPageSize        = 20
	defaultPollInterval        = 30 * time.Second
	defaultMockAPIAddress      = "127.0.0.1:5000"
	defaultMockAPISigningKey   = "fieldhand-mockapi-development-secret"
	defaultRequestsPerSecond   = 0
	defaultRequestsBurstAmount = 1
)

// AppConfig captures runtime configuration for the fieldhand client.
type AppConfig struct {
	APIBaseURL        string
	APITimeout        time.Duration
	RequestsPerSecond float64
	Burst             int
	CredentialsPath   string
	LogLevel          string
	LogFormat         string
	FeedPageSize      int
	PollInterval      time.Duration
	MockAPIAddress    string
	MockAPISigningKey string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
	configViper.SetDefault("api.timeout", defaultAPITimeout)
	configViper.SetDefault("api.requests_per_second", defaultRequestsPerSecond)
	configViper.SetDefault("api.burst", defaultRequestsBurstAmount)
	configViper.SetDefault("credentials.path", defaultCredentialsPath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("feed.page_size", defaultFeedPageSize)
	configViper.SetDefault("messages.poll_interval", defaultPollInterval)
	configViper.SetDefault("mockapi.address", defaultMockAPIAddress)
	configViper.SetDefault("mockapi.signing_secret", defaultMockAPISigningKey)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		APIBaseURL:        strings.TrimSpace(configViper.GetString("api.base_url")),
		APITimeout:        configViper.GetDuration("api.timeout"),
		RequestsPerSecond: configViper.GetFloat64("api.requests_per_second"),
		Burst:             configViper.GetInt("api.burst"),
		CredentialsPath:   configViper.GetString("credentials.path"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		FeedPageSize:      configViper.GetInt("feed.page_size"),
		PollInterval:      configViper.GetDuration("messages.poll_interval"),
		MockAPIAddress:    configViper.GetString("mockapi.address"),
		MockAPISigningKey: configViper.GetString("mockapi.signing_secret"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", c.APIBaseURL)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second must not be negative")
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		return fmt.Errorf("api.burst must be at least 1 when throttling")
	}
	if strings.TrimSpace(c.CredentialsPath) == "" {
		return fmt.Errorf("credentials.path is required")
	}
	if c.FeedPageSize < 1 || c.FeedPageSize > 100 {
		return fmt.Errorf("feed.page_size must be between 1 and 100")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("messages.poll_interval must be positive")
	}
	return nil
}
