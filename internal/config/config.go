// Package config loads runtime settings: built-in defaults, then an optional
// YAML file, then JIRALINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime settings for the jiralink API.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	DatabaseDSN string `yaml:"database_dsn"`
	RedisAddr   string `yaml:"redis_addr"`

	// AuthSecret verifies caller bearer tokens (HS256).
	AuthSecret string `yaml:"auth_secret"`
	// SealKey is a base64 32-byte key sealing client secrets and tokens at rest.
	SealKey string `yaml:"seal_key"`

	Jira Jira `yaml:"jira"`

	// CallbackRedirectURL is where browsers land after a successful code exchange.
	// Empty means the callback answers with JSON.
	CallbackRedirectURL string `yaml:"callback_redirect_url"`

	RateBurst  int `yaml:"rate_burst"`
	RatePerSec int `yaml:"rate_per_sec"`
}

// Jira configures the issue tracker endpoints and the application-level OAuth client.
type Jira struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RedirectURL  string        `yaml:"redirect_url"`
	AuthURL      string        `yaml:"auth_url"`
	TokenURL     string        `yaml:"token_url"`
	APIBaseURL   string        `yaml:"api_base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	// RequestsPerSecond caps outbound calls across all tenants.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Defaults returns development defaults.
func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Jira: Jira{
			AuthURL:           "https://auth.atlassian.com/authorize",
			TokenURL:          "https://auth.atlassian.com/oauth/token",
			APIBaseURL:        "https://api.atlassian.com",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 10,
		},
		RateBurst:  20,
		RatePerSec: 10,
	}
}

// Load builds a Config from defaults, the YAML file at path (if non-empty)
// and the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("JIRALINK_HTTP_ADDR", &cfg.HTTPAddr)
	str("JIRALINK_GRPC_ADDR", &cfg.GRPCAddr)
	str("JIRALINK_PG_DSN", &cfg.DatabaseDSN)
	str("JIRALINK_REDIS_ADDR", &cfg.RedisAddr)
	str("JIRALINK_AUTH_SECRET", &cfg.AuthSecret)
	str("JIRALINK_SEAL_KEY", &cfg.SealKey)
	str("JIRALINK_CALLBACK_REDIRECT_URL", &cfg.CallbackRedirectURL)
	str("JIRALINK_JIRA_CLIENT_ID", &cfg.Jira.ClientID)
	str("JIRALINK_JIRA_CLIENT_SECRET", &cfg.Jira.ClientSecret)
	str("JIRALINK_JIRA_REDIRECT_URL", &cfg.Jira.RedirectURL)
	str("JIRALINK_JIRA_AUTH_URL", &cfg.Jira.AuthURL)
	str("JIRALINK_JIRA_TOKEN_URL", &cfg.Jira.TokenURL)
	str("JIRALINK_JIRA_API_BASE_URL", &cfg.Jira.APIBaseURL)

	if v, ok := lookup("JIRALINK_UPSTREAM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: JIRALINK_UPSTREAM_TIMEOUT: %w", err)
		}
		cfg.Jira.Timeout = d
	}
	if v, ok := lookup("JIRALINK_UPSTREAM_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: JIRALINK_UPSTREAM_RPS: %w", err)
		}
		cfg.Jira.RequestsPerSecond = f
	}
	for key, dst := range map[string]*int{
		"JIRALINK_RATE_BURST":   &cfg.RateBurst,
		"JIRALINK_RATE_PER_SEC": &cfg.RatePerSec,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate reports settings the API cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AuthSecret) == "" {
		errs = append(errs, errors.New("auth_secret is required"))
	}
	if c.Jira.Timeout <= 0 {
		errs = append(errs, errors.New("jira.timeout must be positive"))
	}
	if c.Jira.RedirectURL == "" {
		errs = append(errs, errors.New("jira.redirect_url is required"))
	}
	return errors.Join(errs...)
}
