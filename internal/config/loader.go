package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"apiprobe/pkg/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configFileName = "config.yaml"

// Load builds the effective settings: defaults, overlaid by config.yaml
// from configPath (missing file is fine), overlaid by environment
// variables. A .env file in the working directory is loaded first so
// credentials can be kept out of the config file.
func Load(configPath string) (Settings, error) {
	settings := Defaults()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Debug("Config", "No .env file loaded: %v", err)
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Settings{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
			}
			logging.Info("Config", "No config file at %s, using defaults", configPath)
		} else {
			if err := yaml.Unmarshal(data, &settings); err != nil {
				return Settings{}, fmt.Errorf("failed to parse config %s: %w", configPath, err)
			}
			logging.Info("Config", "Loaded configuration from %s", configPath)
		}
	}

	if err := applyEnvOverrides(&settings); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

// applyEnvOverrides overlays APIPROBE_* environment variables onto the
// settings. Environment wins over file values so CI can redirect a suite
// at a different deployment without editing config.
func applyEnvOverrides(s *Settings) error {
	if v := os.Getenv("APIPROBE_BASE_URL"); v != "" {
		s.BaseURL = v
	}
	if v := os.Getenv("APIPROBE_API_KEY"); v != "" {
		s.Credentials.APIKey = v
	}
	if v := os.Getenv("APIPROBE_TOKEN_ENDPOINT"); v != "" {
		s.Credentials.TokenEndpoint = v
	}
	if v := os.Getenv("APIPROBE_USERNAME"); v != "" {
		s.Credentials.Username = v
	}
	if v := os.Getenv("APIPROBE_OAUTH_TOKEN_URL"); v != "" {
		s.Credentials.OAuth.TokenURL = v
	}
	if v := os.Getenv("APIPROBE_OAUTH_CLIENT_ID"); v != "" {
		s.Credentials.OAuth.ClientID = v
	}
	if v := os.Getenv("APIPROBE_OAUTH_CLIENT_SECRET"); v != "" {
		s.Credentials.OAuth.ClientSecret = v
	}
	if v := os.Getenv("APIPROBE_CACHE_DIR"); v != "" {
		s.CacheDir = v
	}
	if v := os.Getenv("APIPROBE_STORE_URL"); v != "" {
		s.StoreURL = v
	}

	var err error
	if s.RetryBudget, err = envInt("APIPROBE_RETRY_BUDGET", s.RetryBudget); err != nil {
		return err
	}
	if s.RateLimitCap, err = envInt("APIPROBE_RATE_LIMIT_CAP", s.RateLimitCap); err != nil {
		return err
	}
	if s.Parallel, err = envInt("APIPROBE_PARALLEL", s.Parallel); err != nil {
		return err
	}
	if s.Timeout, err = envDuration("APIPROBE_TIMEOUT", s.Timeout); err != nil {
		return err
	}
	if s.TokenMargin, err = envDuration("APIPROBE_TOKEN_MARGIN", s.TokenMargin); err != nil {
		return err
	}

	return nil
}

func envInt(key string, current int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return current, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return parsed, nil
}

func envDuration(key string, current time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return current, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return parsed, nil
}

// Validate checks settings for values that would make a run nonsensical.
// Called before any request is issued so bad configuration fails fast.
func (s Settings) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if s.RetryBudget < 1 {
		return fmt.Errorf("retry_budget must be at least 1, got %d", s.RetryBudget)
	}
	if s.RateLimitCap < 1 {
		return fmt.Errorf("rate_limit_cap must be at least 1, got %d", s.RateLimitCap)
	}
	if s.BackoffBase <= 0 {
		return fmt.Errorf("backoff_base must be positive, got %v", s.BackoffBase)
	}
	if s.BackoffMax < s.BackoffBase {
		return fmt.Errorf("backoff_max %v is below backoff_base %v", s.BackoffMax, s.BackoffBase)
	}
	if s.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", s.Parallel)
	}
	if s.Credentials.TokenEndpoint != "" && s.Credentials.OAuth.Enabled() {
		return fmt.Errorf("token_endpoint and oauth credentials are mutually exclusive")
	}
	return nil
}
