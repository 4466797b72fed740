package config

import "time"

// Settings is the top-level configuration for an apiprobe run.
// Values come from defaults, overlaid by config.yaml, overlaid by
// APIPROBE_* environment variables.
type Settings struct {
	// BaseURL is the root URL of the API under test.
	BaseURL string `yaml:"base_url"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `yaml:"timeout"`
	// RetryBudget is the total number of attempts for transient failures.
	RetryBudget int `yaml:"retry_budget"`
	// RateLimitCap is the separate, larger attempt cap for 429 responses.
	// Rate limiting is expected during test runs, not exceptional, so it
	// does not consume the transient retry budget.
	RateLimitCap int `yaml:"rate_limit_cap"`
	// BackoffBase is the base wait for exponential backoff.
	BackoffBase time.Duration `yaml:"backoff_base"`
	// BackoffMax caps the per-attempt backoff wait.
	BackoffMax time.Duration `yaml:"backoff_max"`
	// TokenMargin is the safety margin before token expiry at which a
	// refresh is triggered.
	TokenMargin time.Duration `yaml:"token_margin"`
	// Parallel is the number of concurrent test workers.
	Parallel int `yaml:"parallel"`
	// CacheDir holds the cross-process token cache and lock file.
	CacheDir string `yaml:"cache_dir"`
	// StoreURL is the record lookup endpoint backing db assertions.
	// Empty disables store-backed assertions.
	StoreURL string `yaml:"store_url"`
	// Credentials configures how authentication tokens are obtained.
	Credentials Credentials `yaml:"credentials"`
}

// Credentials configures the token source for authenticated requests.
// Exactly one of TokenEndpoint or OAuth should be set; APIKey may
// accompany either.
type Credentials struct {
	// APIKey is sent as the x-api-key header when present.
	APIKey string `yaml:"api_key"`
	// TokenEndpoint is the application token endpoint, relative to
	// BaseURL or absolute. It returns JSON {token, user, ttl}.
	TokenEndpoint string `yaml:"token_endpoint"`
	// Username identifies the test principal at the token endpoint.
	Username string `yaml:"username"`
	// TokenTTL is the requested token lifetime.
	TokenTTL time.Duration `yaml:"token_ttl"`
	// OAuth configures an OAuth2 client-credentials token source as an
	// alternative to the application token endpoint.
	OAuth OAuthCredentials `yaml:"oauth"`
}

// OAuthCredentials holds OAuth2 client-credentials grant parameters.
type OAuthCredentials struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// Enabled reports whether OAuth client-credentials are configured.
func (o OAuthCredentials) Enabled() bool {
	return o.TokenURL != "" && o.ClientID != ""
}

// Defaults returns the default settings for apiprobe.
func Defaults() Settings {
	return Settings{
		Timeout:      30 * time.Second,
		RetryBudget:  3,
		RateLimitCap: 10,
		BackoffBase:  500 * time.Millisecond,
		BackoffMax:   5 * time.Second,
		TokenMargin:  5 * time.Minute,
		Parallel:     1,
		CacheDir:     ".apiprobe",
		Credentials: Credentials{
			TokenTTL: time.Hour,
		},
	}
}
