// Package token manages API authentication tokens: acquisition, refresh
// ahead of expiry, and sharing across processes through a file cache.
//
// Concurrency model: in-process callers are collapsed onto one refresh
// via singleflight; cross-process callers are serialized with a file
// lock held only for the duration of the refresh itself. After taking
// the lock the cache is re-read, so a refresh completed by another
// process is adopted instead of repeated.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"apiprobe/pkg/logging"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
)

// State describes the manager's position in the token lifecycle.
type State string

const (
	StateUnset      State = "unset"
	StateValid      State = "valid"
	StateNearExpiry State = "near_expiry"
	StateRefreshing State = "refreshing"
	StateFailed     State = "failed"
)

// Token is an acquired credential anchored to wall-clock time.
type Token struct {
	Value     string
	User      string
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// fresh reports whether the token is usable beyond the refresh margin.
func (t Token) fresh(now time.Time, margin time.Duration) bool {
	return t.Value != "" && t.ExpiresAt.After(now.Add(margin))
}

// AuthError is a definitive authentication failure. The executor treats
// it as terminal for the attempt, never as a retryable condition.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed during %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

const (
	cacheFileName = "cache.json"
	lockFileName  = "cache.lock"
)

// cacheEntry is the on-disk token cache shared between processes.
type cacheEntry struct {
	Token     string `json:"token"`
	User      string `json:"user"`
	Scope     string `json:"scope,omitempty"`
	IssuedAt  int64  `json:"issued_at,omitempty"`
	ExpiresAt int64  `json:"expires_at"`
}

// Options configures a Manager.
type Options struct {
	// Source obtains fresh credentials.
	Source Source
	// Clock defaults to the system clock.
	Clock Clock
	// Margin is how long before expiry a token is already considered
	// stale. Defaults to 5 minutes.
	Margin time.Duration
	// CacheDir holds the cross-process cache and lock files.
	CacheDir string
	// APIKey, when set, is applied as the x-api-key header.
	APIKey string
}

// Manager hands out valid tokens, refreshing them behind a singleflight
// group and a cross-process file lock.
type Manager struct {
	source   Source
	clock    Clock
	margin   time.Duration
	cacheDir string
	apiKey   string

	fileLock *flock.Flock
	group    singleflight.Group

	mu         sync.RWMutex
	current    Token
	refreshing bool
	failed     bool
}

// NewManager creates a token manager. The cache directory is created if
// missing.
func NewManager(opts Options) (*Manager, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Margin <= 0 {
		opts.Margin = 5 * time.Minute
	}
	if opts.CacheDir == "" {
		opts.CacheDir = ".apiprobe"
	}
	if err := os.MkdirAll(opts.CacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create token cache dir %s: %w", opts.CacheDir, err)
	}

	return &Manager{
		source:   opts.Source,
		clock:    opts.Clock,
		margin:   opts.Margin,
		cacheDir: opts.CacheDir,
		apiKey:   opts.APIKey,
		fileLock: flock.New(filepath.Join(opts.CacheDir, lockFileName)),
	}, nil
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.refreshing:
		return StateRefreshing
	case m.failed:
		return StateFailed
	case m.current.Value == "":
		return StateUnset
	case !m.current.fresh(m.clock.Now(), m.margin):
		return StateNearExpiry
	default:
		return StateValid
	}
}

// Get returns a token valid beyond the refresh margin, refreshing if
// needed. Concurrent callers share a single refresh.
func (m *Manager) Get(ctx context.Context) (Token, error) {
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()
	if current.fresh(m.clock.Now(), m.margin) {
		return current, nil
	}

	result, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		// Double-check after acquiring the singleflight slot: the caller
		// that ran before us may have refreshed already.
		m.mu.RLock()
		current := m.current
		m.mu.RUnlock()
		if current.fresh(m.clock.Now(), m.margin) {
			return current, nil
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return Token{}, err
	}
	return result.(Token), nil
}

// refresh serializes with other processes via the file lock, re-reads
// the shared cache, and only fetches when the cache is stale too.
func (m *Manager) refresh(ctx context.Context) (Token, error) {
	m.setRefreshing(true)
	defer m.setRefreshing(false)

	if err := m.fileLock.Lock(); err != nil {
		return Token{}, m.fail("lock acquisition", err)
	}
	defer func() {
		if err := m.fileLock.Unlock(); err != nil {
			logging.Warn("Token", "Failed to release token lock: %v", err)
		}
	}()

	// Another process may have refreshed while we waited for the lock.
	if cached, ok := m.readCache(); ok && cached.fresh(m.clock.Now(), m.margin) {
		m.adopt(cached)
		logging.Debug("Token", "Adopted token refreshed by another process, expires %s", cached.ExpiresAt.Format(time.RFC3339))
		return cached, nil
	}

	cred, err := m.source.Fetch(ctx)
	if err != nil {
		return Token{}, m.fail("token fetch", err)
	}

	now := m.clock.Now()
	tok := Token{
		Value:     cred.Token,
		User:      cred.User,
		Scope:     cred.Scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(cred.TTL),
	}
	m.writeCache(tok)
	m.adopt(tok)
	logging.Info("Token", "Token refreshed, expires %s", tok.ExpiresAt.Format(time.RFC3339))
	return tok, nil
}

// Invalidate discards the current token and the shared cache, forcing
// the next Get to fetch. Used after the API rejects a token that still
// looked valid locally.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.current = Token{}
	m.failed = false
	m.mu.Unlock()

	if err := os.Remove(m.cachePath()); err != nil && !os.IsNotExist(err) {
		logging.Warn("Token", "Failed to remove token cache: %v", err)
	}
}

// Apply sets the authentication headers on a request: bearer token,
// x-api-key, and the x-app-auth JSON envelope when a user is known.
func (m *Manager) Apply(ctx context.Context, header http.Header) error {
	tok, err := m.Get(ctx)
	if err != nil {
		return err
	}

	header.Set("Authorization", "Bearer "+tok.Value)
	if m.apiKey != "" {
		header.Set("x-api-key", m.apiKey)
	}
	if tok.User != "" {
		envelope, err := json.Marshal(map[string]string{"token": tok.Value, "user": tok.User})
		if err != nil {
			return fmt.Errorf("failed to encode app auth header: %w", err)
		}
		header.Set("x-app-auth", string(envelope))
	}
	return nil
}

func (m *Manager) setRefreshing(on bool) {
	m.mu.Lock()
	m.refreshing = on
	m.mu.Unlock()
}

func (m *Manager) adopt(tok Token) {
	m.mu.Lock()
	m.current = tok
	m.failed = false
	m.mu.Unlock()
}

func (m *Manager) fail(op string, err error) error {
	m.mu.Lock()
	m.failed = true
	m.mu.Unlock()
	return &AuthError{Op: op, Err: err}
}

func (m *Manager) cachePath() string {
	return filepath.Join(m.cacheDir, cacheFileName)
}

func (m *Manager) readCache() (Token, bool) {
	data, err := os.ReadFile(m.cachePath())
	if err != nil {
		return Token{}, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		logging.Warn("Token", "Ignoring corrupt token cache: %v", err)
		return Token{}, false
	}
	tok := Token{
		Value:     entry.Token,
		User:      entry.User,
		Scope:     entry.Scope,
		ExpiresAt: time.Unix(entry.ExpiresAt, 0),
	}
	if entry.IssuedAt > 0 {
		tok.IssuedAt = time.Unix(entry.IssuedAt, 0)
	}
	return tok, true
}

func (m *Manager) writeCache(tok Token) {
	entry := cacheEntry{
		Token:     tok.Value,
		User:      tok.User,
		Scope:     tok.Scope,
		ExpiresAt: tok.ExpiresAt.Unix(),
	}
	if !tok.IssuedAt.IsZero() {
		entry.IssuedAt = tok.IssuedAt.Unix()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		logging.Warn("Token", "Failed to encode token cache: %v", err)
		return
	}
	if err := os.WriteFile(m.cachePath(), data, 0o600); err != nil {
		logging.Warn("Token", "Failed to write token cache: %v", err)
	}
}
