package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	fetches int32
	cred    Credential
	err     error
	delay   time.Duration
}

func (s *fakeSource) Fetch(context.Context) (Credential, error) {
	atomic.AddInt32(&s.fetches, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Credential{}, s.err
	}
	return s.cred, nil
}

func (s *fakeSource) count() int32 {
	return atomic.LoadInt32(&s.fetches)
}

func newTestManager(t *testing.T, source Source, clock Clock) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Source:   source,
		Clock:    clock,
		Margin:   5 * time.Minute,
		CacheDir: t.TempDir(),
		APIKey:   "test-key",
	})
	require.NoError(t, err)
	return m
}

func TestGetFetchesOnce(t *testing.T) {
	source := &fakeSource{cred: Credential{Token: "tok-1", User: "autotest", Scope: "orders.write", TTL: time.Hour}}
	clock := NewMockClock(time.Now())
	m := newTestManager(t, source, clock)

	first, err := m.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", first.Value)
	assert.Equal(t, "orders.write", first.Scope)
	assert.True(t, first.IssuedAt.Equal(clock.Now()), "issuance is anchored to the clock")
	assert.True(t, first.ExpiresAt.Equal(clock.Now().Add(time.Hour)))

	second, err := m.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, source.count(), "fresh token is reused")
}

func TestConcurrentGetSharesOneRefresh(t *testing.T) {
	source := &fakeSource{
		cred:  Credential{Token: "tok-1", TTL: time.Hour},
		delay: 20 * time.Millisecond,
	}
	m := newTestManager(t, source, NewMockClock(time.Now()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-1", tok.Value)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, source.count(), "concurrent callers share a single refresh")
}

func TestRefreshTriggersInsideMargin(t *testing.T) {
	source := &fakeSource{cred: Credential{Token: "tok-1", TTL: time.Hour}}
	clock := NewMockClock(time.Now())
	m := newTestManager(t, source, clock)

	_, err := m.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateValid, m.State())

	// 56 minutes in, the hour-long token is within the 5 minute margin.
	clock.Advance(56 * time.Minute)
	assert.Equal(t, StateNearExpiry, m.State())

	source.mu.Lock()
	source.cred = Credential{Token: "tok-2", TTL: time.Hour}
	source.mu.Unlock()

	tok, err := m.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok.Value)
	assert.EqualValues(t, 2, source.count())
	assert.Equal(t, StateValid, m.State())
}

func TestAdoptsCacheFromOtherProcess(t *testing.T) {
	clock := NewMockClock(time.Now())
	dir := t.TempDir()

	entry := cacheEntry{
		Token:     "shared-tok",
		User:      "autotest",
		Scope:     "orders.read",
		IssuedAt:  clock.Now().Add(-time.Minute).Unix(),
		ExpiresAt: clock.Now().Add(time.Hour).Unix(),
	}
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, cacheFileName), data, 0o600))

	source := &fakeSource{cred: Credential{Token: "fresh-tok", TTL: time.Hour}}
	m, err := NewManager(Options{Source: source, Clock: clock, CacheDir: dir})
	require.NoError(t, err)

	tok, err := m.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "shared-tok", tok.Value, "a token refreshed by another process is adopted")
	assert.Equal(t, "orders.read", tok.Scope)
	assert.Equal(t, entry.IssuedAt, tok.IssuedAt.Unix(), "issuance time survives the cache round trip")
	assert.Zero(t, source.count())
}

func TestStaleCacheIsReplaced(t *testing.T) {
	clock := NewMockClock(time.Now())
	dir := t.TempDir()

	entry := cacheEntry{Token: "stale-tok", ExpiresAt: clock.Now().Add(time.Minute).Unix()}
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, cacheFileName), data, 0o600))

	source := &fakeSource{cred: Credential{Token: "fresh-tok", TTL: time.Hour}}
	m, err := NewManager(Options{Source: source, Clock: clock, Margin: 5 * time.Minute, CacheDir: dir})
	require.NoError(t, err)

	tok, err := m.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-tok", tok.Value)
	assert.EqualValues(t, 1, source.count())
}

func TestInvalidateForcesRefetch(t *testing.T) {
	source := &fakeSource{cred: Credential{Token: "tok-1", TTL: time.Hour}}
	m := newTestManager(t, source, NewMockClock(time.Now()))

	_, err := m.Get(context.Background())
	require.NoError(t, err)

	m.Invalidate()
	assert.Equal(t, StateUnset, m.State())

	_, err = m.Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, source.count())
}

func TestFetchFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("endpoint unreachable")}
	m := newTestManager(t, source, NewMockClock(time.Now()))

	_, err := m.Get(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "token fetch", authErr.Op)
	assert.Equal(t, StateFailed, m.State())

	// Recovery on the next attempt clears the failed state.
	source.mu.Lock()
	source.err = nil
	source.cred = Credential{Token: "tok-1", TTL: time.Hour}
	source.mu.Unlock()

	_, err = m.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateValid, m.State())
}

func TestApplySetsAuthHeaders(t *testing.T) {
	source := &fakeSource{cred: Credential{Token: "tok-1", User: "autotest", TTL: time.Hour}}
	m := newTestManager(t, source, NewMockClock(time.Now()))

	header := http.Header{}
	require.NoError(t, m.Apply(context.Background(), header))

	assert.Equal(t, "Bearer tok-1", header.Get("Authorization"))
	assert.Equal(t, "test-key", header.Get("x-api-key"))

	var envelope map[string]string
	require.NoError(t, json.Unmarshal([]byte(header.Get("x-app-auth")), &envelope))
	assert.Equal(t, "tok-1", envelope["token"])
	assert.Equal(t, "autotest", envelope["user"])
}

func TestCorruptCacheIsIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, cacheFileName), []byte("{broken"), 0o600))

	source := &fakeSource{cred: Credential{Token: "tok-1", TTL: time.Hour}}
	m, err := NewManager(Options{Source: source, Clock: NewMockClock(time.Now()), CacheDir: dir})
	require.NoError(t, err)

	tok, err := m.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Value)
}

func TestManagerRequiresSource(t *testing.T) {
	_, err := NewManager(Options{})
	require.Error(t, err)
}
