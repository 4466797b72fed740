package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Credential is the raw result of one token fetch, before the manager
// anchors it to a wall-clock expiry.
type Credential struct {
	Token string
	User  string
	Scope string
	TTL   time.Duration
}

// Source obtains a fresh credential. Implementations are called under
// the manager's refresh lock, never concurrently.
type Source interface {
	Fetch(ctx context.Context) (Credential, error)
}

// EndpointSource fetches tokens from the application's own token
// endpoint, which returns JSON {token, user, ttl} (optionally wrapped in
// a "result" envelope).
type EndpointSource struct {
	Client   *http.Client
	BaseURL  string
	Endpoint string
	Username string
	TTL      time.Duration
}

type endpointResponse struct {
	Result *endpointToken `json:"result"`
	endpointToken
}

type endpointToken struct {
	Token string `json:"token"`
	User  string `json:"user"`
	Scope string `json:"scope"`
	TTL   int64  `json:"ttl"`
}

// Fetch requests a token for the configured user.
func (s *EndpointSource) Fetch(ctx context.Context) (Credential, error) {
	endpoint := s.Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = strings.TrimSuffix(s.BaseURL, "/") + "/" + strings.TrimPrefix(endpoint, "/")
	}

	query := url.Values{}
	query.Set("username", s.Username)
	query.Set("ttl", strconv.FormatInt(int64(s.TTL/time.Second), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to build token request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var body endpointResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Credential{}, fmt.Errorf("failed to decode token response: %w", err)
	}

	payload := body.endpointToken
	if body.Result != nil {
		payload = *body.Result
	}
	if payload.Token == "" {
		return Credential{}, fmt.Errorf("token endpoint response contains no token")
	}

	ttl := time.Duration(payload.TTL) * time.Second
	if ttl <= 0 {
		ttl = s.TTL
	}

	return Credential{Token: payload.Token, User: payload.User, Scope: payload.Scope, TTL: ttl}, nil
}

// OAuthSource fetches tokens via the OAuth2 client-credentials grant.
type OAuthSource struct {
	Config     clientcredentials.Config
	DefaultTTL time.Duration
}

// Fetch requests an access token from the identity provider.
func (s *OAuthSource) Fetch(ctx context.Context) (Credential, error) {
	tok, err := s.Config.Token(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("client credentials grant failed: %w", err)
	}

	ttl := s.DefaultTTL
	if !tok.Expiry.IsZero() {
		if remaining := time.Until(tok.Expiry); remaining > 0 {
			ttl = remaining
		}
	}

	scope, _ := tok.Extra("scope").(string)

	return Credential{Token: tok.AccessToken, User: s.Config.ClientID, Scope: scope, TTL: ttl}, nil
}
