package assert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// HTTPStore resolves db assertions through a record lookup endpoint,
// typically a debug or admin API exposed by the system under test:
//
//	GET {base}/{collection}?{key}={value}
//
// The endpoint returns the matching record as a JSON object, or 404
// when no record matches.
type HTTPStore struct {
	Client  *http.Client
	BaseURL string
	// Header is applied to every lookup, for authenticated endpoints.
	Header http.Header
}

// FindOne fetches the record in collection whose key field equals value.
// A 404 yields (nil, nil) so the caller reports a clean assertion
// failure instead of a transport error.
func (s *HTTPStore) FindOne(ctx context.Context, collection, key string, value interface{}) (map[string]interface{}, error) {
	query := url.Values{}
	query.Set(key, fmt.Sprintf("%v", value))
	endpoint := fmt.Sprintf("%s/%s?%s", strings.TrimSuffix(s.BaseURL, "/"), url.PathEscape(collection), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build store lookup: %w", err)
	}
	for headerKey, values := range s.Header {
		for _, v := range values {
			req.Header.Add(headerKey, v)
		}
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store lookup failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("store lookup returned %d", resp.StatusCode)
	}

	var record map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("store lookup returned invalid JSON: %w", err)
	}
	return record, nil
}
