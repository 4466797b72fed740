// Package executor issues HTTP requests with retry, rate limit and
// authentication handling, reporting every attempt to a sink.
//
// Retry policy: network failures are retried with capped exponential
// backoff out of a fixed attempt budget. 429 responses honor a numeric
// Retry-After header under a separate, larger attempt cap, since rate
// limiting is expected during bulk test runs. A 401 or 403 triggers
// exactly one token refresh and retry; a second rejection is a
// definitive authentication failure. Any other status is returned to
// the caller unchanged.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"apiprobe/internal/token"
	"apiprobe/pkg/logging"
)

// Authenticator applies credentials to outgoing requests and discards
// them when the API rejects a token.
type Authenticator interface {
	Apply(ctx context.Context, header http.Header) error
	Invalidate()
}

// RequestSpec describes one request. Specs are value types; Execute
// never modifies them.
type RequestSpec struct {
	Case     string
	Method   string
	URL      string
	Headers  map[string]string
	Query    map[string]string
	Body     map[string]interface{}
	Timeout  time.Duration
	Unauthed bool
}

// Response is the final response of an execution, with the body fully
// read so callers can decode it repeatedly.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Attempts int
}

// JSON decodes the response body as a JSON object.
func (r *Response) JSON() (map[string]interface{}, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return body, nil
}

// NetworkError is returned when the transient retry budget is exhausted
// without ever receiving a response.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned when the API keeps responding 429 past the
// rate limit attempt cap.
type RateLimitError struct {
	URL      string
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit on %s persisted through %d attempts", e.URL, e.Attempts)
}

// AuthenticationError is returned when the API rejects the request even
// after a forced token refresh.
type AuthenticationError struct {
	URL    string
	Status int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("request to %s rejected with %d after token refresh", e.URL, e.Status)
}

// Options configures an Executor.
type Options struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
	// Auth applies credentials; nil disables authentication entirely.
	Auth Authenticator
	// Sink receives every attempt; nil discards records.
	Sink Sink
	// RetryBudget is the total attempts for transient failures.
	RetryBudget int
	// RateLimitCap is the total attempts when rate limited.
	RateLimitCap int
	// BackoffBase and BackoffMax bound the exponential backoff waits.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RetryAfterMax caps the wait taken from a Retry-After header.
	RetryAfterMax time.Duration
}

// Executor runs request specs against the API under test.
type Executor struct {
	client        *http.Client
	auth          Authenticator
	sink          Sink
	retryBudget   int
	rateLimitCap  int
	backoffBase   time.Duration
	backoffMax    time.Duration
	retryAfterMax time.Duration

	// Injected for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// New creates an executor. Zero option fields get conservative defaults.
func New(opts Options) *Executor {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.RetryBudget < 1 {
		opts.RetryBudget = 3
	}
	if opts.RateLimitCap < 1 {
		opts.RateLimitCap = 10
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = 5 * time.Second
	}
	if opts.RetryAfterMax <= 0 {
		opts.RetryAfterMax = 30 * time.Second
	}

	return &Executor{
		client:        opts.Client,
		auth:          opts.Auth,
		sink:          opts.Sink,
		retryBudget:   opts.RetryBudget,
		rateLimitCap:  opts.RateLimitCap,
		backoffBase:   opts.BackoffBase,
		backoffMax:    opts.BackoffMax,
		retryAfterMax: opts.RetryAfterMax,
		sleep:         sleepContext,
		jitter:        defaultJitter,
	}
}

// Execute runs the request to completion: through retries, rate limit
// waits and at most one auth refresh. Every attempt is reported to the
// sink before Execute returns.
func (e *Executor) Execute(ctx context.Context, spec RequestSpec) (*Response, error) {
	transientAttempts := 0
	rateLimitAttempts := 0
	authRetried := false
	attempt := 0

	for {
		attempt++

		resp, rec, err := e.attempt(ctx, spec, attempt)
		if err != nil {
			if ctx.Err() != nil {
				rec.Outcome = OutcomeCancelled
				rec.Err = ctx.Err().Error()
				e.report(rec, nil)
				return nil, ctx.Err()
			}

			// A failed token refresh is definitive, not a transport
			// problem: surface it once without consuming retry budget.
			var authErr *token.AuthError
			if errors.As(err, &authErr) {
				rec.Outcome = OutcomeAuthFailed
				rec.Err = err.Error()
				e.report(rec, nil)
				return nil, err
			}

			transientAttempts++
			if transientAttempts < e.retryBudget {
				rec.Outcome = OutcomeTransient
				e.report(rec, nil)
				wait := e.backoff(transientAttempts - 1)
				logging.Warn("Executor", "Attempt %d for %s failed (%v), retrying in %s", attempt, spec.URL, err, wait)
				if serr := e.sleep(ctx, wait); serr != nil {
					return nil, serr
				}
				continue
			}

			rec.Outcome = OutcomeFailed
			e.report(rec, nil)
			return nil, &NetworkError{URL: spec.URL, Attempts: transientAttempts, Err: err}
		}

		switch {
		case resp.Status == http.StatusTooManyRequests:
			rateLimitAttempts++
			if rateLimitAttempts < e.rateLimitCap {
				rec.Outcome = OutcomeRateLimited
				e.report(rec, resp)
				wait := e.retryAfter(resp)
				logging.Warn("Executor", "Rate limited on %s, waiting %s (attempt %d/%d)", spec.URL, wait, rateLimitAttempts, e.rateLimitCap)
				if serr := e.sleep(ctx, wait); serr != nil {
					return nil, serr
				}
				continue
			}
			rec.Outcome = OutcomeFailed
			e.report(rec, resp)
			return nil, &RateLimitError{URL: spec.URL, Attempts: rateLimitAttempts}

		case (resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden) && e.auth != nil && !spec.Unauthed:
			if !authRetried {
				authRetried = true
				rec.Outcome = OutcomeAuthRetry
				e.report(rec, resp)
				logging.Info("Executor", "Got %d on %s, refreshing token and retrying once", resp.Status, spec.URL)
				e.auth.Invalidate()
				continue
			}
			rec.Outcome = OutcomeFailed
			e.report(rec, resp)
			return nil, &AuthenticationError{URL: spec.URL, Status: resp.Status}

		default:
			rec.Outcome = OutcomeSuccess
			e.report(rec, resp)
			resp.Attempts = attempt
			return resp, nil
		}
	}
}

// attempt performs one HTTP round trip and builds its record.
func (e *Executor) attempt(ctx context.Context, spec RequestSpec, attempt int) (*Response, AttemptRecord, error) {
	rec := AttemptRecord{
		Case:    spec.Case,
		Attempt: attempt,
		Method:  spec.Method,
		URL:     spec.URL,
	}

	var bodyBytes []byte
	if spec.Body != nil {
		encoded, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, rec, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyBytes = encoded
	}

	reqCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, spec.Method, e.buildURL(spec), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, rec, fmt.Errorf("failed to build request: %w", err)
	}

	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}
	if e.auth != nil && !spec.Unauthed {
		if err := e.auth.Apply(ctx, req.Header); err != nil {
			return nil, rec, err
		}
	}

	rec.Headers = redactHeaders(req.Header)
	rec.Curl = buildCurl(spec.Method, req.URL.String(), req.Header, redactedBodyBytes(spec.Body))

	start := time.Now()
	resp, err := e.client.Do(req)
	rec.Duration = time.Since(start)
	if err != nil {
		rec.Err = err.Error()
		return nil, rec, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		rec.Err = err.Error()
		return nil, rec, fmt.Errorf("failed to read response body: %w", err)
	}

	rec.Status = resp.StatusCode
	rec.Body = bodySnippet(body)

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, rec, nil
}

func (e *Executor) buildURL(spec RequestSpec) string {
	if len(spec.Query) == 0 {
		return spec.URL
	}
	values := url.Values{}
	for key, value := range spec.Query {
		values.Set(key, value)
	}
	sep := "?"
	if bytes.ContainsRune([]byte(spec.URL), '?') {
		sep = "&"
	}
	return spec.URL + sep + values.Encode()
}

func redactedBodyBytes(body map[string]interface{}) []byte {
	if body == nil {
		return nil
	}
	encoded, err := json.Marshal(redactBody(body))
	if err != nil {
		return nil
	}
	return encoded
}

// backoff computes the capped exponential wait for a retry, with jitter.
func (e *Executor) backoff(retry int) time.Duration {
	wait := e.backoffBase << retry
	if wait > e.backoffMax || wait <= 0 {
		wait = e.backoffMax
	}
	return e.jitter(wait)
}

// retryAfter honors a numeric Retry-After header, falling back to the
// backoff base, capped independently of the transient backoff cap.
func (e *Executor) retryAfter(resp *Response) time.Duration {
	wait := e.backoffBase
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds >= 0 {
			wait = time.Duration(seconds * float64(time.Second))
		}
	}
	if wait > e.retryAfterMax {
		wait = e.retryAfterMax
	}
	return wait
}

// report delivers the attempt record and its attachments: the curl
// equivalent of the request and, when a response was received, the raw
// uncapped body. The record itself carries only a redacted snippet.
func (e *Executor) report(rec AttemptRecord, resp *Response) {
	if e.sink == nil {
		return
	}
	e.sink.Record(rec)

	if rec.Curl != "" {
		e.sink.Attach(Attachment{
			Case:        rec.Case,
			Attempt:     rec.Attempt,
			Name:        "request.curl",
			ContentType: "text/plain",
			Payload:     []byte(rec.Curl),
		})
	}
	if resp != nil {
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		e.sink.Attach(Attachment{
			Case:        rec.Case,
			Attempt:     rec.Attempt,
			Name:        "response.body",
			ContentType: contentType,
			Payload:     resp.Body,
		})
	}
}

// defaultJitter spreads a wait over [0.75w, 1.25w] to keep parallel
// workers from retrying in lockstep.
func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := d / 2
	return d - spread/2 + time.Duration(rand.Int63n(int64(spread)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
