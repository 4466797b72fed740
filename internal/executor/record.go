package executor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// maxBodySnippet caps the response body carried in attempt records.
const maxBodySnippet = 3000

const maskedValue = "***MASKED***"

// Outcome classifies how a single attempt ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeTransient   Outcome = "transient"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeAuthRetry   Outcome = "auth_retry"
	OutcomeAuthFailed  Outcome = "auth_failed"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeFailed      Outcome = "failed"
)

// AttemptRecord captures one HTTP attempt for reporting. Header values
// and body fields are redacted before the record is built, so sinks can
// persist records verbatim.
type AttemptRecord struct {
	Case     string
	Attempt  int
	Method   string
	URL      string
	Status   int
	Outcome  Outcome
	Err      string
	Duration time.Duration
	Headers  map[string]string
	Body     string
	Curl     string
}

// Attachment is a reproduction artifact for one attempt: the request as
// a curl command, or the raw response body without redaction or
// truncation.
type Attachment struct {
	Case        string
	Attempt     int
	Name        string
	ContentType string
	Payload     []byte
}

// Sink receives every attempt the executor makes, including retried and
// failed ones, plus the attachments needed to reproduce each attempt.
type Sink interface {
	Record(rec AttemptRecord)
	Attach(att Attachment)
}

// sensitiveHeaders are masked entirely in records.
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"x-app-auth":    true,
	"cookie":        true,
	"set-cookie":    true,
}

// sensitiveBodyTokens mark payload fields whose values are masked.
var sensitiveBodyTokens = []string{
	"password", "secret", "token", "api_key", "authorization", "session",
}

func redactHeaders(header http.Header) map[string]string {
	masked := make(map[string]string, len(header))
	for key, values := range header {
		if sensitiveHeaders[strings.ToLower(key)] {
			masked[key] = maskedValue
		} else {
			masked[key] = strings.Join(values, ", ")
		}
	}
	return masked
}

func redactBody(payload interface{}) interface{} {
	switch v := payload.(type) {
	case map[string]interface{}:
		redacted := make(map[string]interface{}, len(v))
		for key, value := range v {
			if isSensitiveField(key) {
				redacted[key] = maskedValue
			} else {
				redacted[key] = redactBody(value)
			}
		}
		return redacted
	case []interface{}:
		redacted := make([]interface{}, len(v))
		for i, item := range v {
			redacted[i] = redactBody(item)
		}
		return redacted
	default:
		return payload
	}
}

func isSensitiveField(key string) bool {
	lower := strings.ToLower(key)
	for _, tok := range sensitiveBodyTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// buildCurl renders a copy-paste equivalent of the request. Credential
// headers are shortened to a prefix so the command stays reproducible
// without leaking the full secret.
func buildCurl(method, url string, header http.Header, body []byte) string {
	parts := []string{fmt.Sprintf("curl -X %s", method)}

	for _, key := range sortedHeaderKeys(header) {
		value := header.Get(key)
		if lower := strings.ToLower(key); lower == "authorization" || lower == "x-api-key" || lower == "x-app-auth" {
			if len(value) > 20 {
				value = value[:20] + "..."
			} else {
				value = "***"
			}
		}
		parts = append(parts, fmt.Sprintf("-H '%s: %s'", key, value))
	}

	if len(body) > 0 {
		parts = append(parts, fmt.Sprintf("-d '%s'", string(body)))
	}

	parts = append(parts, fmt.Sprintf("'%s'", url))
	return strings.Join(parts, " \\\n  ")
}

func sortedHeaderKeys(header http.Header) []string {
	keys := make([]string, 0, len(header))
	for key := range header {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// bodySnippet renders a response body for a record, redacting sensitive
// fields when it parses as JSON and truncating oversized payloads.
func bodySnippet(body []byte) string {
	text := string(body)

	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if redacted, err := json.Marshal(redactBody(parsed)); err == nil {
			text = string(redacted)
		}
	}

	if len(text) > maxBodySnippet {
		return text[:maxBodySnippet] + "\n... (truncated)"
	}
	return text
}
