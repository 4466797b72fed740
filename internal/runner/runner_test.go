package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"apiprobe/internal/assert"
	"apiprobe/internal/contract"
	"apiprobe/internal/executor"

	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

// ordersServer accepts payloads with a non-empty string name of at most
// 50 characters and a numeric amount, mirroring the test contract.
func ordersServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var payload map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			name, ok := payload["name"].(string)
			if !ok || name == "" || len(name) > 50 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if _, ok := payload["amount"].(float64); !ok {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"ord-1","name":"` + name + `"}`))
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"items":[],"total":0}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func orderCase() contract.TestCase {
	return contract.TestCase{
		Name:           "create_order",
		Method:         http.MethodPost,
		URL:            "/orders",
		ExpectedStatus: http.StatusCreated,
		Contract: &contract.Contract{
			Schema: contract.Schema{Fields: []contract.Field{
				{Name: "name", Type: contract.TypeString, Required: true,
					Constraints: []contract.Constraint{contract.LengthBound{Min: intPtr(1), Max: intPtr(50)}}},
				{Name: "amount", Type: contract.TypeNumber, Required: true},
			}},
			ValidExample: map[string]interface{}{"name": "sample", "amount": 12.5},
		},
		Mutations: map[string]bool{"missing_field": true, "type_error": true, "boundary": true},
		Assertions: []assert.Spec{
			{Field: "id", Kind: assert.KindIsNotNull},
			{Field: "name", Kind: assert.KindEquals, Expected: "sample"},
		},
	}
}

func newRunner(t *testing.T, baseURL string, mutate func(*Options)) *Runner {
	t.Helper()
	opts := Options{
		Executor: executor.New(executor.Options{}),
		BaseURL:  baseURL,
		Parallel: 2,
	}
	if mutate != nil {
		mutate(&opts)
	}
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

func TestRunPositiveAndMutations(t *testing.T) {
	server := ordersServer(t)
	defer server.Close()

	r := newRunner(t, server.URL, nil)
	result := r.Run(context.Background(), []contract.Suite{
		{Name: "orders", Cases: []contract.TestCase{orderCase()}},
	})

	require.NotEmpty(t, result.Results)
	positive := result.Results[0]
	tassert.Equal(t, "", positive.Variant)
	tassert.Equal(t, StatusPassed, positive.Status)
	tassert.Equal(t, http.StatusCreated, positive.ActualStatus)

	passed, failed, skipped := result.Counts()
	tassert.Zero(t, failed, "the validating API rejects every mutation")
	tassert.Zero(t, skipped)
	tassert.Greater(t, passed, 4, "mutation variants run after the positive case")
	tassert.False(t, result.Failed())
}

func TestRunDetectsAcceptedMutation(t *testing.T) {
	// This API ignores validation entirely, so every mutated payload is
	// accepted and every variant must fail.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord-1","name":"sample"}`))
	}))
	defer server.Close()

	r := newRunner(t, server.URL, nil)
	result := r.Run(context.Background(), []contract.Suite{
		{Name: "orders", Cases: []contract.TestCase{orderCase()}},
	})

	for _, res := range result.Results {
		if res.Variant == "" {
			tassert.Equal(t, StatusPassed, res.Status)
			continue
		}
		tassert.Equal(t, StatusFailed, res.Status, "variant %s", res.Variant)
		tassert.Contains(t, res.Err, "accepted")
	}
	tassert.True(t, result.Failed())
}

func TestRunStatusMismatch(t *testing.T) {
	server := ordersServer(t)
	defer server.Close()

	tc := contract.TestCase{Name: "list", Method: http.MethodGet, URL: "/orders", ExpectedStatus: http.StatusNoContent}
	r := newRunner(t, server.URL, nil)
	result := r.Run(context.Background(), []contract.Suite{{Name: "orders", Cases: []contract.TestCase{tc}}})

	require.Len(t, result.Results, 1)
	tassert.Equal(t, StatusFailed, result.Results[0].Status)
	tassert.Contains(t, result.Results[0].Err, "expected status 204")
}

func TestRunAssertionFailure(t *testing.T) {
	server := ordersServer(t)
	defer server.Close()

	tc := contract.TestCase{
		Name: "list", Method: http.MethodGet, URL: "/orders",
		Assertions: []assert.Spec{{Field: "total", Kind: assert.KindGreaterThan, Expected: 10}},
	}
	r := newRunner(t, server.URL, nil)
	result := r.Run(context.Background(), []contract.Suite{{Name: "orders", Cases: []contract.TestCase{tc}}})

	require.Len(t, result.Results, 1)
	tassert.Equal(t, StatusFailed, result.Results[0].Status)
	tassert.Contains(t, result.Results[0].Err, "greater_than")
}

type fakeStore struct {
	records map[string]map[string]interface{}
}

func (s *fakeStore) FindOne(_ context.Context, _, _ string, value interface{}) (map[string]interface{}, error) {
	key, _ := value.(string)
	return s.records[key], nil
}

func TestRunDBAssertions(t *testing.T) {
	server := ordersServer(t)
	defer server.Close()

	tc := orderCase()
	tc.Mutations = nil
	tc.DBAssertions = &assert.DBSpec{
		Collection: "orders",
		MatchBy:    "id",
		MatchField: "_id",
		Verify:     []assert.Spec{{Field: "state", Kind: assert.KindEquals, Expected: "persisted"}},
	}

	store := &fakeStore{records: map[string]map[string]interface{}{
		"ord-1": {"_id": "ord-1", "state": "persisted"},
	}}
	r := newRunner(t, server.URL, func(o *Options) { o.Store = store })
	result := r.Run(context.Background(), []contract.Suite{{Name: "orders", Cases: []contract.TestCase{tc}}})

	require.Len(t, result.Results, 1)
	tassert.Equal(t, StatusPassed, result.Results[0].Status)
}

func TestRunDBAssertionsWithoutStore(t *testing.T) {
	server := ordersServer(t)
	defer server.Close()

	tc := orderCase()
	tc.Mutations = nil
	tc.DBAssertions = &assert.DBSpec{Collection: "orders", MatchBy: "id", MatchField: "_id"}

	r := newRunner(t, server.URL, nil)
	result := r.Run(context.Background(), []contract.Suite{{Name: "orders", Cases: []contract.TestCase{tc}}})

	require.Len(t, result.Results, 1)
	tassert.Equal(t, StatusFailed, result.Results[0].Status)
	tassert.Contains(t, result.Results[0].Err, "no store")
}

func TestRunSkipsMarkedCases(t *testing.T) {
	r := newRunner(t, "http://unused.test", nil)
	result := r.Run(context.Background(), []contract.Suite{{
		Name:  "orders",
		Cases: []contract.TestCase{{Name: "flaky", Method: http.MethodGet, URL: "/x", Skip: true}},
	}})

	require.Len(t, result.Results, 1)
	tassert.Equal(t, StatusSkipped, result.Results[0].Status)
}

func TestRunMaxNegativesCapsVariants(t *testing.T) {
	server := ordersServer(t)
	defer server.Close()

	r := newRunner(t, server.URL, func(o *Options) { o.MaxNegatives = 2 })
	result := r.Run(context.Background(), []contract.Suite{
		{Name: "orders", Cases: []contract.TestCase{orderCase()}},
	})

	variants := 0
	for _, res := range result.Results {
		if res.Variant != "" {
			variants++
		}
	}
	tassert.Equal(t, 2, variants)
}

func TestRunResultsKeepDeclarationOrder(t *testing.T) {
	server := ordersServer(t)
	defer server.Close()

	cases := []contract.TestCase{
		{Name: "a_list", Method: http.MethodGet, URL: "/orders"},
		{Name: "b_list", Method: http.MethodGet, URL: "/orders"},
		{Name: "c_list", Method: http.MethodGet, URL: "/orders"},
	}
	r := newRunner(t, server.URL, func(o *Options) { o.Parallel = 3 })
	result := r.Run(context.Background(), []contract.Suite{{Name: "orders", Cases: cases}})

	require.Len(t, result.Results, 3)
	tassert.Equal(t, "a_list", result.Results[0].Case)
	tassert.Equal(t, "b_list", result.Results[1].Case)
	tassert.Equal(t, "c_list", result.Results[2].Case)
}

func TestRunFailFast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var cases []contract.TestCase
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		cases = append(cases, contract.TestCase{Name: name, Method: http.MethodGet, URL: "/x"})
	}

	r := newRunner(t, server.URL, func(o *Options) {
		o.FailFast = true
		o.Parallel = 1
	})
	result := r.Run(context.Background(), []contract.Suite{{Name: "s", Cases: cases}})

	_, failed, skipped := result.Counts()
	tassert.GreaterOrEqual(t, failed, 1)
	tassert.GreaterOrEqual(t, skipped, 1, "later cases are skipped once fail-fast triggers")
	tassert.Equal(t, len(cases), len(result.Results))
}

func TestRunHonorsCaseTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	tc := contract.TestCase{Name: "slow", Method: http.MethodGet, URL: "/slow", Timeout: 50 * time.Millisecond}
	r := newRunner(t, server.URL, func(o *Options) {
		o.Executor = executor.New(executor.Options{RetryBudget: 1})
	})

	start := time.Now()
	result := r.Run(context.Background(), []contract.Suite{{Name: "s", Cases: []contract.TestCase{tc}}})
	tassert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, result.Results, 1)
	tassert.Equal(t, StatusFailed, result.Results[0].Status)
}
