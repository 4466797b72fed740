// Package runner executes loaded test suites: the positive case for
// each definition, then its mutation variants, collecting results for
// reporting.
package runner

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"apiprobe/internal/assert"
	"apiprobe/internal/contract"
	"apiprobe/internal/executor"
	"apiprobe/internal/mutation"
	"apiprobe/pkg/logging"
)

// Status is the verdict for one executed case or variant.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// CaseResult is the outcome of one positive case or mutation variant.
type CaseResult struct {
	Suite          string        `json:"suite"`
	Case           string        `json:"case"`
	Variant        string        `json:"variant,omitempty"`
	Strategy       string        `json:"strategy,omitempty"`
	Status         Status        `json:"status"`
	ExpectedStatus int           `json:"expected_status,omitempty"`
	ActualStatus   int           `json:"actual_status,omitempty"`
	Err            string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// RunResult aggregates a whole run.
type RunResult struct {
	Results  []CaseResult  `json:"results"`
	Duration time.Duration `json:"duration"`
}

// Counts returns the number of passed, failed and skipped entries.
func (r *RunResult) Counts() (passed, failed, skipped int) {
	for _, res := range r.Results {
		switch res.Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return
}

// Failed reports whether any case failed.
func (r *RunResult) Failed() bool {
	_, failed, _ := r.Counts()
	return failed > 0
}

// Options configures a Runner.
type Options struct {
	// Executor performs the HTTP work.
	Executor *executor.Executor
	// Store backs db assertions; nil fails any case that declares them.
	Store assert.Store
	// BaseURL prefixes relative case URLs.
	BaseURL string
	// Parallel is the worker count. Defaults to 1.
	Parallel int
	// FailFast stops scheduling new cases after the first failure.
	FailFast bool
	// MaxNegatives caps mutation variants per case. 0 means no cap.
	MaxNegatives int
	// DefaultTimeout applies to cases without their own timeout.
	DefaultTimeout time.Duration
}

// Runner executes suites with a bounded worker pool.
type Runner struct {
	opts Options
}

// New creates a runner.
func New(opts Options) (*Runner, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Runner{opts: opts}, nil
}

// job is one test case with its position, so results keep suite-file
// order regardless of worker interleaving.
type job struct {
	index int
	suite string
	tc    contract.TestCase
}

// Run executes every case of every suite and returns the aggregated
// results in declaration order.
func (r *Runner) Run(ctx context.Context, suites []contract.Suite) *RunResult {
	start := time.Now()

	var jobs []job
	for _, suite := range suites {
		for _, tc := range suite.Cases {
			jobs = append(jobs, job{index: len(jobs), suite: suite.Name, tc: tc})
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobChan := make(chan job, len(jobs))
	for _, j := range jobs {
		jobChan <- j
	}
	close(jobChan)

	workers := r.opts.Parallel
	if workers > len(jobs) {
		workers = len(jobs)
	}

	perJob := make([][]CaseResult, len(jobs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range jobChan {
				logging.Debug("Runner", "Worker %d executing case %s/%s", workerID, j.suite, j.tc.Name)
				results := r.runCase(runCtx, j.suite, j.tc)

				failed := false
				for _, res := range results {
					if res.Status == StatusFailed {
						failed = true
						break
					}
				}

				mu.Lock()
				perJob[j.index] = results
				mu.Unlock()

				if failed && r.opts.FailFast {
					logging.Info("Runner", "Fail-fast triggered by case %s/%s", j.suite, j.tc.Name)
					cancel()
				}
			}
		}(i)
	}
	wg.Wait()

	result := &RunResult{Duration: time.Since(start)}
	for _, results := range perJob {
		result.Results = append(result.Results, results...)
	}
	return result
}

// runCase executes the positive case, then its mutation variants.
func (r *Runner) runCase(ctx context.Context, suite string, tc contract.TestCase) []CaseResult {
	if tc.Skip {
		return []CaseResult{{Suite: suite, Case: tc.Name, Status: StatusSkipped}}
	}
	if ctx.Err() != nil {
		return []CaseResult{{Suite: suite, Case: tc.Name, Status: StatusSkipped, Err: "run cancelled"}}
	}

	results := []CaseResult{r.runPositive(ctx, suite, tc)}

	if tc.Contract != nil && len(tc.Mutations) > 0 {
		results = append(results, r.runMutations(ctx, suite, tc)...)
	}

	return results
}

func (r *Runner) runPositive(ctx context.Context, suite string, tc contract.TestCase) CaseResult {
	result := CaseResult{Suite: suite, Case: tc.Name, ExpectedStatus: tc.ExpectedStatus}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	spec := r.buildSpec(tc, tc.Name, nil)
	if tc.Contract != nil && methodHasBody(tc.Method) {
		spec.Body = tc.Contract.ValidExample
	}

	resp, err := r.opts.Executor.Execute(ctx, spec)
	if err != nil {
		result.Status = StatusFailed
		result.Err = err.Error()
		return result
	}
	result.ActualStatus = resp.Status

	expected := tc.ExpectedStatus
	if expected == 0 {
		if resp.Status >= 400 {
			result.Status = StatusFailed
			result.Err = fmt.Sprintf("unexpected status %d", resp.Status)
			return result
		}
	} else if resp.Status != expected {
		result.Status = StatusFailed
		result.Err = fmt.Sprintf("expected status %d, got %d", expected, resp.Status)
		return result
	}

	if err := r.checkAssertions(ctx, tc, resp); err != nil {
		result.Status = StatusFailed
		result.Err = err.Error()
		return result
	}

	result.Status = StatusPassed
	return result
}

func (r *Runner) checkAssertions(ctx context.Context, tc contract.TestCase, resp *executor.Response) error {
	if len(tc.Assertions) == 0 && tc.DBAssertions == nil {
		return nil
	}

	body, err := resp.JSON()
	if err != nil {
		return err
	}

	if err := assert.Evaluate(body, tc.Assertions); err != nil {
		return err
	}

	if tc.DBAssertions != nil {
		if r.opts.Store == nil {
			return fmt.Errorf("case declares db assertions but no store is configured")
		}
		if err := assert.EvaluateStore(ctx, r.opts.Store, *tc.DBAssertions, body); err != nil {
			return err
		}
	}

	return nil
}

// runMutations executes the case's negative variants. A variant passes
// when the API rejects the mutated payload with any 4xx or 5xx status.
func (r *Runner) runMutations(ctx context.Context, suite string, tc contract.TestCase) []CaseResult {
	seq, err := mutation.NewSequence(tc.Contract, tc.Mutations)
	if err != nil {
		return []CaseResult{{
			Suite: suite, Case: tc.Name, Status: StatusFailed,
			Err: fmt.Sprintf("mutation planning failed: %v", err),
		}}
	}

	var results []CaseResult
	emitted := 0
	for {
		if r.opts.MaxNegatives > 0 && emitted >= r.opts.MaxNegatives {
			break
		}
		mc, err := seq.Next()
		if err != nil {
			results = append(results, CaseResult{
				Suite: suite, Case: tc.Name, Status: StatusFailed,
				Err: fmt.Sprintf("mutation generation failed: %v", err),
			})
			continue
		}
		if mc == nil {
			break
		}
		emitted++

		if ctx.Err() != nil {
			results = append(results, CaseResult{
				Suite: suite, Case: tc.Name, Variant: mc.Name,
				Strategy: string(mc.Strategy), Status: StatusSkipped, Err: "run cancelled",
			})
			continue
		}

		results = append(results, r.runVariant(ctx, suite, tc, mc))
	}
	return results
}

func (r *Runner) runVariant(ctx context.Context, suite string, tc contract.TestCase, mc *mutation.Case) CaseResult {
	result := CaseResult{
		Suite:    suite,
		Case:     tc.Name,
		Variant:  mc.Name,
		Strategy: string(mc.Strategy),
	}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	spec := r.buildSpec(tc, fmt.Sprintf("%s/%s", tc.Name, mc.Name), mc.Payload)

	resp, err := r.opts.Executor.Execute(ctx, spec)
	if err != nil {
		result.Status = StatusFailed
		result.Err = err.Error()
		return result
	}
	result.ActualStatus = resp.Status

	if resp.Status >= 400 {
		result.Status = StatusPassed
	} else {
		result.Status = StatusFailed
		result.Err = fmt.Sprintf("mutated payload was accepted with status %d", resp.Status)
	}
	return result
}

func (r *Runner) buildSpec(tc contract.TestCase, name string, body map[string]interface{}) executor.RequestSpec {
	url := tc.URL
	if !strings.Contains(url, "://") {
		url = strings.TrimSuffix(r.opts.BaseURL, "/") + "/" + strings.TrimPrefix(url, "/")
	}

	timeout := tc.Timeout
	if timeout == 0 {
		timeout = r.opts.DefaultTimeout
	}

	return executor.RequestSpec{
		Case:     name,
		Method:   tc.Method,
		URL:      url,
		Headers:  tc.Headers,
		Query:    tc.Params,
		Body:     body,
		Timeout:  timeout,
		Unauthed: tc.Unauthed,
	}
}

func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
