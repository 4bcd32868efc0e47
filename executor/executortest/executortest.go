// Package executortest provides a scripted, in-memory executor.Client for
// tests and local development.
//
//	fake := executortest.New(executortest.Statuses("RUNNING", "RUNNING", "SUCCEEDED")...)
//
// Every submitted job replays the default script; AddJob scripts a specific
// job id. The n-th query of a job returns script[n], and the last entry
// repeats once the script is exhausted.
package executortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/jobpoller/executor"
)

// Compile-time interface check.
var _ executor.Client = (*Executor)(nil)

// Response is one scripted answer to QueryStatus.
type Response struct {
	Status  string
	Payload []byte
	Err     error
}

// Statuses builds a script of plain status values.
func Statuses(values ...string) []Response {
	out := make([]Response, len(values))
	for i, v := range values {
		out[i] = Response{Status: v}
	}
	return out
}

// Executor is a scripted executor.Client. It is safe for concurrent use.
type Executor struct {
	mu        sync.Mutex
	script    []Response
	jobs      map[string]*job
	submitErr error
	submits   [][]byte
	queries   []string
	seq       int

	// OnQuery, when set, is called with the job id before each query is
	// answered. Tests use it to observe or block polling.
	OnQuery func(jobID string)
}

type job struct {
	script  []Response
	queries int
}

// New creates an Executor whose submitted jobs replay script.
func New(script ...Response) *Executor {
	return &Executor{
		script: script,
		jobs:   make(map[string]*job),
	}
}

// AddJob registers jobID with its own script so QueryStatus can be used
// without a prior Submit.
func (e *Executor) AddJob(jobID string, script ...Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs[jobID] = &job{script: script}
}

// SetSubmitError makes every subsequent Submit fail with err wrapped in a
// SubmissionError. A nil err restores normal behaviour.
func (e *Executor) SetSubmitError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitErr = err
}

// Submit records params and returns a fresh job id.
func (e *Executor) Submit(ctx context.Context, params []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &executor.SubmissionError{Reason: "context", Err: err}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submits = append(e.submits, append([]byte(nil), params...))
	if e.submitErr != nil {
		return "", &executor.SubmissionError{Reason: "rejected", Err: e.submitErr}
	}
	e.seq++
	jobID := fmt.Sprintf("job-%d", e.seq)
	e.jobs[jobID] = &job{script: e.script}
	return jobID, nil
}

// QueryStatus answers from the job's script.
func (e *Executor) QueryStatus(ctx context.Context, jobID string) (executor.RawStatus, error) {
	e.mu.Lock()
	hook := e.OnQuery
	e.mu.Unlock()
	if hook != nil {
		hook(jobID)
	}
	if err := ctx.Err(); err != nil {
		return executor.RawStatus{}, &executor.QueryError{JobID: jobID, Reason: "context", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, jobID)
	j, ok := e.jobs[jobID]
	if !ok {
		return executor.RawStatus{}, &executor.QueryError{JobID: jobID, Reason: "unknown job"}
	}
	if len(j.script) == 0 {
		return executor.RawStatus{}, &executor.QueryError{JobID: jobID, Reason: "no scripted status"}
	}
	r := j.script[min(j.queries, len(j.script)-1)]
	j.queries++
	if r.Err != nil {
		return executor.RawStatus{}, &executor.QueryError{JobID: jobID, Reason: "scripted", Err: r.Err}
	}
	payload := r.Payload
	if payload == nil {
		payload = []byte(fmt.Sprintf(`{"status":%q}`, r.Status))
	}
	return executor.RawStatus{Value: r.Status, Payload: payload}, nil
}

// Submits returns the parameters of every Submit call, in order.
func (e *Executor) Submits() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.submits))
	copy(out, e.submits)
	return out
}

// Queries returns the job id of every QueryStatus call, in order.
func (e *Executor) Queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.queries))
	copy(out, e.queries)
	return out
}

// QueriesFor counts the queries made for jobID.
func (e *Executor) QueriesFor(jobID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, q := range e.queries {
		if q == jobID {
			n++
		}
	}
	return n
}
