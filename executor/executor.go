// Package executor defines the boundary to the external system that performs
// the actual work. The engine only submits work and queries its status; how
// jobs execute is the executor's business.
package executor

import (
	"context"
	"errors"
	"fmt"
)

// Client submits work and reports its status.
type Client interface {
	// Submit hands params to the executor and returns its job identifier.
	// A rejection is reported as *SubmissionError. Submit is not assumed
	// to be idempotent and is never retried by the engine.
	Submit(ctx context.Context, params []byte) (string, error)

	// QueryStatus returns the current raw status of jobID. Failures are
	// reported as *QueryError. Querying twice causes no duplicate work.
	QueryStatus(ctx context.Context, jobID string) (RawStatus, error)
}

// RawStatus is an uninterpreted status response.
type RawStatus struct {
	// Value is the status string fed to the classifier.
	Value string
	// Payload is the full response body, kept as the run's audit record.
	Payload []byte
}

var (
	// ErrSubmission is the sentinel wrapped by SubmissionError.
	ErrSubmission = errors.New("executor: submission rejected")
	// ErrQuery is the sentinel wrapped by QueryError.
	ErrQuery = errors.New("executor: status query failed")
)

// SubmissionError reports that the executor rejected a submission
// (validation, quota, unavailability). It is fatal for the run.
type SubmissionError struct {
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor: submission rejected: %s: %v", e.Reason, e.Err)
	}
	return "executor: submission rejected: " + e.Reason
}

// Is matches ErrSubmission.
func (e *SubmissionError) Is(target error) bool { return target == ErrSubmission }

// Unwrap returns the underlying cause.
func (e *SubmissionError) Unwrap() error { return e.Err }

// QueryError reports that a status query failed: the executor was
// unreachable or did not know the job. It is transient for the run.
type QueryError struct {
	JobID  string
	Reason string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor: query %s: %s: %v", e.JobID, e.Reason, e.Err)
	}
	return fmt.Sprintf("executor: query %s: %s", e.JobID, e.Reason)
}

// Is matches ErrQuery.
func (e *QueryError) Is(target error) bool { return target == ErrQuery }

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error { return e.Err }
