package executor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/jobpoller/executor"
)

func TestSubmissionError_Matching(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := error(&executor.SubmissionError{Reason: "http 429", Err: cause})

	if !errors.Is(err, executor.ErrSubmission) {
		t.Error("expected errors.Is(err, ErrSubmission)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if errors.Is(err, executor.ErrQuery) {
		t.Error("submission error must not match ErrQuery")
	}
}

func TestQueryError_Matching(t *testing.T) {
	err := error(&executor.QueryError{JobID: "job-1", Reason: "timeout", Err: context.DeadlineExceeded})

	if !errors.Is(err, executor.ErrQuery) {
		t.Error("expected errors.Is(err, ErrQuery)")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected DeadlineExceeded through Unwrap")
	}
	var qe *executor.QueryError
	if !errors.As(err, &qe) || qe.JobID != "job-1" {
		t.Errorf("errors.As failed: %v", err)
	}
}
