// Package status maps the executor's raw status vocabulary onto the three
// phases the state machine understands. Classification is total over the
// configured vocabulary: a value outside it is an error, never "running".
package status

import (
	"errors"
	"fmt"
	"strings"
)

// Phase is the classified outcome of a status query.
type Phase int

const (
	// Running means the job has not finished; keep polling.
	Running Phase = iota + 1
	// Succeeded means the job finished successfully.
	Succeeded
	// Failed means the job finished unsuccessfully.
	Failed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ErrUnknownStatus is the sentinel wrapped by UnknownStatusError.
var ErrUnknownStatus = errors.New("status: unknown status")

// UnknownStatusError reports a raw status outside the vocabulary. It signals
// a defect (the executor and the vocabulary disagree) and must be surfaced
// to operators.
type UnknownStatusError struct {
	Raw string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("status: unknown status %q", e.Raw)
}

// Unwrap returns ErrUnknownStatus.
func (e *UnknownStatusError) Unwrap() error { return ErrUnknownStatus }

// Vocabulary lists the raw values for each phase.
type Vocabulary struct {
	Running   []string
	Succeeded []string
	Failed    []string
}

// DefaultVocabulary is the AWS Batch job status set.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Running:   []string{"SUBMITTED", "PENDING", "RUNNABLE", "STARTING", "RUNNING"},
		Succeeded: []string{"SUCCEEDED"},
		Failed:    []string{"FAILED"},
	}
}

// Classifier is an immutable raw-status → Phase table. Safe for concurrent use.
type Classifier struct {
	table map[string]Phase
}

// NewClassifier builds a Classifier. Each value may belong to one phase only,
// and every phase needs at least one value.
func NewClassifier(v Vocabulary) (*Classifier, error) {
	c := &Classifier{table: make(map[string]Phase)}
	groups := []struct {
		phase  Phase
		values []string
	}{
		{Running, v.Running},
		{Succeeded, v.Succeeded},
		{Failed, v.Failed},
	}
	for _, g := range groups {
		if len(g.values) == 0 {
			return nil, fmt.Errorf("status: no values for phase %s", g.phase)
		}
		for _, raw := range g.values {
			key := normalize(raw)
			if key == "" {
				return nil, fmt.Errorf("status: empty value for phase %s", g.phase)
			}
			if prev, dup := c.table[key]; dup {
				return nil, fmt.Errorf("status: %q listed for both %s and %s", raw, prev, g.phase)
			}
			c.table[key] = g.phase
		}
	}
	return c, nil
}

// Default returns a Classifier over DefaultVocabulary.
func Default() *Classifier {
	c, err := NewClassifier(DefaultVocabulary())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify maps a raw status to its phase. Matching ignores surrounding
// whitespace and letter case.
func (c *Classifier) Classify(raw string) (Phase, error) {
	p, ok := c.table[normalize(raw)]
	if !ok {
		return 0, &UnknownStatusError{Raw: raw}
	}
	return p, nil
}

// Merge returns v with every non-empty list in override replacing its
// counterpart.
func (v Vocabulary) Merge(override Vocabulary) Vocabulary {
	if len(override.Running) > 0 {
		v.Running = override.Running
	}
	if len(override.Succeeded) > 0 {
		v.Succeeded = override.Succeeded
	}
	if len(override.Failed) > 0 {
		v.Failed = override.Failed
	}
	return v
}

func normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
