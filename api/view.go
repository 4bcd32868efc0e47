package api

import (
	"encoding/json"

	"github.com/xraph/jobpoller/coordinator"
	"github.com/xraph/jobpoller/cron"
	"github.com/xraph/jobpoller/workflow"
)

// Run is the JSON view of a run. Parameters and the last status payload
// are embedded as JSON documents rather than base64 strings.
type Run struct {
	*workflow.Run
	Parameters        json.RawMessage `json:"parameters,omitempty"`
	LastStatusPayload json.RawMessage `json:"last_status_payload,omitempty"`
}

// TriggerResult is the JSON view of a coordinator.Result.
type TriggerResult struct {
	Run     *Run   `json:"run,omitempty"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// CronEntry is the JSON view of a cron entry.
type CronEntry struct {
	*cron.Entry
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

func runView(r *workflow.Run) *Run {
	if r == nil {
		return nil
	}
	return &Run{
		Run:               r,
		Parameters:        jsonPayload(r.Parameters),
		LastStatusPayload: jsonPayload(r.LastStatusPayload),
	}
}

func runViews(runs []*workflow.Run) []*Run {
	out := make([]*Run, len(runs))
	for i, r := range runs {
		out[i] = runView(r)
	}
	return out
}

func triggerView(res *coordinator.Result) *TriggerResult {
	return &TriggerResult{Run: runView(res.Run), Skipped: res.Skipped, Reason: res.Reason}
}

func cronView(e *cron.Entry) *CronEntry {
	return &CronEntry{Entry: e, Parameters: jsonPayload(e.Parameters)}
}

func cronViews(entries []*cron.Entry) []*CronEntry {
	out := make([]*CronEntry, len(entries))
	for i, e := range entries {
		out[i] = cronView(e)
	}
	return out
}

// jsonPayload embeds b as-is when it is valid JSON and as a JSON string
// otherwise.
func jsonPayload(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	s, _ := json.Marshal(string(b))
	return s
}
