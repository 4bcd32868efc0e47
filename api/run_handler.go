package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/jobpoller/coordinator"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	opts := workflow.ListOpts{
		Limit:  limit,
		Offset: offset,
		SlotID: q.Get("slot"),
	}
	if s := q.Get("state"); s != "" {
		st := workflow.State(strings.ToUpper(s))
		if !st.Valid() {
			writeErr(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", s))
			return
		}
		opts.State = st
	}
	opts.ActiveOnly = q.Get("active") == "true"

	runs, err := a.eng.ListRuns(r.Context(), opts)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": runViews(runs)})
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	run, err := a.eng.GetRun(r.Context(), runID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runView(run))
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	if _, err := a.eng.GetRun(r.Context(), runID); err != nil {
		writeStoreErr(w, err)
		return
	}
	events, err := a.eng.ListEvents(r.Context(), runID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func (a *API) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	if _, err := a.eng.Cancel(r.Context(), runID); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type triggerRequest struct {
	SlotID     string          `json:"slot_id"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

func (a *API) trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := a.eng.Trigger(r.Context(), coordinator.Trigger{
		SlotID:     req.SlotID,
		Parameters: rawParams(req.Parameters),
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	code := http.StatusCreated
	if res.Skipped {
		code = http.StatusOK
	}
	writeJSON(w, code, triggerView(res))
}

func runIDParam(w http.ResponseWriter, r *http.Request) (id.RunID, bool) {
	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("invalid run id: %v", err))
		return id.Nil, false
	}
	return runID, true
}
