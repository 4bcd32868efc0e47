package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/jobpoller/id"
)

type createCronRequest struct {
	Name       string          `json:"name"`
	Schedule   string          `json:"schedule"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

func (a *API) listCrons(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := a.eng.ListCrons(r.Context())
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	offset = min(offset, len(entries))
	end := min(offset+limit, len(entries))
	writeJSON(w, http.StatusOK, map[string]any{"items": cronViews(entries[offset:end])})
}

func (a *API) createCron(w http.ResponseWriter, r *http.Request) {
	var req createCronRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	entry, err := a.eng.RegisterCron(r.Context(), req.Name, req.Schedule, rawParams(req.Parameters))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cronView(entry))
}

func (a *API) getCron(w http.ResponseWriter, r *http.Request) {
	cronID, ok := cronIDParam(w, r)
	if !ok {
		return
	}
	entry, err := a.eng.Store().GetCron(r.Context(), cronID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cronView(entry))
}

func (a *API) enableCron(w http.ResponseWriter, r *http.Request) {
	a.setCronEnabled(w, r, true)
}

func (a *API) disableCron(w http.ResponseWriter, r *http.Request) {
	a.setCronEnabled(w, r, false)
}

func (a *API) setCronEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	cronID, ok := cronIDParam(w, r)
	if !ok {
		return
	}
	cs := a.eng.Store()
	entry, err := cs.GetCron(r.Context(), cronID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if entry.Enabled != enabled {
		entry.Enabled = enabled
		entry.UpdatedAt = time.Now().UTC()
		if err = cs.UpdateCronEntry(r.Context(), entry); err != nil {
			writeStoreErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, cronView(entry))
}

func (a *API) deleteCron(w http.ResponseWriter, r *http.Request) {
	cronID, ok := cronIDParam(w, r)
	if !ok {
		return
	}
	if err := a.eng.DeleteCron(r.Context(), cronID); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func cronIDParam(w http.ResponseWriter, r *http.Request) (id.CronID, bool) {
	cronID, err := id.ParseCronID(chi.URLParam(r, "cronID"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("invalid cron id: %v", err))
		return id.Nil, false
	}
	return cronID, true
}
