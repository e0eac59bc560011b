package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"hermescore/internal/auth"
	"hermescore/internal/events"
	"hermescore/internal/ingest"
	"hermescore/internal/store"
)

// RefreshHandler runs a rolling-window sync for the host.
type RefreshHandler struct {
	Coordinator *ingest.Coordinator
	Logger      *slog.Logger
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireWriter(w, r) {
		return
	}
	res, err := h.Coordinator.Refresh(r.Context())
	if err != nil {
		h.Logger.Error("refresh", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(res))
}

// SyncRangeHandler runs an explicit-range sync (backfill by default).
type SyncRangeHandler struct {
	Coordinator *ingest.Coordinator
	Logger      *slog.Logger
}

func (h *SyncRangeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireWriter(w, r) {
		return
	}
	var payload struct {
		From                string `json:"from"`
		To                  string `json:"to"`
		ReplaceOutsideRange bool   `json:"replaceOutsideRange"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	from, ok := parseDate(payload.From)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, ok := parseDate(payload.To)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}
	res, err := h.Coordinator.SyncRange(r.Context(), from, to, payload.ReplaceOutsideRange)
	if err != nil {
		h.Logger.Error("sync range", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(res))
}

func syncResponse(res ingest.SyncResult) map[string]interface{} {
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return map[string]interface{}{
		"collected": res.Collected,
		"warnings":  warnings,
	}
}

// EventsHandler serves cached events by filter or explicit range. The
// response always carries the truncation count so the UI can show a size
// notice instead of silently dropping rows.
type EventsHandler struct {
	Store  *store.Store
	Logger *slog.Logger
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := events.Filter{}
	if os, ok := events.ParseOS(q.Get("os")); ok {
		filter.OS = os
	}
	if cat := q.Get("category"); cat != "" {
		filter.Category = events.Category(cat)
	}
	if sev := q.Get("minSeverity"); sev != "" {
		filter.MinSeverity = events.Severity(sev)
	}
	filter.Provider = q.Get("provider")
	filter.Text = q.Get("text")
	if raw := q.Get("from"); raw != "" {
		t, ok := parseDate(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid from date")
			return
		}
		filter.Since = t
	}
	if raw := q.Get("to"); raw != "" {
		t, ok := parseDate(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid to date")
			return
		}
		filter.Until = t
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if filter.Since.After(filter.Until) && !filter.Until.IsZero() {
		filter.Since, filter.Until = filter.Until, filter.Since
	}

	evs, truncated, err := h.Store.QueryFilter(filter)
	if err != nil {
		h.Logger.Error("query events", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if evs == nil {
		evs = []events.NormalizedEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":    evs,
		"truncated": truncated,
	})
}

// CoverageHandler reports the cache's derived coverage and, when a range is
// supplied, how that range relates to it.
type CoverageHandler struct {
	Store  *store.Store
	Logger *slog.Logger
}

func (h *CoverageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	cov, err := h.Store.EventCoverage()
	if err != nil {
		h.Logger.Error("coverage", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	resp := map[string]interface{}{"coverage": cov}

	q := r.URL.Query()
	if q.Get("from") != "" || q.Get("to") != "" {
		from, okFrom := parseDate(q.Get("from"))
		to, okTo := parseDate(q.Get("to"))
		if !okFrom || !okTo {
			writeError(w, http.StatusBadRequest, "invalid from/to date")
			return
		}
		resp["gap"] = ingest.ClassifyCoverage(cov, from, to)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ImportEventsHandler accepts file-imported events into the ephemeral
// session pool. Nothing here touches the cache store.
type ImportEventsHandler struct {
	Pool   *store.ImportedPool
	Logger *slog.Logger
	APIKey string
}

func (h *ImportEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.APIKey != "" && r.Header.Get("X-Api-Key") != h.APIKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var payload []events.NormalizedEvent
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event list")
		return
	}
	for i := range payload {
		if payload[i].ID == "" {
			payload[i].ID = events.DeriveID(payload[i].OS, "import",
				payload[i].Timestamp, payload[i].Provider, payload[i].EventID, payload[i].Message)
		}
		if payload[i].Timestamp.IsZero() {
			payload[i].Timestamp = time.Now().UTC()
		}
	}
	added := h.Pool.Add(payload)
	writeJSON(w, http.StatusOK, map[string]int{
		"added": added,
		"total": h.Pool.Count(),
	})
}

// requireWriter rejects unauthenticated or read-only callers.
func requireWriter(w http.ResponseWriter, r *http.Request) bool {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	if user.Role == auth.RoleReadOnly {
		w.WriteHeader(http.StatusForbidden)
		return false
	}
	return true
}
