package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"hermescore/internal/auth"
	"hermescore/internal/correlate"
	"hermescore/internal/crash"
	"hermescore/internal/events"
	"hermescore/internal/ingest"
	"hermescore/internal/store"
)

// CrashImportHandler scans host crash artifacts into the store.
type CrashImportHandler struct {
	Coordinator *ingest.Coordinator
	Logger      *slog.Logger
}

func (h *CrashImportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireWriter(w, r) {
		return
	}
	var payload struct {
		Limit int `json:"limit"`
	}
	if r.Body != nil {
		// An empty body means "default limit".
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	added, err := h.Coordinator.ImportHostCrashes(r.Context(), payload.Limit)
	if err != nil {
		h.Logger.Error("import crashes", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": added})
}

// CrashListHandler lists stored crash records, newest first.
type CrashListHandler struct {
	Store  *store.Store
	Logger *slog.Logger
}

func (h *CrashListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	limit := 250
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	crashes, err := h.Store.Crashes(limit)
	if err != nil {
		h.Logger.Error("list crashes", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if crashes == nil {
		crashes = []crash.Record{}
	}
	writeJSON(w, http.StatusOK, crashes)
}

// CrashDetailHandler serves per-crash correlation:
// /api/v1/crashes/{id}/related and /api/v1/crashes/{id}/precrash.
// Correlation runs over the union of cached and imported events; the engine
// itself does no I/O, so this handler assembles the snapshot.
type CrashDetailHandler struct {
	Store  *store.Store
	Pool   *store.ImportedPool
	Logger *slog.Logger
}

func (h *CrashDetailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	// Path is /api/v1/crashes/{id}/{action}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 5 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	id, action := parts[3], parts[4]

	rec, err := h.Store.Crash(id)
	if err != nil {
		if errors.Is(err, store.ErrCrashNotFound) {
			writeError(w, http.StatusNotFound, "unknown crash id")
			return
		}
		h.Logger.Error("get crash", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	switch action {
	case "related":
		window := correlate.DefaultWindowMinutes
		if raw := q.Get("windowMinutes"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				window = n
			}
		}
		limit := correlate.DefaultRelatedLimit
		if raw := q.Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}
		snapshot, err := h.snapshot(rec, correlate.ClampWindow(window), correlate.ClampWindow(window))
		if err != nil {
			h.Logger.Error("correlation snapshot", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		related := correlate.Related(rec, snapshot, window, limit)
		if related == nil {
			related = []events.NormalizedEvent{}
		}
		writeJSON(w, http.StatusOK, related)

	case "precrash":
		pre := correlate.DefaultWindowMinutes
		if raw := q.Get("preWindowMinutes"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				pre = n
			}
		}
		pre = correlate.ClampWindow(pre)
		// The snapshot must span both the strict pre-window and the fixed
		// ±15 minute fallback window.
		before := pre
		if before < correlate.DefaultWindowMinutes {
			before = correlate.DefaultWindowMinutes
		}
		snapshot, err := h.snapshot(rec, before, correlate.DefaultWindowMinutes)
		if err != nil {
			h.Logger.Error("correlation snapshot", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		res := correlate.PreCrashFocus(rec, snapshot, pre)
		if res.Events == nil {
			res.Events = []events.NormalizedEvent{}
		}
		writeJSON(w, http.StatusOK, res)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// snapshot gathers cached events around the crash plus the imported pool.
func (h *CrashDetailHandler) snapshot(rec crash.Record, beforeMinutes, afterMinutes int) ([]events.NormalizedEvent, error) {
	from := rec.Timestamp.Add(-time.Duration(beforeMinutes) * time.Minute)
	to := rec.Timestamp.Add(time.Duration(afterMinutes) * time.Minute)
	cached, _, err := h.Store.QueryRange(from, to, store.MaxResidentEvents)
	if err != nil {
		return nil, err
	}
	return append(cached, h.Pool.Snapshot()...), nil
}
