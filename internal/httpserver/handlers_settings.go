package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"hermescore/internal/auth"
	"hermescore/internal/settings"
)

// IngestWindowHandler reads and writes the rolling sync window.
type IngestWindowHandler struct {
	Settings *settings.Service
	Logger   *slog.Logger
}

func (h *IngestWindowHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]int{"days": h.Settings.IngestWindowDays()})
	case http.MethodPut:
		if !requireWriter(w, r) {
			return
		}
		var payload struct {
			Days int `json:"days"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		days, err := h.Settings.SetIngestWindowDays(payload.Days)
		if err != nil {
			if errors.Is(err, settings.ErrInvalidWindow) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.Logger.Error("set ingest window", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"days": days})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// IngestProfileHandler reads and writes the sync profile. The stored value
// is always the sanitized form; the response echoes what was persisted so
// the client learns about clamps and channel fallbacks.
type IngestProfileHandler struct {
	Settings *settings.Service
	Logger   *slog.Logger
}

func (h *IngestProfileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Settings.IngestProfile())
	case http.MethodPut:
		if !requireWriter(w, r) {
			return
		}
		var payload settings.IngestProfile
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		stored, err := h.Settings.SetIngestProfile(payload)
		if err != nil {
			h.Logger.Error("set ingest profile", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stored)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ThemeHandler persists the UI theme preference.
type ThemeHandler struct {
	Settings *settings.Service
	Logger   *slog.Logger
}

func (h *ThemeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		theme, ok := h.Settings.Theme()
		writeJSON(w, http.StatusOK, map[string]interface{}{"theme": theme, "set": ok})
	case http.MethodPut:
		var payload struct {
			Theme string `json:"theme"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := h.Settings.SetTheme(payload.Theme); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"theme": payload.Theme})
	case http.MethodDelete:
		if err := h.Settings.ClearTheme(); err != nil {
			h.Logger.Error("clear theme", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ExportDirHandler persists the export directory preference.
type ExportDirHandler struct {
	Settings *settings.Service
	Logger   *slog.Logger
}

func (h *ExportDirHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		dir, ok := h.Settings.ExportDir()
		writeJSON(w, http.StatusOK, map[string]interface{}{"path": dir, "set": ok})
	case http.MethodPut:
		var payload struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := h.Settings.SetExportDir(payload.Path); err != nil {
			if errors.Is(err, settings.ErrExportDirMissing) || errors.Is(err, settings.ErrExportDirNotDir) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.Logger.Error("set export dir", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"path": payload.Path})
	case http.MethodDelete:
		if err := h.Settings.SetExportDir(""); err != nil {
			h.Logger.Error("clear export dir", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
