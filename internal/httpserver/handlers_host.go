package httpserver

import (
	"net/http"

	"hermescore/internal/auth"
	"hermescore/internal/collect"
)

// HostHandler reports the detected host OS and version.
type HostHandler struct{}

func (h *HostHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"os":      string(collect.HostOS()),
		"version": collect.HostOSVersion(r.Context()),
	})
}
