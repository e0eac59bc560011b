package httpserver

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"hermescore/internal/auth"
	"hermescore/internal/ingest"
	"hermescore/internal/metrics"
	"hermescore/internal/settings"
	"hermescore/internal/store"
)

func NewRouter(
	logger *slog.Logger,
	authSvc *auth.Service,
	st *store.Store,
	pool *store.ImportedPool,
	coordinator *ingest.Coordinator,
	settingsSvc *settings.Service,
	m *metrics.Metrics,
	importAPIKey string,
) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", m.Handler())

	// Auth
	mux.Handle("/api/v1/auth/login", loginHandler(authSvc, logger))

	secured := auth.JWTMiddleware(authSvc)

	// Host identity
	mux.Handle("/api/v1/host", secured(&HostHandler{}))

	// Settings
	mux.Handle("/api/v1/settings/ingest-window", secured(&IngestWindowHandler{Settings: settingsSvc, Logger: logger}))
	mux.Handle("/api/v1/settings/ingest-profile", secured(&IngestProfileHandler{Settings: settingsSvc, Logger: logger}))
	mux.Handle("/api/v1/settings/theme", secured(&ThemeHandler{Settings: settingsSvc, Logger: logger}))
	mux.Handle("/api/v1/settings/export-dir", secured(&ExportDirHandler{Settings: settingsSvc, Logger: logger}))

	// Events
	mux.Handle("/api/v1/events/refresh", secured(&RefreshHandler{Coordinator: coordinator, Logger: logger}))
	mux.Handle("/api/v1/events/sync-range", secured(&SyncRangeHandler{Coordinator: coordinator, Logger: logger}))
	mux.Handle("/api/v1/events", secured(&EventsHandler{Store: st, Logger: logger}))
	mux.Handle("/api/v1/events/coverage", secured(&CoverageHandler{Store: st, Logger: logger}))
	mux.Handle("/api/v1/events/import", &ImportEventsHandler{Pool: pool, Logger: logger, APIKey: importAPIKey})

	// Crashes
	mux.Handle("/api/v1/crashes/import", secured(&CrashImportHandler{Coordinator: coordinator, Logger: logger}))
	mux.Handle("/api/v1/crashes", secured(&CrashListHandler{Store: st, Logger: logger}))
	mux.Handle("/api/v1/crashes/", secured(&CrashDetailHandler{Store: st, Pool: pool, Logger: logger}))

	// CORS wrapper (simple, for local UI/tools).
	return withCORS(mux)
}
