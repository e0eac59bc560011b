package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hermescore/internal/auth"
	"hermescore/internal/collect"
	"hermescore/internal/crash"
	"hermescore/internal/db"
	"hermescore/internal/events"
	"hermescore/internal/ingest"
	"hermescore/internal/metrics"
	"hermescore/internal/settings"
	"hermescore/internal/store"
)

type stubCollector struct {
	records []events.RawRecord
}

func (s *stubCollector) Collect(_ context.Context, r collect.Range, _ collect.Options) (collect.Result, error) {
	var out []events.RawRecord
	for _, rec := range s.records {
		if !r.From.IsZero() && rec.Time.Before(r.From) {
			continue
		}
		if !r.To.IsZero() && rec.Time.After(r.To) {
			continue
		}
		out = append(out, rec)
	}
	return collect.Result{Records: out}, nil
}

type apiFixture struct {
	handler     http.Handler
	store       *store.Store
	pool        *store.ImportedPool
	collector   *stubCollector
	adminToken  string
	viewerToken string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	st, err := store.New(database)
	require.NoError(t, err)
	pool := store.NewImportedPool()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	userStore := auth.NewStore(database)
	_, err = userStore.Create(ctx, "admin", "adminpass", auth.RoleAdmin)
	require.NoError(t, err)
	_, err = userStore.Create(ctx, "viewer", "viewerpass", auth.RoleReadOnly)
	require.NoError(t, err)
	authSvc := auth.NewService(userStore, "test-secret")

	_, adminToken, err := authSvc.Authenticate(ctx, "admin", "adminpass")
	require.NoError(t, err)
	_, viewerToken, err := authSvc.Authenticate(ctx, "viewer", "viewerpass")
	require.NoError(t, err)

	settingsSvc := settings.NewService(st)
	collector := &stubCollector{}
	importer := &crash.Importer{OS: events.OSLinux, ApportDir: t.TempDir()}
	coordinator := ingest.NewCoordinator(
		collector, events.OSLinux, st, settingsSvc, importer, metrics.New(), logger, time.Minute)

	handler := NewRouter(logger, authSvc, st, pool, coordinator, settingsSvc, metrics.New(), "import-key")
	return &apiFixture{
		handler:     handler,
		store:       st,
		pool:        pool,
		collector:   collector,
		adminToken:  adminToken,
		viewerToken: viewerToken,
	}
}

func (fx *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthzIsOpen(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsRequireAuth(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodGet, "/api/v1/events", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/events", fx.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshRequiresWriterRole(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/events/refresh", fx.viewerToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	fx.collector.records = []events.RawRecord{{
		OS:      events.OSLinux,
		Channel: "journal",
		Time:    time.Now().UTC().Add(-time.Hour),
		Fields:  map[string]string{"MESSAGE": "service started", "_COMM": "cron", "PRIORITY": "6"},
	}}
	rec = fx.do(t, http.MethodPost, "/api/v1/events/refresh", fx.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Collected int      `json:"collected"`
		Warnings  []string `json:"warnings"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Collected)
	// An empty warning list is an explicit [], never null.
	require.NotNil(t, resp.Warnings)
	require.Empty(t, resp.Warnings)
}

func TestEventsFilterAndTruncationField(t *testing.T) {
	fx := newAPIFixture(t)
	now := time.Now().UTC().Add(-time.Hour)
	fx.collector.records = []events.RawRecord{
		{OS: events.OSLinux, Channel: "journal", Time: now,
			Fields: map[string]string{"MESSAGE": "disk failure on sda", "_COMM": "smartd", "PRIORITY": "3"}},
		{OS: events.OSLinux, Channel: "journal", Time: now.Add(time.Minute),
			Fields: map[string]string{"MESSAGE": "routine cleanup", "_COMM": "cron", "PRIORITY": "6"}},
	}
	rec := fx.do(t, http.MethodPost, "/api/v1/events/refresh", fx.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/events?minSeverity=error", fx.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events    []events.NormalizedEvent `json:"events"`
		Truncated int                      `json:"truncated"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Events, 1)
	require.Equal(t, events.SeverityError, resp.Events[0].Severity)
	require.Equal(t, 0, resp.Truncated)

	rec = fx.do(t, http.MethodGet, "/api/v1/events?from=bogus", fx.adminToken, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncRangeAcceptsInvertedDates(t *testing.T) {
	fx := newAPIFixture(t)
	fx.collector.records = []events.RawRecord{{
		OS:      events.OSLinux,
		Channel: "journal",
		Time:    time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC),
		Fields:  map[string]string{"MESSAGE": "historic entry", "_COMM": "cron", "PRIORITY": "6"},
	}}

	rec := fx.do(t, http.MethodPost, "/api/v1/events/sync-range", fx.adminToken, map[string]interface{}{
		"from": "2026-02-20",
		"to":   "2026-02-10",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Collected int `json:"collected"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Collected)
}

func TestCoverageGapClassification(t *testing.T) {
	fx := newAPIFixture(t)
	fx.collector.records = []events.RawRecord{{
		OS:      events.OSLinux,
		Channel: "journal",
		Time:    time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC),
		Fields:  map[string]string{"MESSAGE": "historic entry", "_COMM": "cron", "PRIORITY": "6"},
	}}
	rec := fx.do(t, http.MethodPost, "/api/v1/events/sync-range", fx.adminToken, map[string]interface{}{
		"from": "2026-02-14", "to": "2026-02-16",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodGet,
		"/api/v1/events/coverage?from=2026-05-01&to=2026-05-02", fx.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Gap string `json:"gap"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, string(ingest.GapFullyOutside), resp.Gap)
}

func TestImportEventsStaysOutOfCacheStore(t *testing.T) {
	fx := newAPIFixture(t)
	payload := []events.NormalizedEvent{{
		Timestamp: time.Now().UTC(),
		OS:        events.OSLinux,
		LogName:   "journal",
		Category:  events.CategorySystem,
		Provider:  "other-host",
		Severity:  events.SeverityWarning,
		Message:   "imported from file",
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/import", marshalBody(t, payload))
	req.Header.Set("X-Api-Key", "wrong")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/events/import", marshalBody(t, payload))
	req.Header.Set("X-Api-Key", "import-key")
	rec = httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Added int `json:"added"`
		Total int `json:"total"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Added)
	require.Equal(t, 1, fx.pool.Count())

	// Imported events never reach the cache store's query surface.
	listRec := fx.do(t, http.MethodGet, "/api/v1/events", fx.adminToken, nil)
	var listResp struct {
		Events []events.NormalizedEvent `json:"events"`
	}
	decodeBody(t, listRec, &listResp)
	require.Empty(t, listResp.Events)
}

func TestCrashCorrelationEndpoints(t *testing.T) {
	fx := newAPIFixture(t)
	crashTime := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
	rec := crash.Record{
		ID:        crash.DeriveID("/var/crash/_usr_bin_app.1000.crash"),
		Timestamp: crashTime,
		OS:        events.OSLinux,
		Source:    "apport",
		CrashType: "Application Crash",
		Summary:   "app crashed",
		RawPath:   "/var/crash/_usr_bin_app.1000.crash",
	}
	added, err := fx.store.SaveCrashes([]crash.Record{rec})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	pre := events.NormalizedEvent{
		Timestamp: crashTime.Add(-5 * time.Minute),
		OS:        events.OSLinux,
		LogName:   "journal",
		Category:  events.CategorySystem,
		Provider:  "appd",
		Severity:  events.SeverityError,
		Message:   "segfault in worker thread",
	}
	pre.ID = events.DeriveID(pre.OS, "journal", pre.Timestamp, pre.Provider, nil, pre.Message)
	_, err = fx.store.UpsertEvents([]events.NormalizedEvent{pre})
	require.NoError(t, err)

	listRec := fx.do(t, http.MethodGet, "/api/v1/crashes", fx.adminToken, nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var crashes []crash.Record
	decodeBody(t, listRec, &crashes)
	require.Len(t, crashes, 1)

	relRec := fx.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/crashes/%s/related", rec.ID), fx.adminToken, nil)
	require.Equal(t, http.StatusOK, relRec.Code)
	var related []events.NormalizedEvent
	decodeBody(t, relRec, &related)
	require.Len(t, related, 1)
	require.Equal(t, "segfault in worker thread", related[0].Message)

	preRec := fx.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/crashes/%s/precrash", rec.ID), fx.adminToken, nil)
	require.Equal(t, http.StatusOK, preRec.Code)
	var preResp struct {
		Mode   string                   `json:"mode"`
		Events []events.NormalizedEvent `json:"events"`
	}
	decodeBody(t, preRec, &preResp)
	require.Equal(t, "strict", preResp.Mode)
	require.Len(t, preResp.Events, 1)

	missing := fx.do(t, http.MethodGet, "/api/v1/crashes/no-such-id/related", fx.adminToken, nil)
	require.Equal(t, http.StatusNotFound, missing.Code)
}

func TestPreCrashFallbackMode(t *testing.T) {
	fx := newAPIFixture(t)
	crashTime := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
	rec := crash.Record{
		ID:        crash.DeriveID("/var/crash/_usr_bin_other.1000.crash"),
		Timestamp: crashTime,
		OS:        events.OSLinux,
		Source:    "apport",
		CrashType: "Application Crash",
		Summary:   "other crashed",
		RawPath:   "/var/crash/_usr_bin_other.1000.crash",
	}
	_, err := fx.store.SaveCrashes([]crash.Record{rec})
	require.NoError(t, err)

	// Only post-crash activity exists.
	post := events.NormalizedEvent{
		Timestamp: crashTime.Add(5 * time.Minute),
		OS:        events.OSLinux,
		LogName:   "journal",
		Category:  events.CategorySystem,
		Provider:  "systemd",
		Severity:  events.SeverityWarning,
		Message:   "service restarted after crash",
	}
	post.ID = events.DeriveID(post.OS, "journal", post.Timestamp, post.Provider, nil, post.Message)
	_, err = fx.store.UpsertEvents([]events.NormalizedEvent{post})
	require.NoError(t, err)

	preRec := fx.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/crashes/%s/precrash", rec.ID), fx.adminToken, nil)
	require.Equal(t, http.StatusOK, preRec.Code)
	var resp struct {
		Mode   string                   `json:"mode"`
		Events []events.NormalizedEvent `json:"events"`
	}
	decodeBody(t, preRec, &resp)
	require.Equal(t, "fallback", resp.Mode)
	require.Len(t, resp.Events, 1)
}

func TestSettingsValidationOverHTTP(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPut, "/api/v1/settings/ingest-window", fx.adminToken,
		map[string]int{"days": 500})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodPut, "/api/v1/settings/ingest-window", fx.adminToken,
		map[string]int{"days": 14})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/settings/ingest-window", fx.viewerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Days int `json:"days"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 14, resp.Days)

	// Read-only callers cannot write settings.
	rec = fx.do(t, http.MethodPut, "/api/v1/settings/ingest-window", fx.viewerToken,
		map[string]int{"days": 3})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = fx.do(t, http.MethodPut, "/api/v1/settings/theme", fx.adminToken,
		map[string]string{"theme": "neon"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestProfileEchoesSanitizedForm(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodPut, "/api/v1/settings/ingest-profile", fx.adminToken,
		map[string]interface{}{
			"maxEventsPerSync": 50,
			"windowsChannels":  []string{"bogus"},
		})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp settings.IngestProfile
	decodeBody(t, rec, &resp)
	require.Equal(t, settings.MinMaxEventsPerSync, resp.MaxEventsPerSync)
	require.Equal(t, []string{"Application"}, resp.WindowsChannels)
}

func TestCORSPreflight(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodOptions, "/api/v1/events", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoginFlow(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "admin", "password": "adminpass"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.Token)

	rec = fx.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "admin", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fx.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "admin"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseDate(t *testing.T) {
	for _, raw := range []string{"2026-02-20", "2026-02-20T14:03:22Z", "2026-02-20T14:03:22.123Z"} {
		_, ok := parseDate(raw)
		require.True(t, ok, raw)
	}
	for _, raw := range []string{"", "02/20/2026", "yesterday"} {
		_, ok := parseDate(raw)
		require.False(t, ok, raw)
	}
}

func marshalBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}
