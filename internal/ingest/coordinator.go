package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hermescore/internal/collect"
	"hermescore/internal/crash"
	"hermescore/internal/events"
	"hermescore/internal/metrics"
	"hermescore/internal/settings"
	"hermescore/internal/store"
)

// SyncResult is what a sync reports back: how many events the host
// returned, plus any degraded-collection warnings. A sync either produces
// this or a hard error; there is no partially-applied middle ground
// visible to callers.
type SyncResult struct {
	Collected int      `json:"collected"`
	Warnings  []string `json:"warnings"`
}

// Coordinator owns the single-writer discipline over the cache store:
// refresh, range sync, and crash import are mutually exclusive so coverage
// bookkeeping never sees interleaved partial writes. Reads do not take the
// lock.
type Coordinator struct {
	mu sync.Mutex

	collector collect.Collector
	hostOS    events.OS
	store     *store.Store
	settings  *settings.Service
	importer  *crash.Importer
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// timeout bounds a single collector invocation so a stuck native call
	// cannot hold the writer lock forever.
	timeout time.Duration
	now     func() time.Time
}

func NewCoordinator(
	collector collect.Collector,
	hostOS events.OS,
	st *store.Store,
	svc *settings.Service,
	importer *crash.Importer,
	m *metrics.Metrics,
	logger *slog.Logger,
	timeout time.Duration,
) *Coordinator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Coordinator{
		collector: collector,
		hostOS:    hostOS,
		store:     st,
		settings:  svc,
		importer:  importer,
		metrics:   m,
		logger:    logger,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Refresh performs a rolling-window sync: collect [now - windowDays, now],
// upsert, then prune rows that fell out of the window. Backfilled history
// outside the window does not survive a refresh; use SyncRange for additive
// loads.
func (c *Coordinator) Refresh(ctx context.Context) (SyncResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	from := now.AddDate(0, 0, -c.settings.IngestWindowDays())

	res, err := c.collectAndStore(ctx, from, now)
	if err != nil {
		return SyncResult{}, err
	}

	pruned, err := c.store.PruneBefore(from)
	if err != nil {
		return SyncResult{}, fmt.Errorf("prune outside window: %w", err)
	}
	if pruned > 0 {
		c.logger.Info("pruned events outside ingest window", "count", pruned)
	}
	return res, nil
}

// SyncRange collects an explicit span. Inverted bounds are swapped, never
// rejected: these are user-typed dates. Default semantics are additive
// backfill; replaceOutsideRange additionally drops cached rows outside
// [from, to] to keep a range-focused view consistent.
func (c *Coordinator) SyncRange(ctx context.Context, from, to time.Time, replaceOutsideRange bool) (SyncResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if from.After(to) {
		from, to = to, from
	}

	res, err := c.collectAndStore(ctx, from, to)
	if err != nil {
		return SyncResult{}, err
	}

	if replaceOutsideRange {
		pruned, err := c.store.PruneOutside(from, to)
		if err != nil {
			return SyncResult{}, fmt.Errorf("prune outside range: %w", err)
		}
		if pruned > 0 {
			c.logger.Info("pruned events outside requested range", "count", pruned)
		}
	}
	return res, nil
}

func (c *Coordinator) collectAndStore(ctx context.Context, from, to time.Time) (SyncResult, error) {
	profile := c.settings.IngestProfile()

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := c.now()
	collected, err := c.collector.Collect(cctx, collect.Range{From: from, To: to}, collect.Options{
		Channels:  profile.WindowsChannels,
		MaxEvents: profile.MaxEventsPerSync,
	})
	c.metrics.SyncDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		c.metrics.SyncTotal.WithLabelValues("error").Inc()
		c.logger.Error("collection failed", "err", err, "from", from, "to", to)
		return SyncResult{}, fmt.Errorf("collect events: %w", err)
	}

	normalized := make([]events.NormalizedEvent, 0, len(collected.Records))
	for _, raw := range collected.Records {
		normalized = append(normalized, events.Normalize(raw))
	}

	inserted, err := c.store.UpsertEvents(normalized)
	if err != nil {
		c.metrics.SyncTotal.WithLabelValues("error").Inc()
		return SyncResult{}, err
	}

	c.metrics.SyncTotal.WithLabelValues("ok").Inc()
	c.metrics.EventsCollected.Add(float64(len(normalized)))
	c.metrics.SyncWarnings.Add(float64(len(collected.Warnings)))
	c.logger.Info("sync complete",
		"collected", len(normalized), "inserted", inserted,
		"warnings", len(collected.Warnings), "from", from, "to", to)

	return SyncResult{Collected: len(normalized), Warnings: collected.Warnings}, nil
}

// ImportHostCrashes scans the host's crash artifact locations and persists
// records not seen before. Shares the writer lock with syncs. Returns the
// number of newly added records; zero is a normal outcome.
func (c *Coordinator) ImportHostCrashes(ctx context.Context, limit int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	records, warnings := c.importer.Scan(cctx, limit)
	for _, w := range warnings {
		c.logger.Warn("crash scan warning", "warning", w)
	}

	added, err := c.store.SaveCrashes(records)
	if err != nil {
		return 0, err
	}
	c.metrics.CrashesImported.Add(float64(added))
	c.logger.Info("crash import complete", "scanned", len(records), "added", added)
	return added, nil
}
