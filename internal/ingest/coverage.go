package ingest

import (
	"time"

	"hermescore/internal/store"
)

// Gap classifies a requested date range against the cache's current
// coverage. It drives "load this range first" hints in the UI; nothing here
// is enforced server-side.
type Gap string

const (
	// GapFullyOutside: none of the requested range is loaded.
	GapFullyOutside Gap = "fully_outside"
	// GapExtendsBeyond: the request overlaps coverage but reaches past at
	// least one edge.
	GapExtendsBeyond Gap = "extends_beyond"
	// GapCovered: the request lies entirely within loaded coverage.
	GapCovered Gap = "covered"
)

// ClassifyCoverage is a pure function of the derived coverage and a
// requested range. Inverted bounds are swapped, matching SyncRange.
func ClassifyCoverage(cov store.Coverage, from, to time.Time) Gap {
	if from.After(to) {
		from, to = to, from
	}
	if cov.Empty() {
		return GapFullyOutside
	}
	if to.Before(cov.Start) || from.After(cov.End) {
		return GapFullyOutside
	}
	if from.Before(cov.Start) || to.After(cov.End) {
		return GapExtendsBeyond
	}
	return GapCovered
}
