package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"hermescore/internal/events"
)

// MaxResidentEvents is the hard ceiling on events returned through the
// query pipeline. Queries never return more; the overflow is reported as a
// truncation count so callers can surface it.
const MaxResidentEvents = 10000

// upsertBatch bounds the number of writes per transaction so large syncs
// stay under badger's transaction size limit.
const upsertBatch = 500

// Key layout. Event keys embed the big-endian nanosecond timestamp so a
// plain key iteration is a time-ordered range scan.
var (
	prefixEvent     = []byte("evt/")
	prefixEventID   = []byte("eid/")
	prefixPayload   = []byte("pay/")
	prefixCrash     = []byte("crh/")
	prefixCrashID   = []byte("cid/")
	prefixCrashPath = []byte("cpath/")
	prefixSetting   = []byte("set/")
)

// Store is the local cache for collected events, crash records, and small
// persisted settings. Imported events are never written here; they live in
// an ImportedPool.
type Store struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func New(db *badger.DB) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

func eventKey(ts time.Time, id string) []byte {
	key := make([]byte, 0, len(prefixEvent)+8+len(id))
	key = append(key, prefixEvent...)
	key = binary.BigEndian.AppendUint64(key, uint64(ts.UnixNano()))
	key = append(key, id...)
	return key
}

func eventKeyTime(key []byte) time.Time {
	raw := key[len(prefixEvent):]
	return time.Unix(0, int64(binary.BigEndian.Uint64(raw[:8]))).UTC()
}

func withPrefix(prefix []byte, suffix string) []byte {
	return append(append([]byte(nil), prefix...), suffix...)
}

// Coverage is the time span actually resident in the cache, derived from
// the stored rows rather than tracked separately.
type Coverage struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int       `json:"count"`
}

func (c Coverage) Empty() bool {
	return c.Count == 0
}

// UpsertEvents writes collected events, keyed by their stable identity.
// Re-inserting an event that is already present is a no-op, so calling it
// twice with the same set leaves the cache unchanged. Imported events are
// skipped: the cache has no write path for them. Returns the number of
// newly inserted rows.
func (s *Store) UpsertEvents(evs []events.NormalizedEvent) (int, error) {
	inserted := 0
	for start := 0; start < len(evs); start += upsertBatch {
		end := start + upsertBatch
		if end > len(evs) {
			end = len(evs)
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			for i := start; i < end; i++ {
				e := evs[i]
				if e.Imported || e.ID == "" {
					continue
				}
				n, err := s.upsertOne(txn, e)
				if err != nil {
					return err
				}
				inserted += n
			}
			return nil
		})
		if err != nil {
			return inserted, fmt.Errorf("upsert events: %w", err)
		}
	}
	return inserted, nil
}

func (s *Store) upsertOne(txn *badger.Txn, e events.NormalizedEvent) (int, error) {
	idKey := withPrefix(prefixEventID, e.ID)
	key := eventKey(e.Timestamp, e.ID)

	isNew := false
	item, err := txn.Get(idKey)
	switch {
	case err == nil:
		existing, err := item.ValueCopy(nil)
		if err != nil {
			return 0, err
		}
		if bytes.Equal(existing, key) {
			// Same record, same position: nothing to do.
			return 0, nil
		}
		// Same identity resurfaced with a corrected timestamp; replace the
		// old row.
		if err := txn.Delete(existing); err != nil {
			return 0, err
		}
	case errors.Is(err, badger.ErrKeyNotFound):
		isNew = true
	default:
		return 0, err
	}

	value, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	if err := txn.Set(key, value); err != nil {
		return 0, err
	}
	if err := txn.Set(idKey, key); err != nil {
		return 0, err
	}
	if len(e.Payload) > 0 {
		compressed := s.enc.EncodeAll(e.Payload, nil)
		if err := txn.Set(withPrefix(prefixPayload, e.ID), compressed); err != nil {
			return 0, err
		}
	}
	if isNew {
		return 1, nil
	}
	return 0, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxResidentEvents {
		return MaxResidentEvents
	}
	return limit
}

// QueryRange returns events with from <= timestamp <= to, up to limit, in
// storage (time) order, plus the number of matching rows that did not fit.
func (s *Store) QueryRange(from, to time.Time, limit int) ([]events.NormalizedEvent, int, error) {
	f := events.Filter{Since: from, Until: to, Limit: limit}
	return s.QueryFilter(f)
}

// QueryFilter returns events matching f, up to its limit (capped at
// MaxResidentEvents), plus a truncation count. Result order is storage
// order; sorting is a presentation concern.
func (s *Store) QueryFilter(f events.Filter) ([]events.NormalizedEvent, int, error) {
	limit := clampLimit(f.Limit)

	var result []events.NormalizedEvent
	truncated := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixEvent
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefixEvent
		if !f.Since.IsZero() {
			start = eventKey(f.Since, "")
		}
		for it.Seek(start); it.ValidForPrefix(prefixEvent); it.Next() {
			key := it.Item().Key()
			ts := eventKeyTime(key)
			if !f.Until.IsZero() && ts.After(f.Until) {
				break
			}
			var e events.NormalizedEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			if !f.Matches(&e) {
				continue
			}
			if len(result) < limit {
				result = append(result, e)
			} else {
				truncated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	return result, truncated, nil
}

// Payload returns the raw platform payload stored for an event, or nil if
// none was kept.
func (s *Store) Payload(id string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(withPrefix(prefixPayload, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := s.dec.DecodeAll(val, nil)
			if err != nil {
				return err
			}
			out = decoded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return out, nil
}

// PruneBefore removes events with timestamp < cutoff and returns how many
// were deleted.
func (s *Store) PruneBefore(cutoff time.Time) (int, error) {
	return s.pruneMatching(func(ts time.Time) bool {
		return ts.Before(cutoff)
	})
}

// PruneOutside removes events with timestamp outside [from, to].
func (s *Store) PruneOutside(from, to time.Time) (int, error) {
	return s.pruneMatching(func(ts time.Time) bool {
		return ts.Before(from) || ts.After(to)
	})
}

func (s *Store) pruneMatching(doomed func(time.Time) bool) (int, error) {
	// Collect keys under a read transaction first; deleting while
	// iterating the same txn invalidates the iterator.
	type victim struct {
		key []byte
		id  string
	}
	var victims []victim
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixEvent
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefixEvent); it.ValidForPrefix(prefixEvent); it.Next() {
			key := it.Item().KeyCopy(nil)
			if !doomed(eventKeyTime(key)) {
				continue
			}
			var e events.NormalizedEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			victims = append(victims, victim{key: key, id: e.ID})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan for prune: %w", err)
	}

	for start := 0; start < len(victims); start += upsertBatch {
		end := start + upsertBatch
		if end > len(victims) {
			end = len(victims)
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			for _, v := range victims[start:end] {
				if err := txn.Delete(v.key); err != nil {
					return err
				}
				if err := txn.Delete(withPrefix(prefixEventID, v.id)); err != nil {
					return err
				}
				if err := txn.Delete(withPrefix(prefixPayload, v.id)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("prune events: %w", err)
		}
	}
	return len(victims), nil
}

// EventCoverage derives the covered time span from the resident rows.
func (s *Store) EventCoverage() (Coverage, error) {
	var cov Coverage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixEvent
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefixEvent); it.ValidForPrefix(prefixEvent); it.Next() {
			ts := eventKeyTime(it.Item().Key())
			if cov.Count == 0 {
				cov.Start = ts
			}
			cov.End = ts
			cov.Count++
		}
		return nil
	})
	if err != nil {
		return Coverage{}, fmt.Errorf("compute coverage: %w", err)
	}
	return cov, nil
}
