package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"hermescore/internal/crash"
)

// maxCrashResults caps a crash listing.
const maxCrashResults = 5000

func crashKey(ts time.Time, id string) []byte {
	key := append([]byte(nil), prefixCrash...)
	key = binary.BigEndian.AppendUint64(key, uint64(ts.UnixNano()))
	return append(key, id...)
}

// SaveCrashes persists crash records that are not already present,
// deduplicating by record identity (derived from the artifact source path)
// and, independently, by raw path. Returns how many records were new.
func (s *Store) SaveCrashes(records []crash.Record) (int, error) {
	added := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, rec := range records {
			if rec.ID == "" {
				continue
			}
			if _, err := txn.Get(withPrefix(prefixCrashID, rec.ID)); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if rec.RawPath != "" {
				pathKey := withPrefix(prefixCrashPath, crash.DeriveID(rec.RawPath))
				if _, err := txn.Get(pathKey); err == nil {
					continue
				} else if !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
				if err := txn.Set(pathKey, []byte(rec.ID)); err != nil {
					return err
				}
			}
			value, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			key := crashKey(rec.Timestamp, rec.ID)
			if err := txn.Set(key, value); err != nil {
				return err
			}
			if err := txn.Set(withPrefix(prefixCrashID, rec.ID), key); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("save crashes: %w", err)
	}
	return added, nil
}

// HasCrashPath reports whether a crash artifact at path was already
// imported.
func (s *Store) HasCrashPath(path string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(withPrefix(prefixCrashPath, crash.DeriveID(path)))
		if err == nil {
			found = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return found, err
}

// Crashes returns up to limit crash records, newest first.
func (s *Store) Crashes(limit int) ([]crash.Record, error) {
	if limit <= 0 || limit > maxCrashResults {
		limit = maxCrashResults
	}
	var result []crash.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixCrash
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the prefix range.
		seek := append(append([]byte(nil), prefixCrash...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefixCrash) && len(result) < limit; it.Next() {
			var rec crash.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			result = append(result, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list crashes: %w", err)
	}
	return result, nil
}

var ErrCrashNotFound = errors.New("crash record not found")

// Crash returns one crash record by ID.
func (s *Store) Crash(id string) (crash.Record, error) {
	var rec crash.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(withPrefix(prefixCrashID, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrCrashNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if errors.Is(err, ErrCrashNotFound) {
			return crash.Record{}, err
		}
		return crash.Record{}, fmt.Errorf("get crash: %w", err)
	}
	return rec, nil
}
