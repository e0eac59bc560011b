package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// The settings surface treats values as opaque bytes; encoding is the
// caller's concern.

func (s *Store) GetSetting(key string) ([]byte, bool, error) {
	var value []byte
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(withPrefix(prefixSetting, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		found = err == nil
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, found, nil
}

func (s *Store) PutSetting(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(withPrefix(prefixSetting, key), value)
	})
	if err != nil {
		return fmt.Errorf("put setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteSetting(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(withPrefix(prefixSetting, key))
	})
	if err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}
