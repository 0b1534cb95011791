// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var badgerPrefix = []byte("seg:")

// BadgerStore keeps one JSON value per segment under key "seg:<name>".
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a badger directory at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger ledger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(name string) []byte {
	return append(append([]byte{}, badgerPrefix...), name...)
}

func (s *BadgerStore) Exists(_ context.Context, name string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(name))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BadgerStore) Get(_ context.Context, name string) (Record, error) {
	var out Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	return out, err
}

func (s *BadgerStore) Upsert(_ context.Context, rec Record) error {
	if err := validName(rec.SegmentName); err != nil {
		return err
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(rec.SegmentName), buf)
	})
}

func (s *BadgerStore) List(_ context.Context) ([]Record, error) {
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var r Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	sortByName(out)
	return out, err
}

func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(recs), nil
}

func (s *BadgerStore) Reset(_ context.Context) error {
	return s.db.DropPrefix(badgerPrefix)
}

func (s *BadgerStore) Close() error { return s.db.Close() }
