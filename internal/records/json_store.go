// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ManuGH/camanchor/internal/log"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// JSONStore keeps all records in one JSON object keyed by segment name.
// A single goroutine owns the map and the file; callers submit operations
// over a channel. Every mutation rewrites the whole file with fsync and an
// atomic rename.
type JSONStore struct {
	path   string
	ops    chan jsonOp
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

type jsonOp struct {
	fn    func(st *jsonState) error
	reply chan error
}

type jsonState struct {
	path    string
	records map[string]Record
}

// OpenJSONStore loads path (a missing file is an empty ledger) and starts
// the owning goroutine.
func OpenJSONStore(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	recs, err := loadJSON(path)
	if err != nil {
		return nil, err
	}

	s := &JSONStore{
		path:   path,
		ops:    make(chan jsonOp),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: log.WithComponent("records"),
	}
	go s.loop(&jsonState{path: path, records: recs})

	s.logger.Info().
		Str(log.FieldPath, path).
		Int("records", len(recs)).
		Msg("json ledger opened")
	return s, nil
}

func loadJSON(path string) (map[string]Record, error) {
	// #nosec G304 -- ledger path comes from operator configuration
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	recs := map[string]Record{}
	if len(data) == 0 {
		return recs, nil
	}
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", path, err)
	}
	for name, r := range recs {
		r.SegmentName = name
		recs[name] = r
	}
	return recs, nil
}

func (s *JSONStore) loop(st *jsonState) {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			op.reply <- op.fn(st)
		case <-s.quit:
			return
		}
	}
}

func (s *JSONStore) do(ctx context.Context, fn func(st *jsonState) error) error {
	op := jsonOp{fn: fn, reply: make(chan error, 1)}
	select {
	case s.ops <- op:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once accepted the op runs to completion so the file never sees a
	// half-applied mutation.
	return <-op.reply
}

// persist writes the whole map through renameio.
func (st *jsonState) persist() error {
	data, err := json.MarshalIndent(st.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	pending, err := renameio.NewPendingFile(st.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending ledger file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write ledger data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace ledger: %w", err)
	}
	return nil
}

func (s *JSONStore) Exists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.do(ctx, func(st *jsonState) error {
		_, ok = st.records[name]
		return nil
	})
	return ok, err
}

func (s *JSONStore) Get(ctx context.Context, name string) (Record, error) {
	var rec Record
	err := s.do(ctx, func(st *jsonState) error {
		r, ok := st.records[name]
		if !ok {
			return ErrNotFound
		}
		rec = r
		return nil
	})
	return rec, err
}

func (s *JSONStore) Upsert(ctx context.Context, rec Record) error {
	if err := validName(rec.SegmentName); err != nil {
		return err
	}
	return s.do(ctx, func(st *jsonState) error {
		prev, had := st.records[rec.SegmentName]
		st.records[rec.SegmentName] = rec
		if err := st.persist(); err != nil {
			if had {
				st.records[rec.SegmentName] = prev
			} else {
				delete(st.records, rec.SegmentName)
			}
			return err
		}
		return nil
	})
}

func (s *JSONStore) List(ctx context.Context) ([]Record, error) {
	var out []Record
	err := s.do(ctx, func(st *jsonState) error {
		out = make([]Record, 0, len(st.records))
		for _, r := range st.records {
			out = append(out, r)
		}
		return nil
	})
	sortByName(out)
	return out, err
}

func (s *JSONStore) Stats(ctx context.Context) (Stats, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(recs), nil
}

func (s *JSONStore) Reset(ctx context.Context) error {
	return s.do(ctx, func(st *jsonState) error {
		prev := st.records
		st.records = map[string]Record{}
		if err := st.persist(); err != nil {
			st.records = prev
			return err
		}
		return nil
	})
}

// Close stops the owning goroutine. It is safe to call more than once.
func (s *JSONStore) Close() error {
	s.once.Do(func() { close(s.quit) })
	<-s.done
	return nil
}
