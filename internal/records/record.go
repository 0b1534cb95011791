// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package records persists the per-segment anchoring outcome. The presence of
// a record, not its field values, marks a segment as already handled.
package records

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned by Get when no record exists for a segment.
var ErrNotFound = errors.New("record not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("record store closed")

// Record is the durable outcome for one segment.
type Record struct {
	SegmentName     string    `json:"segmentName"`
	StorageID       *string   `json:"cid"`
	TxHash          *string   `json:"txHash"`
	// BroadcastHash is the hash of a transaction that was sent but never
	// confirmed. It does not count toward Stats.
	BroadcastHash   *string   `json:"broadcastHash,omitempty"`
	Error           *string   `json:"error"`
	DurationSeconds float64   `json:"durationSeconds,omitempty"`
	Title           string    `json:"title,omitempty"`
	BlockNumber     uint64    `json:"blockNumber,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Terminal reports whether the record carries a final outcome.
// A record with none of cid, txHash or error set is still in flight.
func (r Record) Terminal() bool {
	return r.StorageID != nil || r.TxHash != nil || r.Error != nil
}

// Anchored reports whether the segment was both pinned and submitted.
func (r Record) Anchored() bool {
	return r.StorageID != nil && r.TxHash != nil
}

// Stats are aggregate counters derived from the full record set.
type Stats struct {
	UploadedCount int `json:"uploadedCount"`
	TxCount       int `json:"txCount"`
}

// ComputeStats counts records with a storage id and with a tx hash.
func ComputeStats(recs []Record) Stats {
	var s Stats
	for _, r := range recs {
		if r.StorageID != nil {
			s.UploadedCount++
		}
		if r.TxHash != nil {
			s.TxCount++
		}
	}
	return s
}

// Store is the segment ledger. Implementations guarantee read-after-write
// within one process; a single pipeline instance is the only writer.
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) (Record, error)
	Upsert(ctx context.Context, rec Record) error
	// List returns all records ordered by segment name.
	List(ctx context.Context) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)
	// Reset removes every record. Used when a new recording session starts.
	Reset(ctx context.Context) error
	Close() error
}

// Ptr returns a pointer to s, for optional record fields.
func Ptr(s string) *string { return &s }

func sortByName(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].SegmentName < recs[j].SegmentName })
}

func validName(name string) error {
	if name == "" {
		return errors.New("record: empty segment name")
	}
	return nil
}
