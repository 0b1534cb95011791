// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segments

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/metrics"
)

// Retention bounds the number of segment files kept in Dir.
type Retention struct {
	Dir      string
	Pattern  Pattern
	MaxFiles int
	// Evictable reports whether a segment reached a terminal ledger state.
	// A nil Evictable treats every file as evictable.
	Evictable func(name string) bool
}

// Enforce deletes the oldest evictable files by modification time while more
// than MaxFiles segments remain. Files that are not evictable are skipped and
// still count toward the total.
func (r Retention) Enforce(ctx context.Context) ([]string, error) {
	if r.MaxFiles <= 0 {
		return nil, fmt.Errorf("retention disabled: maxFiles must be > 0")
	}
	all, err := List(r.Dir, r.Pattern)
	if err != nil {
		return nil, err
	}
	if len(all) <= r.MaxFiles {
		return nil, nil
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Sequence < all[j].Sequence
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	logger := log.WithComponent("retention")
	overflow := len(all) - r.MaxFiles
	var (
		removed []string
		errs    []error
	)
	for _, seg := range all {
		if overflow == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if r.Evictable != nil && !r.Evictable(seg.Name) {
			continue
		}
		if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", seg.Name, err))
			continue
		}
		removed = append(removed, seg.Name)
		overflow--
		logger.Info().
			Str(log.FieldEvent, "segment.evicted").
			Str(log.FieldSegment, seg.Name).
			Msg("segment evicted")
	}

	metrics.AddRetentionEvictions(len(removed))
	return removed, errors.Join(errs...)
}
