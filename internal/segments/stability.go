// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segments

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ManuGH/camanchor/internal/log"
	"github.com/rs/zerolog"
)

// StabilityDetector decides when a file has stopped growing.
type StabilityDetector struct {
	Interval    time.Duration
	MaxAttempts int
	Required    int

	logger zerolog.Logger
}

// NewStabilityDetector returns a detector; zero values fall back to
// 1s / 10 attempts / 3 unchanged observations.
func NewStabilityDetector(interval time.Duration, maxAttempts, required int) *StabilityDetector {
	if interval <= 0 {
		interval = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if required <= 0 {
		required = 3
	}
	return &StabilityDetector{
		Interval:    interval,
		MaxAttempts: maxAttempts,
		Required:    required,
		logger:      log.WithComponent("stability"),
	}
}

// Wait samples the size of path every Interval. It reports stable once the
// size was observed unchanged and non-zero Required times in a row.
//
// An exhausted attempt budget is not an error: it returns (false, nil) and the
// caller proceeds best-effort. A vanished file or a cancelled ctx is an error.
func (d *StabilityDetector) Wait(ctx context.Context, path string) (bool, error) {
	timer := time.NewTimer(d.Interval)
	defer timer.Stop()

	var (
		last      int64 = -1
		unchanged int
	)
	for attempt := 1; attempt <= d.MaxAttempts; attempt++ {
		info, err := os.Stat(path)
		if err != nil {
			return false, fmt.Errorf("stat %s: %w", path, err)
		}
		size := info.Size()
		if size > 0 && size == last {
			unchanged++
		} else {
			unchanged = 0
		}
		last = size

		if unchanged >= d.Required {
			d.logger.Debug().
				Str(log.FieldPath, path).
				Int("attempts", attempt).
				Int64("size", size).
				Msg("file stable")
			return true, nil
		}
		if attempt == d.MaxAttempts {
			break
		}

		if attempt > 1 {
			timer.Reset(d.Interval)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	d.logger.Warn().
		Str(log.FieldPath, path).
		Int("attempts", d.MaxAttempts).
		Int64("size", last).
		Msg("stability budget exhausted, proceeding")
	return false, nil
}
