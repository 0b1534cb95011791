// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package segments models the numbered video files the recorder writes and
// the policies that act on them on disk: write stability and retention.
package segments

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Pattern matches recorder output names of the form <Prefix><digits><Ext>.
type Pattern struct {
	Prefix string
	Ext    string
}

// DefaultPattern matches segment_NNN.mp4.
var DefaultPattern = Pattern{Prefix: "segment_", Ext: ".mp4"}

// Match reports whether name is a segment file name.
func (p Pattern) Match(name string) bool {
	_, ok := p.Sequence(name)
	return ok
}

// Sequence extracts the numeric part of a segment name.
func (p Pattern) Sequence(name string) (int, bool) {
	if !strings.HasPrefix(name, p.Prefix) || !strings.HasSuffix(name, p.Ext) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, p.Prefix), p.Ext)
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Template is the recorder's output template, e.g. segment_%03d.mp4.
func (p Pattern) Template() string {
	return p.Prefix + "%03d" + p.Ext
}

// Segment is one fixed-duration slice of video on disk.
type Segment struct {
	Name      string
	Path      string
	SizeBytes int64
	CreatedAt time.Time
	Sequence  int
}

// List returns the regular files in dir matching p, ordered by name.
// Names of unequal width are ordered by sequence number so segment_1000
// follows segment_999.
func List(dir string, p Pattern) ([]Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments in %s: %w", dir, err)
	}

	out := make([]Segment, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		seq, ok := p.Sequence(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out = append(out, Segment{
			Name:      entry.Name(),
			Path:      filepath.Join(dir, entry.Name()),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
			Sequence:  seq,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Name) != len(out[j].Name) && out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Candidates returns every segment except the newest, which the recorder
// may still be writing. Fewer than two segments yield nil.
func Candidates(all []Segment) []Segment {
	if len(all) < 2 {
		return nil
	}
	return all[:len(all)-1]
}
