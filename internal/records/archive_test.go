// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package records

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o600)
}

func TestArchiveRoundTripsThroughJSONStore(t *testing.T) {
	ctx := context.Background()
	src := NewMemoryStore()
	require.NoError(t, src.Upsert(ctx, Record{SegmentName: "segment_001.mp4", StorageID: Ptr("a"), TxHash: Ptr("t")}))
	require.NoError(t, src.Upsert(ctx, Record{SegmentName: "segment_002.mp4", Error: Ptr("pin failed")}))

	dir := filepath.Join(t.TempDir(), "sessions", "abc")
	n, err := Archive(ctx, src, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The snapshot uses the json backend layout, so it opens as a ledger.
	archived, err := OpenJSONStore(filepath.Join(dir, ArchiveFile))
	require.NoError(t, err)
	defer archived.Close()

	stats, err := archived.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{UploadedCount: 1, TxCount: 1}, stats)
}
