// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package records

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// ArchiveFile is the snapshot name written into a session directory.
const ArchiveFile = "records.json"

// Archive writes every record of st to <dir>/records.json in the same
// keyed layout as the json backend. It returns the number of records written.
func Archive(ctx context.Context, st Store, dir string) (int, error) {
	recs, err := st.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list records for archive: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("create archive dir: %w", err)
	}

	keyed := make(map[string]Record, len(recs))
	for _, r := range recs {
		keyed[r.SegmentName] = r
	}
	data, err := json.MarshalIndent(keyed, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode archive: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, ArchiveFile), data, 0o600); err != nil {
		return 0, fmt.Errorf("write archive: %w", err)
	}
	return len(recs), nil
}
