// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package records

import (
	"fmt"
)

// Open creates a Store based on the backend configuration.
func Open(backend, path string) (Store, error) {
	if backend == "" {
		backend = "json"
	}

	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "json":
		return OpenJSONStore(path)
	case "badger":
		return OpenBadgerStore(path)
	case "sqlite":
		return NewSqliteStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: json, badger, sqlite, memory)", backend)
	}
}
