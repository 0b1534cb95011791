// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/camanchor/internal/persistence/sqlite"
)

const sqliteSchemaVersion = 2

// SqliteStore implements Store on a single table.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens dbPath and applies the schema.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("record store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var current int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if current < 1 {
		schema := `
	CREATE TABLE IF NOT EXISTS segment_records (
		segment_name TEXT PRIMARY KEY,
		storage_id TEXT,
		tx_hash TEXT,
		broadcast_hash TEXT,
		error TEXT,
		duration_seconds REAL NOT NULL DEFAULT 0,
		title TEXT NOT NULL DEFAULT '',
		block_number INTEGER NOT NULL DEFAULT 0,
		started_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);`
		if _, err := tx.Exec(schema); err != nil {
			return err
		}
	} else if current < 2 {
		if _, err := tx.Exec("ALTER TABLE segment_records ADD COLUMN broadcast_hash TEXT"); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		"SELECT 1 FROM segment_records WHERE segment_name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

const selectColumns = `SELECT segment_name, storage_id, tx_hash, broadcast_hash, error, duration_seconds, title,
	block_number, started_at_ms, updated_at_ms FROM segment_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r                     Record
		cid, tx, sent, errMsg sql.NullString
		block                 int64
		startedMs, updateMs   int64
	)
	if err := row.Scan(&r.SegmentName, &cid, &tx, &sent, &errMsg, &r.DurationSeconds, &r.Title,
		&block, &startedMs, &updateMs); err != nil {
		return Record{}, err
	}
	r.StorageID = nullable(cid)
	r.TxHash = nullable(tx)
	r.BroadcastHash = nullable(sent)
	r.Error = nullable(errMsg)
	r.BlockNumber = uint64(block) // #nosec G115 -- stored from a uint64
	r.StartedAt = time.UnixMilli(startedMs).UTC()
	r.UpdatedAt = time.UnixMilli(updateMs).UTC()
	return r, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (s *SqliteStore) Get(ctx context.Context, name string) (Record, error) {
	r, err := scanRecord(s.DB.QueryRowContext(ctx, selectColumns+" WHERE segment_name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *SqliteStore) Upsert(ctx context.Context, rec Record) error {
	if err := validName(rec.SegmentName); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO segment_records (segment_name, storage_id, tx_hash, broadcast_hash, error,
		duration_seconds, title, block_number, started_at_ms, updated_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(segment_name) DO UPDATE SET
		storage_id = excluded.storage_id,
		tx_hash = excluded.tx_hash,
		broadcast_hash = excluded.broadcast_hash,
		error = excluded.error,
		duration_seconds = excluded.duration_seconds,
		title = excluded.title,
		block_number = excluded.block_number,
		started_at_ms = excluded.started_at_ms,
		updated_at_ms = excluded.updated_at_ms`,
		rec.SegmentName, nullString(rec.StorageID), nullString(rec.TxHash),
		nullString(rec.BroadcastHash), nullString(rec.Error),
		rec.DurationSeconds, rec.Title, int64(rec.BlockNumber), // #nosec G115 -- block heights fit int64
		rec.StartedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	return err
}

func (s *SqliteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx, selectColumns+" ORDER BY segment_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats counts in SQL; COUNT(col) skips NULLs.
func (s *SqliteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(storage_id), COUNT(tx_hash) FROM segment_records").Scan(&st.UploadedCount, &st.TxCount)
	return st, err
}

func (s *SqliteStore) Reset(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM segment_records")
	return err
}

func (s *SqliteStore) Close() error { return s.DB.Close() }

// Check runs a quick integrity check of the database file.
func (s *SqliteStore) Check(ctx context.Context) error {
	issues, err := sqlite.VerifyIntegrity(ctx, s.DB, false)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("sqlite ledger integrity: %v", issues)
	}
	return nil
}
