package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"gtfs-segments/internal/segment"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS segments (
  feed     text NOT NULL,
  key      text NOT NULL,
  seconds  integer NOT NULL,
  meters   double precision NOT NULL,
  shape    jsonb NOT NULL,
  run_id   text NOT NULL,
  PRIMARY KEY (feed, key)
);
CREATE TABLE IF NOT EXISTS segment_keys (
  feed         text NOT NULL,
  key          text NOT NULL,
  segment_key  text NOT NULL,
  run_id       text NOT NULL,
  PRIMARY KEY (feed, key)
);`

// EnsureSchema creates the segment tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create segment tables: %w", err)
	}
	return nil
}

// SaveDocument replaces every stored row of feed with doc in one transaction.
func SaveDocument(ctx context.Context, db *sql.DB, feed, runID string, doc *segment.Document) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM segments WHERE feed = $1`, feed); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM segment_keys WHERE feed = $1`, feed); err != nil {
		return fmt.Errorf("clear segment keys: %w", err)
	}

	segStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO segments (feed, key, seconds, meters, shape, run_id) VALUES ($1, $2, $3, $4, $5::jsonb, $6)`)
	if err != nil {
		return fmt.Errorf("prepare segments: %w", err)
	}
	defer segStmt.Close()
	for _, k := range sortedKeys(doc.Segments) {
		seg := doc.Segments[k]
		shape, mErr := json.Marshal(seg.Shape)
		if mErr != nil {
			err = mErr
			return fmt.Errorf("marshal shape %s: %w", k, err)
		}
		if _, err = segStmt.ExecContext(ctx, feed, k, seg.Seconds, seg.Meters, string(shape), runID); err != nil {
			return fmt.Errorf("insert segment %s: %w", k, err)
		}
	}

	keyStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO segment_keys (feed, key, segment_key, run_id) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("prepare segment keys: %w", err)
	}
	defer keyStmt.Close()
	for _, k := range sortedKeys(doc.SegmentKeyDict) {
		if _, err = keyStmt.ExecContext(ctx, feed, k, doc.SegmentKeyDict[k], runID); err != nil {
			return fmt.Errorf("insert segment key %s: %w", k, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
