package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"forum-mirror/models"
)

const (
	cursorKey = "sync_state"
	// Millisecond ISO-8601 UTC, the cursor wire format.
	cursorTimeLayout = "2006-01-02T15:04:05.000Z"
)

type cursorWire struct {
	LastSync   string `json:"last_sync"`
	IsFirstRun int    `json:"is_first_run"`
}

// GetCursor reads the singleton sync state row. A missing row behaves like
// the migration default (epoch, first run).
func (s *Store) GetCursor(ctx context.Context) (models.SyncCursor, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key_name = ?`, cursorKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return models.SyncCursor{LastSync: time.Unix(0, 0).UTC(), IsFirstRun: true}, nil
	}
	if err != nil {
		return models.SyncCursor{}, fmt.Errorf("reading cursor: %w", err)
	}

	var wire cursorWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return models.SyncCursor{}, fmt.Errorf("decoding cursor %q: %w", raw, err)
	}
	ts, err := time.Parse(cursorTimeLayout, wire.LastSync)
	if err != nil {
		return models.SyncCursor{}, fmt.Errorf("parsing cursor timestamp %q: %w", wire.LastSync, err)
	}
	return models.SyncCursor{LastSync: ts, IsFirstRun: wire.IsFirstRun != 0}, nil
}

// SetCursor persists ts as the new watermark and clears the first-run flag.
// Callers pass the timestamp captured at the start of the run, never the
// end, so events arriving mid-sync fall inside the next window.
func (s *Store) SetCursor(ctx context.Context, ts time.Time) error {
	wire := cursorWire{LastSync: ts.UTC().Format(cursorTimeLayout), IsFirstRun: 0}
	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encoding cursor: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key_name, value, updated_at) VALUES (?, ?, NOW(3))
		 ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = NOW(3)`,
		cursorKey, string(raw)); err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}
	return nil
}
