package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// History is the local SQLite call history, queryable by the UI without a
// round trip to the messaging service.
type History struct {
	db *sql.DB
}

// OpenHistory opens or creates the history database at path. Use ":memory:"
// for an ephemeral store.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open call history: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure call history: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS call_history (
			call_id         TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL DEFAULT '',
			direction       TEXT NOT NULL,
			peer_id         TEXT NOT NULL,
			peer_name       TEXT NOT NULL DEFAULT '',
			is_video        INTEGER NOT NULL,
			status          TEXT NOT NULL,
			duration_secs   INTEGER NOT NULL,
			started_at      INTEGER NOT NULL,
			ended_at        INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_call_history_started_at
			ON call_history (started_at DESC);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate call history: %w", err)
	}

	return &History{db: db}, nil
}

// Insert stores one finished call. A call ID that is already present is left
// untouched; a call is never logged twice.
func (h *History) Insert(ctx context.Context, rec Record) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO call_history
			(call_id, conversation_id, direction, peer_id, peer_name,
			 is_video, status, duration_secs, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (call_id) DO NOTHING`,
		rec.CallID, rec.ConversationID, string(rec.Direction), rec.PeerID, rec.PeerName,
		boolToInt(rec.IsVideo), string(rec.Status), rec.DurationSecs,
		rec.StartedAt.Unix(), rec.EndedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert call history row: %w", err)
	}
	return nil
}

// Recent returns up to limit calls, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT call_id, conversation_id, direction, peer_id, peer_name,
		       is_video, status, duration_secs, started_at, ended_at
		FROM call_history
		ORDER BY started_at DESC, call_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query call history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var direction, status string
		var isVideo int
		var startedAt, endedAt int64
		if err := rows.Scan(&rec.CallID, &rec.ConversationID, &direction, &rec.PeerID, &rec.PeerName,
			&isVideo, &status, &rec.DurationSecs, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan call history row: %w", err)
		}
		rec.Direction = Direction(direction)
		rec.Status = Status(status)
		rec.IsVideo = isVideo != 0
		rec.StartedAt = time.Unix(startedAt, 0)
		rec.EndedAt = time.Unix(endedAt, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (h *History) Close() error { return h.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
