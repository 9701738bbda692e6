package broker

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/vcsws/internal/db"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS rounds (
    id TEXT PRIMARY KEY,
    client TEXT NOT NULL,
    started_at TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    offered INTEGER NOT NULL,
    subscribers INTEGER NOT NULL,
    requested INTEGER NOT NULL,
    relayed_bytes INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_rounds_started_at ON rounds(started_at);
`

// fixed width so started_at sorts lexically
const historyTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RoundRecord summarizes one finished sync round.
type RoundRecord struct {
	ID           string        `json:"id"`
	Client       string        `json:"client"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`
	Offered      int           `json:"offered"`
	Subscribers  int           `json:"subscribers"`
	Requested    int           `json:"requested"`
	RelayedBytes int64         `json:"relayedBytes"`
	Error        string        `json:"error,omitempty"`
}

type roundRow struct {
	ID           string `db:"id"`
	Client       string `db:"client"`
	StartedAt    string `db:"started_at"`
	DurationMs   int64  `db:"duration_ms"`
	Offered      int    `db:"offered"`
	Subscribers  int    `db:"subscribers"`
	Requested    int    `db:"requested"`
	RelayedBytes int64  `db:"relayed_bytes"`
	Error        string `db:"error"`
}

// History persists round records in sqlite.
type History struct {
	db *sqlx.DB
}

// OpenHistory opens or creates the round history at path. db.Memory keeps it in process.
func OpenHistory(path string) (*History, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open round history: %w", err)
	}
	if _, err := conn.Exec(historySchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init round history schema: %w", err)
	}
	return &History{db: conn}, nil
}

func (h *History) Record(r *RoundRecord) error {
	row := roundRow{
		ID:           r.ID,
		Client:       r.Client,
		StartedAt:    r.StartedAt.UTC().Format(historyTimeLayout),
		DurationMs:   r.Duration.Milliseconds(),
		Offered:      r.Offered,
		Subscribers:  r.Subscribers,
		Requested:    r.Requested,
		RelayedBytes: r.RelayedBytes,
		Error:        r.Error,
	}
	_, err := h.db.NamedExec(`INSERT INTO rounds
		(id, client, started_at, duration_ms, offered, subscribers, requested, relayed_bytes, error)
		VALUES (:id, :client, :started_at, :duration_ms, :offered, :subscribers, :requested, :relayed_bytes, :error)`, row)
	if err != nil {
		return fmt.Errorf("record round %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (h *History) Recent(limit int) ([]*RoundRecord, error) {
	var rows []roundRow
	err := h.db.Select(&rows, `SELECT id, client, started_at, duration_ms, offered, subscribers, requested, relayed_bytes, error
		FROM rounds ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}

	out := make([]*RoundRecord, 0, len(rows))
	for _, row := range rows {
		started, err := time.Parse(historyTimeLayout, row.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at of round %s: %w", row.ID, err)
		}
		out = append(out, &RoundRecord{
			ID:           row.ID,
			Client:       row.Client,
			StartedAt:    started,
			Duration:     time.Duration(row.DurationMs) * time.Millisecond,
			Offered:      row.Offered,
			Subscribers:  row.Subscribers,
			Requested:    row.Requested,
			RelayedBytes: row.RelayedBytes,
			Error:        row.Error,
		})
	}
	return out, nil
}

func (h *History) Count() (int, error) {
	var n int
	if err := h.db.Get(&n, "SELECT COUNT(*) FROM rounds"); err != nil {
		return 0, fmt.Errorf("count rounds: %w", err)
	}
	return n, nil
}

func (h *History) Close() error {
	return h.db.Close()
}
