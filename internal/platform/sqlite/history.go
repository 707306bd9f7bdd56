package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"driftd/internal/history"
)

// HistoryStore хранит историю тиков в SQLite. Реализует history.Store.
type HistoryStore struct {
	db *sql.DB
}

var _ history.Store = (*HistoryStore)(nil)

// NewHistoryStore оборачивает открытое подключение. Схема должна быть
// создана через Migrate.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// OpenHistory открывает файл, применяет миграции и возвращает хранилище.
func OpenHistory(ctx context.Context, dbPath string) (*HistoryStore, error) {
	if err := Migrate(dbPath); err != nil {
		return nil, err
	}
	db, err := Open(ctx, dbPath, DefaultOptions())
	if err != nil {
		return nil, err
	}
	return NewHistoryStore(db), nil
}

// Insert записывает пачку записей одной транзакцией.
func (s *HistoryStore) Insert(ctx context.Context, records []history.Record) error {
	if len(records) == 0 {
		return nil
	}
	return WithinTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tick_history (schedule, tick, kind, at, instant, elapsed_ms, wait_ms, error, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			var instant sql.NullString
			if !r.Instant.IsZero() {
				instant = sql.NullString{String: r.Instant.UTC().Format(time.RFC3339Nano), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				r.Schedule, int64(r.Tick), r.Kind, r.At.UTC().Format(time.RFC3339Nano), instant,
				r.ElapsedMS, r.WaitMS, r.Error, r.Reason,
			); err != nil {
				return fmt.Errorf("insert tick %s#%d: %w", r.Schedule, r.Tick, err)
			}
		}
		return nil
	})
}

// Recent возвращает последние limit записей расписания, новые первыми.
func (s *HistoryStore) Recent(ctx context.Context, schedule string, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule, tick, kind, at, instant, elapsed_ms, wait_ms, error, reason
		FROM tick_history
		WHERE schedule = ?
		ORDER BY id DESC
		LIMIT ?`, schedule, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var (
			r       history.Record
			tick    int64
			at      string
			instant sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Schedule, &tick, &r.Kind, &at, &instant, &r.ElapsedMS, &r.WaitMS, &r.Error, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.Tick = uint64(tick)
		if r.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse time %q: %w", at, err)
		}
		if instant.Valid {
			if r.Instant, err = time.Parse(time.RFC3339Nano, instant.String); err != nil {
				return nil, fmt.Errorf("parse instant %q: %w", instant.String, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close закрывает подключение.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
