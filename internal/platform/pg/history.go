package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"driftd/internal/history"
)

// HistoryStore хранит историю тиков в PostgreSQL. Реализует history.Store.
type HistoryStore struct {
	pool *pgxpool.Pool
}

var _ history.Store = (*HistoryStore)(nil)

// NewHistoryStore оборачивает готовый пул. Схема должна быть создана
// через ApplyMigrations.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// OpenHistory применяет миграции, открывает пул и возвращает хранилище.
func OpenHistory(ctx context.Context, dsn string) (*HistoryStore, error) {
	if _, err := ApplyMigrations(dsn); err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return NewHistoryStore(pool), nil
}

const insertRecord = `
	INSERT INTO tick_history (schedule, tick, kind, at, instant, elapsed_ms, wait_ms, error, reason)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Insert записывает пачку записей одним batch внутри транзакции.
func (s *HistoryStore) Insert(ctx context.Context, records []history.Record) error {
	if len(records) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range records {
			var instant *time.Time
			if !r.Instant.IsZero() {
				v := r.Instant.UTC()
				instant = &v
			}
			batch.Queue(insertRecord,
				r.Schedule, int64(r.Tick), r.Kind, r.At.UTC(), instant,
				r.ElapsedMS, r.WaitMS, r.Error, r.Reason)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert history batch: %w", err)
		}
		return nil
	})
}

// Recent возвращает последние limit записей расписания, новые первыми.
func (s *HistoryStore) Recent(ctx context.Context, schedule string, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, schedule, tick, kind, at, instant, elapsed_ms, wait_ms, error, reason
		FROM tick_history
		WHERE schedule = $1
		ORDER BY id DESC
		LIMIT $2`, schedule, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Record, error) {
		var (
			r       history.Record
			tick    int64
			instant *time.Time
		)
		if err := row.Scan(&r.ID, &r.Schedule, &tick, &r.Kind, &r.At, &instant, &r.ElapsedMS, &r.WaitMS, &r.Error, &r.Reason); err != nil {
			return r, err
		}
		r.Tick = uint64(tick)
		r.At = r.At.UTC()
		if instant != nil {
			r.Instant = instant.UTC()
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return out, nil
}

// Close закрывает пул.
func (s *HistoryStore) Close() error {
	s.pool.Close()
	return nil
}
