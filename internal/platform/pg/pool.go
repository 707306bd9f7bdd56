package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"driftd/pkg/retry"
)

// PoolOptions содержит настройки пула подключений PostgreSQL.
type PoolOptions struct {
	// MaxConns - максимальное количество соединений в пуле
	MaxConns int32
	// MinConns - минимальное количество соединений в пуле
	MinConns int32
	// HealthCheckPeriod - интервал проверки здоровья соединений
	HealthCheckPeriod time.Duration
	// MaxConnLifetime - максимальное время жизни соединения
	MaxConnLifetime time.Duration
	// PingTimeout - таймаут одной попытки ping
	PingTimeout time.Duration
	// ConnectAttempts - сколько раз пытаться достучаться до БД при старте
	ConnectAttempts int
}

// DefaultPoolOptions возвращает настройки по умолчанию. История пишется
// одним писателем, поэтому пул небольшой.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:          8,
		MinConns:          1,
		HealthCheckPeriod: 30 * time.Second,
		MaxConnLifetime:   time.Hour,
		PingTimeout:       5 * time.Second,
		ConnectAttempts:   5,
	}
}

// NewPool создает пул с настройками по умолчанию.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return NewPoolWithOptions(ctx, dsn, DefaultPoolOptions())
}

// NewPoolWithOptions создает пул и ждёт, пока БД ответит на ping.
// Между попытками - экспоненциальная задержка (удобно, когда БД
// поднимается одновременно с сервисом).
func NewPoolWithOptions(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.HealthCheckPeriod = opts.HealthCheckPeriod
	cfg.MaxConnLifetime = opts.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	attempts := max(opts.ConnectAttempts, 1)
	err = retry.DoWithRetryable(ctx, retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Jitter:       true,
	}, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
		defer cancel()
		return pool.Ping(pingCtx)
	}, func(error) bool { return ctx.Err() == nil })
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("database not available: %w", err)
	}

	return pool, nil
}
