package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"driftd/pkg/retry"
)

// busyRetry - ретраи транзакции при SQLITE_BUSY.
var busyRetry = retry.Config{
	MaxAttempts:  4,
	InitialDelay: 10 * time.Millisecond,
	MaxDelay:     500 * time.Millisecond,
	Multiplier:   2.0,
	Jitter:       true,
}

// WithinTx выполняет fn внутри транзакции. Ошибка fn откатывает транзакцию,
// успех коммитит. При блокировке базы транзакция повторяется целиком.
func WithinTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return retry.DoWithRetryable(ctx, busyRetry, func(ctx context.Context) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}, isBusy)
}

// isBusy проверяет, является ли ошибка SQLITE_BUSY / SQLITE_LOCKED.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "database table is locked")
}
