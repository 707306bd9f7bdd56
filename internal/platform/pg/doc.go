// Package pg хранит историю запусков расписаний в PostgreSQL (pgx/v5).
// Используется вместо SQLite, когда задан HISTORY_PG_DSN.
package pg
