// Package sqlite хранит историю запусков расписаний в SQLite (modernc, без cgo).
//
// Схема встроена в бинарник и применяется через golang-migrate:
//
//	store, err := sqlite.OpenHistory(ctx, "data/history.db")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	rec := history.NewRecorder(store, history.DefaultOptions())
//
// Запись идёт пачками в одной транзакции; при SQLITE_BUSY транзакция
// повторяется с экспоненциальной задержкой (pkg/retry).
package sqlite
