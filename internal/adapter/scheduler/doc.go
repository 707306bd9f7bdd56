// Package scheduler - реестр периодических задач процесса driftd.
//
// Каждая задача исполняется отдельным циклом пакета drift (interval с
// компенсацией дрейфа или cron), а реестр добавляет поверх него:
//   - идентификаторы задач (UUID) и уникальные имена
//   - ожидание до Start: задачи, добавленные раньше, не тикают
//   - таймаут и повторы одного выполнения (JobOptions)
//   - хуки наблюдаемости и общие наблюдатели (метрики, история, алерты)
//   - снимки состояния для HTTP API
//   - остановку с ожиданием события ScheduleStopped от каждой задачи
//
// Пример:
//
//	s := scheduler.New(scheduler.Config{Logger: logger})
//	id, err := s.AddTickerJobWithOptions(time.Minute, syncFn, scheduler.JobOptions{
//		Name:    "sync",
//		Timeout: 30 * time.Second,
//		Retries: 2,
//	})
//	s.Start()
//	defer s.Stop()
package scheduler
