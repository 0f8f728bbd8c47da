// Package scheduler публикует job'ы на доску по расписанию.
//
// Scheduler периодически проверяет schedules с истекшим next_due_at
// и публикует job для flow расписания.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Tick, processSchedule)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//   - store.go     — in-memory хранилище и загрузка расписаний из YAML
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Store:  scheduleRepo, // или scheduler.NewMemoryStore()
//	    Board:  board,
//	    Flows:  flows,        // опционально
//	    Logger: logger,
//	})
//
//	// Вызывается каждый тик (обычно раз в секунду)
//	if _, err := sched.Tick(ctx); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
// Метод Tick() вызывается только лидером.
package scheduler
