// Package conductor забирает job'ы с доски и выполняет их flow.
//
// Conductor:
//   - Ждёт публикаций через Board.Await (и сигнал Wake из RabbitMQ)
//   - Периодически перечитывает доску (polling fallback)
//   - Захватывает UNCLAIMED job'ы, flow которых зарегистрирован в Registry
//   - Выполняет flow, записывая историю задач в logbook job'а
//   - Переводит job в SUCCESS/FAILURE
//
// Несколько conductor'ов могут разделять одну доску: владение
// job'ом гарантирует Claimer, проигравший захват просто пропускает job.
//
// Использование:
//
//	flows := conductor.NewRegistry()
//	flows.LoadDir("flows", steps.DefaultRegistry())
//
//	c := conductor.New(conductor.Config{
//	    Board:   board,
//	    Catalog: catalog,
//	    Flows:   flows,
//	    Logger:  logger,
//	})
//	c.Start(ctx)
//	defer c.Stop()
package conductor
