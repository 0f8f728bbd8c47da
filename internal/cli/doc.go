// Package cli реализует инструмент командной строки TaskFlow.
//
// # Обзор
//
// CLI работает в двух режимах:
//   - локально со spec-файлами: проверка, порядок выполнения и запуск
//     flow на in-memory доске и каталоге;
//   - через HTTP API: доска job'ов и их logbook'и.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для TaskFlow API. Инкапсулирует HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок (*APIError).
//
//	client := cli.NewClient("http://localhost:8080")
//	jobs, err := client.ListJobs(cli.ListJobsOpts{})
//
// ## RunLocal
//
// Публикует job на MemoryBoard и выполняет его conductor'ом
// с MemoryCatalog. Результат содержит финальный job и logbook.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.Encoder с отступами) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: taskflow job list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - flow: list, validate, order, run
//   - job: list, post, show, erase, claim, unclaim, logbook
//   - schedule: preview
//
// Каждая группа создаётся через фабричную функцию (NewJobCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
