// Package steps содержит реализации типов шагов и сборку engine.Flow
// из декларативного FlowSpec.
//
// # Обзор
//
// Steps — это исполнители конкретных типов шагов. Каждый шаг:
//   - Получает конфигурацию (уже отрендеренную через engine.RenderConfig)
//   - Выполняет действие (HTTP запрос, задержка, трансформация)
//   - Возвращает outputs, из которых извлекаются provides задачи
//
// # Интерфейс Step
//
//	type Step interface {
//	    Type() string
//	    Execute(ctx context.Context, req *Request) (*Response, error)
//	}
//
// Request содержит:
//   - TaskName — имя задачи
//   - Config — конфигурация (map[string]any)
//   - Template — данные шаблонов задачи
//   - Timeout — таймаут выполнения
//
// # Registry
//
//	registry := steps.DefaultRegistry()  // http, delay, transform, fail
//	err := registry.Register(myStep)     // повторный тип — domain.ErrAlreadyExists
//	err = registry.Check(spec)           // все неизвестные type и revert.type сразу
//	kinds := steps.Kinds(spec)           // типы шагов, которые использует spec
//
// # Сборка flow
//
//	spec, _ := engine.LoadSpecFile("flows/provision.yaml")
//	flow, err := steps.Build(spec, registry)
//	err = flow.Run(ctx, engine.NewContext(job.Inputs))
//
// Задача из TaskDef рендерит config с {{ .Inputs }} и {{ .Requires }},
// выполняет шаг и извлекает provides через шаблоны outputs
// ({{ .Response.body.id }}). Компенсация (revert) — тоже шаг;
// её шаблоны видят {{ .Result }} (результат задачи) и {{ .Error }}.
//
// # Типы шагов
//
//   - http      — HTTP запрос; outputs: status_code, headers, body
//   - delay     — пауза (duration_sec | duration_ms | duration)
//   - transform — mappings через Go templates; {{ .Requires.x }} сохраняет тип,
//     без mappings публикует requires
//   - fail      — всегда ошибка ErrStepFailed (проверка откатов)
//
// # Обработка ошибок
//
//	var (
//	    ErrStepNotFound    // неизвестный тип шага
//	    ErrInvalidConfig   // неверная конфигурация
//	    ErrStepTimeout     // превышен timeout_sec задачи
//	    ErrStepCancelled   // context cancelled
//	    ErrStepFailed      // шаг fail
//	)
//
// Ошибки конфигурации и отмены содержат имя задачи и её requires;
// шаги логируют через telemetry.FromContext(ctx) с task и requires.
// HTTP статус >= 400 возвращается как *HTTPError (если fail_on_status).
// Любая ошибка шага — падение задачи, engine откатывает flow.
package steps
