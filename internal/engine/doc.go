// Package engine содержит движок выполнения flow.
//
// Включает:
//   - task.go     — дескриптор задачи (requires/provides/revert) и builder
//   - graph.go    — построение графа зависимостей и топологический порядок
//   - flow.go     — state machine выполнения flow с откатом (saga)
//   - context.go  — общий контекст, разделяемый задачами одного flow
//   - parser.go   — парсинг FlowSpec из JSON/YAML
//   - template.go — рендеринг Go templates ({{ .Requires.x }})
//
// Порядок выполнения не задаётся вручную: ребро producer → consumer
// появляется, когда consumer требует имя, которое producer предоставляет.
// При падении задачи компенсации завершённых задач вызываются
// в обратном порядке завершения.
package engine
