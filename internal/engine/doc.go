// Package engine содержит описание и план выполнения workflow.
//
// Включает:
//   - parser.go  — парсинг WorkflowDefinition из JSON/YAML и валидация
//   - plan.go    — раскладка стадий: once до блока, per_cycle блок, завершающие once
//   - presets.go — встроенные workflow (classic, linear, compact)
//   - template.go — шаблоны в конфигурации стадий ({{ .TestID }}, {{ .Cycle }})
//
// Engine отвечает за понимание структуры workflow и позиции стадий,
// сам ничего не выполняет — это делает orchestrator.
package engine
