// Package api содержит HTTP API стенда.
//
// Структура:
//   - handler.go          — Handler с DI (оркестратор, журнал, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - test_handler.go     — обработчики для /tests и /runs
//   - workflow_handler.go — обработчик для /workflow
//
// API дублирует команды шины (start/stop/confirm) для оператора
// и отдаёт историю прогонов из журнала.
package api
