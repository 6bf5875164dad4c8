// Package cli реализует инструмент командной строки оператора стенда.
//
// # Обзор
//
// CLI — клиентская утилита для HTTP API стенда (labrun-rig).
// Работает через HTTP, не импортирует внутренние пакеты системы.
// Дублирует команды шины: запуск, остановка и подтверждение циклов.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Инкапсулирует запросы, парсинг ответов
// (DataResponse, ListResponse, ErrorResponse) и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	tests, err := client.ListTests()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: labrun test events T1 --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - test: list, start, stop, confirm, events, runs
//   - workflow: show
//
// Каждая группа создаётся через фабричную функцию (NewTestCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
