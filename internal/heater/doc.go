// Package heater управляет фоновыми действиями теста.
//
// Фоновое действие (нагрев) запускается один раз после once-стадий
// и работает параллельно стадиям до конца теста.
//
// Структура:
//   - supervisor.go — Supervisor: Start/Stop, наблюдение за падением
//   - heater.go     — Heater: симуляция контура нагрева на тиках
//   - process.go    — ProcessAction: внешний скрипт как фоновый процесс
//   - catalog.go    — Catalog: фабрики действий по имени
//
// Остановка кооперативная: действие обязано проверять ctx на каждом
// тике. Supervisor не может убить горутину, он только ждёт её выхода
// не дольше таймаута и логирует зависание.
package heater
