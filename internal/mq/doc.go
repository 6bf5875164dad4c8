// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — обменник, очереди, привязки
//   - publisher.go  — публикация статусов и снимков
//   - consumer.go   — потребление команд и подтверждений
//
// Ключи маршрутизации (обменник amq.topic, совместим с MQTT-плагином):
//   - ur2.test.init      — команды start/stop (вход)
//   - ur2.test.confirm   — решения оператора (вход)
//   - ur2.test.stage     — статусы тестов (выход)
//   - ur2.test.image     — метаданные снимка (выход)
//   - ur2.test.image.raw — байты снимка (выход)
package mq
