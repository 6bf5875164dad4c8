package heater

import "errors"

// Ошибки фоновых действий.
var (
	// ErrCrashed — действие завершилось до вызова Stop.
	ErrCrashed = errors.New("background action exited unexpectedly")

	// ErrStopTimeout — действие не вышло за отведённое время после Stop.
	ErrStopTimeout = errors.New("background action did not stop in time")

	// ErrUnknownAction — в каталоге нет действия с таким именем.
	ErrUnknownAction = errors.New("unknown background action")

	// ErrInvalidConfig — некорректная конфигурация действия.
	ErrInvalidConfig = errors.New("invalid background action config")
)
