// Package steps содержит действия стадий теста.
//
// # Обзор
//
// Действие — это работа, которую стадия выполняет на приборе.
// Оркестратор вызывает действие и ждёт его завершения: прерывать
// начатое действие он не умеет, остановка теста вступает в силу
// только перед следующей стадией.
//
// # Интерфейс Step
//
//	type Step interface {
//	    Type() string
//	    Execute(ctx context.Context, req *Request) (*Response, error)
//	}
//
// Request содержит TestID, имя стадии, позицию, номер цикла и
// конфигурацию стадии из workflow.
//
// # Типы действий
//
//   - delay    — симуляция работы паузой (delay.go)
//   - script   — внешний скрипт, ненулевой код выхода = провал (script.go)
//   - actuator — HTTP-команда драйверу прибора (actuator.go)
//   - noop     — пустое действие (noop.go)
//
// # Обработка ошибок
//
// Любая ошибка действия фатальна для теста: повтор стадии — забота
// самого действия, а не оркестратора.
//
//	var (
//	    ErrInvalidConfig  // неверная конфигурация
//	    ErrActionFailed   // действие сообщило о неудаче
//	    ErrStepTimeout    // превышен таймаут
//	    ErrStepCancelled  // context cancelled
//	)
package steps
