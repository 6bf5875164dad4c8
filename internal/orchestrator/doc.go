// Package orchestrator ведёт тесты от start до финального статуса.
//
// Orchestrator отвечает за:
//   - Регистрацию теста и ответ already_running на повторный start
//   - Последовательное выполнение стадий плана (once и per_cycle)
//   - Запуск и ровно однократную остановку фонового действия
//   - Ожидание подтверждения оператора после каждого цикла
//   - Остановку по команде stop на ближайшей контрольной точке
//   - Публикацию одного события на каждый переход
//
// Каждый тест выполняется в своей горутине. Общие между горутинами
// только реестр и gate; прогресс теста принадлежит его горутине.
//
// Контрольные точки: между стадиями и во время ожидания подтверждения.
// Начатое действие стадии не прерывается: stop и падение фонового
// действия обнаруживаются после его завершения.
package orchestrator
