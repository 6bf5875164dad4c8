package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shaiso/Labrun/internal/domain"
	"github.com/shaiso/Labrun/internal/engine"
	"github.com/shaiso/Labrun/internal/gate"
	"github.com/shaiso/Labrun/internal/heater"
	"github.com/shaiso/Labrun/internal/registry"
	"github.com/shaiso/Labrun/internal/steps"
	"github.com/shaiso/Labrun/internal/telemetry"
)

// testRun — состояние одного прогона. Принадлежит горутине теста;
// stopBy вызывается из других горутин и синхронизирован через emitMu.
type testRun struct {
	o      *Orchestrator
	lease  *registry.Lease
	test   *domain.Test
	logger *slog.Logger

	// handle — фоновое действие; nil до запуска или без фона.
	handle *heater.Handle

	// tmpl — данные для шаблонов в конфигурации стадий.
	tmpl *engine.Context

	// emitMu упорядочивает события теста и снятие регистрации:
	// после stopped горутина теста ничего не публикует.
	emitMu sync.Mutex

	done chan struct{}
}

// outcome — итог прогона. Пустой status — тихая остановка
// (stopped уже опубликован командой stop).
type outcome struct {
	status  domain.TestStatus
	stage   int
	cycle   *int
	message string
	err     error
}

func (o *Orchestrator) newTestRun(lease *registry.Lease) *testRun {
	tmpl := engine.NewContext(lease.ID(), lease.RunID().String(), o.plan)
	for k, v := range o.vars {
		tmpl.SetVar(k, v)
	}

	return &testRun{
		o:     o,
		lease: lease,
		test:  domain.NewTest(lease.ID(), lease.RunID(), lease.StartTime()),
		tmpl:  tmpl,
		logger: o.logger.With(
			"test_id", lease.ID(),
			"run_id", lease.RunID().String(),
		),
		done: make(chan struct{}),
	}
}

// runTest — тело горутины теста.
func (o *Orchestrator) runTest(r *testRun) {
	defer o.wg.Done()
	defer close(r.done)
	defer o.forget(r)
	defer telemetry.ActiveTests.Dec()

	out := r.execute()
	r.finish(out)
}

// execute проходит план и возвращает итог. Паника превращается в error.
func (r *testRun) execute() (out outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in test task", "panic", rec, "stack", string(debug.Stack()))
			out = outcome{
				status:  domain.StatusError,
				stage:   r.test.CurrentStage,
				cycle:   r.test.CurrentCycle,
				message: fmt.Sprintf("internal error: %v", rec),
				err:     fmt.Errorf("%w: %v", errPanic, rec),
			}
		}
	}()

	plan := r.o.plan

	for _, stage := range plan.Leading {
		if out, stop := r.runStage(stage, 0); stop {
			return out
		}
	}

	if err := r.startBackground(); err != nil {
		return r.abort(err, nil)
	}

	if plan.HasCycles() {
		for cycle := 1; cycle <= plan.MaxCycles; cycle++ {
			if out, stop := r.runCycle(cycle); stop {
				return out
			}
		}
	}

	for _, stage := range plan.Trailing {
		if out, stop := r.runStage(stage, 0); stop {
			return out
		}
	}

	if err := r.checkpoint(); err != nil {
		return r.abort(err, nil)
	}

	return outcome{
		status: domain.StatusCompleted,
		stage:  plan.FinalStage(),
	}
}

// runCycle выполняет один цикл и ждёт подтверждения.
func (r *testRun) runCycle(cycle int) (outcome, bool) {
	plan := r.o.plan

	if err := r.checkpoint(); err != nil {
		return r.abort(err, intPtr(cycle)), true
	}

	r.logger.Info("cycle started", "cycle", cycle, "max_cycles", plan.MaxCycles)

	if err := r.emitProgress(domain.StatusCycleStart, plan.FirstCycleStage(), intPtr(cycle), ""); err != nil {
		return r.abort(err, intPtr(cycle)), true
	}

	for _, stage := range plan.Cycle {
		if out, stop := r.runStage(stage, cycle); stop {
			return out, true
		}
	}

	confirmed, err := r.awaitConfirmation(cycle)
	switch {
	case err == nil && confirmed:
		return outcome{}, false

	case err == nil, errors.Is(err, gate.ErrCancelled):
		r.logger.Info("continuation declined", "cycle", cycle, "cancelled", err != nil)
		return outcome{
			status:  domain.StatusFailed,
			stage:   plan.LastCycleStage(),
			cycle:   intPtr(cycle),
			message: fmt.Sprintf("test interrupted after cycle %d", cycle),
			err:     ErrUserDeclined,
		}, true

	default:
		return r.abort(err, intPtr(cycle)), true
	}
}

// runStage выполняет одну стадию: действие, контрольная точка,
// событие running, снимок.
func (r *testRun) runStage(stage engine.Stage, cycle int) (outcome, bool) {
	var cyclePtr *int
	if cycle > 0 {
		cyclePtr = intPtr(cycle)
	}

	if err := r.checkpoint(); err != nil {
		return r.abort(err, cyclePtr), true
	}

	step, err := r.o.steps.Get(stage.Step.Action)
	if err != nil {
		return r.stageFailed(stage, cyclePtr, err), true
	}

	var timeout time.Duration
	if stage.Step.TimeoutSec > 0 {
		timeout = time.Duration(stage.Step.TimeoutSec) * time.Second
	}

	config, err := engine.RenderConfig(stage.Step.Config, r.tmpl.At(stage, cycle))
	if err != nil {
		return r.stageFailed(stage, cyclePtr, err), true
	}

	req := steps.NewRequest(r.test.ID, stage.Step.Name, stage.Position, cycle, config, timeout)

	ctx := r.o.baseCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger := r.logger.With("stage", stage.Step.Name, "position", stage.Position, "cycle", cycle)
	logger.Info("stage started", "action", stage.Step.Action)

	start := time.Now()
	resp, err := step.Execute(ctx, req)
	elapsed := time.Since(start)
	telemetry.StageDuration.WithLabelValues(stage.Step.Name).Observe(elapsed.Seconds())

	// Stop во время стадии важнее её результата.
	if !r.lease.Active() {
		logger.Info("test inactive after stage, halting")
		return outcome{err: ErrStopped}, true
	}

	if err != nil {
		logger.Error("stage failed", "error", err, "elapsed", elapsed)
		return r.stageFailed(stage, cyclePtr, err), true
	}

	logger.Info("stage completed", "elapsed", elapsed, "outputs", resp.Outputs)
	r.tmpl.AddStepResult(stage.Step.Name, cycle, resp.Outputs)

	if err := r.checkpoint(); err != nil {
		return r.abort(err, cyclePtr), true
	}

	if err := r.emitProgress(domain.StatusRunning, stage.Position, cyclePtr, ""); err != nil {
		return r.abort(err, cyclePtr), true
	}

	if stage.Step.Capture && r.o.capturer != nil {
		// Ошибка снимка не влияет на тест, Capturer логирует её сам.
		_, _ = r.o.capturer.Capture(r.o.baseCtx, r.test.ID, cycle)
	}

	return outcome{}, false
}

// awaitConfirmation создаёт запрос, публикует waiting_confirmation и ждёт.
// Падение фонового действия во время ожидания прерывает ожидание.
func (r *testRun) awaitConfirmation(cycle int) (bool, error) {
	plan := r.o.plan
	g := r.o.gate

	// Запрос создаётся до публикации: быстрый ответ не потеряется.
	if err := g.Request(r.test.ID, r.test.RunID, cycle); err != nil {
		return false, err
	}

	msg := fmt.Sprintf("Cycle %d/%d completed", cycle, plan.MaxCycles)
	if err := r.emitProgress(domain.StatusWaitingConfirmation, plan.LastCycleStage(), intPtr(cycle), msg); err != nil {
		g.Cancel(r.test.ID, r.test.RunID, cycle)
		return false, err
	}

	ctx, cancel := context.WithCancel(r.o.baseCtx)
	defer cancel()

	if r.handle != nil {
		go func() {
			select {
			case <-r.handle.Crashed():
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	r.logger.Info("waiting for confirmation", "cycle", cycle)

	start := time.Now()
	confirmed, err := g.Await(ctx, r.test.ID, r.test.RunID, cycle, r.lease.Done())
	telemetry.ConfirmationWait.Observe(time.Since(start).Seconds())

	if err != nil && !errors.Is(err, gate.ErrCancelled) {
		if r.handle != nil && r.handle.HasCrashed() {
			return false, fmt.Errorf("%w: %v", ErrBackgroundCrashed, r.handle.Err())
		}
		return false, fmt.Errorf("%w: %v", ErrStopped, err)
	}

	return confirmed, err
}

// startBackground запускает фоновое действие плана (если оно задано).
func (r *testRun) startBackground() error {
	name := r.o.plan.Background
	if name == "" {
		return nil
	}

	if err := r.checkpoint(); err != nil {
		return err
	}

	action, err := r.o.catalog.New(name, r.test.ID)
	if err != nil {
		return err
	}

	r.handle = r.o.supervisor.Start(r.o.baseCtx, r.test.ID, name, action)
	return nil
}

// stopBackground останавливает фоновое действие ровно один раз.
func (r *testRun) stopBackground(timeout time.Duration) {
	if r.handle == nil {
		return
	}

	if err := r.o.supervisor.Stop(r.handle, timeout); err != nil {
		if errors.Is(err, heater.ErrStopTimeout) {
			r.logger.Warn("background action stop timed out", "error", fmt.Errorf("%w: %v", ErrStopTimeout, err))
			return
		}
		r.logger.Error("background action stop failed", "error", err)
	}
}

// checkpoint — контрольная точка между стадиями.
func (r *testRun) checkpoint() error {
	if !r.lease.Active() {
		return ErrStopped
	}
	if r.handle != nil && r.handle.HasCrashed() {
		return fmt.Errorf("%w: %v", ErrBackgroundCrashed, r.handle.Err())
	}
	return nil
}

// abort превращает ошибку контрольной точки в итог.
func (r *testRun) abort(err error, cycle *int) outcome {
	if errors.Is(err, ErrStopped) {
		r.logger.Info("test inactive, halting", "reason", err)
		return outcome{err: err}
	}
	return r.errorOutcome(err, cycle)
}

// errorOutcome — итог error на текущей стадии.
func (r *testRun) errorOutcome(err error, cycle *int) outcome {
	return outcome{
		status:  domain.StatusError,
		stage:   r.test.CurrentStage,
		cycle:   cycle,
		message: err.Error(),
		err:     err,
	}
}

// stageFailed — итог для упавшей стадии.
func (r *testRun) stageFailed(stage engine.Stage, cycle *int, err error) outcome {
	return outcome{
		status:  domain.StatusError,
		stage:   stage.Position,
		cycle:   cycle,
		message: fmt.Sprintf("stage %q failed: %v", stage.Step.Name, err),
		err:     fmt.Errorf("%w: %s: %w", ErrStageFailed, stage.Step.Name, err),
	}
}

// finish — очистка на любом пути выхода: остановка фона, снятие
// регистрации, затем финальное событие.
func (r *testRun) finish(out outcome) {
	timeout := r.o.stopTimeout
	if out.status == domain.StatusError {
		timeout = r.o.errorStopTimeout
	}
	r.stopBackground(timeout)

	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	released := r.lease.Release()

	// После stop финальное событие публикуется только для failed:
	// снятие во время ожидания равносильно отказу оператора.
	publish := out.status != "" && (released || out.status == domain.StatusFailed)

	finalStatus := out.status
	if !publish {
		finalStatus = domain.StatusStopped
	}
	telemetry.TestsFinished.WithLabelValues(string(finalStatus)).Inc()

	r.logger.Info("test finished",
		"status", finalStatus,
		"duration", r.test.Duration(),
		"error", out.err,
	)

	if !publish {
		return
	}

	r.test.Advance(out.status, out.stage, out.cycle)

	event := domain.NewStatusEvent(r.test.ID, out.status).WithStage(out.stage)
	if out.cycle != nil {
		event = event.WithCycle(*out.cycle)
	}
	if out.message != "" {
		event = event.WithMessage(out.message)
	}
	r.publish(event)
}

// emitProgress публикует промежуточный статус, если тест ещё активен.
func (r *testRun) emitProgress(status domain.TestStatus, stage int, cycle *int, message string) error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	if !r.lease.Active() {
		return ErrStopped
	}

	r.test.Advance(status, stage, cycle)

	event := domain.NewStatusEvent(r.test.ID, status).WithStage(stage)
	if cycle != nil {
		event = event.WithCycle(*cycle)
	}
	if message != "" {
		event = event.WithMessage(message)
	}
	r.publish(event)
	return nil
}

// stopBy снимает регистрацию и публикует stopped. Возвращает false,
// если тест уже не активен.
func (r *testRun) stopBy(message string) bool {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	if !r.lease.Release() {
		return false
	}

	r.publish(domain.NewStatusEvent(r.test.ID, domain.StatusStopped).WithMessage(message))
	return true
}

// publish проставляет RunID и отправляет событие. Вызывается под emitMu.
func (r *testRun) publish(event domain.StatusEvent) {
	event.RunID = r.lease.RunID()
	r.o.publish(event)
}

func intPtr(v int) *int {
	return &v
}
