package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Labrun/internal/capture"
	"github.com/shaiso/Labrun/internal/domain"
	"github.com/shaiso/Labrun/internal/engine"
	"github.com/shaiso/Labrun/internal/gate"
	"github.com/shaiso/Labrun/internal/heater"
	"github.com/shaiso/Labrun/internal/registry"
	"github.com/shaiso/Labrun/internal/steps"
	"github.com/shaiso/Labrun/internal/telemetry"
)

// Default configuration values.
const (
	defaultStopTimeout      = 20 * time.Second
	defaultErrorStopTimeout = 10 * time.Second
	defaultPublishTimeout   = 5 * time.Second
)

// Сообщения событий.
const (
	msgStoppedByUser = "Test stopped by user"
	msgShuttingDown  = "rig shutting down"
)

// Capturer — захват снимка после стадии с флагом capture.
type Capturer interface {
	Capture(ctx context.Context, testID string, cycle int) (*capture.Metadata, error)
}

// Orchestrator запускает тесты и управляет ими.
//
// Один экземпляр на процесс; состояние (реестр, gate) внедряется
// через Config, глобальных переменных нет.
type Orchestrator struct {
	plan       *engine.Plan
	steps      *steps.Registry
	catalog    *heater.Catalog
	supervisor *heater.Supervisor
	gate       *gate.Gate
	registry   *registry.Registry
	sink       StatusSink
	capturer   Capturer

	stopTimeout      time.Duration
	errorStopTimeout time.Duration
	publishTimeout   time.Duration

	// vars — переменные шаблонов стадий.
	vars map[string]string

	// runs — текущий прогон каждого активного testId.
	runs map[string]*testRun
	mu   sync.RWMutex

	// baseCtx — контекст стадий. Не отменяется командой stop, только
	// принудительным завершением Shutdown.
	baseCtx context.Context

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Plan — план workflow (обязателен).
	Plan *engine.Plan

	// Steps — действия стадий (default: steps.DefaultRegistry).
	Steps *steps.Registry

	// Background — каталог фоновых действий (default: heater.DefaultCatalog).
	Background *heater.Catalog

	// Supervisor — управление фоновыми действиями.
	Supervisor *heater.Supervisor

	// Gate — точка подтверждения (default: новый gate).
	Gate *gate.Gate

	// Registry — реестр активных тестов (default: новый реестр).
	Registry *registry.Registry

	// Sink — получатель событий статуса (обязателен).
	Sink StatusSink

	// Capturer — захват снимков (nil — без снимков).
	Capturer Capturer

	// StopTimeout — ожидание остановки фона при штатном выходе (default: 20s).
	StopTimeout time.Duration

	// ErrorStopTimeout — ожидание остановки фона после ошибки (default: 10s).
	ErrorStopTimeout time.Duration

	// PublishTimeout — таймаут публикации одного события (default: 5s).
	PublishTimeout time.Duration

	// Vars — переменные для шаблонов в конфигурации стадий ({{ .Vars.name }}).
	Vars map[string]string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator и проверяет, что все действия плана известны.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Plan == nil {
		return nil, errors.New("orchestrator: plan is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("orchestrator: status sink is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stepReg := cfg.Steps
	if stepReg == nil {
		stepReg = steps.DefaultRegistry("", "", logger)
	}
	if missing := stepReg.Missing(cfg.Plan.Actions()); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, strings.Join(missing, ", "))
	}

	catalog := cfg.Background
	if catalog == nil {
		catalog = heater.DefaultCatalog(heater.Config{Logger: logger}, nil)
	}
	if bg := cfg.Plan.Background; bg != "" && !catalog.Has(bg) {
		return nil, fmt.Errorf("%w: background %s", ErrUnknownAction, bg)
	}

	supervisor := cfg.Supervisor
	if supervisor == nil {
		supervisor = heater.NewSupervisor(heater.SupervisorConfig{Logger: logger})
	}

	g := cfg.Gate
	if g == nil {
		g = gate.New(gate.Config{Logger: logger})
	}

	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}

	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}

	errorStopTimeout := cfg.ErrorStopTimeout
	if errorStopTimeout <= 0 {
		errorStopTimeout = defaultErrorStopTimeout
	}

	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		plan:             cfg.Plan,
		steps:            stepReg,
		catalog:          catalog,
		supervisor:       supervisor,
		gate:             g,
		registry:         reg,
		sink:             cfg.Sink,
		capturer:         cfg.Capturer,
		stopTimeout:      stopTimeout,
		errorStopTimeout: errorStopTimeout,
		publishTimeout:   publishTimeout,
		vars:             cfg.Vars,
		runs:             make(map[string]*testRun),
		baseCtx:          baseCtx,
		logger:           logger,
		cancelFunc:       cancel,
	}, nil
}

// Plan возвращает план workflow.
func (o *Orchestrator) Plan() *engine.Plan {
	return o.plan
}

// Registry возвращает реестр активных тестов.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Start регистрирует тест и запускает его в отдельной горутине.
//
// Для уже активного testId публикуется already_running и возвращается
// ErrAlreadyRunning; вторая горутина не запускается.
func (o *Orchestrator) Start(testID string) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}

	o.mu.Lock()
	lease, err := o.registry.Register(testID)
	if err != nil {
		o.mu.Unlock()
		if errors.Is(err, registry.ErrAlreadyExists) {
			o.logger.Warn("test already running", "test_id", testID)
			o.publish(domain.NewStatusEvent(testID, domain.StatusAlreadyRunning).
				WithMessage(fmt.Sprintf("Test %s is already running", testID)))
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, testID)
		}
		return err
	}

	r := o.newTestRun(lease)
	o.runs[testID] = r
	o.wg.Add(1)

	// started публикуется под emitMu, захваченным до того, как прогон
	// стал виден Stop: stopped не может обогнать started.
	r.emitMu.Lock()
	o.mu.Unlock()

	telemetry.TestsStarted.Inc()
	telemetry.ActiveTests.Inc()

	r.logger.Info("test started", "workflow", o.plan.Name)
	r.publish(domain.NewStatusEvent(testID, domain.StatusStarted).WithStage(0))
	r.emitMu.Unlock()

	go o.runTest(r)

	return nil
}

// Stop снимает тест с регистрации и публикует stopped.
// Горутина теста остановится на ближайшей контрольной точке.
func (o *Orchestrator) Stop(testID string) error {
	o.mu.RLock()
	r := o.runs[testID]
	o.mu.RUnlock()

	if r == nil || !r.stopBy(msgStoppedByUser) {
		o.logger.Info("stop for inactive test ignored", "test_id", testID)
		return fmt.Errorf("%w: %s", ErrTestNotActive, testID)
	}

	r.logger.Info("test stopped by user")
	return nil
}

// Confirm передаёт решение оператора ожидающему запросу теста.
// Без ожидающего запроса решение отбрасывается.
func (o *Orchestrator) Confirm(testID string, confirmed bool) error {
	if !o.gate.Resolve(testID, confirmed) {
		o.logger.Info("confirmation without pending request ignored",
			"test_id", testID,
			"confirmed", confirmed,
		)
		return fmt.Errorf("%w: no pending confirmation for %s", ErrTestNotActive, testID)
	}

	o.logger.Info("confirmation received", "test_id", testID, "confirmed", confirmed)
	return nil
}

// HandleCommand выполняет команду start/stop.
// Ожидаемые отказы (already running, неактивный тест) не считаются ошибкой.
func (o *Orchestrator) HandleCommand(cmd domain.Command) error {
	var err error

	switch cmd.Command {
	case domain.CommandStart:
		err = o.Start(cmd.TestID)
	case domain.CommandStop:
		err = o.Stop(cmd.TestID)
	default:
		o.logger.Warn("unknown command", "command", cmd.Command, "test_id", cmd.TestID)
		return nil
	}

	if errors.Is(err, ErrAlreadyRunning) || errors.Is(err, ErrTestNotActive) {
		return nil
	}
	return err
}

// ActiveTests возвращает снимок активных тестов.
func (o *Orchestrator) ActiveTests() []registry.Entry {
	return o.registry.Snapshot()
}

// Pending возвращает ожидающий запрос подтверждения теста.
func (o *Orchestrator) Pending(testID string) (gate.Pending, bool) {
	return o.gate.Pending(testID)
}

// Shutdown останавливает все активные тесты и ждёт их горутины.
//
// Каждый тест получает stopped "rig shutting down". Если ctx истекает
// раньше, чем горутины вышли, отменяются и начатые стадии.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.mu.RLock()
	runs := make([]*testRun, 0, len(o.runs))
	for _, r := range o.runs {
		runs = append(runs, r)
	}
	o.mu.RUnlock()

	o.logger.Info("stopping orchestrator...", "active_tests", len(runs))

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runs {
		r.stopBy(msgShuttingDown)
		g.Go(func() error {
			select {
			case <-r.done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Warn("tests did not finish in time, cancelling stages", "error", err)
	}

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	// После отмены стадии возвращаются быстро; ждём фоновые остановки.
	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
	return err
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// forget удаляет прогон из карты, если там лежит именно он.
func (o *Orchestrator) forget(r *testRun) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if current, ok := o.runs[r.test.ID]; ok && current == r {
		delete(o.runs, r.test.ID)
	}
}

// publish отправляет событие в sink с таймаутом. Ошибки только логируются.
func (o *Orchestrator) publish(event domain.StatusEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), o.publishTimeout)
	defer cancel()

	if err := o.sink.PublishStatus(ctx, event); err != nil {
		o.logger.Error("failed to publish status",
			"test_id", event.TestID,
			"status", event.Status,
			"error", err,
		)
	}
}
