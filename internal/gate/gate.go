// Package gate реализует точку подтверждения между циклами.
//
// Оркестратор после цикла создаёт запрос (Request), публикует
// waiting_confirmation и ждёт (Await). Внешний сигнал подтверждения
// разрешает запрос (Resolve). Ожидание бессрочное, но снимается
// закрытием канала отмены (снятие теста из реестра) или ctx.
//
// На тест допускается не более одного ожидающего запроса. Запрос
// привязан к прогону (RunID): запрос нового прогона вытесняет
// оставшийся запрос предыдущего, и Resolve всегда попадает в
// последний прогон.
// Resolve без ожидающего запроса ничего не делает: поздние и
// повторные подтверждения не копятся для будущих циклов.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ошибки gate.
var (
	// ErrAlreadyPending — для теста уже есть ожидающий запрос.
	ErrAlreadyPending = errors.New("confirmation already pending")

	// ErrNoPendingRequest — Await без соответствующего Request.
	ErrNoPendingRequest = errors.New("no pending confirmation request")

	// ErrCancelled — тест снят из реестра во время ожидания
	// или запрос вытеснен новым прогоном.
	ErrCancelled = errors.New("confirmation wait cancelled")
)

// maxPollInterval — верхняя граница шага опроса в AwaitFunc.
const maxPollInterval = time.Second

// request — ожидающий запрос подтверждения для (testId, run, cycle).
type request struct {
	testID     string
	runID      uuid.UUID
	cycle      int
	createdAt  time.Time
	resolved   bool
	result     chan bool
	superseded chan struct{}
}

// Pending — снимок ожидающего запроса.
type Pending struct {
	TestID    string    `json:"testId"`
	RunID     uuid.UUID `json:"run_id"`
	Cycle     int       `json:"cycle"`
	CreatedAt time.Time `json:"created_at"`
}

// Gate — карта ожидающих запросов под мьютексом.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*request

	pollInterval time.Duration
	logger       *slog.Logger
}

// Config — конфигурация Gate.
type Config struct {
	// PollInterval — шаг опроса для AwaitFunc (default и максимум: 1s).
	PollInterval time.Duration

	// Logger
	Logger *slog.Logger
}

// New создаёт Gate.
func New(cfg Config) *Gate {
	poll := cfg.PollInterval
	if poll <= 0 || poll > maxPollInterval {
		poll = maxPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		pending:      make(map[string]*request),
		pollInterval: poll,
		logger:       logger,
	}
}

// Request создаёт ожидающий запрос для (testID, runID, cycle).
//
// Запрос создаётся до публикации waiting_confirmation, чтобы
// быстрый ответ оператора не потерялся. Запрос другого прогона того же
// теста вытесняется: его ожидание завершается с ErrCancelled.
func (g *Gate) Request(testID string, runID uuid.UUID, cycle int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.pending[testID]; ok {
		if existing.runID == runID {
			return fmt.Errorf("%w: test %s cycle %d", ErrAlreadyPending, testID, existing.cycle)
		}
		close(existing.superseded)
		g.logger.Info("stale confirmation request superseded",
			"test_id", testID,
			"stale_run_id", existing.runID.String(),
			"run_id", runID.String(),
		)
	}

	g.pending[testID] = &request{
		testID:     testID,
		runID:      runID,
		cycle:      cycle,
		createdAt:  time.Now(),
		result:     make(chan bool, 1),
		superseded: make(chan struct{}),
	}

	g.logger.Debug("confirmation requested", "test_id", testID, "run_id", runID.String(), "cycle", cycle)
	return nil
}

// Resolve разрешает ожидающий запрос теста.
// Возвращает false, если запроса нет или он уже разрешён.
func (g *Gate) Resolve(testID string, confirmed bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.pending[testID]
	if !ok || req.resolved {
		return false
	}

	req.resolved = true
	req.result <- confirmed

	g.logger.Debug("confirmation resolved",
		"test_id", testID,
		"run_id", req.runID.String(),
		"cycle", req.cycle,
		"confirmed", confirmed,
	)
	return true
}

// Await блокируется до Resolve, закрытия cancel или отмены ctx.
//
// Возвращает:
//   - (true, nil) / (false, nil) — решение оператора
//   - (false, ErrCancelled) — cancel закрыт (тест снят) или запрос вытеснен
//   - (false, ctx.Err()) — ctx отменён
//
// Во всех случаях запрос удаляется.
func (g *Gate) Await(ctx context.Context, testID string, runID uuid.UUID, cycle int, cancel <-chan struct{}) (bool, error) {
	req, err := g.lookup(testID, runID, cycle)
	if err != nil {
		return false, err
	}
	defer g.discard(req)

	select {
	case confirmed := <-req.result:
		return confirmed, nil
	case <-cancel:
		return false, ErrCancelled
	case <-req.superseded:
		return false, ErrCancelled
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// AwaitFunc — вариант Await для источников отмены без канала.
// active опрашивается с шагом не больше секунды.
func (g *Gate) AwaitFunc(ctx context.Context, testID string, runID uuid.UUID, cycle int, active func() bool) (bool, error) {
	req, err := g.lookup(testID, runID, cycle)
	if err != nil {
		return false, err
	}
	defer g.discard(req)

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case confirmed := <-req.result:
			return confirmed, nil
		case <-req.superseded:
			return false, ErrCancelled
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			if !active() {
				return false, ErrCancelled
			}
		}
	}
}

// Cancel удаляет запрос (testID, runID, cycle), по которому ожидания не будет.
func (g *Gate) Cancel(testID string, runID uuid.UUID, cycle int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.pending[testID]
	if !ok || req.runID != runID || req.cycle != cycle {
		return false
	}
	delete(g.pending, testID)
	return true
}

// Pending возвращает ожидающий запрос теста.
func (g *Gate) Pending(testID string) (Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.pending[testID]
	if !ok {
		return Pending{}, false
	}
	return Pending{TestID: req.testID, RunID: req.runID, Cycle: req.cycle, CreatedAt: req.createdAt}, true
}

// Len возвращает количество ожидающих запросов.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// lookup находит запрос для (testID, runID, cycle).
func (g *Gate) lookup(testID string, runID uuid.UUID, cycle int) (*request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.pending[testID]
	if !ok || req.runID != runID || req.cycle != cycle {
		return nil, fmt.Errorf("%w: test %s cycle %d", ErrNoPendingRequest, testID, cycle)
	}
	return req, nil
}

// discard удаляет запрос, если в карте лежит именно он.
func (g *Gate) discard(req *request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if current, ok := g.pending[req.testID]; ok && current == req {
		delete(g.pending, req.testID)
	}
}
