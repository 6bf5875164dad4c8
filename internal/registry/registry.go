// Package registry хранит активные тесты процесса.
//
// Registry — единственный источник истины "активен ли тест".
// Команда start регистрирует тест и получает Lease, команда stop
// снимает регистрацию. Горутина оркестратора опрашивает Lease.Active()
// между стадиями и ждёт Lease.Done() во время подтверждения.
//
// Lease привязан к конкретной регистрации: после stop тот же testId
// можно сразу запустить снова, и старый прогон не примет новую
// регистрацию за свою.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ошибки реестра.
var (
	// ErrAlreadyExists — тест с таким ID уже активен.
	ErrAlreadyExists = errors.New("test already registered")

	// ErrEmptyID — пустой testId.
	ErrEmptyID = errors.New("empty test id")
)

// Lease — регистрация одного прогона теста.
type Lease struct {
	id        string
	runID     uuid.UUID
	startTime time.Time

	registry *Registry
	done     chan struct{}
	once     sync.Once
}

// ID возвращает testId.
func (l *Lease) ID() string {
	return l.id
}

// RunID возвращает идентификатор прогона.
func (l *Lease) RunID() uuid.UUID {
	return l.runID
}

// StartTime возвращает время регистрации.
func (l *Lease) StartTime() time.Time {
	return l.startTime
}

// Active возвращает true, пока эта регистрация есть в реестре.
// Дёшево и потокобезопасно: вызывается между каждыми стадиями.
func (l *Lease) Active() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Done возвращает канал, закрываемый при снятии регистрации.
func (l *Lease) Done() <-chan struct{} {
	return l.done
}

// Release снимает регистрацию, если она ещё принадлежит этому Lease.
// Возвращает true, если регистрация была снята этим вызовом.
func (l *Lease) Release() bool {
	return l.registry.release(l)
}

// close закрывает done ровно один раз.
func (l *Lease) close() {
	l.once.Do(func() { close(l.done) })
}

// Entry — снимок активного теста.
type Entry struct {
	ID        string    `json:"testId"`
	RunID     uuid.UUID `json:"run_id"`
	StartTime time.Time `json:"start_time"`
}

// Registry — потокобезопасная карта testId → Lease.
type Registry struct {
	mu     sync.RWMutex
	leases map[string]*Lease
	now    func() time.Time
}

// New создаёт пустой реестр.
func New() *Registry {
	return &Registry{
		leases: make(map[string]*Lease),
		now:    time.Now,
	}
}

// Register регистрирует тест.
// Возвращает ErrAlreadyExists, если тест уже активен: вызывающий
// обязан сообщить already_running и не запускать второй прогон.
func (r *Registry) Register(id string) (*Lease, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.leases[id]; exists {
		return nil, ErrAlreadyExists
	}

	lease := &Lease{
		id:        id,
		runID:     uuid.New(),
		startTime: r.now(),
		registry:  r,
		done:      make(chan struct{}),
	}
	r.leases[id] = lease

	return lease, nil
}

// IsActive проверяет, зарегистрирован ли тест.
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.leases[id]
	return exists
}

// Get возвращает текущую регистрацию теста.
func (r *Registry) Get(id string) (*Lease, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lease, ok := r.leases[id]
	return lease, ok
}

// Unregister снимает регистрацию теста по ID (команда stop).
// Возвращает снятый Lease или nil, если тест не был активен.
func (r *Registry) Unregister(id string) *Lease {
	r.mu.Lock()
	lease, ok := r.leases[id]
	if ok {
		delete(r.leases, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	lease.close()
	return lease
}

// UnregisterAll снимает все регистрации (остановка процесса).
// Возвращает снятые Lease.
func (r *Registry) UnregisterAll() []*Lease {
	r.mu.Lock()
	leases := make([]*Lease, 0, len(r.leases))
	for id, lease := range r.leases {
		leases = append(leases, lease)
		delete(r.leases, id)
	}
	r.mu.Unlock()

	for _, lease := range leases {
		lease.close()
	}

	sort.Slice(leases, func(i, j int) bool { return leases[i].id < leases[j].id })
	return leases
}

// release снимает регистрацию, только если в карте лежит именно этот Lease.
func (r *Registry) release(l *Lease) bool {
	r.mu.Lock()
	current, ok := r.leases[l.id]
	owned := ok && current == l
	if owned {
		delete(r.leases, l.id)
	}
	r.mu.Unlock()

	l.close()
	return owned
}

// Snapshot возвращает активные тесты, отсортированные по ID.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.leases))
	for _, lease := range r.leases {
		entries = append(entries, Entry{
			ID:        lease.id,
			RunID:     lease.runID,
			StartTime: lease.startTime,
		})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// IDs возвращает ID активных тестов, отсортированные.
func (r *Registry) IDs() []string {
	entries := r.Snapshot()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// Len возвращает количество активных тестов.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.leases)
}
