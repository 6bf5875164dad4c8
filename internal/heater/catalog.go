package heater

import (
	"fmt"
	"sort"
	"sync"
)

// Factory создаёт экземпляр действия для конкретного теста.
type Factory func(testID string) Action

// Catalog — именованные фабрики фоновых действий.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog создаёт пустой каталог.
func NewCatalog() *Catalog {
	return &Catalog{
		factories: make(map[string]Factory),
	}
}

// Register добавляет фабрику. Повторная регистрация заменяет старую.
func (c *Catalog) Register(name string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = f
}

// Has проверяет наличие действия.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.factories[name]
	return ok
}

// New создаёт действие по имени.
func (c *Catalog) New(name, testID string) (Action, error) {
	c.mu.RLock()
	f, ok := c.factories[name]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return f(testID), nil
}

// Names возвращает отсортированный список имён.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultCatalog создаёт каталог с симулированным нагревателем "heater"
// и, если задан command, внешним процессом "heater_process".
func DefaultCatalog(cfg Config, process *ProcessAction) *Catalog {
	c := NewCatalog()
	c.Register("heater", func(testID string) Action {
		return NewHeater(testID, cfg)
	})
	if process != nil && process.Command != "" {
		c.Register("heater_process", func(testID string) Action {
			p := *process
			p.Env = append(append([]string(nil), process.Env...), "LABRUN_TEST_ID="+testID)
			return &p
		})
	}
	return c
}
