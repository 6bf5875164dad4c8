package heater

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shaiso/Labrun/internal/telemetry"
)

// Значения симуляции по умолчанию.
const (
	DefaultAmbient     = 22.0
	DefaultTarget      = 60.0
	DefaultGain        = 0.08
	DefaultTick        = 250 * time.Millisecond
	DefaultLogInterval = 5 * time.Second
)

// Config — параметры симулированного нагревателя.
type Config struct {
	// Ambient — начальная температура, °C.
	Ambient float64

	// Target — уставка, °C.
	Target float64

	// Gain — доля разницы до уставки, закрываемая за один тик.
	Gain float64

	// Tick — период контура. Определяет задержку реакции на остановку.
	Tick time.Duration

	// LogInterval — как часто логировать температуру.
	LogInterval time.Duration

	// Logger
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Ambient == 0 {
		c.Ambient = DefaultAmbient
	}
	if c.Target == 0 {
		c.Target = DefaultTarget
	}
	if c.Gain <= 0 || c.Gain > 1 {
		c.Gain = DefaultGain
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.LogInterval <= 0 {
		c.LogInterval = DefaultLogInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Heater — контур нагрева: температура экспоненциально сходится к уставке.
type Heater struct {
	testID string
	cfg    Config

	mu          sync.RWMutex
	temperature float64
}

// NewHeater создаёт нагреватель для теста.
func NewHeater(testID string, cfg Config) *Heater {
	cfg = cfg.withDefaults()
	return &Heater{
		testID:      testID,
		cfg:         cfg,
		temperature: cfg.Ambient,
	}
}

// Temperature возвращает текущую температуру.
func (h *Heater) Temperature() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.temperature
}

// AtTarget сообщает, вышел ли нагреватель на уставку (±0.5 °C).
func (h *Heater) AtTarget() bool {
	return math.Abs(h.Temperature()-h.cfg.Target) < 0.5
}

// Run крутит контур до отмены ctx. Штатный выход — nil.
func (h *Heater) Run(ctx context.Context) error {
	logger := h.cfg.Logger.With("test_id", h.testID)
	gauge := telemetry.HeaterTemperature.WithLabelValues(h.testID)
	defer telemetry.HeaterTemperature.DeleteLabelValues(h.testID)

	logger.Info("heater on",
		"ambient", h.cfg.Ambient,
		"target", h.cfg.Target,
	)

	ticker := time.NewTicker(h.cfg.Tick)
	defer ticker.Stop()

	lastLog := time.Now()
	gauge.Set(h.Temperature())

	for {
		select {
		case <-ctx.Done():
			logger.Info("heater off", "temperature", round1(h.Temperature()))
			return nil
		case <-ticker.C:
			t := h.step()
			gauge.Set(t)

			if time.Since(lastLog) >= h.cfg.LogInterval {
				logger.Info("heater temperature",
					"temperature", round1(t),
					"target", h.cfg.Target,
				)
				lastLog = time.Now()
			}
		}
	}
}

func (h *Heater) step() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.temperature += (h.cfg.Target - h.temperature) * h.cfg.Gain
	return h.temperature
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
