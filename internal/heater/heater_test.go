package heater

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSupervisor(timeout time.Duration) *Supervisor {
	return NewSupervisor(SupervisorConfig{StopTimeout: timeout, Logger: testLogger()})
}

func TestSupervisor_StartStop(t *testing.T) {
	s := newTestSupervisor(time.Second)

	var ticks atomic.Int32
	h := s.Start(context.Background(), "t1", "loop", ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				ticks.Add(1)
			}
		}
	}))

	require.Eventually(t, func() bool { return ticks.Load() > 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(h, 0))
	assert.False(t, h.HasCrashed())
	assert.NoError(t, h.Err())

	select {
	case <-h.Done():
	default:
		t.Fatal("done should be closed after Stop")
	}
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	s := newTestSupervisor(time.Second)

	var exits atomic.Int32
	h := s.Start(context.Background(), "t1", "loop", ActionFunc(func(ctx context.Context) error {
		<-ctx.Done()
		exits.Add(1)
		return nil
	}))

	require.NoError(t, s.Stop(h, 0))
	require.NoError(t, s.Stop(h, 0))
	assert.Equal(t, int32(1), exits.Load())
	assert.NoError(t, s.Stop(nil, 0))
}

func TestSupervisor_Crash(t *testing.T) {
	tests := []struct {
		name   string
		action ActionFunc
	}{
		{
			name:   "returns error",
			action: func(ctx context.Context) error { return errors.New("thermocouple lost") },
		},
		{
			name:   "returns nil early",
			action: func(ctx context.Context) error { return nil },
		},
		{
			name:   "panics",
			action: func(ctx context.Context) error { panic("boom") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSupervisor(time.Second)
			h := s.Start(context.Background(), "t1", "heater", tt.action)

			select {
			case <-h.Crashed():
			case <-time.After(time.Second):
				t.Fatal("crash was not surfaced")
			}

			assert.True(t, h.HasCrashed())
			require.Error(t, h.Err())
			assert.True(t, errors.Is(h.Err(), ErrCrashed))

			// Stop после падения всё равно безопасен.
			assert.NoError(t, s.Stop(h, 0))
		})
	}
}

func TestSupervisor_StopTimeout(t *testing.T) {
	s := newTestSupervisor(time.Second)

	release := make(chan struct{})
	defer close(release)

	h := s.Start(context.Background(), "t1", "stuck", ActionFunc(func(ctx context.Context) error {
		<-release
		return nil
	}))

	start := time.Now()
	err := s.Stop(h, 30*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStopTimeout))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// Повторный вызов возвращает тот же результат, не ожидая снова.
	assert.True(t, errors.Is(s.Stop(h, time.Hour), ErrStopTimeout))
}

func TestSupervisor_ParentCancelIsNotCrash(t *testing.T) {
	s := newTestSupervisor(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	h := s.Start(ctx, "t1", "loop", ActionFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	cancel()

	<-h.Done()
	assert.False(t, h.HasCrashed())
	assert.NoError(t, h.Err())
}

func TestHeater_ConvergesToTarget(t *testing.T) {
	h := NewHeater("t1", Config{
		Ambient: 22,
		Target:  60,
		Gain:    0.5,
		Tick:    time.Millisecond,
		Logger:  testLogger(),
	})
	assert.Equal(t, 22.0, h.Temperature())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.Eventually(t, h.AtTarget, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("heater did not stop")
	}

	temp := h.Temperature()
	assert.InDelta(t, 60, temp, 0.5)
	assert.LessOrEqual(t, temp, 60.0)
}

func TestHeater_Defaults(t *testing.T) {
	h := NewHeater("t1", Config{})
	assert.Equal(t, DefaultAmbient, h.Temperature())
	assert.Equal(t, DefaultTick, h.cfg.Tick)
	assert.Equal(t, DefaultGain, h.cfg.Gain)
	assert.Equal(t, DefaultTarget, h.cfg.Target)
}

func TestHeater_StepIsMonotonic(t *testing.T) {
	h := NewHeater("t1", Config{Logger: testLogger()})

	prev := h.Temperature()
	for i := 0; i < 50; i++ {
		next := h.step()
		assert.Greater(t, next, prev)
		assert.Less(t, next, DefaultTarget)
		prev = next
	}
}

func TestCatalog(t *testing.T) {
	c := DefaultCatalog(Config{Logger: testLogger()}, nil)

	assert.True(t, c.Has("heater"))
	assert.False(t, c.Has("heater_process"))
	assert.Equal(t, []string{"heater"}, c.Names())

	a, err := c.New("heater", "t1")
	require.NoError(t, err)
	_, ok := a.(*Heater)
	assert.True(t, ok)

	_, err = c.New("cooler", "t1")
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestCatalog_Process(t *testing.T) {
	c := DefaultCatalog(Config{}, &ProcessAction{Command: "/bin/true"})

	assert.Equal(t, []string{"heater", "heater_process"}, c.Names())

	a, err := c.New("heater_process", "t7")
	require.NoError(t, err)
	p := a.(*ProcessAction)
	assert.Contains(t, p.Env, "LABRUN_TEST_ID=t7")
}

func TestProcessAction_EmptyCommand(t *testing.T) {
	p := &ProcessAction{Logger: testLogger()}
	err := p.Run(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
