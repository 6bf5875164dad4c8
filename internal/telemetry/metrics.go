package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TestsStarted — количество запущенных тестов.
	TestsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labrun_tests_started_total",
		Help: "Total test runs started",
	})

	// TestsFinished — количество завершённых тестов по финальному статусу.
	TestsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labrun_tests_finished_total",
		Help: "Total test runs finished, by final status",
	}, []string{"status"})

	// ActiveTests — текущее количество активных тестов.
	ActiveTests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "labrun_active_tests",
		Help: "Number of test runs currently registered",
	})

	// StageDuration — длительность стадий.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "labrun_stage_duration_seconds",
		Help:    "Duration of stage actions",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 1200},
	}, []string{"stage"})

	// ConfirmationWait — время ожидания решения оператора.
	ConfirmationWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "labrun_confirmation_wait_seconds",
		Help:    "Time spent waiting for operator confirmation",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// BackgroundStopTimeouts — фоновое действие не остановилось вовремя.
	BackgroundStopTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labrun_background_stop_timeouts_total",
		Help: "Background actions that did not exit within the stop timeout",
	})

	// BackgroundCrashes — фоновое действие завершилось само.
	BackgroundCrashes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labrun_background_crashes_total",
		Help: "Background actions that exited before being asked to stop",
	})

	// HeaterTemperature — текущая температура симулятора нагрева.
	HeaterTemperature = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "labrun_heater_temperature_celsius",
		Help: "Simulated heater temperature per test",
	}, []string{"test_id"})

	// StatusPublishErrors — ошибки публикации статусов по приёмнику.
	StatusPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labrun_status_publish_errors_total",
		Help: "Status events that a sink failed to accept",
	}, []string{"sink"})
)
