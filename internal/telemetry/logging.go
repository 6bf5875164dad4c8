package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Параметры ротации файла логов.
const (
	defaultLogFileMaxMB = 20
	logFileMaxBackups   = 5
	logFileMaxAgeDays   = 14
)

// LogLevel определяет уровень логирования из переменной окружения.
// Возможные значения: DEBUG, INFO, WARN, ERROR
// По умолчанию: INFO
func LogLevel() slog.Level {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер.
//
// Формат вывода определяется переменной LOG_FORMAT:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый формат для разработки
//
// Если задан LOG_FILE, вывод дублируется в файл с ротацией
// (LOG_FILE_MAX_MB, по умолчанию 20). Возвращаемый io.Closer
// закрывает файл; без LOG_FILE он ничего не делает.
func SetupLogger() (*slog.Logger, io.Closer) {
	out, closer := logOutput()
	logger := NewLogger(out, os.Getenv("LOG_FORMAT"), LogLevel())
	slog.SetDefault(logger)
	return logger, closer
}

// NewLogger создаёт логгер с указанным выводом, форматом и уровнем.
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// logOutput возвращает stdout или stdout + файл с ротацией.
func logOutput() (io.Writer, io.Closer) {
	path := os.Getenv("LOG_FILE")
	if path == "" {
		return os.Stdout, nopCloser{}
	}

	maxMB := defaultLogFileMaxMB
	if v, err := strconv.Atoi(os.Getenv("LOG_FILE_MAX_MB")); err == nil && v > 0 {
		maxMB = v
	}

	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
		Compress:   true,
	}

	return io.MultiWriter(os.Stdout, lj), lj
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Ключи контекста для передачи данных в логгер.
type ctxKey string

const (
	// CtxLogger — ключ для логгера в контексте.
	CtxLogger ctxKey = "logger"
)

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithTestID возвращает логгер с добавленным test_id.
func WithTestID(logger *slog.Logger, testID string) *slog.Logger {
	return logger.With("test_id", testID)
}

// WithRunID возвращает логгер с добавленным run_id.
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithStage возвращает логгер с добавленным именем стадии.
func WithStage(logger *slog.Logger, stage string) *slog.Logger {
	return logger.With("stage", stage)
}
