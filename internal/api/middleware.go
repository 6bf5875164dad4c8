package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// HeaderRequestID — заголовок с идентификатором запроса.
const HeaderRequestID = "X-Request-ID"

// Middleware — функция-обёртка для http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain применяет middleware в порядке слева направо.
// Chain(m1, m2)(handler) = m1(m2(handler))
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Logging логирует HTTP запросы.
// Команды оператора (start/stop/confirm) логируются с test_id.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			// Обёртка для захвата статуса ответа
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration", time.Since(start),
				"request_id", requestID,
				"remote_addr", r.RemoteAddr,
			}
			if id := r.PathValue("id"); id != "" {
				attrs = append(attrs, "test_id", id)
			}

			level := slog.LevelInfo
			if rw.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request", attrs...)
		})
	}
}

// Recovery восстанавливается после паники.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
					)
					InternalError(w, logger, nil)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter — обёртка для захвата статуса ответа.
type responseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader запоминает статус ответа.
func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}
