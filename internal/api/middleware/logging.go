// logging.go — middleware логирования входящих HTTP-запросов через slog.
// Помимо статуса и длительности пишет владельца (sub из JWT): операции
// над документами всегда выполняются в контексте владельца, и по его
// идентификатору логи запроса сопоставляются с логами сервисного слоя.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// loggingResponseWriter — обёртка для перехвата статус-кода и размера ответа.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	written     int64
}

func (rw *loggingResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *loggingResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// ownerRecorder передаёт владельца из auth middleware наружу, в логгер.
// Auth стоит глубже по цепочке, его контекст снаружи не виден, поэтому
// логгер кладёт recorder в контекст, а auth заполняет его.
type ownerRecorder struct {
	owner string
}

const contextKeyOwnerRecorder contextKey = "owner_recorder"

// recordOwner фиксирует владельца запроса, если логгер установил recorder.
func recordOwner(ctx context.Context, owner string) {
	if rec, ok := ctx.Value(contextKeyOwnerRecorder).(*ownerRecorder); ok {
		rec.owner = owner
	}
}

// requestLevel выбирает уровень лога по статус-коду:
// INFO (1xx-3xx), WARN (4xx), ERROR (5xx).
func requestLevel(statusCode int) slog.Level {
	switch {
	case statusCode >= 500:
		return slog.LevelError
	case statusCode >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RequestLogger возвращает middleware, логирующий каждый HTTP-запрос:
// метод, путь, статус, длительность, размер ответа, remote_addr
// и owner_id аутентифицированного владельца.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			rec := &ownerRecorder{}
			ctx := context.WithValue(r.Context(), contextKeyOwnerRecorder, rec)

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("remote_addr", r.RemoteAddr),
			}
			// Владелец известен только для аутентифицированных запросов
			if rec.owner != "" {
				attrs = append(attrs, slog.String("owner_id", rec.owner))
			}

			logger.LogAttrs(r.Context(), requestLevel(wrapped.statusCode), "HTTP запрос", attrs...)
		})
	}
}
