// logging.go — журнал HTTP-запросов через slog.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// accessEntry — поля записи журнала, которые заполняют вложенные
// middleware (контекст запроса вниз по цепочке не возвращается).
type accessEntry struct {
	user string
}

type accessEntryKey struct{}

// noteUser записывает пользователя в запись журнала текущего запроса.
func noteUser(ctx context.Context, username string) {
	if e, ok := ctx.Value(accessEntryKey{}).(*accessEntry); ok {
		e.user = username
	}
}

// RequestLogger пишет одну запись на запрос: метод, путь, шаблон
// маршрута chi, статус, длительность, размер ответа, пользователь
// (если запрос прошёл аутентификацию) и request_id.
//
// Уровень: ERROR для 5xx, WARN для 4xx, иначе INFO. Служебные
// endpoints (/health/*, /metrics) пишутся на DEBUG.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := &accessEntry{}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), accessEntryKey{}, entry)))

			status := ww.Status()
			if status == 0 {
				// обработчик ничего не записал — net/http ответит 200
				status = http.StatusOK
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					attrs = append(attrs, slog.String("route", pattern))
				}
			}
			if entry.user != "" {
				attrs = append(attrs, slog.String("user", entry.user))
			}

			logger.LogAttrs(r.Context(), accessLevel(r.URL.Path, status), "HTTP запрос", attrs...)
		})
	}
}

func accessLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case isServicePath(path):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func isServicePath(path string) bool {
	return path == "/metrics" || strings.HasPrefix(path, "/health/")
}
