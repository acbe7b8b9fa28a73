// metrics.go — Prometheus HTTP метрики zero-server.
// Регистрирует метрики: zs_http_requests_total, zs_http_request_duration_seconds.
// Нормализация путей ограничивает кардинальность лейбла path.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики zero-server
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zs_http_requests_total",
			Help: "Общее количество HTTP-запросов к zero-server",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zs_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к zero-server в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			normalizedPath := normalizePath(r.URL.Path)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			status := strconv.Itoa(code)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath сворачивает неизвестные пути в один лейбл, чтобы
// сканеры и опечатки не раздували кардинальность метрик.
func normalizePath(path string) string {
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "other"
}

// knownPaths — маршруты zero-server.
var knownPaths = map[string]struct{}{
	"/health/live":                  {},
	"/health/ready":                 {},
	"/metrics":                      {},
	"/api/oauth2/login":             {},
	"/api/oauth2/logout":            {},
	"/api/user/info":                {},
	"/api/user/update":              {},
	"/api/user/select":              {},
	"/api/user/upsert":              {},
	"/api/user/search":              {},
	"/api/security/reset-password":  {},
	"/api/security/change-password": {},
	"/api/file/info":                {},
	"/api/file/upload":              {},
	"/api/file/download":            {},
	"/api/file/view":                {},
}
