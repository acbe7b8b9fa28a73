// health.go — служебные endpoints zero-server:
// /health/live (процесс жив), /health/ready (PostgreSQL и каталог
// хранилища ZS_FILE_PATH готовы), /metrics (Prometheus).
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/zero-server/internal/config"
)

// Статусы проверок готовности.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// Имена проверок в ответе /health/ready.
const (
	checkPostgreSQL = "postgresql"
	checkStorage    = "storage"
)

// serviceName — имя сервиса в ответах health endpoints.
const serviceName = "zero-server"

// ReadinessChecker — проверка готовности одной зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady(ctx context.Context) (status, message string)
}

// HealthHandler — обработчик служебных endpoints.
type HealthHandler struct {
	checks      map[string]ReadinessChecker
	started     time.Time
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик. db — PostgreSQL, storage —
// каталог файлов; nil-проверка считается проваленной.
func NewHealthHandler(db, storage ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		checks: map[string]ReadinessChecker{
			checkPostgreSQL: db,
			checkStorage:    storage,
		},
		started:     time.Now(),
		promHandler: promhttp.Handler(),
	}
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type liveResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Version       string `json:"version"`
	Timestamp     string `json:"timestamp"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type readyResponse struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]checkResult `json:"checks"`
}

// HealthLive всегда 200, пока процесс обслуживает запросы.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	writeHealthJSON(w, http.StatusOK, liveResponse{
		Status:        statusOK,
		Service:       serviceName,
		Version:       config.Version,
		Timestamp:     now.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
	})
}

// HealthReady опрашивает все зависимости: 503, если хоть одна fail,
// иначе 200 (ok или degraded).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]checkResult, len(h.checks))
	statuses := make([]string, 0, len(h.checks))
	for name, checker := range h.checks {
		res := runCheck(r.Context(), checker)
		results[name] = res
		statuses = append(statuses, res.Status)
	}

	resp := readyResponse{
		Status:    overallStatus(statuses...),
		Service:   serviceName,
		Version:   config.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
	}

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeHealthJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func runCheck(ctx context.Context, checker ReadinessChecker) checkResult {
	if checker == nil {
		return checkResult{Status: statusFail, Message: "не инициализирован"}
	}
	status, msg := checker.CheckReady(ctx)
	switch status {
	case statusOK, statusDegraded, statusFail:
	default:
		// неизвестный статус не должен маскировать проблему
		return checkResult{Status: statusFail, Message: "неизвестный статус " + status + ": " + msg}
	}
	return checkResult{Status: status, Message: msg}
}

// overallStatus: fail, если есть хоть один fail; degraded, если есть
// degraded; иначе ok.
func overallStatus(statuses ...string) string {
	result := statusOK
	for _, s := range statuses {
		switch s {
		case statusFail:
			return statusFail
		case statusDegraded:
			result = statusDegraded
		}
	}
	return result
}

// writeHealthJSON пишет служебный ответ вне конверта code/message/data.
func writeHealthJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
