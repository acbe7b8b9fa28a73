// handler.go — основной обработчик API zero-server.
// Объединяет health и бизнес-обработчики, делегирует запросы в сервисный слой.
// Протокол: запрос {"param": {...}}, ответ {"code","message","data"}.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/zero-server/internal/api/errors"
	"github.com/bigkaa/zero-server/internal/domain/apperr"
	"github.com/bigkaa/zero-server/internal/domain/model"
)

// maxParamBody — предел размера JSON-тела запроса.
const maxParamBody = 1 << 20

// Authenticator — вход и выход. Реализуется service.AuthService.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
	Logout(ctx context.Context, authorization string) error
}

// UserManager — каталог пользователей и пароли. Реализуется service.UserService.
type UserManager interface {
	Info(ctx context.Context, username string) (*model.User, error)
	Update(ctx context.Context, username string, p model.UserUpdate) (*model.User, error)
	Select(ctx context.Context, id int64) (*model.User, error)
	Upsert(ctx context.Context, p model.UserUpsert) (*model.User, error)
	Search(ctx context.Context, page model.Page[model.UserFilter]) (*model.PageResult[*model.User], error)
	ResetPassword(ctx context.Context, id int64, password string) error
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error
}

// FileManager — загрузка и отдача файлов. Реализуется service.FileService.
type FileManager interface {
	Ingest(ctx context.Context, r io.Reader, originalName string) (*model.FileRecord, error)
	Resolve(ctx context.Context, id, code string) (*model.FileRecord, error)
	Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, rec *model.FileRecord, disposition string) error
}

// APIHandler — основной обработчик API zero-server.
type APIHandler struct {
	health        *HealthHandler
	auth          Authenticator
	users         UserManager
	files         FileManager
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize — предел размера тела запроса загрузки файла.
func NewAPIHandler(
	health *HealthHandler,
	auth Authenticator,
	users UserManager,
	files FileManager,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		auth:          auth,
		users:         users,
		files:         files,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — процесс жив.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — зависимости готовы.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// paramRequest — конверт запроса.
type paramRequest[T any] struct {
	Param T `json:"param"`
}

// decodeParam читает тело {"param": ...} в dst.
// Пустое тело допустимо: dst остаётся нулевым.
func decodeParam[T any](w http.ResponseWriter, r *http.Request, dst *T) error {
	var req paramRequest[T]
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamBody)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return apperr.ErrRequestParam.With(err.Error())
	}
	*dst = req.Param
	return nil
}

// fail отвечает конвертом ошибки. Недоменные ошибки логируются как ERROR,
// доменные — на уровне DEBUG с контекстом.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		h.logger.Debug("Ошибка запроса",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	} else {
		h.logger.Error("Внутренняя ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	apierrors.WriteError(w, err)
}
