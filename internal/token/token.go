// Пакет token — жизненный цикл сессионных токенов.
// Токен — непрозрачная строка (UUID v4, 122 бита случайности), единственное
// хранилище сессии — TTL-кэш: token → subject. Истечение скользящее:
// каждый аутентифицированный запрос продлевает сессию на полный срок.
//
// Состояния: active (ключ есть в кэше) и expired (ключа нет).
// Issue → active, Renew: active → active, Revoke или истечение TTL → expired.
// Из expired вернуться нельзя — нужен новый токен.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/zero-server/internal/cache"
	"github.com/bigkaa/zero-server/internal/domain/apperr"
)

// BearerPrefix — префикс схемы в заголовке Authorization.
const BearerPrefix = bearerScheme + " "

const bearerScheme = "Bearer"

// maskVisible — сколько первых символов токена попадает в лог.
const maskVisible = 8

// Prometheus-метрики токенов.
var tokenOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "zs_token_operations_total",
	Help: "Операции с сессионными токенами (по операции и результату).",
}, []string{"op", "result"})

// Manager выпускает, проверяет, продлевает и отзывает токены.
// Владеет пространством ключей cache.NamespaceToken.
type Manager struct {
	cache    cache.Cache
	duration time.Duration
	logger   *slog.Logger
}

// NewManager создаёт менеджер токенов.
// duration — время жизни сессии без активности.
func NewManager(c cache.Cache, duration time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		cache:    c,
		duration: duration,
		logger:   logger.With(slog.String("component", "token_manager")),
	}
}

// Issue выпускает новый токен для subject.
// Проверка уникальности не выполняется: вероятность коллизии UUID v4 пренебрежимо мала.
func (m *Manager) Issue(ctx context.Context, subject string) (string, error) {
	tok := uuid.New().String()
	if err := m.cache.Set(ctx, cache.Key(cache.NamespaceToken, tok), []byte(subject), m.duration); err != nil {
		tokenOpsTotal.WithLabelValues("issue", "error").Inc()
		return "", fmt.Errorf("сохранение токена: %w", err)
	}

	tokenOpsTotal.WithLabelValues("issue", "ok").Inc()
	m.logger.Debug("Токен выпущен", slog.String("subject", subject))
	return tok, nil
}

// Verify возвращает subject для значения заголовка Authorization.
// ErrInvalidToken — заголовок пуст, токен пуст, либо токен истёк или не выпускался.
func (m *Manager) Verify(ctx context.Context, authorization string) (string, error) {
	tok := Extract(authorization)
	if tok == "" {
		tokenOpsTotal.WithLabelValues("verify", "invalid").Inc()
		return "", apperr.ErrInvalidToken
	}

	val, ok, err := m.cache.Get(ctx, cache.Key(cache.NamespaceToken, tok))
	if err != nil {
		tokenOpsTotal.WithLabelValues("verify", "error").Inc()
		return "", fmt.Errorf("чтение токена: %w", err)
	}
	if !ok || len(val) == 0 {
		tokenOpsTotal.WithLabelValues("verify", "invalid").Inc()
		return "", apperr.ErrInvalidToken
	}

	tokenOpsTotal.WithLabelValues("verify", "ok").Inc()
	return string(val), nil
}

// Renew продлевает активную сессию на полный срок.
// Для истёкшего токена возвращает ErrInvalidToken: истёкшая сессия не воскрешается.
func (m *Manager) Renew(ctx context.Context, authorization string) error {
	subject, err := m.Verify(ctx, authorization)
	if err != nil {
		return err
	}
	return m.renew(ctx, Extract(authorization), subject)
}

// Authenticate — verify-then-renew для каждого аутентифицированного запроса.
// Пара операций не атомарна: при конкурентных запросах с одним токеном
// продление может опираться на слегка устаревшее чтение. Продление только
// переписывает TTL, поэтому гонка не портит состояние.
func (m *Manager) Authenticate(ctx context.Context, authorization string) (string, error) {
	subject, err := m.Verify(ctx, authorization)
	if err != nil {
		return "", err
	}
	if err := m.renew(ctx, Extract(authorization), subject); err != nil {
		return "", err
	}
	return subject, nil
}

// Revoke удаляет сессию. Идемпотентна: отзыв неизвестного
// или истёкшего токена логируется и не считается ошибкой.
func (m *Manager) Revoke(ctx context.Context, authorization string) error {
	tok := Extract(authorization)
	if tok == "" {
		return apperr.ErrInvalidToken
	}
	key := cache.Key(cache.NamespaceToken, tok)

	if _, ok, err := m.cache.Get(ctx, key); err == nil && !ok {
		m.logger.Warn("Отзыв неизвестного токена", slog.String("token", Mask(tok)))
	}

	if err := m.cache.Delete(ctx, key); err != nil {
		tokenOpsTotal.WithLabelValues("revoke", "error").Inc()
		return fmt.Errorf("удаление токена: %w", err)
	}

	tokenOpsTotal.WithLabelValues("revoke", "ok").Inc()
	return nil
}

// renew перезаписывает token → subject со свежим TTL.
func (m *Manager) renew(ctx context.Context, tok, subject string) error {
	if err := m.cache.Set(ctx, cache.Key(cache.NamespaceToken, tok), []byte(subject), m.duration); err != nil {
		tokenOpsTotal.WithLabelValues("renew", "error").Inc()
		return fmt.Errorf("продление токена: %w", err)
	}
	tokenOpsTotal.WithLabelValues("renew", "ok").Inc()
	return nil
}

// Mask сокращает токен для логов: полный токен — учётные данные и в лог не пишется.
func Mask(tok string) string {
	if len(tok) <= maskVisible {
		return "***"
	}
	return tok[:maskVisible] + "***"
}

// Extract извлекает токен из значения заголовка Authorization.
// Принимает "Bearer <token>" (схема без учёта регистра) и голый токен.
// Для пустого или некорректного заголовка возвращает "".
func Extract(authorization string) string {
	fields := strings.Fields(authorization)
	switch {
	case len(fields) == 1 && !strings.EqualFold(fields[0], bearerScheme):
		return fields[0]
	case len(fields) == 2 && strings.EqualFold(fields[0], bearerScheme):
		return fields[1]
	default:
		return ""
	}
}
