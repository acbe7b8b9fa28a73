// auth.go — middleware аутентификации по сессионному токену.
// Извлекает Bearer-токен из Authorization, проверяет и продлевает сессию
// через token.Manager, сверяет subject сессии с каталогом пользователей
// и кладёт имя пользователя в контекст запроса.
// Права администратора проверяются отдельным middleware RequireAdmin.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/zero-server/internal/api/errors"
	"github.com/bigkaa/zero-server/internal/domain/apperr"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeySubject — имя аутентифицированного пользователя.
	ContextKeySubject contextKey = "subject"
)

// SessionVerifier — проверка сессии. Реализуется token.Manager.
type SessionVerifier interface {
	// Authenticate проверяет токен и продлевает сессию.
	Authenticate(ctx context.Context, authorization string) (string, error)
	// Verify проверяет токен без продления.
	Verify(ctx context.Context, authorization string) (string, error)
	// Revoke удаляет сессию.
	Revoke(ctx context.Context, authorization string) error
}

// SubjectResolver — сопоставление subject сессии с действующим пользователем.
// Реализуется service.UserService.
type SubjectResolver interface {
	// ResolveSubject возвращает имя пользователя.
	// ErrInvalidToken — пользователь удалён или отключён.
	ResolveSubject(ctx context.Context, subject string) (string, error)
}

// AdminChecker — правило прав администратора. Реализуется service.UserService.
type AdminChecker interface {
	IsAdmin(subject string) bool
}

// TokenAuth — middleware аутентификации.
type TokenAuth struct {
	sessions SessionVerifier
	users    SubjectResolver
	logger   *slog.Logger
}

// NewTokenAuth создаёт middleware аутентификации.
func NewTokenAuth(sessions SessionVerifier, users SubjectResolver, logger *slog.Logger) *TokenAuth {
	return &TokenAuth{
		sessions: sessions,
		users:    users,
		logger:   logger.With(slog.String("component", "token_auth")),
	}
}

// Middleware проверяет токен, продлевает сессию (verify-then-renew)
// и проверяет, что владелец сессии существует и не отключён.
// Сессия пользователя, которого больше нет или который отключён, отзывается.
func (a *TokenAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := r.Header.Get("Authorization")

			subject, err := a.sessions.Authenticate(r.Context(), authorization)
			if err != nil {
				a.reject(w, r, err)
				return
			}

			username, err := a.users.ResolveSubject(r.Context(), subject)
			if err != nil {
				if errors.Is(err, apperr.ErrInvalidToken) {
					if rerr := a.sessions.Revoke(r.Context(), authorization); rerr != nil {
						a.logger.Warn("Не удалось отозвать сессию",
							slog.String("subject", subject),
							slog.String("error", rerr.Error()),
						)
					}
				}
				a.reject(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), username)))
		})
	}
}

// VerifyOnly проверяет токен без продления сессии и без обращения
// к каталогу пользователей. Используется на выходе: продлевать
// уничтожаемую сессию незачем, а выйти может и отключённый пользователь.
// Имя пользователя в контекст не кладётся.
func (a *TokenAuth) VerifyOnly() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := a.sessions.Verify(r.Context(), r.Header.Get("Authorization")); err != nil {
				a.reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *TokenAuth) reject(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Debug("Отказ в аутентификации",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	apierrors.WriteError(w, err)
}

// RequireAdmin возвращает middleware, пропускающий только администратора.
// Должен стоять после TokenAuth.
func RequireAdmin(admins AdminChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !admins.IsAdmin(SubjectFromContext(r.Context())) {
				apierrors.Forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectFromContext извлекает имя пользователя из контекста запроса.
// Возвращает "" для неаутентифицированных запросов.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}

// WithSubject кладёт имя пользователя в контекст и в журнал запроса.
func WithSubject(ctx context.Context, subject string) context.Context {
	noteUser(ctx, subject)
	return context.WithValue(ctx, ContextKeySubject, subject)
}
