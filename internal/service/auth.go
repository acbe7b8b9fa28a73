// auth.go — вход и выход: проверка пароля и управление сессионным токеном.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bigkaa/zero-server/internal/domain/apperr"
	"github.com/bigkaa/zero-server/internal/repository"
	"github.com/bigkaa/zero-server/internal/token"
)

// AuthService — аутентификация по имени и паролю.
type AuthService struct {
	users  repository.UserRepository
	hasher PasswordHasher
	tokens *token.Manager
	logger *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(
	users repository.UserRepository,
	hasher PasswordHasher,
	tokens *token.Manager,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger.With(slog.String("component", "auth_service")),
	}
}

// Login проверяет пароль и выпускает токен новой сессии.
// Отключённый пользователь неотличим от несуществующего.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" {
		return "", apperr.ErrUsernameRequired
	}

	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", apperr.ErrUsernameNotExist.With(username)
		}
		return "", fmt.Errorf("поиск пользователя: %w", err)
	}
	if !u.Valid {
		return "", apperr.ErrUsernameNotExist.With(username)
	}

	ok, err := s.hasher.Verify(u.Password, password)
	if err != nil {
		return "", fmt.Errorf("проверка пароля %s: %w", username, err)
	}
	if !ok {
		s.logger.Info("Неверный пароль", slog.String("username", username))
		return "", apperr.ErrPasswordIncorrect.With(username)
	}

	// subject сессии — id пользователя: переименование не рвёт сессию,
	// а новый пользователь с прежним именем не получает чужих сессий.
	tok, err := s.tokens.Issue(ctx, strconv.FormatInt(u.ID, 10))
	if err != nil {
		return "", err
	}

	s.logger.Info("Вход выполнен", slog.String("username", u.Username))
	return tok, nil
}

// Logout завершает сессию, переданную в заголовке Authorization.
func (s *AuthService) Logout(ctx context.Context, authorization string) error {
	return s.tokens.Revoke(ctx, authorization)
}
