// security.go — смена и сброс паролей.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bigkaa/zero-server/internal/domain/apperr"
)

// ResetPassword устанавливает пароль пользователю id.
// Пустой password — пароль сбрасывается на имя пользователя.
func (s *UserService) ResetPassword(ctx context.Context, id int64, password string) error {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return mapUserErr(err, apperr.ErrUserNotExist, strconv.FormatInt(id, 10))
	}
	if password == "" {
		password = u.Username
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("хеширование пароля: %w", err)
	}
	u.Password = hash
	if err := s.save(ctx, u); err != nil {
		return err
	}

	s.logger.Info("Пароль сброшен", slog.Int64("user_id", id))
	return nil
}

// ChangePassword меняет пароль текущего пользователя.
// Новый пароль должен отличаться от старого, старый — совпадать с сохранённым.
func (s *UserService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return apperr.ErrRequestParam.With("password")
	}

	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return mapUserErr(err, apperr.ErrUserNotExist, username)
	}
	if oldPassword == newPassword {
		return apperr.ErrSamePassword
	}

	ok, err := s.hasher.Verify(u.Password, oldPassword)
	if err != nil {
		return fmt.Errorf("проверка пароля %s: %w", username, err)
	}
	if !ok {
		return apperr.ErrOldPasswordIncorrect.With(username)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("хеширование пароля: %w", err)
	}
	u.Password = hash
	if err := s.save(ctx, u); err != nil {
		return err
	}

	s.logger.Info("Пароль изменён", slog.String("username", username))
	return nil
}
