// user.go — каталог пользователей: профиль, выборка с кэшем,
// создание/изменение администратором и поиск с пагинацией.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/bigkaa/zero-server/internal/cache"
	"github.com/bigkaa/zero-server/internal/domain/apperr"
	"github.com/bigkaa/zero-server/internal/domain/model"
	"github.com/bigkaa/zero-server/internal/repository"
)

// usernamePattern — допустимое имя пользователя.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,32}$`)

// maxNicknameLen — максимальная длина псевдонима в символах.
const maxNicknameLen = 32

// PasswordHasher — хеширование и проверка паролей.
// Реализуется credential.Verifier.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(encoded, password string) (bool, error)
}

// FileLookup — проверка существования файла (для аватара).
// Реализуется FileService.
type FileLookup interface {
	Get(ctx context.Context, id string) (*model.FileRecord, error)
}

// UserService — операции с каталогом пользователей.
type UserService struct {
	users  repository.UserRepository
	files  FileLookup
	hasher PasswordHasher
	cache  cache.Cache
	ttl    time.Duration
	admin  string
	logger *slog.Logger
}

// NewUserService создаёт сервис пользователей.
// ttl — время жизни пользователя в кэше, admin — имя администратора.
func NewUserService(
	users repository.UserRepository,
	files FileLookup,
	hasher PasswordHasher,
	c cache.Cache,
	ttl time.Duration,
	admin string,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:  users,
		files:  files,
		hasher: hasher,
		cache:  c,
		ttl:    ttl,
		admin:  admin,
		logger: logger.With(slog.String("component", "user_service")),
	}
}

// IsAdmin сообщает, есть ли у subject права администратора.
func (s *UserService) IsAdmin(subject string) bool {
	return subject != "" && subject == s.admin
}

// EnsureAdmin создаёт администратора (пароль = имя), если его ещё нет.
func (s *UserService) EnsureAdmin(ctx context.Context) error {
	_, err := s.users.FindByUsername(ctx, s.admin)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("поиск администратора: %w", err)
	}

	hash, err := s.hasher.Hash(s.admin)
	if err != nil {
		return fmt.Errorf("хеширование пароля администратора: %w", err)
	}
	u := &model.User{Username: s.admin, Password: hash, Nickname: s.admin, Valid: true}
	if err := s.users.Save(ctx, u); err != nil && !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("создание администратора: %w", err)
	}

	s.logger.Warn("Создан администратор с паролем по умолчанию, смените пароль",
		slog.String("username", s.admin),
	)
	return nil
}

// ResolveSubject возвращает имя пользователя для subject сессии (id).
// Удалённый или отключённый пользователь — ErrInvalidToken.
// Читает через кэш Select, который вычищается при каждом изменении.
func (s *UserService) ResolveSubject(ctx context.Context, subject string) (string, error) {
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || id <= 0 {
		return "", apperr.ErrInvalidToken
	}

	u, err := s.Select(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotExist) {
			return "", apperr.ErrInvalidToken
		}
		return "", err
	}
	if !u.Valid {
		return "", apperr.ErrInvalidToken
	}
	return u.Username, nil
}

// Info возвращает профиль текущего пользователя.
func (s *UserService) Info(ctx context.Context, username string) (*model.User, error) {
	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, mapUserErr(err, apperr.ErrUsernameNotExist, username)
	}
	return u, nil
}

// Update меняет псевдоним и/или аватар текущего пользователя.
// Аватар должен ссылаться на существующий файл.
func (s *UserService) Update(ctx context.Context, username string, p model.UserUpdate) (*model.User, error) {
	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, mapUserErr(err, apperr.ErrUsernameNotExist, username)
	}

	if p.Nickname != "" {
		if utf8.RuneCountInString(p.Nickname) > maxNicknameLen {
			return nil, apperr.ErrRequestParam.With("nickname")
		}
		u.Nickname = p.Nickname
	}
	if p.Avatar != "" {
		if _, err := s.files.Get(ctx, p.Avatar); err != nil {
			return nil, err
		}
		avatar := p.Avatar
		u.Avatar = &avatar
	}

	if err := s.save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Select возвращает пользователя по id. Результат кэшируется.
func (s *UserService) Select(ctx context.Context, id int64) (*model.User, error) {
	key := userKey(id)

	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Ошибка чтения кэша, чтение из БД",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		u := &model.User{}
		if err := json.Unmarshal(data, u); err == nil {
			return u, nil
		}
		_ = s.cache.Delete(ctx, key)
	}

	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, mapUserErr(err, apperr.ErrUserNotExist, strconv.FormatInt(id, 10))
	}

	if data, err := json.Marshal(u); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.logger.Warn("Не удалось записать пользователя в кэш",
				slog.Int64("user_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return u, nil
}

// Upsert создаёт пользователя (ID == nil, пароль = имя) или изменяет существующего.
func (s *UserService) Upsert(ctx context.Context, p model.UserUpsert) (*model.User, error) {
	if p.Username != nil && *p.Username != "" && !usernamePattern.MatchString(*p.Username) {
		return nil, apperr.ErrRequestParam.With("username")
	}
	if p.Nickname != nil && utf8.RuneCountInString(*p.Nickname) > maxNicknameLen {
		return nil, apperr.ErrRequestParam.With("nickname")
	}

	var u *model.User
	if p.ID == nil {
		if p.Username == nil || *p.Username == "" {
			return nil, apperr.ErrUsernameRequired
		}
		if _, err := s.users.FindByUsername(ctx, *p.Username); err == nil {
			return nil, apperr.ErrUsernameExists.With(*p.Username)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("поиск пользователя: %w", err)
		}

		hash, err := s.hasher.Hash(*p.Username)
		if err != nil {
			return nil, fmt.Errorf("хеширование пароля: %w", err)
		}
		u = &model.User{Username: *p.Username, Password: hash, Nickname: *p.Username, Valid: true}
	} else {
		var err error
		u, err = s.users.FindByID(ctx, *p.ID)
		if err != nil {
			return nil, mapUserErr(err, apperr.ErrUserNotExist, strconv.FormatInt(*p.ID, 10))
		}
		if p.Username != nil && *p.Username != "" && *p.Username != u.Username {
			other, err := s.users.FindByUsername(ctx, *p.Username)
			switch {
			case err == nil && other.ID != u.ID:
				return nil, apperr.ErrUsernameExists.With(*p.Username)
			case err != nil && !errors.Is(err, repository.ErrNotFound):
				return nil, fmt.Errorf("поиск пользователя: %w", err)
			}
			u.Username = *p.Username
		}
	}

	if p.Nickname != nil {
		u.Nickname = *p.Nickname
	}
	if p.Valid != nil {
		u.Valid = *p.Valid
	}

	if err := s.save(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("Пользователь сохранён",
		slog.Int64("user_id", u.ID),
		slog.String("username", u.Username),
	)
	return u, nil
}

// Search возвращает страницу пользователей по фильтру.
func (s *UserService) Search(ctx context.Context, page model.Page[model.UserFilter]) (*model.PageResult[*model.User], error) {
	page.Normalize()

	list, total, err := s.users.Search(ctx, page.Param, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("поиск пользователей: %w", err)
	}
	return &model.PageResult[*model.User]{Page: page.Page, Size: page.Size, Total: total, List: list}, nil
}

// save сохраняет пользователя и вычищает его из кэша.
// Конфликт при сохранении означает занятое имя или параллельное изменение.
func (s *UserService) save(ctx context.Context, u *model.User) error {
	if err := s.users.Save(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperr.ErrUsernameExists.With(u.Username)
		}
		return fmt.Errorf("сохранение пользователя: %w", err)
	}
	s.evict(ctx, u.ID)
	return nil
}

// evict удаляет пользователя из кэша.
func (s *UserService) evict(ctx context.Context, id int64) {
	if err := s.cache.Delete(ctx, userKey(id)); err != nil {
		s.logger.Warn("Не удалось удалить пользователя из кэша",
			slog.Int64("user_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func userKey(id int64) string {
	return cache.Key(cache.NamespaceUser, strconv.FormatInt(id, 10))
}

// mapUserErr переводит ErrNotFound репозитория в доменную ошибку notFound.
func mapUserErr(err error, notFound *apperr.Error, detail string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound.With(detail)
	}
	return fmt.Errorf("получение пользователя: %w", err)
}
