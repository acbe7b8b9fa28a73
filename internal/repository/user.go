package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/zero-server/internal/domain/model"
)

// userColumns — список столбцов таблицы users для SELECT-запросов.
const userColumns = `id, username, password, nickname, avatar, valid, version, create_time, update_time`

// UserRepository — каталог пользователей.
type UserRepository interface {
	// FindByID возвращает пользователя по id.
	FindByID(ctx context.Context, id int64) (*model.User, error)
	// FindByUsername возвращает пользователя по имени.
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	// Save вставляет (ID == 0) или обновляет пользователя.
	// Занятое имя или устаревшая версия — ErrConflict.
	Save(ctx context.Context, u *model.User) error
	// Search возвращает страницу пользователей и общее количество по фильтру.
	Search(ctx context.Context, filter model.UserFilter, limit, offset int) ([]*model.User, int64, error)
}

// userRepo — реализация UserRepository через pgx.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

// FindByID возвращает пользователя по id или ErrNotFound.
func (r *userRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return r.findOne(ctx, query, id)
}

// FindByUsername возвращает пользователя по имени или ErrNotFound.
func (r *userRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE username = $1`, userColumns)
	return r.findOne(ctx, query, username)
}

func (r *userRepo) findOne(ctx context.Context, query string, arg any) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

// Save сохраняет пользователя. При вставке заполняет ID, Version и времена.
func (r *userRepo) Save(ctx context.Context, u *model.User) error {
	if u.ID == 0 {
		return r.insert(ctx, u)
	}
	return r.update(ctx, u)
}

func (r *userRepo) insert(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (username, password, nickname, avatar, valid, version)
		VALUES ($1, $2, $3, $4, $5, 1)
		RETURNING id, version, create_time, update_time`

	err := r.db.QueryRow(ctx, query,
		u.Username, u.Password, u.Nickname, u.Avatar, u.Valid,
	).Scan(&u.ID, &u.Version, &u.CreateTime, &u.UpdateTime)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) update(ctx context.Context, u *model.User) error {
	query := `
		UPDATE users
		SET username = $2, password = $3, nickname = $4, avatar = $5, valid = $6,
			version = version + 1, update_time = NOW()
		WHERE id = $1 AND version = $7
		RETURNING version, update_time`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.Username, u.Password, u.Nickname, u.Avatar, u.Valid, u.Version,
	).Scan(&u.Version, &u.UpdateTime)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ошибка обновления пользователя: %w", err)
	}

	ok, err := exists(ctx, r.db, "users", u.ID)
	if err != nil {
		return fmt.Errorf("ошибка проверки пользователя: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return ErrConflict
}

// Search выполняет поиск с фильтрами и пагинацией.
// Возвращает (результаты, общее количество, ошибка).
func (r *userRepo) Search(ctx context.Context, filter model.UserFilter, limit, offset int) ([]*model.User, int64, error) {
	where, args := buildUserWhere(filter, 1)
	argNum := len(args) + 1

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM users %s ORDER BY id LIMIT $%d OFFSET $%d`,
		userColumns, where, argNum, argNum+1,
	)
	dataArgs := append(append([]any{}, args...), limit, offset)

	rows, err := r.db.Query(ctx, dataQuery, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка поиска пользователей: %w", err)
	}
	defer rows.Close()

	result := make([]*model.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	// Общее количество (те же фильтры, без LIMIT/OFFSET)
	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM users %s`, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}

	return result, total, nil
}

// scanUser сканирует одну строку users.
func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(
		&u.ID, &u.Username, &u.Password, &u.Nickname, &u.Avatar,
		&u.Valid, &u.Version, &u.CreateTime, &u.UpdateTime,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// buildUserWhere строит WHERE-условие и аргументы для UserFilter.
// Имя и псевдоним ищутся как подстрока без учёта регистра.
func buildUserWhere(filter model.UserFilter, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if filter.Username != "" {
		conditions = append(conditions, fmt.Sprintf("username ILIKE $%d", argNum))
		args = append(args, "%"+escapeLike(filter.Username)+"%")
		argNum++
	}
	if filter.Nickname != "" {
		conditions = append(conditions, fmt.Sprintf("nickname ILIKE $%d", argNum))
		args = append(args, "%"+escapeLike(filter.Nickname)+"%")
		argNum++
	}
	if filter.Valid != nil {
		conditions = append(conditions, fmt.Sprintf("valid = $%d", argNum))
		args = append(args, *filter.Valid)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// likeEscaper экранирует спецсимволы шаблона LIKE.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
