package model

import "time"

// User — учётная запись.
// Password хранит argon2id-хеш и никогда не сериализуется в ответ.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Password   string    `json:"-"`
	Nickname   string    `json:"nickname"`
	Avatar     *string   `json:"avatar"`
	Valid      bool      `json:"valid"`
	Version    int       `json:"version"`
	CreateTime time.Time `json:"createTime"`
	UpdateTime time.Time `json:"updateTime"`
}

// UserFilter — фильтр поиска пользователей.
// Пустые поля не применяются.
type UserFilter struct {
	// Username — подстрока имени (без учёта регистра)
	Username string `json:"username"`
	// Nickname — подстрока псевдонима (без учёта регистра)
	Nickname string `json:"nickname"`
	// Valid — точное совпадение признака активности
	Valid *bool `json:"valid"`
}

// Page — запрос страницы: номер с 1, размер страницы.
type Page[T any] struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Param T   `json:"param"`
}

// Ограничения пагинации.
const (
	DefaultPageSize = 10
	MaxPageSize     = 1000
)

// Normalize приводит номер и размер страницы к допустимым значениям.
func (p *Page[T]) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
}

// Offset — смещение первой записи страницы.
func (p *Page[T]) Offset() int {
	return (p.Page - 1) * p.Size
}

// PageResult — страница результатов.
type PageResult[T any] struct {
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Total int64 `json:"total"`
	List  []T   `json:"list"`
}

// UserUpdate — изменение собственного профиля.
// Пустые поля не меняются.
type UserUpdate struct {
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// UserUpsert — создание (ID == nil) или изменение пользователя администратором.
// nil-поля не меняются.
type UserUpsert struct {
	ID       *int64  `json:"id"`
	Username *string `json:"username"`
	Nickname *string `json:"nickname"`
	Valid    *bool   `json:"valid"`
}
