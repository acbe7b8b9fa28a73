// users.go — обработчики /api/user: профиль, выборка, создание/изменение, поиск.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/zero-server/internal/api/errors"
	"github.com/bigkaa/zero-server/internal/api/middleware"
	"github.com/bigkaa/zero-server/internal/domain/apperr"
	"github.com/bigkaa/zero-server/internal/domain/model"
)

// idParam — параметр с идентификатором пользователя.
type idParam struct {
	ID int64 `json:"id"`
}

// UserInfo — POST /api/user/info.
// Профиль текущего пользователя. Доступ: аутентифицированный пользователь.
func (h *APIHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Info(r.Context(), middleware.SubjectFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apierrors.WriteOK(w, u)
}

// UserUpdate — POST /api/user/update.
// Изменение псевдонима и аватара текущего пользователя.
func (h *APIHandler) UserUpdate(w http.ResponseWriter, r *http.Request) {
	var p model.UserUpdate
	if err := decodeParam(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}

	u, err := h.users.Update(r.Context(), middleware.SubjectFromContext(r.Context()), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apierrors.WriteOK(w, u)
}

// UserSelect — POST /api/user/select.
// Пользователь по id.
func (h *APIHandler) UserSelect(w http.ResponseWriter, r *http.Request) {
	var p idParam
	if err := decodeParam(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	if p.ID <= 0 {
		h.fail(w, r, apperr.ErrRequestParam.With("id"))
		return
	}

	u, err := h.users.Select(r.Context(), p.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apierrors.WriteOK(w, u)
}

// UserUpsert — POST /api/user/upsert.
// Создание (без id) или изменение пользователя. Доступ: администратор.
func (h *APIHandler) UserUpsert(w http.ResponseWriter, r *http.Request) {
	var p model.UserUpsert
	if err := decodeParam(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}

	u, err := h.users.Upsert(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apierrors.WriteOK(w, u)
}

// UserSearch — POST /api/user/search.
// Страница пользователей: {"param": {"page", "size", "param": {фильтр}}}.
func (h *APIHandler) UserSearch(w http.ResponseWriter, r *http.Request) {
	var p model.Page[model.UserFilter]
	if err := decodeParam(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.users.Search(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apierrors.WriteOK(w, page)
}
