// security.go — обработчики /api/security: сброс и смена пароля.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/zero-server/internal/api/errors"
	"github.com/bigkaa/zero-server/internal/api/middleware"
	"github.com/bigkaa/zero-server/internal/domain/apperr"
)

// resetPasswordParam — параметры сброса пароля.
type resetPasswordParam struct {
	ID       int64  `json:"id"`
	Password string `json:"password"`
}

// changePasswordParam — параметры смены пароля.
type changePasswordParam struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword — POST /api/security/reset-password.
// Пустой password сбрасывает пароль на имя пользователя. Доступ: администратор.
func (h *APIHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var p resetPasswordParam
	if err := decodeParam(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	if p.ID <= 0 {
		h.fail(w, r, apperr.ErrRequestParam.With("id"))
		return
	}

	if err := h.users.ResetPassword(r.Context(), p.ID, p.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	apierrors.WriteOK(w, struct{}{})
}

// ChangePassword — POST /api/security/change-password.
// Смена собственного пароля.
func (h *APIHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var p changePasswordParam
	if err := decodeParam(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}

	subject := middleware.SubjectFromContext(r.Context())
	if err := h.users.ChangePassword(r.Context(), subject, p.OldPassword, p.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	apierrors.WriteOK(w, struct{}{})
}
