// files.go — обработчики /api/file: метаданные, загрузка, скачивание, просмотр.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/zero-server/internal/api/errors"
	"github.com/bigkaa/zero-server/internal/domain/apperr"
	"github.com/bigkaa/zero-server/internal/service"
)

// multipartMemory — сколько multipart-данных держится в памяти,
// остальное уходит во временные файлы.
const multipartMemory = 32 << 20

// fileParam — пара id + code.
type fileParam struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// FileInfo — POST /api/file/info.
// Метаданные файла по id и коду доступа. Доступ: без аутентификации.
func (h *APIHandler) FileInfo(w http.ResponseWriter, r *http.Request) {
	var p fileParam
	if err := decodeParam(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}

	rec, err := h.files.Resolve(r.Context(), p.ID, p.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apierrors.WriteOK(w, rec.Data())
}

// FileUpload — POST /api/file/upload.
// Multipart form: file (обязательно). Доступ: аутентифицированный пользователь.
func (h *APIHandler) FileUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, apperr.ErrRequestParam.With(fmt.Sprintf("файл больше %d байт", tooLarge.Limit)))
			return
		}
		h.fail(w, r, apperr.ErrRequestParam.With("ошибка парсинга multipart: "+err.Error()))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, apperr.ErrRequestParam.With("поле 'file' обязательно"))
		return
	}
	defer file.Close()

	rec, err := h.files.Ingest(r.Context(), file, header.Filename)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apierrors.WriteOK(w, rec.Data())
}

// FileDownload — POST /api/file/download.
// Отдача файла как вложения. Доступ: аутентифицированный пользователь.
func (h *APIHandler) FileDownload(w http.ResponseWriter, r *http.Request) {
	var p fileParam
	if err := decodeParam(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	h.serve(w, r, p, service.DispositionAttachment)
}

// FileView — GET /api/file/view?id=&code=.
// Отдача файла для показа в браузере. Доступ: без аутентификации.
func (h *APIHandler) FileView(w http.ResponseWriter, r *http.Request) {
	var p fileParam
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, true, "id", query, &p.ID); err != nil {
		h.fail(w, r, apperr.ErrRequestParam.With(err.Error()))
		return
	}
	if err := runtime.BindQueryParameter("form", true, true, "code", query, &p.Code); err != nil {
		h.fail(w, r, apperr.ErrRequestParam.With(err.Error()))
		return
	}
	h.serve(w, r, p, service.DispositionInline)
}

// serve проверяет пару id + code и отдаёт файл.
func (h *APIHandler) serve(w http.ResponseWriter, r *http.Request, p fileParam, disposition string) {
	rec, err := h.files.Resolve(r.Context(), p.ID, p.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.files.Serve(r.Context(), w, r, rec, disposition); err != nil {
		h.fail(w, r, err)
	}
}
