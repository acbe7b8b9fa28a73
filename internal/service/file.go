// file.go — сервис файлов: загрузка, поиск метаданных (cache-aside)
// и проверка кода доступа.
package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/zero-server/internal/cache"
	"github.com/bigkaa/zero-server/internal/domain/apperr"
	"github.com/bigkaa/zero-server/internal/domain/model"
	"github.com/bigkaa/zero-server/internal/filestore"
	"github.com/bigkaa/zero-server/internal/radix"
	"github.com/bigkaa/zero-server/internal/repository"
)

// maxIDAttempts — сколько раз генерируется новый id при конфликте первичного ключа.
const maxIDAttempts = 5

// idLayout — временная часть id: yyyyMMddHHmmss, далее миллисекунды и случайная цифра.
const idLayout = "20060102150405"

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zs_uploads_total",
		Help: "Общее количество загрузок файлов (по статусу).",
	}, []string{"status"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zs_upload_bytes_total",
		Help: "Общее количество принятых байт при загрузке.",
	})

	idCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zs_file_id_collisions_total",
		Help: "Количество повторных генераций id из-за конфликта первичного ключа.",
	})
)

// FileService — загрузка файлов и чтение их метаданных.
type FileService struct {
	repo    repository.FileRepository
	store   *filestore.FileStore
	cache   cache.Cache
	infoTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewFileService создаёт сервис файлов.
// infoTTL — время жизни метаданных в кэше.
func NewFileService(
	repo repository.FileRepository,
	store *filestore.FileStore,
	c cache.Cache,
	infoTTL time.Duration,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		repo:    repo,
		store:   store,
		cache:   c,
		infoTTL: infoTTL,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "file_service")),
	}
}

// Ingest сохраняет поток r на диск и регистрирует метаданные.
//
// Каталог и имя файла выводятся из момента загрузки, id — из того же
// момента плюс случайная цифра. При конфликте первичного ключа id
// генерируется заново (до maxIDAttempts раз). Если метаданные сохранить
// не удалось, файл с диска удаляется.
func (s *FileService) Ingest(ctx context.Context, r io.Reader, originalName string) (*model.FileRecord, error) {
	origin := originName(originalName)
	at := s.now()

	saved, err := s.store.Save(r, origin, at)
	if err != nil {
		uploadsTotal.WithLabelValues("io_error").Inc()
		if errors.Is(err, filestore.ErrEmpty) {
			return nil, apperr.ErrRequestParam.With("пустой файл")
		}
		s.logger.Error("Ошибка записи файла",
			slog.String("origin", origin),
			slog.String("error", err.Error()),
		)
		return nil, apperr.ErrFileReadWrite.With(err.Error())
	}

	rec := &model.FileRecord{
		Name:   saved.Name,
		Origin: origin,
		Type:   saved.Type,
		Size:   saved.Size,
		Path:   saved.Path,
		Valid:  true,
	}

	for attempt := 1; ; attempt++ {
		rec.ID, err = newFileID(at)
		if err == nil {
			rec.Code, err = radix.Encode(rec.ID)
		}
		if err == nil {
			err = s.repo.Save(ctx, rec)
		}
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) || attempt == maxIDAttempts {
			s.rollback(saved)
			uploadsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("сохранение метаданных файла: %w", err)
		}

		idCollisionsTotal.Inc()
		s.logger.Warn("Конфликт id файла, генерируется новый",
			slog.String("file_id", rec.ID),
			slog.Int("attempt", attempt),
		)
		rec.Version = 0
		at = s.now()
	}

	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(rec.Size))
	s.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("origin", rec.Origin),
		slog.String("type", rec.Type),
		slog.Int64("size", rec.Size),
	)

	return rec, nil
}

// Resolve возвращает активную запись файла, если code соответствует id.
//
// Cache-aside: сначала кэш, при промахе — хранилище метаданных с записью
// в кэш. Сбой или мусор в кэше не мешает чтению из хранилища.
// Неизвестный id — ErrFileNotExist, неверный code — ErrFileCode.
func (s *FileService) Resolve(ctx context.Context, id, code string) (*model.FileRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if code != rec.Code {
		return nil, apperr.ErrFileCode.With(id)
	}
	return rec, nil
}

// Get возвращает активную запись файла по id без проверки кода.
func (s *FileService) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	if id == "" {
		return nil, apperr.ErrFileNotExist
	}
	key := cache.Key(cache.NamespaceFileInfo, id)

	if rec := s.fromCache(ctx, key); rec != nil {
		return rec, nil
	}

	valid := true
	rec, err := s.repo.FindOne(ctx, repository.FileFilter{ID: &id, Valid: &valid})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.ErrFileNotExist.With(id)
		}
		return nil, fmt.Errorf("получение записи файла: %w", err)
	}

	if data, err := json.Marshal(rec); err == nil {
		if err := s.cache.Set(ctx, key, data, s.infoTTL); err != nil {
			s.logger.Warn("Не удалось записать метаданные в кэш",
				slog.String("file_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	return rec, nil
}

// fromCache читает запись из кэша. nil — промах, сбой кэша или битые данные.
func (s *FileService) fromCache(ctx context.Context, key string) *model.FileRecord {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Ошибка чтения кэша, чтение из БД",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		return nil
	}

	rec := &model.FileRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		s.logger.Warn("Повреждённая запись в кэше, чтение из БД",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		_ = s.cache.Delete(ctx, key)
		return nil
	}
	return rec
}

// Open открывает файл записи на чтение.
// Если файла нет на диске — запись помечается недействительной
// (ленивая очистка) и возвращается ErrFileNotExist.
func (s *FileService) Open(ctx context.Context, rec *model.FileRecord) (*os.File, os.FileInfo, error) {
	f, info, err := s.store.Open(rec.Path, rec.Name)
	if err == nil {
		return f, info, nil
	}
	if errors.Is(err, filestore.ErrNotExist) || errors.Is(err, filestore.ErrInvalidPath) {
		s.logger.Warn("Файл отсутствует на диске, выполняется ленивая очистка",
			slog.String("file_id", rec.ID),
			slog.String("path", filepath.Join(rec.Path, rec.Name)),
		)
		if err := s.MarkInvalid(ctx, rec.ID); err != nil {
			s.logger.Error("Ошибка ленивой очистки",
				slog.String("file_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, nil, apperr.ErrFileNotExist.With(rec.ID)
	}
	return nil, nil, apperr.ErrFileReadWrite.With(err.Error())
}

// MarkInvalid помечает запись недействительной (мягкое удаление)
// и вычищает её из кэша. Повторный вызов — no-op.
func (s *FileService) MarkInvalid(ctx context.Context, id string) error {
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.ErrFileNotExist.With(id)
		}
		return fmt.Errorf("получение записи файла: %w", err)
	}

	if rec.Valid {
		rec.Valid = false
		if err := s.repo.Save(ctx, rec); err != nil {
			return fmt.Errorf("пометка файла недействительным: %w", err)
		}
	}

	return s.Invalidate(ctx, id)
}

// Invalidate удаляет метаданные файла из кэша.
// Вызывается на каждом пути записи FileRecord.
func (s *FileService) Invalidate(ctx context.Context, id string) error {
	if err := s.cache.Delete(ctx, cache.Key(cache.NamespaceFileInfo, id)); err != nil {
		return fmt.Errorf("инвалидация кэша файла %s: %w", id, err)
	}
	return nil
}

// rollback удаляет файл, для которого не удалось сохранить метаданные.
func (s *FileService) rollback(saved *filestore.SaveResult) {
	if err := s.store.Delete(saved.Path, saved.Name); err != nil {
		s.logger.Error("Не удалось удалить файл после ошибки",
			slog.String("path", filepath.Join(saved.Path, saved.Name)),
			slog.String("error", err.Error()),
		)
	}
}

// newFileID — yyyyMMddHHmmss + 3 цифры миллисекунд + случайная цифра (crypto/rand).
func newFileID(at time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10))
	if err != nil {
		return "", fmt.Errorf("генерация id файла: %w", err)
	}
	return fmt.Sprintf("%s%03d%d", at.Format(idLayout), at.Nanosecond()/int(time.Millisecond), n.Int64()), nil
}

// originName приводит исходное имя к базовому (без каталогов клиента).
func originName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "file"
	}
	return name
}
