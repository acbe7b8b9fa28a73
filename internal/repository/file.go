package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/zero-server/internal/domain/model"
)

// fileColumns — список столбцов таблицы file_info для SELECT-запросов.
const fileColumns = `id, code, name, origin, type, size, path, valid, version, create_time, update_time`

// FileFilter — условия выборки одной записи.
// nil-поля не применяются.
type FileFilter struct {
	ID    *string
	Code  *string
	Valid *bool
}

// FileRepository — хранилище метаданных файлов.
type FileRepository interface {
	// FindByID возвращает запись по id независимо от признака valid.
	FindByID(ctx context.Context, id string) (*model.FileRecord, error)
	// FindOne возвращает первую запись, удовлетворяющую фильтру.
	FindOne(ctx context.Context, filter FileFilter) (*model.FileRecord, error)
	// Save вставляет (Version == 0) или обновляет запись.
	// Версию увеличивает хранилище; дубликат id или устаревшая версия — ErrConflict.
	Save(ctx context.Context, f *model.FileRecord) error
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий метаданных файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// FindByID возвращает запись по id или ErrNotFound.
func (r *fileRepo) FindByID(ctx context.Context, id string) (*model.FileRecord, error) {
	return r.FindOne(ctx, FileFilter{ID: &id})
}

// FindOne возвращает запись по фильтру или ErrNotFound.
func (r *fileRepo) FindOne(ctx context.Context, filter FileFilter) (*model.FileRecord, error) {
	where, args := buildFileWhere(filter, 1)
	query := fmt.Sprintf(`SELECT %s FROM file_info %s ORDER BY id LIMIT 1`, fileColumns, where)

	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// Save сохраняет запись. При вставке заполняет Version, CreateTime, UpdateTime.
func (r *fileRepo) Save(ctx context.Context, f *model.FileRecord) error {
	if f.Version == 0 {
		return r.insert(ctx, f)
	}
	return r.update(ctx, f)
}

// insert добавляет новую запись. Дубликат id — ErrConflict.
func (r *fileRepo) insert(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO file_info (id, code, name, origin, type, size, path, valid, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		RETURNING version, create_time, update_time`

	err := r.db.QueryRow(ctx, query,
		f.ID, f.Code, f.Name, f.Origin, f.Type, f.Size, f.Path, f.Valid,
	).Scan(&f.Version, &f.CreateTime, &f.UpdateTime)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

// update обновляет запись с проверкой версии (оптимистическая блокировка).
func (r *fileRepo) update(ctx context.Context, f *model.FileRecord) error {
	query := `
		UPDATE file_info
		SET code = $2, name = $3, origin = $4, type = $5, size = $6, path = $7,
			valid = $8, version = version + 1, update_time = NOW()
		WHERE id = $1 AND version = $9
		RETURNING version, update_time`

	err := r.db.QueryRow(ctx, query,
		f.ID, f.Code, f.Name, f.Origin, f.Type, f.Size, f.Path, f.Valid, f.Version,
	).Scan(&f.Version, &f.UpdateTime)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ошибка обновления записи файла: %w", err)
	}

	ok, err := exists(ctx, r.db, "file_info", f.ID)
	if err != nil {
		return fmt.Errorf("ошибка проверки записи файла: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return ErrConflict
}

// scanFile сканирует одну строку file_info.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	err := row.Scan(
		&f.ID, &f.Code, &f.Name, &f.Origin, &f.Type, &f.Size, &f.Path,
		&f.Valid, &f.Version, &f.CreateTime, &f.UpdateTime,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// buildFileWhere строит WHERE-условие и аргументы для FileFilter.
// startArg — номер первого $-параметра.
func buildFileWhere(filter FileFilter, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if filter.ID != nil {
		conditions = append(conditions, fmt.Sprintf("id = $%d", argNum))
		args = append(args, *filter.ID)
		argNum++
	}
	if filter.Code != nil {
		conditions = append(conditions, fmt.Sprintf("code = $%d", argNum))
		args = append(args, *filter.Code)
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
