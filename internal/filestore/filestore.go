// Пакет filestore — операции с физическими файлами на диске.
// Файлы раскладываются по каталогам дня (yyyy/MM/dd) под корнем хранилища;
// имя файла на диске — метка времени с наносекундами и расширение исходного имени.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Форматы времени для каталога и имени файла.
const (
	dirLayout  = "2006/01/02"
	nameLayout = "20060102150405"
)

// sniffLen — сколько первых байт используется для определения MIME-типа.
const sniffLen = 512

// maxNameAttempts — сколько раз пробуем новое имя при коллизии.
const maxNameAttempts = 16

// Ошибки файлового хранилища.
var (
	// ErrNotExist — файла нет на диске или это не обычный файл.
	ErrNotExist = errors.New("файл не найден")
	// ErrEmpty — загружено 0 байт.
	ErrEmpty = errors.New("пустой файл")
	// ErrInvalidPath — путь выходит за пределы корня хранилища.
	ErrInvalidPath = errors.New("недопустимый путь файла")
)

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// root — корневая директория хранилища (ZS_FILE_PATH)
	root string
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// Path — относительный каталог yyyy/MM/dd
	Path string
	// Name — имя файла в каталоге
	Name string
	// Size — размер записанных данных в байтах
	Size int64
	// Type — MIME-тип по содержимому (с уточнением по расширению)
	Type string
}

// New создаёт FileStore. Создаёт корневую директорию, если её нет.
func New(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Root возвращает корневую директорию хранилища.
func (s *FileStore) Root() string {
	return s.root
}

// CheckReady проверяет, что корень хранилища существует, является
// каталогом и доступен на запись (создаёт и удаляет временный файл).
// Реализует handlers.ReadinessChecker.
func (s *FileStore) CheckReady(_ context.Context) (status string, message string) {
	info, err := os.Stat(s.root)
	if err != nil {
		return "fail", fmt.Sprintf("каталог хранилища недоступен: %v", err)
	}
	if !info.IsDir() {
		return "fail", fmt.Sprintf("%s не является каталогом", s.root)
	}

	f, err := os.CreateTemp(s.root, ".ready-*")
	if err != nil {
		return "fail", fmt.Sprintf("каталог хранилища недоступен на запись: %v", err)
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return "fail", fmt.Sprintf("не удалось удалить проверочный файл: %v", err)
	}
	return "ok", s.root
}

// Save потоково записывает данные из reader в каталог дня момента at.
//
// Имя резервируется через O_EXCL: при совпадении с уже существующим
// файлом генерируется следующее имя, существующий файл не перезаписывается.
// Данные пишутся во временный файл → fsync → rename поверх резерва.
// При ошибке временный файл и резерв удаляются.
func (s *FileStore) Save(r io.Reader, originalName string, at time.Time) (*SaveResult, error) {
	relDir := at.Format(dirLayout)
	dir := filepath.Join(s.root, filepath.FromSlash(relDir))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога %s: %w", relDir, err)
	}

	name, err := reserve(dir, at, Extension(originalName))
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
		os.Remove(fullPath)
	}

	// Streaming запись с захватом первых байт для определения типа
	head := &headWriter{limit: sniffLen}
	size, err := io.Copy(tmp, io.TeeReader(r, head))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if size == 0 {
		cleanup()
		return nil, ErrEmpty
	}

	// fsync для гарантии записи на диск
	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		os.Remove(fullPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарная замена собственного резерва
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		os.Remove(fullPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Path: relDir,
		Name: name,
		Size: size,
		Type: DetectType(head.buf, originalName),
	}, nil
}

// Open открывает файл path/name на чтение.
// ErrNotExist — файла нет или это не обычный файл.
// Вызывающий код обязан закрыть файл.
func (s *FileStore) Open(path, name string) (*os.File, os.FileInfo, error) {
	fullPath, err := s.resolve(path, name)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotExist
		}
		return nil, nil, fmt.Errorf("ошибка открытия файла %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("ошибка получения информации о файле %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrNotExist
	}

	return f, info, nil
}

// Delete удаляет файл path/name. Отсутствие файла — не ошибка.
// Используется для отката загрузки, если метаданные не сохранились.
func (s *FileStore) Delete(path, name string) error {
	fullPath, err := s.resolve(path, name)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// resolve собирает абсолютный путь и не даёт выйти за пределы корня.
func (s *FileStore) resolve(path, name string) (string, error) {
	rel := filepath.Join(filepath.FromSlash(path), name)
	if name == "" || strings.ContainsAny(name, `/\`) || !filepath.IsLocal(rel) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, rel), nil
}

// reserve создаёт пустой файл с новым именем (O_EXCL) и возвращает имя.
// При коллизии сдвигает наносекундную часть вперёд.
func reserve(dir string, at time.Time, ext string) (string, error) {
	for i := range maxNameAttempts {
		name := StoredName(at.Add(time.Duration(i)), ext)
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if err == nil {
			f.Close()
			return name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("ошибка создания файла %s: %w", name, err)
		}
	}
	return "", fmt.Errorf("не удалось подобрать свободное имя файла за %d попыток", maxNameAttempts)
}

// StoredName — имя файла на диске: yyyyMMddHHmmss + 9 цифр наносекунд + расширение.
func StoredName(at time.Time, ext string) string {
	return fmt.Sprintf("%s%09d%s", at.Format(nameLayout), at.Nanosecond(), ext)
}

// Extension возвращает расширение исходного имени в нижнем регистре (с точкой).
// Для имени без расширения или вида ".bashrc" — пустую строку.
func Extension(originalName string) string {
	base := filepath.Base(strings.ReplaceAll(originalName, `\`, "/"))
	ext := filepath.Ext(base)
	if ext == base || ext == "." {
		return ""
	}
	return strings.ToLower(ext)
}

// DetectType определяет MIME-тип по первым байтам содержимого.
// Если содержимое не распознано, используется тип по расширению имени,
// затем application/octet-stream.
func DetectType(head []byte, name string) string {
	const fallback = "application/octet-stream"

	sniffed := fallback
	if len(head) > 0 {
		sniffed = http.DetectContentType(head)
	}
	if sniffed != fallback && !strings.HasPrefix(sniffed, "text/plain") {
		return sniffed
	}
	if byExt := mime.TypeByExtension(Extension(name)); byExt != "" {
		return byExt
	}
	return sniffed
}

// headWriter запоминает первые limit байт потока.
type headWriter struct {
	buf   []byte
	limit int
}

func (w *headWriter) Write(p []byte) (int, error) {
	if n := w.limit - len(w.buf); n > 0 {
		if len(p) < n {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
	}
	return len(p), nil
}
