// Пакет model — доменные модели zero-server.
// FileRecord — маппинг таблицы file_info, User — таблицы users.
package model

import "time"

// FileRecord — метаданные загруженного файла.
// Инвариант: Code == radix.Encode(ID). Запись неизменяема,
// кроме признака Valid (мягкое удаление).
type FileRecord struct {
	// ID — десятичный идентификатор: yyyyMMddHHmmssSSS + одна случайная цифра
	ID string `json:"id"`
	// Code — ID в base-62, проверочный код для доступа к файлу
	Code string `json:"code"`
	// Name — имя файла на диске (уникально в пределах каталога дня)
	Name string `json:"name"`
	// Origin — исходное имя файла у клиента
	Origin string `json:"origin"`
	// Type — MIME-тип
	Type string `json:"type"`
	// Size — размер в байтах
	Size int64 `json:"size"`
	// Path — относительный каталог yyyy/MM/dd
	Path string `json:"path"`
	// Valid — false после мягкого удаления
	Valid bool `json:"valid"`
	// Version — версия для оптимистической блокировки
	Version int `json:"version"`
	// CreateTime — время создания записи
	CreateTime time.Time `json:"createTime"`
	// UpdateTime — время последнего обновления
	UpdateTime time.Time `json:"updateTime"`
}

// FileData — представление файла для клиента.
type FileData struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Origin string `json:"origin"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
}

// Data возвращает клиентское представление записи.
func (f *FileRecord) Data() *FileData {
	return &FileData{ID: f.ID, Code: f.Code, Origin: f.Origin, Type: f.Type, Size: f.Size}
}
