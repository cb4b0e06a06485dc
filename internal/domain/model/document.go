// Пакет model — доменные модели DocVault.
// DocumentRecord — маппинг таблицы documents.
package model

import "time"

// DocumentRecord — запись документа в хранилище метаданных.
// Запись строго приватна для владельца: все запросы фильтруются по OwnerID.
type DocumentRecord struct {
	// ID — UUID документа (задаётся при загрузке)
	ID string
	// OwnerID — идентификатор владельца (sub из JWT)
	OwnerID string
	// FileName — оригинальное имя файла
	FileName string
	// ContentType — MIME-тип файла
	ContentType string
	// SizeBytes — размер файла в байтах
	SizeBytes int64
	// ContentRef — ключ объекта в content-хранилище
	ContentRef string
	// UploadedAt — время загрузки
	UploadedAt time.Time
	// Processed — пройдена ли фоновая обработка (OCR/превью)
	Processed bool
	// ExtractedText — извлечённый текст (появляется после обработки)
	ExtractedText *string
	// ThumbnailRef — ключ миниатюры в content-хранилище (после обработки)
	ThumbnailRef *string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
