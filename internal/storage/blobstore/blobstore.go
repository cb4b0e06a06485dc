// Пакет blobstore — content-хранилище документов (S3-совместимое).
// Содержимое адресуется непрозрачным ключом (content ref),
// который хранится в метаданных документа.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ошибки content-хранилища.
var (
	// ErrNotFound — объект с таким ключом отсутствует в хранилище.
	ErrNotFound = errors.New("объект не найден в хранилище")
)

// ContentStore — интерфейс content-хранилища.
// Put возвращает ключ объекта; остальные операции принимают этот ключ.
type ContentStore interface {
	// Put записывает содержимое и возвращает ключ объекта.
	Put(ctx context.Context, reader io.Reader, size int64, fileName, contentType string) (string, error)
	// PresignGetURL выдаёт подписанный URL скачивания, действительный validity.
	PresignGetURL(ctx context.Context, contentRef string, validity time.Duration) (string, error)
	// Delete удаляет объект. Отсутствующий объект — не ошибка.
	Delete(ctx context.Context, contentRef string) error
}

// GenerateContentRef генерирует ключ объекта для хранения.
// Формат: {uuid-без-дефисов}_{sanitized-имя}
// Пример: a1b2c3d4e5f6478990abcdef01234567_report_2026.pdf
func GenerateContentRef(fileName string) string {
	uid := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s_%s", uid, sanitizeFileName(fileName))
}

// sanitizeFileName убирает небезопасные символы из имени файла для ключа объекта.
// Оставляет буквы, цифры, дефис, подчёркивание и точку; отбрасывает путь.
func sanitizeFileName(fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))

	var result strings.Builder
	for _, r := range base {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.':
			result.WriteRune(r)
		case r >= 0x0400 && r <= 0x04FF: // Кириллица
			result.WriteRune(r)
		case r == ' ':
			result.WriteRune('_')
		}
	}
	if result.Len() == 0 || result.String() == "." || result.String() == ".." {
		return "file"
	}
	return result.String()
}
