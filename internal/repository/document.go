package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/docvault/internal/domain/model"
)

// documentColumns — список столбцов таблицы documents для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const documentColumns = `id, owner_id, file_name, content_type, size_bytes, content_ref,
	uploaded_at, processed, extracted_text, thumbnail_ref, created_at, updated_at`

// SearchFields — какие поля участвуют в поиске по подстроке.
// FileName участвует всегда, остальные включаются конфигурацией.
type SearchFields struct {
	// ContentType — искать по MIME-типу
	ContentType bool
	// ExtractedText — искать по извлечённому тексту (дороже, off по умолчанию)
	ExtractedText bool
}

// DocumentRepository — интерфейс доступа к таблице documents.
// Во всех операциях ownerID обязателен: чужие записи невидимы.
type DocumentRepository interface {
	// Create вставляет новую запись документа.
	Create(ctx context.Context, doc *model.DocumentRecord) error
	// GetByID возвращает документ владельца по UUID.
	GetByID(ctx context.Context, ownerID, id string) (*model.DocumentRecord, error)
	// ListByOwner возвращает все документы владельца (uploaded_at DESC).
	ListByOwner(ctx context.Context, ownerID string) ([]*model.DocumentRecord, error)
	// Search выполняет case-insensitive поиск по подстроке в полях fields.
	Search(ctx context.Context, ownerID, term string, fields SearchFields) ([]*model.DocumentRecord, error)
	// Delete удаляет запись документа владельца.
	Delete(ctx context.Context, ownerID, id string) error
	// MarkProcessed выставляет processed=true и результаты обработки.
	// Возвращает ErrNotFound, если необработанной записи с таким id нет.
	MarkProcessed(ctx context.Context, ownerID, id string, extractedText, thumbnailRef *string) error
}

// documentRepo — реализация DocumentRepository через pgx.
type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

// Create вставляет запись. created_at/updated_at выставляет БД.
func (r *documentRepo) Create(ctx context.Context, doc *model.DocumentRecord) error {
	query := `
		INSERT INTO documents (id, owner_id, file_name, content_type, size_bytes,
			content_ref, uploaded_at, processed, extracted_text, thumbnail_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		doc.ID, doc.OwnerID, doc.FileName, doc.ContentType, doc.SizeBytes,
		doc.ContentRef, doc.UploadedAt, doc.Processed, doc.ExtractedText, doc.ThumbnailRef,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка вставки документа: %w", err)
	}
	return nil
}

// GetByID возвращает документ владельца или ErrNotFound.
// Чужой id неотличим от несуществующего.
func (r *documentRepo) GetByID(ctx context.Context, ownerID, id string) (*model.DocumentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE owner_id = $1 AND id = $2`, documentColumns)

	d := &model.DocumentRecord{}
	err := r.db.QueryRow(ctx, query, ownerID, id).Scan(
		&d.ID, &d.OwnerID, &d.FileName, &d.ContentType, &d.SizeBytes, &d.ContentRef,
		&d.UploadedAt, &d.Processed, &d.ExtractedText, &d.ThumbnailRef, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return d, nil
}

// ListByOwner возвращает документы владельца, новые первыми.
func (r *documentRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.DocumentRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM documents WHERE owner_id = $1 ORDER BY uploaded_at DESC`,
		documentColumns,
	)

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка списка документов: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// Search выполняет поиск по подстроке (ILIKE) в пределах владельца.
// Порядок результатов тот же, что у ListByOwner — uploaded_at DESC.
func (r *documentRepo) Search(ctx context.Context, ownerID, term string, fields SearchFields) ([]*model.DocumentRecord, error) {
	where, args := buildSearchWhere(ownerID, term, fields)
	query := fmt.Sprintf(
		`SELECT %s FROM documents %s ORDER BY uploaded_at DESC`,
		documentColumns, where,
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска документов: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// Delete удаляет запись документа владельца.
func (r *documentRepo) Delete(ctx context.Context, ownerID, id string) error {
	query := `DELETE FROM documents WHERE owner_id = $1 AND id = $2`

	tag, err := r.db.Exec(ctx, query, ownerID, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProcessed выставляет результаты фоновой обработки.
// Условие processed = false делает операцию одноразовой: повторный вызов
// вернёт ErrNotFound, различение с отсутствием записи — на сервисном слое.
func (r *documentRepo) MarkProcessed(ctx context.Context, ownerID, id string, extractedText, thumbnailRef *string) error {
	query := `
		UPDATE documents
		SET processed = true, extracted_text = $3, thumbnail_ref = $4, updated_at = now()
		WHERE owner_id = $1 AND id = $2 AND processed = false`

	tag, err := r.db.Exec(ctx, query, ownerID, id, extractedText, thumbnailRef)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса обработки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanDocuments читает все строки результата в слайс моделей.
func scanDocuments(rows pgx.Rows) ([]*model.DocumentRecord, error) {
	var result []*model.DocumentRecord
	for rows.Next() {
		d := &model.DocumentRecord{}
		if err := rows.Scan(
			&d.ID, &d.OwnerID, &d.FileName, &d.ContentType, &d.SizeBytes, &d.ContentRef,
			&d.UploadedAt, &d.Processed, &d.ExtractedText, &d.ThumbnailRef, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// likeEscaper экранирует метасимволы LIKE/ILIKE в пользовательском запросе.
// Без экранирования термин `a_b` сработал бы как wildcard, а не подстрока.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildSearchWhere строит WHERE-условие поиска: owner_id обязателен,
// подстрока ищется хотя бы в одном из включённых полей.
// Термин экранируется и сравнивается буквально (ESCAPE '\').
func buildSearchWhere(ownerID, term string, fields SearchFields) (whereClause string, args []any) {
	args = []any{ownerID, "%" + likeEscaper.Replace(term) + "%"}

	// file_name участвует в поиске всегда
	conditions := []string{`file_name ILIKE $2 ESCAPE '\'`}
	if fields.ContentType {
		conditions = append(conditions, `content_type ILIKE $2 ESCAPE '\'`)
	}
	if fields.ExtractedText {
		conditions = append(conditions, `extracted_text ILIKE $2 ESCAPE '\'`)
	}

	where := fmt.Sprintf("WHERE owner_id = $1 AND (%s)", strings.Join(conditions, " OR "))
	return where, args
}
