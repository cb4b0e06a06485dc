// vault.go — сервис-оркестратор операций над документами.
// Координирует два независимых хранилища: content-хранилище (S3)
// и реестр метаданных (PostgreSQL). Гарантия согласованности:
// видимая запись метаданных всегда указывает на существующий объект.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docvault/internal/domain/model"
	"github.com/bigkaa/docvault/internal/repository"
	"github.com/bigkaa/docvault/internal/storage/blobstore"
)

// Ошибки сервисного слоя.
var (
	// ErrNotFound — документ не найден (или принадлежит другому владельцу).
	ErrNotFound = errors.New("документ не найден")
	// ErrInvalidInput — некорректные параметры запроса.
	ErrInvalidInput = errors.New("некорректные параметры запроса")
	// ErrFileTooLarge — размер файла превышает лимит.
	ErrFileTooLarge = errors.New("размер файла превышает лимит")
	// ErrUnsupportedType — MIME-тип файла не входит в whitelist.
	ErrUnsupportedType = errors.New("неподдерживаемый тип файла")
	// ErrStorageUnavailable — ошибка content-хранилища.
	ErrStorageUnavailable = errors.New("content-хранилище недоступно")
	// ErrMetadataWrite — ошибка записи метаданных.
	ErrMetadataWrite = errors.New("ошибка записи метаданных")
	// ErrAlreadyProcessed — документ уже прошёл обработку.
	ErrAlreadyProcessed = errors.New("документ уже обработан")
)

// Prometheus-метрики операций с документами.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_uploads_total",
		Help: "Общее количество загрузок документов (по статусу).",
	}, []string{"status"})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dv_upload_duration_seconds",
		Help:    "Длительность загрузки документа (content + метаданные).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_upload_bytes_total",
		Help: "Общее количество загруженных байт.",
	})

	uploadRollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_upload_rollbacks_total",
		Help: "Количество компенсирующих удалений content-объекта при ошибке метаданных.",
	})

	deletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_deletes_total",
		Help: "Общее количество удалений документов (по статусу).",
	}, []string{"status"})

	searchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_search_total",
		Help: "Общее количество поисковых запросов.",
	})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dv_search_duration_seconds",
		Help:    "Длительность поисковых запросов.",
		Buckets: prometheus.DefBuckets,
	})
)

// rollbackTimeout — таймаут компенсирующего удаления content-объекта.
const rollbackTimeout = 10 * time.Second

// UploadParams — параметры загрузки документа.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// FileName — оригинальное имя файла
	FileName string
	// ContentType — MIME-тип файла
	ContentType string
	// SizeBytes — размер файла (из Content-Length multipart part)
	SizeBytes int64
	// OwnerID — идентификатор владельца (sub из JWT)
	OwnerID string
}

// DocumentView — представление документа для API.
// DownloadURL — временная подписанная ссылка, в метаданных не хранится.
type DocumentView struct {
	ID            string
	FileName      string
	ContentType   string
	SizeBytes     int64
	UploadedAt    time.Time
	Processed     bool
	ExtractedText *string
	DownloadURL   string
}

// VaultOptions — политики сервиса документов.
type VaultOptions struct {
	// URLValidity — срок действия подписанных download URL
	URLValidity time.Duration
	// MaxFileSize — максимальный размер файла в байтах
	MaxFileSize int64
	// AllowedContentTypes — whitelist MIME-типов (пустой — разрешены все)
	AllowedContentTypes []string
	// SearchMinTerm — минимальная длина поискового запроса
	SearchMinTerm int
	// SearchFields — поля, участвующие в поиске
	SearchFields repository.SearchFields
}

// VaultService — оркестратор операций над документами.
type VaultService struct {
	repo   repository.DocumentRepository
	store  blobstore.ContentStore
	cache  *CacheService
	events *EventNotifier
	opts   VaultOptions
	logger *slog.Logger
}

// NewVaultService создаёт сервис документов.
func NewVaultService(
	repo repository.DocumentRepository,
	store blobstore.ContentStore,
	cache *CacheService,
	events *EventNotifier,
	opts VaultOptions,
	logger *slog.Logger,
) *VaultService {
	return &VaultService{
		repo:   repo,
		store:  store,
		cache:  cache,
		events: events,
		opts:   opts,
		logger: logger.With(slog.String("component", "vault_service")),
	}
}

// Upload загружает документ: содержимое в content-хранилище,
// метаданные в реестр.
//
// Поток:
//  1. Валидация параметров (имя, размер, MIME-тип)
//  2. Запись содержимого в content-хранилище
//  3. Вставка записи метаданных
//  4. При ошибке вставки — компенсирующее удаление content-объекта
//  5. Подпись download URL
//  6. Уведомление о загрузке (best-effort, не влияет на результат)
//
// Порядок шагов 2-3 фиксирован: объект без записи — безвредный мусор,
// запись без объекта — битая ссылка, видимая пользователю.
func (s *VaultService) Upload(ctx context.Context, params UploadParams) (*DocumentView, error) {
	start := time.Now()

	// 1. Валидация
	if err := s.validateUpload(params); err != nil {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	// 2. Записываем содержимое
	contentRef, err := s.store.Put(ctx, params.Reader, params.SizeBytes, params.FileName, params.ContentType)
	if err != nil {
		uploadsTotal.WithLabelValues("storage_error").Inc()
		s.logger.Error("Ошибка записи содержимого",
			slog.String("file_name", params.FileName),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s", ErrStorageUnavailable, err)
	}

	// 3. Вставляем запись метаданных
	record := &model.DocumentRecord{
		ID:          uuid.New().String(),
		OwnerID:     params.OwnerID,
		FileName:    params.FileName,
		ContentType: params.ContentType,
		SizeBytes:   params.SizeBytes,
		ContentRef:  contentRef,
		UploadedAt:  time.Now().UTC(),
		Processed:   false,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		// 4. Компенсирующее удаление: объект не должен остаться без записи
		s.rollbackContent(ctx, contentRef)
		uploadsTotal.WithLabelValues("metadata_error").Inc()
		s.logger.Error("Ошибка вставки метаданных, content-объект удалён",
			slog.String("document_id", record.ID),
			slog.String("content_ref", contentRef),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s", ErrMetadataWrite, err)
	}

	// 5. Подписываем download URL.
	// Ошибка подписи не откатывает загрузку: документ сохранён,
	// ссылку можно получить повторным GET.
	url, err := s.store.PresignGetURL(ctx, contentRef, s.opts.URLValidity)
	if err != nil {
		s.logger.Warn("Не удалось подписать download URL после загрузки",
			slog.String("document_id", record.ID),
			slog.String("error", err.Error()),
		)
		url = ""
	}

	// 6. Уведомляем о загрузке (fire-and-forget)
	s.events.Publish(UploadEvent{
		DocumentID:  record.ID,
		OwnerID:     record.OwnerID,
		FileName:    record.FileName,
		ContentType: record.ContentType,
		SizeBytes:   record.SizeBytes,
		UploadedAt:  record.UploadedAt,
	})

	duration := time.Since(start)
	uploadsTotal.WithLabelValues("success").Inc()
	uploadDuration.Observe(duration.Seconds())
	uploadBytesTotal.Add(float64(params.SizeBytes))

	s.logger.Info("Документ загружен",
		slog.String("document_id", record.ID),
		slog.String("owner_id", record.OwnerID),
		slog.String("file_name", record.FileName),
		slog.Int64("size", record.SizeBytes),
		slog.Duration("duration", duration),
	)

	return s.toView(record, url), nil
}

// List возвращает документы владельца, новые первыми,
// с подписанным download URL у каждого.
func (s *VaultService) List(ctx context.Context, ownerID string) ([]*DocumentView, error) {
	records, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("список документов: %w", err)
	}
	return s.toViews(ctx, records)
}

// Search выполняет поиск по подстроке в пределах владельца.
// Запрос короче SearchMinTerm отклоняется с ErrInvalidInput.
func (s *VaultService) Search(ctx context.Context, ownerID, term string) ([]*DocumentView, error) {
	start := time.Now()
	searchTotal.Inc()

	// Пустой запрос отклоняется безусловно, не полагаясь на SearchMinTerm:
	// ILIKE '%%' выродился бы в полный List
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("%w: пустой поисковый запрос", ErrInvalidInput)
	}
	if len([]rune(term)) < s.opts.SearchMinTerm {
		return nil, fmt.Errorf("%w: поисковый запрос короче %d символов", ErrInvalidInput, s.opts.SearchMinTerm)
	}

	records, err := s.repo.Search(ctx, ownerID, term, s.opts.SearchFields)
	if err != nil {
		return nil, fmt.Errorf("поиск документов: %w", err)
	}

	duration := time.Since(start)
	searchDuration.Observe(duration.Seconds())

	s.logger.Debug("Поиск выполнен",
		slog.String("owner_id", ownerID),
		slog.Int("returned", len(records)),
		slog.Duration("duration", duration),
	)

	return s.toViews(ctx, records)
}

// Get возвращает документ владельца с подписанным download URL.
func (s *VaultService) Get(ctx context.Context, ownerID, documentID string) (*DocumentView, error) {
	record, err := s.getRecord(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}

	url, err := s.store.PresignGetURL(ctx, record.ContentRef, s.opts.URLValidity)
	if err != nil {
		return nil, fmt.Errorf("%w: подпись download URL: %s", ErrStorageUnavailable, err)
	}
	return s.toView(record, url), nil
}

// DownloadURL возвращает свежеподписанный URL скачивания документа.
func (s *VaultService) DownloadURL(ctx context.Context, ownerID, documentID string) (string, error) {
	record, err := s.getRecord(ctx, ownerID, documentID)
	if err != nil {
		return "", err
	}

	url, err := s.store.PresignGetURL(ctx, record.ContentRef, s.opts.URLValidity)
	if err != nil {
		return "", fmt.Errorf("%w: подпись download URL: %s", ErrStorageUnavailable, err)
	}
	return url, nil
}

// Delete удаляет документ: сначала content-объект, затем запись метаданных.
// Обратный порядок относительно загрузки: в промежуточном состоянии
// остаётся запись с битой ссылкой не дольше одного запроса, а не
// объект-сирота навсегда.
func (s *VaultService) Delete(ctx context.Context, ownerID, documentID string) error {
	record, err := s.getRecord(ctx, ownerID, documentID)
	if err != nil {
		deletesTotal.WithLabelValues("not_found").Inc()
		return err
	}

	// Удаляем содержимое. Отсутствующий объект — не ошибка:
	// повторная попытка после частичного удаления должна пройти.
	if err := s.store.Delete(ctx, record.ContentRef); err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			deletesTotal.WithLabelValues("storage_error").Inc()
			return fmt.Errorf("%w: удаление содержимого: %s", ErrStorageUnavailable, err)
		}
		s.logger.Warn("Content-объект отсутствует при удалении",
			slog.String("document_id", documentID),
			slog.String("content_ref", record.ContentRef),
		)
	}

	// Удаляем запись метаданных
	if err := s.repo.Delete(ctx, ownerID, documentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Запись исчезла между Get и Delete — считаем удалённой
			s.cache.Delete(ownerID, documentID)
			deletesTotal.WithLabelValues("success").Inc()
			return nil
		}
		deletesTotal.WithLabelValues("metadata_error").Inc()
		return fmt.Errorf("%w: %s", ErrMetadataWrite, err)
	}

	s.cache.Delete(ownerID, documentID)
	deletesTotal.WithLabelValues("success").Inc()

	s.logger.Info("Документ удалён",
		slog.String("document_id", documentID),
		slog.String("owner_id", ownerID),
	)
	return nil
}

// MarkProcessed фиксирует результаты фоновой обработки документа.
// Операция одноразовая: повторный вызов возвращает ErrAlreadyProcessed.
func (s *VaultService) MarkProcessed(ctx context.Context, ownerID, documentID string, extractedText, thumbnailRef *string) error {
	record, err := s.getRecord(ctx, ownerID, documentID)
	if err != nil {
		return err
	}
	if record.Processed {
		return ErrAlreadyProcessed
	}

	if err := s.repo.MarkProcessed(ctx, ownerID, documentID, extractedText, thumbnailRef); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Конкурентный вызов успел раньше
			s.cache.Delete(ownerID, documentID)
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("%w: %s", ErrMetadataWrite, err)
	}

	// Кэш хранит устаревшую запись — инвалидируем
	s.cache.Delete(ownerID, documentID)

	s.logger.Info("Документ обработан",
		slog.String("document_id", documentID),
		slog.String("owner_id", ownerID),
	)
	return nil
}

// validateUpload проверяет параметры загрузки.
func (s *VaultService) validateUpload(params UploadParams) error {
	if params.OwnerID == "" {
		return fmt.Errorf("%w: отсутствует идентификатор владельца", ErrInvalidInput)
	}
	if strings.TrimSpace(params.FileName) == "" {
		return fmt.Errorf("%w: отсутствует имя файла", ErrInvalidInput)
	}
	if params.Reader == nil {
		return fmt.Errorf("%w: отсутствует содержимое файла", ErrInvalidInput)
	}
	if params.SizeBytes <= 0 {
		return fmt.Errorf("%w: пустой файл", ErrInvalidInput)
	}
	if params.SizeBytes > s.opts.MaxFileSize {
		return fmt.Errorf("%w: %d байт при максимуме %d", ErrFileTooLarge, params.SizeBytes, s.opts.MaxFileSize)
	}
	if len(s.opts.AllowedContentTypes) > 0 && !slices.Contains(s.opts.AllowedContentTypes, params.ContentType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, params.ContentType)
	}
	return nil
}

// rollbackContent выполняет компенсирующее удаление content-объекта.
// Контекст отвязывается от вызывающего: отмена исходного запроса
// не должна оставить объект-сироту.
func (s *VaultService) rollbackContent(ctx context.Context, contentRef string) {
	uploadRollbacksTotal.Inc()

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := s.store.Delete(rbCtx, contentRef); err != nil {
		// Объект-сирота не нарушает согласованность: записи на него нет
		s.logger.Error("Компенсирующее удаление не удалось, объект останется сиротой",
			slog.String("content_ref", contentRef),
			slog.String("error", err.Error()),
		)
	}
}

// getRecord получает запись документа из кэша или БД.
func (s *VaultService) getRecord(ctx context.Context, ownerID, documentID string) (*model.DocumentRecord, error) {
	// Проверяем кэш
	if record, ok := s.cache.Get(ownerID, documentID); ok {
		return record, nil
	}

	// Cache miss — запрос к БД
	record, err := s.repo.GetByID(ctx, ownerID, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение записи документа: %w", err)
	}

	// Сохраняем в кэш
	s.cache.Set(ownerID, documentID, record)

	return record, nil
}

// toView строит API-представление записи.
func (s *VaultService) toView(record *model.DocumentRecord, url string) *DocumentView {
	return &DocumentView{
		ID:            record.ID,
		FileName:      record.FileName,
		ContentType:   record.ContentType,
		SizeBytes:     record.SizeBytes,
		UploadedAt:    record.UploadedAt,
		Processed:     record.Processed,
		ExtractedText: record.ExtractedText,
		DownloadURL:   url,
	}
}

// toViews строит представления с подписанными URL для списка записей.
func (s *VaultService) toViews(ctx context.Context, records []*model.DocumentRecord) ([]*DocumentView, error) {
	views := make([]*DocumentView, 0, len(records))
	for _, record := range records {
		url, err := s.store.PresignGetURL(ctx, record.ContentRef, s.opts.URLValidity)
		if err != nil {
			return nil, fmt.Errorf("%w: подпись download URL: %s", ErrStorageUnavailable, err)
		}
		views = append(views, s.toView(record, url))
	}
	return views, nil
}
