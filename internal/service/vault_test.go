package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/docvault/internal/domain/model"
	"github.com/bigkaa/docvault/internal/repository"
	"github.com/bigkaa/docvault/internal/storage/blobstore"
)

// --- Mock repository ---

// mockDocumentRepo — мок DocumentRepository для unit-тестов.
type mockDocumentRepo struct {
	createFn        func(ctx context.Context, doc *model.DocumentRecord) error
	getByIDFn       func(ctx context.Context, ownerID, id string) (*model.DocumentRecord, error)
	listByOwnerFn   func(ctx context.Context, ownerID string) ([]*model.DocumentRecord, error)
	searchFn        func(ctx context.Context, ownerID, term string, fields repository.SearchFields) ([]*model.DocumentRecord, error)
	deleteFn        func(ctx context.Context, ownerID, id string) error
	markProcessedFn func(ctx context.Context, ownerID, id string, extractedText, thumbnailRef *string) error
}

func (m *mockDocumentRepo) Create(ctx context.Context, doc *model.DocumentRecord) error {
	if m.createFn != nil {
		return m.createFn(ctx, doc)
	}
	return nil
}

func (m *mockDocumentRepo) GetByID(ctx context.Context, ownerID, id string) (*model.DocumentRecord, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, ownerID, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockDocumentRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.DocumentRecord, error) {
	if m.listByOwnerFn != nil {
		return m.listByOwnerFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockDocumentRepo) Search(ctx context.Context, ownerID, term string, fields repository.SearchFields) ([]*model.DocumentRecord, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, ownerID, term, fields)
	}
	return nil, nil
}

func (m *mockDocumentRepo) Delete(ctx context.Context, ownerID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ownerID, id)
	}
	return nil
}

func (m *mockDocumentRepo) MarkProcessed(ctx context.Context, ownerID, id string, extractedText, thumbnailRef *string) error {
	if m.markProcessedFn != nil {
		return m.markProcessedFn(ctx, ownerID, id, extractedText, thumbnailRef)
	}
	return nil
}

// --- Mock content store ---

// mockContentStore — мок ContentStore с подсчётом вызовов.
type mockContentStore struct {
	putFn     func(ctx context.Context, reader io.Reader, size int64, fileName, contentType string) (string, error)
	presignFn func(ctx context.Context, contentRef string, validity time.Duration) (string, error)
	deleteFn  func(ctx context.Context, contentRef string) error

	putCalls    int
	deleteCalls []string
}

func (m *mockContentStore) Put(ctx context.Context, reader io.Reader, size int64, fileName, contentType string) (string, error) {
	m.putCalls++
	if m.putFn != nil {
		return m.putFn(ctx, reader, size, fileName, contentType)
	}
	return "ref-" + fileName, nil
}

func (m *mockContentStore) PresignGetURL(ctx context.Context, contentRef string, validity time.Duration) (string, error) {
	if m.presignFn != nil {
		return m.presignFn(ctx, contentRef, validity)
	}
	return "https://store.local/" + contentRef + "?sig=abc", nil
}

func (m *mockContentStore) Delete(ctx context.Context, contentRef string) error {
	m.deleteCalls = append(m.deleteCalls, contentRef)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, contentRef)
	}
	return nil
}

// --- Helpers ---

func defaultOptions() VaultOptions {
	return VaultOptions{
		URLValidity:         time.Hour,
		MaxFileSize:         100 * 1024 * 1024,
		AllowedContentTypes: []string{"application/pdf", "image/jpeg", "image/png"},
		SearchMinTerm:       2,
		SearchFields:        repository.SearchFields{ContentType: true},
	}
}

func newTestVault(t *testing.T, repo repository.DocumentRepository, store blobstore.ContentStore) *VaultService {
	t.Helper()
	logger := slog.Default()
	events := NewEventNotifier("", time.Second, 16, logger)
	t.Cleanup(events.Close)
	cache := NewCacheService(100, 5*time.Minute)
	return NewVaultService(repo, store, cache, events, defaultOptions(), logger)
}

func pdfUpload(owner string) UploadParams {
	return UploadParams{
		Reader:      strings.NewReader("%PDF-1.7 test"),
		FileName:    "report.pdf",
		ContentType: "application/pdf",
		SizeBytes:   13,
		OwnerID:     owner,
	}
}

// --- Тесты Upload ---

// TestVaultService_Upload_Success проверяет успешную загрузку:
// содержимое записано, метаданные вставлены, URL подписан.
func TestVaultService_Upload_Success(t *testing.T) {
	var created *model.DocumentRecord
	repo := &mockDocumentRepo{
		createFn: func(_ context.Context, doc *model.DocumentRecord) error {
			created = doc
			return nil
		},
	}
	store := &mockContentStore{}
	svc := newTestVault(t, repo, store)

	view, err := svc.Upload(context.Background(), pdfUpload("user-1"))
	if err != nil {
		t.Fatalf("Upload ошибка: %v", err)
	}

	if created == nil {
		t.Fatal("запись метаданных не создана")
	}
	if created.OwnerID != "user-1" {
		t.Errorf("OwnerID = %q, ожидался 'user-1'", created.OwnerID)
	}
	if created.ContentRef == "" {
		t.Error("ContentRef пуст, запись должна ссылаться на объект")
	}
	if created.Processed {
		t.Error("новый документ не должен быть processed")
	}
	if view.ID != created.ID {
		t.Errorf("view.ID = %q, ожидался %q", view.ID, created.ID)
	}
	if view.DownloadURL == "" {
		t.Error("DownloadURL пуст, ожидалась подписанная ссылка")
	}
	if view.FileName != "report.pdf" {
		t.Errorf("FileName = %q, ожидался 'report.pdf'", view.FileName)
	}
	if store.putCalls != 1 {
		t.Errorf("Put вызван %d раз, ожидался 1", store.putCalls)
	}
	if len(store.deleteCalls) != 0 {
		t.Errorf("Delete вызван %d раз, при успехе компенсация не нужна", len(store.deleteCalls))
	}
}

// TestVaultService_Upload_PresignFailureTolerated проверяет, что ошибка
// подписания URL после успешной записи не откатывает загрузку: контент и
// метаданные уже долговечны, ссылку клиент получит повторным GET.
func TestVaultService_Upload_PresignFailureTolerated(t *testing.T) {
	created := false
	repo := &mockDocumentRepo{
		createFn: func(_ context.Context, _ *model.DocumentRecord) error {
			created = true
			return nil
		},
	}
	store := &mockContentStore{
		presignFn: func(_ context.Context, _ string, _ time.Duration) (string, error) {
			return "", errors.New("эндпоинт подписания недоступен")
		},
	}
	svc := newTestVault(t, repo, store)

	view, err := svc.Upload(context.Background(), pdfUpload("user-1"))
	if err != nil {
		t.Fatalf("Upload ошибка: %v, отказ подписания не должен ронять загрузку", err)
	}
	if !created {
		t.Fatal("запись метаданных не создана")
	}
	if view.DownloadURL != "" {
		t.Errorf("DownloadURL = %q, ожидался пустой при отказе подписания", view.DownloadURL)
	}
	if len(store.deleteCalls) != 0 {
		t.Errorf("Delete вызван %d раз, компенсация здесь не нужна", len(store.deleteCalls))
	}
}

// TestVaultService_Upload_MetadataFailure проверяет компенсацию:
// при ошибке вставки метаданных content-объект удаляется.
func TestVaultService_Upload_MetadataFailure(t *testing.T) {
	repo := &mockDocumentRepo{
		createFn: func(_ context.Context, _ *model.DocumentRecord) error {
			return errors.New("нарушение ограничения")
		},
	}
	store := &mockContentStore{}
	svc := newTestVault(t, repo, store)

	_, err := svc.Upload(context.Background(), pdfUpload("user-1"))
	if !errors.Is(err, ErrMetadataWrite) {
		t.Fatalf("err = %v, ожидался ErrMetadataWrite", err)
	}

	if len(store.deleteCalls) != 1 {
		t.Fatalf("Delete вызван %d раз, ожидалась 1 компенсация", len(store.deleteCalls))
	}
	if !strings.HasPrefix(store.deleteCalls[0], "ref-") {
		t.Errorf("компенсация удалила %q, ожидался записанный объект", store.deleteCalls[0])
	}
}

// TestVaultService_Upload_MetadataFailure_CancelledContext проверяет,
// что компенсация выполняется даже при отменённом контексте запроса.
func TestVaultService_Upload_MetadataFailure_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var deleteCtxErr error
	repo := &mockDocumentRepo{
		createFn: func(_ context.Context, _ *model.DocumentRecord) error {
			cancel() // клиент отвалился прямо перед вставкой
			return errors.New("вставка прервана")
		},
	}
	store := &mockContentStore{
		deleteFn: func(ctx context.Context, _ string) error {
			deleteCtxErr = ctx.Err()
			return nil
		},
	}
	svc := newTestVault(t, repo, store)

	_, err := svc.Upload(ctx, pdfUpload("user-1"))
	if !errors.Is(err, ErrMetadataWrite) {
		t.Fatalf("err = %v, ожидался ErrMetadataWrite", err)
	}
	if len(store.deleteCalls) != 1 {
		t.Fatalf("Delete вызван %d раз, ожидалась 1 компенсация", len(store.deleteCalls))
	}
	if deleteCtxErr != nil {
		t.Errorf("контекст компенсации отменён (%v), должен быть отвязан от запроса", deleteCtxErr)
	}
}

// TestVaultService_Upload_RollbackFailureTolerated проверяет, что ошибка
// самой компенсации не меняет итоговую ошибку загрузки.
func TestVaultService_Upload_RollbackFailureTolerated(t *testing.T) {
	repo := &mockDocumentRepo{
		createFn: func(_ context.Context, _ *model.DocumentRecord) error {
			return errors.New("БД недоступна")
		},
	}
	store := &mockContentStore{
		deleteFn: func(_ context.Context, _ string) error {
			return errors.New("хранилище тоже недоступно")
		},
	}
	svc := newTestVault(t, repo, store)

	_, err := svc.Upload(context.Background(), pdfUpload("user-1"))
	if !errors.Is(err, ErrMetadataWrite) {
		t.Fatalf("err = %v, ожидался ErrMetadataWrite несмотря на сбой компенсации", err)
	}
}

// TestVaultService_Upload_StorageFailure проверяет, что при ошибке
// записи содержимого метаданные не вставляются.
func TestVaultService_Upload_StorageFailure(t *testing.T) {
	createCalled := false
	repo := &mockDocumentRepo{
		createFn: func(_ context.Context, _ *model.DocumentRecord) error {
			createCalled = true
			return nil
		},
	}
	store := &mockContentStore{
		putFn: func(_ context.Context, _ io.Reader, _ int64, _, _ string) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	svc := newTestVault(t, repo, store)

	_, err := svc.Upload(context.Background(), pdfUpload("user-1"))
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("err = %v, ожидался ErrStorageUnavailable", err)
	}
	if createCalled {
		t.Error("Create вызван после ошибки хранилища, запись не должна создаваться")
	}
}

// TestVaultService_Upload_Validation проверяет валидацию параметров.
func TestVaultService_Upload_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(p *UploadParams)
		expected error
	}{
		{"пустое имя файла", func(p *UploadParams) { p.FileName = "  " }, ErrInvalidInput},
		{"пустой владелец", func(p *UploadParams) { p.OwnerID = "" }, ErrInvalidInput},
		{"нулевой размер", func(p *UploadParams) { p.SizeBytes = 0 }, ErrInvalidInput},
		{"превышение лимита", func(p *UploadParams) { p.SizeBytes = 200 * 1024 * 1024 }, ErrFileTooLarge},
		{"запрещённый тип", func(p *UploadParams) { p.ContentType = "application/x-msdownload" }, ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockDocumentRepo{}
			store := &mockContentStore{}
			svc := newTestVault(t, repo, store)

			params := pdfUpload("user-1")
			tt.mutate(&params)

			_, err := svc.Upload(context.Background(), params)
			if !errors.Is(err, tt.expected) {
				t.Errorf("err = %v, ожидался %v", err, tt.expected)
			}
			if store.putCalls != 0 {
				t.Error("Put вызван при невалидных параметрах")
			}
		})
	}
}

// --- Тесты List/Search ---

// TestVaultService_List проверяет листинг с подписанными URL.
func TestVaultService_List(t *testing.T) {
	now := time.Now().UTC()
	records := []*model.DocumentRecord{
		{ID: "doc-2", OwnerID: "user-1", FileName: "b.pdf", ContentRef: "ref-b", UploadedAt: now},
		{ID: "doc-1", OwnerID: "user-1", FileName: "a.pdf", ContentRef: "ref-a", UploadedAt: now.Add(-time.Hour)},
	}
	repo := &mockDocumentRepo{
		listByOwnerFn: func(_ context.Context, ownerID string) ([]*model.DocumentRecord, error) {
			if ownerID != "user-1" {
				t.Errorf("ownerID = %q, ожидался 'user-1'", ownerID)
			}
			return records, nil
		},
	}
	store := &mockContentStore{}
	svc := newTestVault(t, repo, store)

	views, err := svc.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("List ошибка: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("views count = %d, ожидался 2", len(views))
	}
	// Порядок репозитория (новые первыми) сохраняется
	if views[0].ID != "doc-2" || views[1].ID != "doc-1" {
		t.Errorf("порядок = [%s, %s], ожидался [doc-2, doc-1]", views[0].ID, views[1].ID)
	}
	for _, v := range views {
		if v.DownloadURL == "" {
			t.Errorf("документ %s без DownloadURL", v.ID)
		}
	}
}

// TestVaultService_Search_TermTooShort проверяет отказ на короткий запрос.
func TestVaultService_Search_TermTooShort(t *testing.T) {
	searchCalled := false
	repo := &mockDocumentRepo{
		searchFn: func(_ context.Context, _, _ string, _ repository.SearchFields) ([]*model.DocumentRecord, error) {
			searchCalled = true
			return nil, nil
		},
	}
	svc := newTestVault(t, repo, &mockContentStore{})

	for _, term := range []string{"", "a", "  a  "} {
		_, err := svc.Search(context.Background(), "user-1", term)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Search(%q): err = %v, ожидался ErrInvalidInput", term, err)
		}
	}
	if searchCalled {
		t.Error("repo.Search вызван для невалидного запроса")
	}
}

// TestVaultService_Search_EmptyTerm проверяет, что пустой запрос отклоняется
// даже при нулевом пороге длины: иначе ILIKE '%%' вернул бы все документы.
func TestVaultService_Search_EmptyTerm(t *testing.T) {
	searchCalled := false
	repo := &mockDocumentRepo{
		searchFn: func(_ context.Context, _, _ string, _ repository.SearchFields) ([]*model.DocumentRecord, error) {
			searchCalled = true
			return nil, nil
		},
	}
	logger := slog.Default()
	events := NewEventNotifier("", time.Second, 16, logger)
	t.Cleanup(events.Close)
	opts := defaultOptions()
	opts.SearchMinTerm = 0
	svc := NewVaultService(repo, &mockContentStore{}, NewCacheService(100, 5*time.Minute), events, opts, logger)

	for _, term := range []string{"", "   "} {
		_, err := svc.Search(context.Background(), "user-1", term)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Search(%q): err = %v, ожидался ErrInvalidInput", term, err)
		}
	}
	if searchCalled {
		t.Error("repo.Search вызван для пустого запроса")
	}
}

// TestVaultService_Search проверяет передачу термина и полей поиска в репозиторий.
func TestVaultService_Search(t *testing.T) {
	repo := &mockDocumentRepo{
		searchFn: func(_ context.Context, ownerID, term string, fields repository.SearchFields) ([]*model.DocumentRecord, error) {
			if ownerID != "user-1" {
				t.Errorf("ownerID = %q, ожидался 'user-1'", ownerID)
			}
			// Термин передаётся без обрамляющих пробелов
			if term != "отчёт" {
				t.Errorf("term = %q, ожидался 'отчёт'", term)
			}
			if !fields.ContentType {
				t.Error("fields.ContentType = false, ожидался true из опций")
			}
			return []*model.DocumentRecord{
				{ID: "doc-1", ContentRef: "ref-a"},
			}, nil
		},
	}
	svc := newTestVault(t, repo, &mockContentStore{})

	views, err := svc.Search(context.Background(), "user-1", "  отчёт  ")
	if err != nil {
		t.Fatalf("Search ошибка: %v", err)
	}
	if len(views) != 1 {
		t.Errorf("views count = %d, ожидался 1", len(views))
	}
}

// TestVaultService_Search_Empty проверяет пустой результат без ошибки.
func TestVaultService_Search_Empty(t *testing.T) {
	svc := newTestVault(t, &mockDocumentRepo{}, &mockContentStore{})

	views, err := svc.Search(context.Background(), "user-1", "ничего")
	if err != nil {
		t.Fatalf("Search ошибка: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("views count = %d, ожидался 0", len(views))
	}
}

// --- Тесты Get/Delete ---

// TestVaultService_Get_NotFound проверяет ErrNotFound для чужого/несуществующего id.
func TestVaultService_Get_NotFound(t *testing.T) {
	svc := newTestVault(t, &mockDocumentRepo{}, &mockContentStore{})

	_, err := svc.Get(context.Background(), "user-1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, ожидался ErrNotFound", err)
	}
}

// TestVaultService_Get_CacheHit проверяет, что повторный Get не ходит в БД.
func TestVaultService_Get_CacheHit(t *testing.T) {
	getCalls := 0
	repo := &mockDocumentRepo{
		getByIDFn: func(_ context.Context, _, id string) (*model.DocumentRecord, error) {
			getCalls++
			return &model.DocumentRecord{ID: id, OwnerID: "user-1", ContentRef: "ref-x"}, nil
		},
	}
	svc := newTestVault(t, repo, &mockContentStore{})

	for range 3 {
		if _, err := svc.Get(context.Background(), "user-1", "doc-1"); err != nil {
			t.Fatalf("Get ошибка: %v", err)
		}
	}
	if getCalls != 1 {
		t.Errorf("repo.GetByID вызван %d раз, ожидался 1 (кэш)", getCalls)
	}
}

// TestVaultService_Delete проверяет удаление: сначала содержимое, затем запись.
func TestVaultService_Delete(t *testing.T) {
	var order []string
	repo := &mockDocumentRepo{
		getByIDFn: func(_ context.Context, _, id string) (*model.DocumentRecord, error) {
			return &model.DocumentRecord{ID: id, OwnerID: "user-1", ContentRef: "ref-x"}, nil
		},
		deleteFn: func(_ context.Context, _, _ string) error {
			order = append(order, "metadata")
			return nil
		},
	}
	store := &mockContentStore{
		deleteFn: func(_ context.Context, _ string) error {
			order = append(order, "content")
			return nil
		},
	}
	svc := newTestVault(t, repo, store)

	if err := svc.Delete(context.Background(), "user-1", "doc-1"); err != nil {
		t.Fatalf("Delete ошибка: %v", err)
	}
	if len(order) != 2 || order[0] != "content" || order[1] != "metadata" {
		t.Errorf("порядок удаления = %v, ожидался [content, metadata]", order)
	}
}

// TestVaultService_Delete_ContentAlreadyAbsent проверяет, что отсутствие
// content-объекта не мешает удалению записи.
func TestVaultService_Delete_ContentAlreadyAbsent(t *testing.T) {
	metadataDeleted := false
	repo := &mockDocumentRepo{
		getByIDFn: func(_ context.Context, _, id string) (*model.DocumentRecord, error) {
			return &model.DocumentRecord{ID: id, OwnerID: "user-1", ContentRef: "ref-x"}, nil
		},
		deleteFn: func(_ context.Context, _, _ string) error {
			metadataDeleted = true
			return nil
		},
	}
	store := &mockContentStore{
		deleteFn: func(_ context.Context, _ string) error {
			return blobstore.ErrNotFound
		},
	}
	svc := newTestVault(t, repo, store)

	if err := svc.Delete(context.Background(), "user-1", "doc-1"); err != nil {
		t.Fatalf("Delete ошибка: %v", err)
	}
	if !metadataDeleted {
		t.Error("запись метаданных не удалена")
	}
}

// TestVaultService_Delete_NotFound проверяет ErrNotFound без побочных эффектов.
func TestVaultService_Delete_NotFound(t *testing.T) {
	store := &mockContentStore{}
	svc := newTestVault(t, &mockDocumentRepo{}, store)

	err := svc.Delete(context.Background(), "user-1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, ожидался ErrNotFound", err)
	}
	if len(store.deleteCalls) != 0 {
		t.Error("Delete хранилища вызван для несуществующего документа")
	}
}

// TestVaultService_Delete_MetadataFailure проверяет ErrMetadataWrite
// при сбое удаления записи.
func TestVaultService_Delete_MetadataFailure(t *testing.T) {
	repo := &mockDocumentRepo{
		getByIDFn: func(_ context.Context, _, id string) (*model.DocumentRecord, error) {
			return &model.DocumentRecord{ID: id, OwnerID: "user-1", ContentRef: "ref-x"}, nil
		},
		deleteFn: func(_ context.Context, _, _ string) error {
			return errors.New("deadlock")
		},
	}
	svc := newTestVault(t, repo, &mockContentStore{})

	err := svc.Delete(context.Background(), "user-1", "doc-1")
	if !errors.Is(err, ErrMetadataWrite) {
		t.Fatalf("err = %v, ожидался ErrMetadataWrite", err)
	}
}

// --- Тесты MarkProcessed ---

// TestVaultService_MarkProcessed проверяет фиксацию результатов обработки.
func TestVaultService_MarkProcessed(t *testing.T) {
	text := "извлечённый текст"
	var gotText *string
	repo := &mockDocumentRepo{
		getByIDFn: func(_ context.Context, _, id string) (*model.DocumentRecord, error) {
			return &model.DocumentRecord{ID: id, OwnerID: "user-1", ContentRef: "ref-x"}, nil
		},
		markProcessedFn: func(_ context.Context, _, _ string, extractedText, _ *string) error {
			gotText = extractedText
			return nil
		},
	}
	svc := newTestVault(t, repo, &mockContentStore{})

	if err := svc.MarkProcessed(context.Background(), "user-1", "doc-1", &text, nil); err != nil {
		t.Fatalf("MarkProcessed ошибка: %v", err)
	}
	if gotText == nil || *gotText != text {
		t.Errorf("extractedText = %v, ожидался %q", gotText, text)
	}
}

// TestVaultService_MarkProcessed_Repeated проверяет ErrAlreadyProcessed
// на повторном вызове.
func TestVaultService_MarkProcessed_Repeated(t *testing.T) {
	repo := &mockDocumentRepo{
		getByIDFn: func(_ context.Context, _, id string) (*model.DocumentRecord, error) {
			return &model.DocumentRecord{ID: id, OwnerID: "user-1", Processed: true}, nil
		},
	}
	svc := newTestVault(t, repo, &mockContentStore{})

	err := svc.MarkProcessed(context.Background(), "user-1", "doc-1", nil, nil)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("err = %v, ожидался ErrAlreadyProcessed", err)
	}
}
