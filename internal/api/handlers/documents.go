// documents.go — бизнес-обработчики документов Document Vault.
// Все операции выполняются в контексте владельца из JWT (sub).
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docvault/internal/api/errors"
	"github.com/bigkaa/docvault/internal/api/middleware"
	"github.com/bigkaa/docvault/internal/service"
)

// uploadBodyOverhead — запас сверх лимита файла на служебные части multipart.
const uploadBodyOverhead = 1 << 20

// documentResponse — представление документа в API-ответах.
type documentResponse struct {
	ID            string  `json:"id"`
	FileName      string  `json:"fileName"`
	ContentType   string  `json:"contentType"`
	SizeBytes     int64   `json:"sizeBytes"`
	UploadedAt    string  `json:"uploadedAt"`
	Processed     bool    `json:"processed"`
	ExtractedText *string `json:"extractedText,omitempty"`
	DownloadURL   string  `json:"downloadUrl,omitempty"`
}

// uploadResponse — ответ на успешную загрузку документа.
type uploadResponse struct {
	Message  string           `json:"message"`
	Document documentResponse `json:"document"`
}

// listResponse — ответ на список/поиск документов.
type listResponse struct {
	Documents []documentResponse `json:"documents"`
	Total     int                `json:"total"`
}

// markProcessedRequest — тело запроса отметки обработки.
type markProcessedRequest struct {
	ExtractedText *string `json:"extractedText"`
	ThumbnailRef  *string `json:"thumbnailRef"`
}

// toDocumentResponse конвертирует DocumentView в API-представление.
func toDocumentResponse(v *service.DocumentView) documentResponse {
	return documentResponse{
		ID:            v.ID,
		FileName:      v.FileName,
		ContentType:   v.ContentType,
		SizeBytes:     v.SizeBytes,
		UploadedAt:    v.UploadedAt.UTC().Format(time.RFC3339),
		Processed:     v.Processed,
		ExtractedText: v.ExtractedText,
		DownloadURL:   v.DownloadURL,
	}
}

// toListResponse конвертирует срез DocumentView в ответ списка.
func toListResponse(views []*service.DocumentView) listResponse {
	docs := make([]documentResponse, 0, len(views))
	for _, v := range views {
		docs = append(docs, toDocumentResponse(v))
	}
	return listResponse{Documents: docs, Total: len(docs)}
}

// ownerID извлекает идентификатор владельца из контекста запроса.
// Пустой владелец означает отсутствие аутентификации — 401.
func (h *APIHandler) ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := middleware.OwnerFromContext(r.Context())
	if owner == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return "", false
	}
	return owner, true
}

// UploadDocument — загрузка документа (multipart/form-data, поле "file").
// POST /api/v1/documents
func (h *APIHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	// Ограничиваем размер тела до начала чтения multipart
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize+uploadBodyOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			apierrors.FileTooLarge(w, "Размер запроса превышает допустимый лимит")
			return
		}
		apierrors.ValidationError(w, "Отсутствует поле 'file' в multipart/form-data")
		return
	}
	defer func() { _ = file.Close() }()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	view, err := h.vault.Upload(r.Context(), service.UploadParams{
		Reader:      file,
		FileName:    header.Filename,
		ContentType: contentType,
		SizeBytes:   header.Size,
		OwnerID:     owner,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Message:  "Документ успешно загружен",
		Document: toDocumentResponse(view),
	})
}

// ListDocuments — список документов владельца.
// GET /api/v1/documents
func (h *APIHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	views, err := h.vault.List(r.Context(), owner)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toListResponse(views))
}

// SearchDocuments — поиск документов владельца по подстроке.
// GET /api/v1/documents/search?q=...
func (h *APIHandler) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	views, err := h.vault.Search(r.Context(), owner, r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toListResponse(views))
}

// GetDocument — метаданные документа с подписанной ссылкой.
// GET /api/v1/documents/{documentID}
func (h *APIHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	view, err := h.vault.Get(r.Context(), owner, chi.URLParam(r, "documentID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(view))
}

// DownloadDocument — redirect на подписанную ссылку скачивания.
// GET /api/v1/documents/{documentID}/download
func (h *APIHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	url, err := h.vault.DownloadURL(r.Context(), owner, chi.URLParam(r, "documentID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// DeleteDocument — удаление документа (содержимое и метаданные).
// DELETE /api/v1/documents/{documentID}
func (h *APIHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	if err := h.vault.Delete(r.Context(), owner, chi.URLParam(r, "documentID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkProcessed — отметка документа как обработанного (однократная).
// POST /api/v1/documents/{documentID}/processed
func (h *APIHandler) MarkProcessed(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var req markProcessedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	documentID := chi.URLParam(r, "documentID")
	if err := h.vault.MarkProcessed(r.Context(), owner, documentID, req.ExtractedText, req.ThumbnailRef); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("Документ отмечен как обработанный",
		slog.String("document_id", documentID),
		slog.String("owner_id", owner),
	)

	view, err := h.vault.Get(r.Context(), owner, documentID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(view))
}
