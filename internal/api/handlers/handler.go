// handler.go — основной обработчик API Document Vault.
// Объединяет health и бизнес-обработчики, регистрирует маршруты chi.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docvault/internal/api/errors"
	"github.com/bigkaa/docvault/internal/service"
)

// APIHandler — основной обработчик API Document Vault.
// Делегирует запросы в сервисный слой.
type APIHandler struct {
	vault       *service.VaultService
	health      *HealthHandler
	maxBodySize int64
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxBodySize — предел размера тела запроса при загрузке (байты).
func NewAPIHandler(
	vault *service.VaultService,
	health *HealthHandler,
	maxBodySize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		vault:       vault,
		health:      health,
		maxBodySize: maxBodySize,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует все маршруты API на переданном роутере.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1/documents", func(r chi.Router) {
		r.Get("/health", h.health.HealthReady)
		r.Post("/", h.UploadDocument)
		r.Get("/", h.ListDocuments)
		r.Get("/search", h.SearchDocuments)

		r.Route("/{documentID}", func(r chi.Router) {
			r.Get("/", h.GetDocument)
			r.Delete("/", h.DeleteDocument)
			r.Get("/download", h.DownloadDocument)
			r.Post("/processed", h.MarkProcessed)
		})
	})
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError транслирует ошибки сервисного слоя в HTTP-ответы.
// Неизвестные ошибки логируются и возвращаются как 500.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Документ не найден")
	case errors.Is(err, service.ErrFileTooLarge):
		apierrors.FileTooLarge(w, err.Error())
	case errors.Is(err, service.ErrUnsupportedType):
		apierrors.UnsupportedMediaType(w, err.Error())
	case errors.Is(err, service.ErrAlreadyProcessed):
		apierrors.AlreadyProcessed(w, "Документ уже обработан")
	case errors.Is(err, service.ErrStorageUnavailable):
		apierrors.StorageUnavailable(w, "Хранилище содержимого недоступно")
	default:
		h.logger.Error("Внутренняя ошибка при обработке запроса",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
