// events.go — уведомления о загрузке документов.
// Best-effort: доставка идёт асинхронно через буферизованную очередь,
// сбой webhook или переполнение очереди никогда не влияют на результат
// загрузки.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики уведомлений.
var (
	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_events_published_total",
		Help: "Количество уведомлений о загрузке (по статусу доставки).",
	}, []string{"status"}) // sent, failed, dropped, skipped
)

// UploadEvent — уведомление о загруженном документе.
// Потребитель — внешний процессор (OCR/превью), который после обработки
// вызывает POST /documents/{id}/processed.
type UploadEvent struct {
	DocumentID  string    `json:"documentId"`
	OwnerID     string    `json:"ownerId"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// EventNotifier — асинхронная отправка уведомлений на webhook.
// Publish не блокируется: при заполненной очереди событие отбрасывается.
type EventNotifier struct {
	webhookURL string
	httpClient *http.Client
	queue      chan UploadEvent
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewEventNotifier создаёт notifier и запускает воркер доставки.
// webhookURL — адрес потребителя; пустая строка отключает доставку
// (события логируются и отбрасываются).
func NewEventNotifier(webhookURL string, timeout time.Duration, queueSize int, logger *slog.Logger) *EventNotifier {
	n := &EventNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		queue:      make(chan UploadEvent, queueSize),
		logger:     logger.With(slog.String("component", "event_notifier")),
	}

	n.wg.Add(1)
	go n.worker()

	return n
}

// Publish ставит событие в очередь доставки. Никогда не блокируется:
// при переполнении очереди событие отбрасывается с warning.
func (n *EventNotifier) Publish(event UploadEvent) {
	select {
	case n.queue <- event:
	default:
		eventsPublishedTotal.WithLabelValues("dropped").Inc()
		n.logger.Warn("Очередь уведомлений переполнена, событие отброшено",
			slog.String("document_id", event.DocumentID),
		)
	}
}

// Close останавливает notifier, дожидаясь доставки оставшихся событий.
// После Close вызывать Publish нельзя.
func (n *EventNotifier) Close() {
	close(n.queue)
	n.wg.Wait()
}

// worker последовательно доставляет события из очереди.
func (n *EventNotifier) worker() {
	defer n.wg.Done()
	for event := range n.queue {
		n.deliver(event)
	}
}

// deliver отправляет одно событие на webhook.
func (n *EventNotifier) deliver(event UploadEvent) {
	if n.webhookURL == "" {
		eventsPublishedTotal.WithLabelValues("skipped").Inc()
		n.logger.Debug("Webhook не настроен, событие пропущено",
			slog.String("document_id", event.DocumentID),
		)
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		eventsPublishedTotal.WithLabelValues("failed").Inc()
		n.logger.Error("Ошибка сериализации события",
			slog.String("document_id", event.DocumentID),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		eventsPublishedTotal.WithLabelValues("failed").Inc()
		n.logger.Error("Ошибка создания запроса webhook",
			slog.String("error", err.Error()),
		)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		eventsPublishedTotal.WithLabelValues("failed").Inc()
		n.logger.Error("Ошибка доставки уведомления",
			slog.String("document_id", event.DocumentID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		eventsPublishedTotal.WithLabelValues("failed").Inc()
		n.logger.Error("Webhook вернул ошибку",
			slog.String("document_id", event.DocumentID),
			slog.Int("status", resp.StatusCode),
		)
		return
	}

	eventsPublishedTotal.WithLabelValues("sent").Inc()
	n.logger.Debug("Уведомление доставлено",
		slog.String("document_id", event.DocumentID),
	)
}
