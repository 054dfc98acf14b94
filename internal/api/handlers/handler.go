// handler.go — основной обработчик API Library Module.
// Объединяет все доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bigkaa/golibrary/internal/service"
)

// Максимальный размер тела запроса (защита от мусорных payload'ов).
const maxBodyBytes = 1 << 20 // 1 MiB

// APIHandler — основной обработчик API Library Module.
// Делегирует запросы в сервисный слой, преобразуя доменные ошибки
// в HTTP-ответы через apierrors.FromService.
type APIHandler struct {
	health    *HealthHandler
	books     *service.BookService
	lending   *service.LendingService
	requests  *service.RequestService
	enrich    *service.EnrichService
	recommend *service.RecommendService
	estimate  *service.EstimateService
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	books *service.BookService,
	lending *service.LendingService,
	requests *service.RequestService,
	enrich *service.EnrichService,
	recommend *service.RecommendService,
	estimate *service.EstimateService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		books:     books,
		lending:   lending,
		requests:  requests,
		enrich:    enrich,
		recommend: recommend,
		estimate:  estimate,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает и разбирает тело запроса в dst.
// Неизвестные поля отклоняются, размер тела ограничен maxBodyBytes.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("пустое тело запроса")
		}
		return fmt.Errorf("некорректный JSON: %w", err)
	}
	return nil
}

// queryInt читает целочисленный query-параметр с значением по умолчанию.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("параметр %s: ожидается целое число", name)
	}
	return v, nil
}

// parseRFC3339 разбирает опциональную метку времени из тела запроса.
func parseRFC3339(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("ожидается время в формате RFC3339: %q", raw)
	}
	return &t, nil
}
