// Пакет provider — HTTP-клиенты к внешним библиографическим источникам.
// Каждый источник отдаёт свой JSON-формат; клиенты парсят ответы строго
// по-элементно: некорректный элемент отбрасывается, а не роняет запрос.
// Таймаут, сетевая ошибка или не-200 от источника — это "нет данных",
// вызывающий код получает пустой список без ошибки только на уровне
// enrichment engine; сам клиент ошибку возвращает.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/golibrary/internal/domain/model"
)

// Client — общий интерфейс источника метаданных.
type Client interface {
	// Name возвращает идентификатор источника (source-a, source-b).
	Name() string
	// Search выполняет поиск по свободному запросу и возвращает
	// нормализованных кандидатов (не более limit).
	Search(ctx context.Context, query string, limit int) ([]*model.Candidate, error)
}

// Метрики запросов к внешним источникам.
var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lib_provider_requests_total",
			Help: "Количество запросов к внешним источникам метаданных",
		},
		[]string{"source", "status"},
	)
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lib_provider_request_duration_seconds",
			Help:    "Длительность запросов к внешним источникам",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
)

// observe фиксирует метрики одного запроса к источнику.
func observe(source string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	requestsTotal.WithLabelValues(source, status).Inc()
	requestDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// readBody читает тело ответа с проверкой статуса.
// Не-200 ответ — ошибка с фрагментом тела для диагностики.
func readBody(resp *http.Response, source string) ([]byte, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		frag, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%s вернул статус %d: %s", source, resp.StatusCode, string(frag))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа %s: %w", source, err)
	}
	return body, nil
}
