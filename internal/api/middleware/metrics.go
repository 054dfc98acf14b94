// metrics.go — Prometheus HTTP метрики Library Module.
// Регистрирует метрики: lib_http_requests_total, lib_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lib_http_requests_total",
			Help: "Общее количество HTTP-запросов к Library Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lib_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Library Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем UUID на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет UUID-сегменты пути на {id} для предотвращения
// взрывного роста кардинальности метрик.
// /api/v1/books/a1b2c3d4-... → /api/v1/books/{id}
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/books",
		"/api/v1/books/import/external",
		"/api/v1/books/enrich-metadata",
		"/api/v1/loans",
		"/api/v1/loans/checkout",
		"/api/v1/loans/checkin",
		"/api/v1/loans/admin/overview",
		"/api/v1/borrow-requests",
		"/api/v1/borrow-requests/me/mark-seen",
		"/api/v1/borrow-requests/me/unread-count",
		"/api/v1/ai/due-date-estimate",
		"/api/v1/ai/recommendations":
		return path
	}

	// Динамические пути с UUID
	prefixes := []struct {
		prefix string
		result string
	}{
		{"/api/v1/books/", "/api/v1/books/{id}"},
		{"/api/v1/loans/", "/api/v1/loans/{id}"},
		{"/api/v1/borrow-requests/", "/api/v1/borrow-requests/{id}"},
	}

	for _, p := range prefixes {
		if strings.HasPrefix(path, p.prefix) && len(path) > len(p.prefix) {
			suffix := ""
			// Суффиксы после UUID (36 символов)
			if len(path) > len(p.prefix)+36 {
				suffix = path[len(p.prefix)+36:]
			}
			switch suffix {
			case "/due-date":
				return p.result + "/due-date"
			case "/approve":
				return p.result + "/approve"
			case "/decline":
				return p.result + "/decline"
			default:
				return p.result
			}
		}
	}

	return path
}
