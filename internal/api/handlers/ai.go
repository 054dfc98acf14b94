// ai.go — обработчики оценки срока возврата и рекомендаций.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/bigkaa/golibrary/internal/api/errors"
	"github.com/bigkaa/golibrary/internal/api/middleware"
	"github.com/bigkaa/golibrary/internal/service"
)

// estimateRequest — тело POST /api/v1/ai/due-date-estimate.
type estimateRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn,omitempty"`
}

// estimateResponse — оценка срока возврата.
type estimateResponse struct {
	DueAt     string `json:"dueAt"`
	Days      int    `json:"days"`
	Source    string `json:"source"`
	PageCount *int   `json:"pageCount,omitempty"`
}

func toEstimateResponse(e *service.DueDateEstimate) estimateResponse {
	return estimateResponse{
		DueAt:     e.DueAt.UTC().Format(time.RFC3339),
		Days:      e.Days,
		Source:    e.Source,
		PageCount: e.PageCount,
	}
}

// DueDateEstimate обрабатывает POST /api/v1/ai/due-date-estimate.
// Оценка детерминированно деградирует до 30-дневного fallback'а,
// если внешние источники недоступны — endpoint не возвращает 5xx
// из-за провайдеров.
func (h *APIHandler) DueDateEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if req.Title == "" {
		apierrors.ValidationError(w, "поле title обязательно")
		return
	}

	est := h.estimate.Estimate(r.Context(), req.Title, req.Author, req.ISBN)
	writeJSON(w, http.StatusOK, toEstimateResponse(est))
}

// recommendationsRequest — тело POST /api/v1/ai/recommendations.
type recommendationsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// recommendationResponse — книга с рекомендательным баллом.
type recommendationResponse struct {
	Book                bookResponse `json:"book"`
	RecommendationScore float64      `json:"recommendationScore"`
}

// recommendationsResponse — ранжированный список рекомендаций.
type recommendationsResponse struct {
	Recommendations []recommendationResponse `json:"recommendations"`
}

// Recommendations обрабатывает POST /api/v1/ai/recommendations.
// Для анонимного вызова история пуста — ранжирование идёт по рейтингу
// и новизне.
func (h *APIHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	var req recommendationsRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	recs, err := h.recommend.Recommend(r.Context(), middleware.SubjectFromContext(r.Context()), req.Limit)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	out := recommendationsResponse{Recommendations: make([]recommendationResponse, 0, len(recs))}
	for _, rec := range recs {
		out.Recommendations = append(out.Recommendations, recommendationResponse{
			Book:                toBookResponse(rec.Book),
			RecommendationScore: rec.Score,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
