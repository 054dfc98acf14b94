// requests.go — обработчики заявок на выдачу.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/golibrary/internal/api/errors"
	"github.com/bigkaa/golibrary/internal/api/middleware"
	"github.com/bigkaa/golibrary/internal/domain/model"
)

// requestResponse — wire-представление заявки на выдачу.
type requestResponse struct {
	ID                     string  `json:"id"`
	BookID                 string  `json:"bookId"`
	BorrowerID             string  `json:"borrowerId"`
	Status                 string  `json:"status"`
	ReviewedByID           *string `json:"reviewedById,omitempty"`
	ReviewedAt             *string `json:"reviewedAt,omitempty"`
	BorrowerAcknowledgedAt *string `json:"borrowerAcknowledgedAt,omitempty"`
	CreatedAt              string  `json:"createdAt"`
}

func toRequestResponse(req *model.BorrowRequest) requestResponse {
	return requestResponse{
		ID:                     req.ID,
		BookID:                 req.BookID,
		BorrowerID:             req.BorrowerID,
		Status:                 req.Status,
		ReviewedByID:           req.ReviewedByID,
		ReviewedAt:             timePtrString(req.ReviewedAt),
		BorrowerAcknowledgedAt: timePtrString(req.BorrowerAcknowledgedAt),
		CreatedAt:              req.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// createRequestRequest — тело POST /api/v1/borrow-requests.
type createRequestRequest struct {
	BookID string `json:"bookId"`
}

// CreateRequest обрабатывает POST /api/v1/borrow-requests.
// Читатель оставляет заявку на доступную книгу; книга резервируется
// до решения администратора.
func (h *APIHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	created, err := h.requests.Create(r.Context(), req.BookID, middleware.SubjectFromContext(r.Context()))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(created))
}

// approveResponse — результат одобрения: заявка, созданная выдача
// и использованная оценка срока возврата.
type approveResponse struct {
	Request  requestResponse  `json:"request"`
	Loan     loanResponse     `json:"loan"`
	Estimate estimateResponse `json:"estimate"`
}

// ApproveRequest обрабатывает POST /api/v1/borrow-requests/{id}/approve (admin).
// Срок возврата берётся из оценщика или 30-дневного fallback'а.
func (h *APIHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	reviewerID := middleware.SubjectFromContext(r.Context())
	result, err := h.requests.Approve(r.Context(), chi.URLParam(r, "id"), reviewerID)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, approveResponse{
		Request:  toRequestResponse(result.Request),
		Loan:     toLoanResponse(result.Loan),
		Estimate: toEstimateResponse(result.Estimate),
	})
}

// DeclineRequest обрабатывает POST /api/v1/borrow-requests/{id}/decline (admin).
func (h *APIHandler) DeclineRequest(w http.ResponseWriter, r *http.Request) {
	reviewerID := middleware.SubjectFromContext(r.Context())
	declined, err := h.requests.Decline(r.Context(), chi.URLParam(r, "id"), reviewerID)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(declined))
}

// requestListResponse — список заявок.
type requestListResponse struct {
	Requests []requestResponse `json:"requests"`
}

// ListRequests обрабатывает GET /api/v1/borrow-requests.
// Администратор видит все заявки, читатель — только свои.
// Query-параметр status фильтрует по статусу.
func (h *APIHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requests, err := h.requests.List(ctx,
		middleware.SubjectFromContext(ctx),
		middleware.IsAdminFromContext(ctx),
		r.URL.Query().Get("status"))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	out := requestListResponse{Requests: make([]requestResponse, 0, len(requests))}
	for _, req := range requests {
		out.Requests = append(out.Requests, toRequestResponse(req))
	}
	writeJSON(w, http.StatusOK, out)
}

// markSeenResponse — количество заявок, отмеченных просмотренными.
type markSeenResponse struct {
	Acknowledged int `json:"acknowledged"`
}

// MarkRequestsSeen обрабатывает POST /api/v1/borrow-requests/me/mark-seen.
// Читатель подтверждает, что видел решения по своим заявкам.
func (h *APIHandler) MarkRequestsSeen(w http.ResponseWriter, r *http.Request) {
	n, err := h.requests.MarkSeen(r.Context(), middleware.SubjectFromContext(r.Context()))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markSeenResponse{Acknowledged: n})
}

// unreadCountResponse — количество непросмотренных решений.
type unreadCountResponse struct {
	Unread int `json:"unread"`
}

// UnreadRequestCount обрабатывает GET /api/v1/borrow-requests/me/unread-count.
func (h *APIHandler) UnreadRequestCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.requests.CountUnread(r.Context(), middleware.SubjectFromContext(r.Context()))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unreadCountResponse{Unread: n})
}
