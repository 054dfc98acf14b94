// loans.go — обработчики выдачи и возврата книг.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/golibrary/internal/api/errors"
	"github.com/bigkaa/golibrary/internal/api/middleware"
	"github.com/bigkaa/golibrary/internal/domain/model"
)

// loanResponse — wire-представление выдачи.
type loanResponse struct {
	ID           string  `json:"id"`
	BookID       string  `json:"bookId"`
	BorrowerID   string  `json:"borrowerId"`
	CheckedOutAt string  `json:"checkedOutAt"`
	DueAt        *string `json:"dueAt,omitempty"`
	ReturnedAt   *string `json:"returnedAt,omitempty"`
	Active       bool    `json:"active"`
}

func toLoanResponse(l *model.Loan) loanResponse {
	return loanResponse{
		ID:           l.ID,
		BookID:       l.BookID,
		BorrowerID:   l.BorrowerID,
		CheckedOutAt: l.CheckedOutAt.UTC().Format(time.RFC3339),
		DueAt:        timePtrString(l.DueAt),
		ReturnedAt:   timePtrString(l.ReturnedAt),
		Active:       l.Active(),
	}
}

// timePtrString форматирует опциональную метку времени для wire-ответа.
func timePtrString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// checkoutRequest — тело POST /api/v1/loans/checkout.
// dueAt разрешён только администратору; читателю срок назначает система.
type checkoutRequest struct {
	BookID string `json:"bookId"`
	DueAt  string `json:"dueAt,omitempty"`
}

// Checkout обрабатывает POST /api/v1/loans/checkout.
// Прямая выдача без заявки: доступна, пока на книге нет PENDING-заявки.
func (h *APIHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	dueAt, err := parseRFC3339(req.DueAt)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if dueAt != nil && !middleware.IsAdminFromContext(r.Context()) {
		apierrors.Forbidden(w, "назначать срок возврата вручную может только администратор")
		return
	}

	borrowerID := middleware.SubjectFromContext(r.Context())
	loan, err := h.lending.Checkout(r.Context(), req.BookID, borrowerID, dueAt)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanResponse(loan))
}

// checkinRequest — тело POST /api/v1/loans/checkin.
type checkinRequest struct {
	BookID string `json:"bookId"`
}

// Checkin обрабатывает POST /api/v1/loans/checkin.
// Вернуть книгу может владелец активной выдачи или администратор.
func (h *APIHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	ctx := r.Context()
	loan, err := h.lending.Checkin(ctx, req.BookID,
		middleware.SubjectFromContext(ctx), middleware.IsAdminFromContext(ctx))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

// loanListResponse — список выдач.
type loanListResponse struct {
	Loans []loanResponse `json:"loans"`
}

// ListLoans обрабатывает GET /api/v1/loans.
// Возвращает выдачи текущего читателя (активные и историю).
func (h *APIHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	loans, err := h.lending.ListMine(r.Context(), middleware.SubjectFromContext(r.Context()), limit)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	out := loanListResponse{Loans: make([]loanResponse, 0, len(loans))}
	for _, l := range loans {
		out.Loans = append(out.Loans, toLoanResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}

// overviewEntryResponse — активная выдача вместе с данными книги.
type overviewEntryResponse struct {
	Loan loanResponse `json:"loan"`
	Book bookResponse `json:"book"`
}

// adminOverviewResponse — сводка всех активных выдач.
type adminOverviewResponse struct {
	Entries []overviewEntryResponse `json:"entries"`
}

// AdminOverview обрабатывает GET /api/v1/loans/admin/overview (admin).
func (h *APIHandler) AdminOverview(w http.ResponseWriter, r *http.Request) {
	entries, err := h.lending.AdminOverview(r.Context())
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	out := adminOverviewResponse{Entries: make([]overviewEntryResponse, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, overviewEntryResponse{
			Loan: toLoanResponse(e.Loan),
			Book: toBookResponse(e.Book),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// setDueDateRequest — тело PATCH /api/v1/loans/{id}/due-date.
type setDueDateRequest struct {
	DueAt string `json:"dueAt"`
}

// SetDueDate обрабатывает PATCH /api/v1/loans/{id}/due-date (admin).
func (h *APIHandler) SetDueDate(w http.ResponseWriter, r *http.Request) {
	var req setDueDateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	dueAt, err := parseRFC3339(req.DueAt)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if dueAt == nil {
		apierrors.ValidationError(w, "поле dueAt обязательно")
		return
	}

	loan, err := h.lending.SetDueDate(r.Context(), chi.URLParam(r, "id"), *dueAt)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanResponse(loan))
}
