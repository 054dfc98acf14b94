// books.go — обработчики каталога книг.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/golibrary/internal/api/errors"
	"github.com/bigkaa/golibrary/internal/domain/model"
	"github.com/bigkaa/golibrary/internal/service"
)

// bookResponse — wire-представление записи каталога.
type bookResponse struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Author         string   `json:"author"`
	ISBN           *string  `json:"isbn,omitempty"`
	Genre          *string  `json:"genre,omitempty"`
	PublishedYear  *int     `json:"publishedYear,omitempty"`
	Description    *string  `json:"description,omitempty"`
	CoverURL       *string  `json:"coverUrl,omitempty"`
	AverageRating  *float64 `json:"averageRating,omitempty"`
	RatingsCount   *int     `json:"ratingsCount,omitempty"`
	Synthetic      bool     `json:"synthetic"`
	Available      bool     `json:"available"`
	RequestPending bool     `json:"requestPending"`
	CreatedAt      string   `json:"createdAt"`
	UpdatedAt      string   `json:"updatedAt"`
}

// toBookResponse преобразует доменную модель в wire-представление.
func toBookResponse(b *model.Book) bookResponse {
	return bookResponse{
		ID:             b.ID,
		Title:          b.Title,
		Author:         b.Author,
		ISBN:           b.ISBN,
		Genre:          b.Genre,
		PublishedYear:  b.PublishedYear,
		Description:    b.Description,
		CoverURL:       b.CoverURL,
		AverageRating:  b.AverageRating,
		RatingsCount:   b.RatingsCount,
		Synthetic:      b.Synthetic,
		Available:      b.Available,
		RequestPending: b.RequestPending,
		CreatedAt:      b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toBookResponses(books []*model.Book) []bookResponse {
	out := make([]bookResponse, 0, len(books))
	for _, b := range books {
		out = append(out, toBookResponse(b))
	}
	return out
}

// bookPageResponse — страница каталога с keyset-курсором.
type bookPageResponse struct {
	Books      []bookResponse `json:"books"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// ListBooks обрабатывает GET /api/v1/books.
// Query-параметры: q, author, genre, available, cursor, limit.
func (h *APIHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	params := service.ListBooksParams{
		Query:  q.Get("q"),
		Author: q.Get("author"),
		Genre:  q.Get("genre"),
		Cursor: q.Get("cursor"),
		Limit:  limit,
	}

	if raw := q.Get("available"); raw != "" {
		avail, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			apierrors.ValidationError(w, "параметр available: ожидается true или false")
			return
		}
		params.Available = &avail
	}

	page, err := h.books.List(r.Context(), params)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bookPageResponse{
		Books:      toBookResponses(page.Books),
		NextCursor: page.NextCursor,
	})
}

// GetBook обрабатывает GET /api/v1/books/{id}.
func (h *APIHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.books.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// createBookRequest — тело POST /api/v1/books.
type createBookRequest struct {
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	ISBN          string   `json:"isbn,omitempty"`
	Genre         *string  `json:"genre,omitempty"`
	PublishedYear *int     `json:"publishedYear,omitempty"`
	Description   *string  `json:"description,omitempty"`
	CoverURL      *string  `json:"coverUrl,omitempty"`
}

// CreateBook обрабатывает POST /api/v1/books (admin).
func (h *APIHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	book, err := h.books.Create(r.Context(), service.CreateBookInput{
		Title:         req.Title,
		Author:        req.Author,
		ISBN:          req.ISBN,
		Genre:         req.Genre,
		PublishedYear: req.PublishedYear,
		Description:   req.Description,
		CoverURL:      req.CoverURL,
	})
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookResponse(book))
}

// updateBookRequest — тело PATCH /api/v1/books/{id}. nil-поле = без изменений.
type updateBookRequest struct {
	Title         *string  `json:"title,omitempty"`
	Author        *string  `json:"author,omitempty"`
	ISBN          *string  `json:"isbn,omitempty"`
	Genre         *string  `json:"genre,omitempty"`
	PublishedYear *int     `json:"publishedYear,omitempty"`
	Description   *string  `json:"description,omitempty"`
	CoverURL      *string  `json:"coverUrl,omitempty"`
	AverageRating *float64 `json:"averageRating,omitempty"`
	RatingsCount  *int     `json:"ratingsCount,omitempty"`
}

// UpdateBook обрабатывает PATCH /api/v1/books/{id} (admin).
func (h *APIHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req updateBookRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	book, err := h.books.Update(r.Context(), chi.URLParam(r, "id"), service.UpdateBookInput{
		Title:         req.Title,
		Author:        req.Author,
		ISBN:          req.ISBN,
		Genre:         req.Genre,
		PublishedYear: req.PublishedYear,
		Description:   req.Description,
		CoverURL:      req.CoverURL,
		AverageRating: req.AverageRating,
		RatingsCount:  req.RatingsCount,
	})
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// DeleteBook обрабатывает DELETE /api/v1/books/{id} (admin).
// Удаление записи с активной выдачей отклоняется с 409.
func (h *APIHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.books.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		apierrors.FromService(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// importExternalRequest — тело POST /api/v1/books/import/external.
type importExternalRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// importExternalResponse — результат импорта из внешних источников.
type importExternalResponse struct {
	Imported   []bookResponse `json:"imported"`
	Reused     int            `json:"reused"`
	Candidates int            `json:"candidates"`
}

// ImportExternal обрабатывает POST /api/v1/books/import/external (admin).
// Ищет кандидатов во внешних источниках и сливает их в каталог.
func (h *APIHandler) ImportExternal(w http.ResponseWriter, r *http.Request) {
	var req importExternalRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	result, err := h.enrich.ImportByQuery(r.Context(), req.Query, req.Limit, req.Provider)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, importExternalResponse{
		Imported:   toBookResponses(result.Imported),
		Reused:     result.Reused,
		Candidates: result.Candidates,
	})
}

// enrichMetadataRequest — тело POST /api/v1/books/enrich-metadata.
type enrichMetadataRequest struct {
	Limit       int    `json:"limit,omitempty"`
	Provider    string `json:"provider,omitempty"`
	OnlyMissing *bool  `json:"onlyMissing,omitempty"`
}

// enrichMetadataResponse — счётчики прохода обогащения.
type enrichMetadataResponse struct {
	Scanned     int `json:"scanned"`
	Matched     int `json:"matched"`
	Synthesized int `json:"synthesized"`
	Failed      int `json:"failed"`
}

// EnrichMetadata обрабатывает POST /api/v1/books/enrich-metadata (admin).
// Синхронный проход обогащения: в отличие от фонового sweep, выполняется
// в контексте запроса и возвращает счётчики вызывающему.
func (h *APIHandler) EnrichMetadata(w http.ResponseWriter, r *http.Request) {
	var req enrichMetadataRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	onlyMissing := true
	if req.OnlyMissing != nil {
		onlyMissing = *req.OnlyMissing
	}

	result, err := h.enrich.Sweep(r.Context(), req.Limit, req.Provider, onlyMissing)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, enrichMetadataResponse{
		Scanned:     result.Scanned,
		Matched:     result.Matched,
		Synthesized: result.Synthesized,
		Failed:      result.Failed,
	})
}
