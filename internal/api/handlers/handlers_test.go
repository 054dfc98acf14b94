// handlers_test.go — unit-тесты HTTP-обработчиков поверх сервисного слоя
// с подменёнными репозиториями.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/golibrary/internal/api/middleware"
	"github.com/bigkaa/golibrary/internal/domain/model"
	"github.com/bigkaa/golibrary/internal/repository"
)

// newRequest создаёт HTTP-запрос с JSON-телом.
func newRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	return r
}

// asUser добавляет в контекст запроса identity читателя или администратора.
func asUser(r *http.Request, sub string, admin bool) *http.Request {
	roles := []string{middleware.RoleReader}
	if admin {
		roles = []string{middleware.RoleAdmin}
	}
	claims := &middleware.AuthClaims{Subject: sub, Roles: roles}
	return r.WithContext(context.WithValue(r.Context(), middleware.ContextKeyClaims, claims))
}

// withURLParam добавляет chi URL-параметр в контекст запроса.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeBody разбирает JSON-ответ в dst.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
}

// errorCode извлекает код ошибки из тела ответа.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &resp)
	return resp.Error.Code
}

func testBook(id string) *model.Book {
	return &model.Book{
		ID:        id,
		Title:     "Мастер и Маргарита",
		Author:    "Михаил Булгаков",
		Available: true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// --- Каталог ---

func TestListBooks_OK(t *testing.T) {
	env := newTestEnv()

	var gotParams repository.BookListParams
	env.books.listFn = func(ctx context.Context, params repository.BookListParams) ([]*model.Book, error) {
		gotParams = params
		return []*model.Book{testBook("b-1"), testBook("b-2")}, nil
	}

	rec := httptest.NewRecorder()
	env.handler.ListBooks(rec, newRequest(http.MethodGet, "/api/v1/books?q=мастер&limit=10", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидается 200, получено %d", rec.Code)
	}
	if gotParams.Query == nil || *gotParams.Query != "мастер" {
		t.Errorf("ожидается передача query в репозиторий, получено %v", gotParams.Query)
	}

	var page bookPageResponse
	decodeBody(t, rec, &page)
	if len(page.Books) != 2 {
		t.Fatalf("ожидается 2 книги, получено %d", len(page.Books))
	}
	if page.NextCursor != "" {
		t.Errorf("курсор не ожидается для неполной страницы, получено %q", page.NextCursor)
	}
}

func TestListBooks_BadAvailable(t *testing.T) {
	env := newTestEnv()

	rec := httptest.NewRecorder()
	env.handler.ListBooks(rec, newRequest(http.MethodGet, "/api/v1/books?available=maybe", ""))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидается 400, получено %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "VALIDATION_ERROR" {
		t.Errorf("ожидается код VALIDATION_ERROR, получено %q", code)
	}
}

func TestGetBook_NotFound(t *testing.T) {
	env := newTestEnv()

	rec := httptest.NewRecorder()
	r := withURLParam(newRequest(http.MethodGet, "/api/v1/books/missing", ""), "id", "missing")
	env.handler.GetBook(rec, r)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("ожидается 404, получено %d", rec.Code)
	}
}

func TestCreateBook_OK(t *testing.T) {
	env := newTestEnv()

	rec := httptest.NewRecorder()
	body := `{"title":"Мёртвые души","author":"Николай Гоголь","genre":"Классика"}`
	env.handler.CreateBook(rec, newRequest(http.MethodPost, "/api/v1/books", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидается 201, получено %d: %s", rec.Code, rec.Body.String())
	}

	var book bookResponse
	decodeBody(t, rec, &book)
	if book.Title != "Мёртвые души" {
		t.Errorf("ожидается название из запроса, получено %q", book.Title)
	}
	if !book.Available {
		t.Error("новая книга должна быть доступна")
	}
}

func TestCreateBook_MissingTitle(t *testing.T) {
	env := newTestEnv()

	rec := httptest.NewRecorder()
	env.handler.CreateBook(rec, newRequest(http.MethodPost, "/api/v1/books", `{"author":"Автор"}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидается 400, получено %d", rec.Code)
	}
}

func TestCreateBook_UnknownField(t *testing.T) {
	env := newTestEnv()

	rec := httptest.NewRecorder()
	body := `{"title":"X","author":"Y","publisher":"лишнее поле"}`
	env.handler.CreateBook(rec, newRequest(http.MethodPost, "/api/v1/books", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидается 400 на неизвестное поле, получено %d", rec.Code)
	}
}

// --- Выдача ---

func TestCheckout_OK(t *testing.T) {
	env := newTestEnv()
	env.books.getByIDFn = func(ctx context.Context, bookID string) (*model.Book, error) {
		return testBook(bookID), nil
	}

	rec := httptest.NewRecorder()
	r := asUser(newRequest(http.MethodPost, "/api/v1/loans/checkout", `{"bookId":"b-1"}`), "reader-1", false)
	env.handler.Checkout(rec, r)

	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидается 201, получено %d: %s", rec.Code, rec.Body.String())
	}

	var loan loanResponse
	decodeBody(t, rec, &loan)
	if loan.BorrowerID != "reader-1" {
		t.Errorf("читатель берётся из токена, получено %q", loan.BorrowerID)
	}
	if !loan.Active {
		t.Error("новая выдача должна быть активной")
	}
	if loan.DueAt == nil {
		t.Error("срок возврата должен назначаться даже без ручного dueAt")
	}
}

func TestCheckout_DueAtRequiresAdmin(t *testing.T) {
	env := newTestEnv()

	dueAt := time.Now().AddDate(0, 0, 14).UTC().Format(time.RFC3339)
	rec := httptest.NewRecorder()
	r := asUser(newRequest(http.MethodPost, "/api/v1/loans/checkout",
		`{"bookId":"b-1","dueAt":"`+dueAt+`"}`), "reader-1", false)
	env.handler.Checkout(rec, r)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("ожидается 403 для читателя с dueAt, получено %d", rec.Code)
	}
}

func TestCheckout_AdminSetsDueAt(t *testing.T) {
	env := newTestEnv()
	env.books.getByIDFn = func(ctx context.Context, bookID string) (*model.Book, error) {
		return testBook(bookID), nil
	}

	dueAt := time.Now().AddDate(0, 0, 14).UTC().Format(time.RFC3339)
	rec := httptest.NewRecorder()
	r := asUser(newRequest(http.MethodPost, "/api/v1/loans/checkout",
		`{"bookId":"b-1","dueAt":"`+dueAt+`"}`), "admin-1", true)
	env.handler.Checkout(rec, r)

	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидается 201, получено %d: %s", rec.Code, rec.Body.String())
	}

	var loan loanResponse
	decodeBody(t, rec, &loan)
	if loan.DueAt == nil || *loan.DueAt != dueAt {
		t.Errorf("ожидается срок возврата %q, получено %v", dueAt, loan.DueAt)
	}
}

func TestCheckout_LostClaim(t *testing.T) {
	env := newTestEnv()
	env.books.getByIDFn = func(ctx context.Context, bookID string) (*model.Book, error) {
		return testBook(bookID), nil
	}
	env.books.claimCheckoutFn = func(ctx context.Context, bookID string) error {
		return repository.ErrConflict
	}

	rec := httptest.NewRecorder()
	r := asUser(newRequest(http.MethodPost, "/api/v1/loans/checkout", `{"bookId":"b-1"}`), "reader-1", false)
	env.handler.Checkout(rec, r)

	if rec.Code != http.StatusConflict {
		t.Fatalf("ожидается 409 при проигранной гонке, получено %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "CONFLICT" {
		t.Errorf("ожидается код CONFLICT, получено %q", code)
	}
}

func TestCheckin_ForbiddenForStranger(t *testing.T) {
	env := newTestEnv()
	env.loans.getActiveByBookFn = func(ctx context.Context, bookID string) (*model.Loan, error) {
		return &model.Loan{ID: "l-1", BookID: bookID, BorrowerID: "reader-1", CheckedOutAt: time.Now()}, nil
	}

	rec := httptest.NewRecorder()
	r := asUser(newRequest(http.MethodPost, "/api/v1/loans/checkin", `{"bookId":"b-1"}`), "reader-2", false)
	env.handler.Checkin(rec, r)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("ожидается 403 для чужой выдачи, получено %d", rec.Code)
	}
}

func TestCheckin_AdminAllowed(t *testing.T) {
	env := newTestEnv()
	env.loans.getActiveByBookFn = func(ctx context.Context, bookID string) (*model.Loan, error) {
		return &model.Loan{ID: "l-1", BookID: bookID, BorrowerID: "reader-1", CheckedOutAt: time.Now()}, nil
	}

	rec := httptest.NewRecorder()
	r := asUser(newRequest(http.MethodPost, "/api/v1/loans/checkin", `{"bookId":"b-1"}`), "admin-1", true)
	env.handler.Checkin(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидается 200 для администратора, получено %d", rec.Code)
	}

	var loan loanResponse
	decodeBody(t, rec, &loan)
	if loan.Active {
		t.Error("после возврата выдача не должна быть активной")
	}
}

func TestSetDueDate_MissingField(t *testing.T) {
	env := newTestEnv()

	rec := httptest.NewRecorder()
	r := withURLParam(asUser(newRequest(http.MethodPatch, "/api/v1/loans/l-1/due-date", `{}`), "admin-1", true), "id", "l-1")
	env.handler.SetDueDate(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидается 400 без dueAt, получено %d", rec.Code)
	}
}

// --- Заявки ---

func TestCreateRequest_OK(t *testing.T) {
	env := newTestEnv()
	env.books.getByIDFn = func(ctx context.Context, bookID string) (*model.Book, error) {
		return testBook(bookID), nil
	}

	rec := httptest.NewRecorder()
	r := asUser(newRequest(http.MethodPost, "/api/v1/borrow-requests", `{"bookId":"b-1"}`), "reader-1", false)
	env.handler.CreateRequest(rec, r)

	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидается 201, получено %d: %s", rec.Code, rec.Body.String())
	}

	var req requestResponse
	decodeBody(t, rec, &req)
	if req.Status != model.RequestStatusPending {
		t.Errorf("ожидается статус PENDING, получено %q", req.Status)
	}
	if req.BorrowerID != "reader-1" {
		t.Errorf("читатель берётся из токена, получено %q", req.BorrowerID)
	}
}

func TestApproveRequest_FallbackEstimate(t *testing.T) {
	env := newTestEnv()
	env.requests.getByIDFn = func(ctx context.Context, requestID string) (*model.BorrowRequest, error) {
		return &model.BorrowRequest{
			ID:         requestID,
			BookID:     "b-1",
			BorrowerID: "reader-1",
			Status:     model.RequestStatusPending,
			CreatedAt:  time.Now(),
		}, nil
	}
	env.books.getByIDFn = func(ctx context.Context, bookID string) (*model.Book, error) {
		return testBook(bookID), nil
	}

	rec := httptest.NewRecorder()
	r := withURLParam(asUser(newRequest(http.MethodPost, "/api/v1/borrow-requests/r-1/approve", ""), "admin-1", true), "id", "r-1")
	env.handler.ApproveRequest(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидается 200, получено %d: %s", rec.Code, rec.Body.String())
	}

	var resp approveResponse
	decodeBody(t, rec, &resp)
	if resp.Request.Status != model.RequestStatusApproved {
		t.Errorf("ожидается статус APPROVED, получено %q", resp.Request.Status)
	}
	if resp.Loan.BorrowerID != "reader-1" {
		t.Errorf("выдача оформляется на автора заявки, получено %q", resp.Loan.BorrowerID)
	}
	// Источники-заглушки ничего не возвращают — ожидается 30-дневный fallback.
	if resp.Estimate.Source != model.SourceFallback {
		t.Errorf("ожидается источник fallback, получено %q", resp.Estimate.Source)
	}
	if resp.Estimate.Days != 30 {
		t.Errorf("ожидается 30 дней, получено %d", resp.Estimate.Days)
	}
	if resp.Loan.DueAt == nil {
		t.Error("срок возврата должен быть назначен из оценки")
	}
}

func TestDeclineRequest_OK(t *testing.T) {
	env := newTestEnv()
	env.requests.getByIDFn = func(ctx context.Context, requestID string) (*model.BorrowRequest, error) {
		return &model.BorrowRequest{
			ID:         requestID,
			BookID:     "b-1",
			BorrowerID: "reader-1",
			Status:     model.RequestStatusPending,
			CreatedAt:  time.Now(),
		}, nil
	}

	rec := httptest.NewRecorder()
	r := withURLParam(asUser(newRequest(http.MethodPost, "/api/v1/borrow-requests/r-1/decline", ""), "admin-1", true), "id", "r-1")
	env.handler.DeclineRequest(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидается 200, получено %d", rec.Code)
	}

	var req requestResponse
	decodeBody(t, rec, &req)
	if req.Status != model.RequestStatusDeclined {
		t.Errorf("ожидается статус DECLINED, получено %q", req.Status)
	}
	if req.ReviewedByID == nil || *req.ReviewedByID != "admin-1" {
		t.Errorf("ожидается рецензент admin-1, получено %v", req.ReviewedByID)
	}
}

func TestListRequests_ReaderSeesOwn(t *testing.T) {
	env := newTestEnv()

	var gotBorrower string
	env.requests.listByBorrowerFn = func(ctx context.Context, borrowerID string) ([]*model.BorrowRequest, error) {
		gotBorrower = borrowerID
		return nil, nil
	}

	rec := httptest.NewRecorder()
	r := asUser(newRequest(http.MethodGet, "/api/v1/borrow-requests", ""), "reader-1", false)
	env.handler.ListRequests(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидается 200, получено %d", rec.Code)
	}
	if gotBorrower != "reader-1" {
		t.Errorf("читатель видит только свои заявки, запрошено %q", gotBorrower)
	}
}

func TestUnreadRequestCount(t *testing.T) {
	env := newTestEnv()
	env.requests.countUnreadFn = func(ctx context.Context, borrowerID string) (int, error) {
		return 3, nil
	}

	rec := httptest.NewRecorder()
	r := asUser(newRequest(http.MethodGet, "/api/v1/borrow-requests/me/unread-count", ""), "reader-1", false)
	env.handler.UnreadRequestCount(rec, r)

	var resp unreadCountResponse
	decodeBody(t, rec, &resp)
	if resp.Unread != 3 {
		t.Errorf("ожидается 3 непросмотренных решения, получено %d", resp.Unread)
	}
}

// --- AI endpoints ---

func TestDueDateEstimate_RequiresTitle(t *testing.T) {
	env := newTestEnv()

	rec := httptest.NewRecorder()
	env.handler.DueDateEstimate(rec, newRequest(http.MethodPost, "/api/v1/ai/due-date-estimate", `{"author":"Гоголь"}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидается 400 без title, получено %d", rec.Code)
	}
}

func TestDueDateEstimate_Fallback(t *testing.T) {
	env := newTestEnv()

	rec := httptest.NewRecorder()
	env.handler.DueDateEstimate(rec, newRequest(http.MethodPost, "/api/v1/ai/due-date-estimate",
		`{"title":"Мёртвые души","author":"Николай Гоголь"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидается 200, получено %d", rec.Code)
	}

	var est estimateResponse
	decodeBody(t, rec, &est)
	if est.Source != model.SourceFallback {
		t.Errorf("ожидается источник fallback, получено %q", est.Source)
	}
	if est.Days != 30 {
		t.Errorf("ожидается 30 дней, получено %d", est.Days)
	}
}

func TestRecommendations_Anonymous(t *testing.T) {
	env := newTestEnv()

	rating := 4.5
	count := 120
	rated := testBook("b-rated")
	rated.AverageRating = &rating
	rated.RatingsCount = &count

	env.books.listCandidatesFn = func(ctx context.Context, borrowerID string, limit int) ([]*model.Book, error) {
		if borrowerID != "" {
			t.Errorf("анонимный запрос не должен передавать borrowerID, получено %q", borrowerID)
		}
		return []*model.Book{testBook("b-plain"), rated}, nil
	}

	rec := httptest.NewRecorder()
	env.handler.Recommendations(rec, newRequest(http.MethodPost, "/api/v1/ai/recommendations", `{"limit":5}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидается 200, получено %d", rec.Code)
	}

	var resp recommendationsResponse
	decodeBody(t, rec, &resp)
	if len(resp.Recommendations) != 2 {
		t.Fatalf("ожидается 2 рекомендации, получено %d", len(resp.Recommendations))
	}
	if resp.Recommendations[0].Book.ID != "b-rated" {
		t.Errorf("книга с рейтингом должна быть первой, получено %q", resp.Recommendations[0].Book.ID)
	}
	if resp.Recommendations[0].RecommendationScore <= resp.Recommendations[1].RecommendationScore {
		t.Error("рекомендации должны быть отсортированы по убыванию балла")
	}
}

// --- Health ---

func TestHealthLive(t *testing.T) {
	env := newTestEnv()

	rec := httptest.NewRecorder()
	env.handler.HealthLive(rec, newRequest(http.MethodGet, "/health/live", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидается 200, получено %d", rec.Code)
	}

	var resp struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "ok" || resp.Service != "library-module" {
		t.Errorf("неожиданный ответ liveness: %+v", resp)
	}
}

func TestHealthReady_NoDatabase(t *testing.T) {
	env := newTestEnv()

	rec := httptest.NewRecorder()
	env.handler.HealthReady(rec, newRequest(http.MethodGet, "/health/ready", ""))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидается 503 без PostgreSQL checker, получено %d", rec.Code)
	}
}
