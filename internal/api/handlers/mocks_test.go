// mocks_test.go — моки репозиториев и вспомогательные конструкторы
// для тестов HTTP-обработчиков. Обработчики тестируются поверх настоящего
// сервисного слоя с подменёнными репозиториями.
package handlers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/bigkaa/golibrary/internal/domain/model"
	"github.com/bigkaa/golibrary/internal/repository"
	"github.com/bigkaa/golibrary/internal/service"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Mock BookRepository ---

type mockBookRepo struct {
	createFn           func(ctx context.Context, b *model.Book) error
	getByIDFn          func(ctx context.Context, bookID string) (*model.Book, error)
	getByISBNFn        func(ctx context.Context, isbn string) (*model.Book, error)
	getByTitleAuthorFn func(ctx context.Context, title, author string) (*model.Book, error)
	listFn             func(ctx context.Context, params repository.BookListParams) ([]*model.Book, error)
	updateFn           func(ctx context.Context, b *model.Book) error
	deleteFn           func(ctx context.Context, bookID string) error
	listCandidatesFn   func(ctx context.Context, borrowerID string, limit int) ([]*model.Book, error)
	claimCheckoutFn    func(ctx context.Context, bookID string) error
	claimRequestFn     func(ctx context.Context, bookID string) error
	claimApproveFn     func(ctx context.Context, bookID string) error
	releaseLoanFn      func(ctx context.Context, bookID string) error
	releaseRequestFn   func(ctx context.Context, bookID string) error
}

func (m *mockBookRepo) Create(ctx context.Context, b *model.Book) error {
	if m.createFn != nil {
		return m.createFn(ctx, b)
	}
	return nil
}

func (m *mockBookRepo) GetByID(ctx context.Context, bookID string) (*model.Book, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, bookID)
	}
	return nil, repository.ErrNotFound
}

func (m *mockBookRepo) GetByISBN(ctx context.Context, isbn string) (*model.Book, error) {
	if m.getByISBNFn != nil {
		return m.getByISBNFn(ctx, isbn)
	}
	return nil, repository.ErrNotFound
}

func (m *mockBookRepo) GetByTitleAuthor(ctx context.Context, title, author string) (*model.Book, error) {
	if m.getByTitleAuthorFn != nil {
		return m.getByTitleAuthorFn(ctx, title, author)
	}
	return nil, repository.ErrNotFound
}

func (m *mockBookRepo) List(ctx context.Context, params repository.BookListParams) ([]*model.Book, error) {
	if m.listFn != nil {
		return m.listFn(ctx, params)
	}
	return nil, nil
}

func (m *mockBookRepo) Update(ctx context.Context, b *model.Book) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, b)
	}
	return nil
}

func (m *mockBookRepo) Delete(ctx context.Context, bookID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, bookID)
	}
	return nil
}

func (m *mockBookRepo) ApplyEnrichment(ctx context.Context, bookID string, p *model.EnrichmentPatch) error {
	return nil
}

func (m *mockBookRepo) ListNeedingEnrichment(ctx context.Context, limit int) ([]*model.Book, error) {
	return nil, nil
}

func (m *mockBookRepo) ListAvailableCandidates(ctx context.Context, borrowerID string, limit int) ([]*model.Book, error) {
	if m.listCandidatesFn != nil {
		return m.listCandidatesFn(ctx, borrowerID, limit)
	}
	return nil, nil
}

func (m *mockBookRepo) ClaimCheckout(ctx context.Context, bookID string) error {
	if m.claimCheckoutFn != nil {
		return m.claimCheckoutFn(ctx, bookID)
	}
	return nil
}

func (m *mockBookRepo) ClaimRequest(ctx context.Context, bookID string) error {
	if m.claimRequestFn != nil {
		return m.claimRequestFn(ctx, bookID)
	}
	return nil
}

func (m *mockBookRepo) ClaimApprove(ctx context.Context, bookID string) error {
	if m.claimApproveFn != nil {
		return m.claimApproveFn(ctx, bookID)
	}
	return nil
}

func (m *mockBookRepo) ReleaseLoan(ctx context.Context, bookID string) error {
	if m.releaseLoanFn != nil {
		return m.releaseLoanFn(ctx, bookID)
	}
	return nil
}

func (m *mockBookRepo) ReleaseRequest(ctx context.Context, bookID string) error {
	if m.releaseRequestFn != nil {
		return m.releaseRequestFn(ctx, bookID)
	}
	return nil
}

// --- Mock LoanRepository ---

type mockLoanRepo struct {
	createFn          func(ctx context.Context, l *model.Loan) error
	getByIDFn         func(ctx context.Context, loanID string) (*model.Loan, error)
	getActiveByBookFn func(ctx context.Context, bookID string) (*model.Loan, error)
	closeFn           func(ctx context.Context, loanID string, returnedAt time.Time) error
	setDueDateFn      func(ctx context.Context, loanID string, dueAt time.Time) error
	listByBorrowerFn  func(ctx context.Context, borrowerID string, limit int) ([]*model.Loan, error)
	listActiveFn      func(ctx context.Context) ([]*model.Loan, error)
	historyFn         func(ctx context.Context, borrowerID string, limit int) ([]*model.LoanHistoryEntry, error)
}

func (m *mockLoanRepo) Create(ctx context.Context, l *model.Loan) error {
	if m.createFn != nil {
		return m.createFn(ctx, l)
	}
	return nil
}

func (m *mockLoanRepo) GetByID(ctx context.Context, loanID string) (*model.Loan, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, loanID)
	}
	return nil, repository.ErrNotFound
}

func (m *mockLoanRepo) GetActiveByBook(ctx context.Context, bookID string) (*model.Loan, error) {
	if m.getActiveByBookFn != nil {
		return m.getActiveByBookFn(ctx, bookID)
	}
	return nil, repository.ErrNotFound
}

func (m *mockLoanRepo) Close(ctx context.Context, loanID string, returnedAt time.Time) error {
	if m.closeFn != nil {
		return m.closeFn(ctx, loanID, returnedAt)
	}
	return nil
}

func (m *mockLoanRepo) SetDueDate(ctx context.Context, loanID string, dueAt time.Time) error {
	if m.setDueDateFn != nil {
		return m.setDueDateFn(ctx, loanID, dueAt)
	}
	return nil
}

func (m *mockLoanRepo) ListByBorrower(ctx context.Context, borrowerID string, limit int) ([]*model.Loan, error) {
	if m.listByBorrowerFn != nil {
		return m.listByBorrowerFn(ctx, borrowerID, limit)
	}
	return nil, nil
}

func (m *mockLoanRepo) ListActive(ctx context.Context) ([]*model.Loan, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func (m *mockLoanRepo) History(ctx context.Context, borrowerID string, limit int) ([]*model.LoanHistoryEntry, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, borrowerID, limit)
	}
	return nil, nil
}

// --- Mock RequestRepository ---

type mockRequestRepo struct {
	createFn         func(ctx context.Context, req *model.BorrowRequest) error
	getByIDFn        func(ctx context.Context, requestID string) (*model.BorrowRequest, error)
	resolveFn        func(ctx context.Context, requestID, status, reviewerID string, reviewedAt time.Time) error
	listByBorrowerFn func(ctx context.Context, borrowerID string) ([]*model.BorrowRequest, error)
	listByStatusFn   func(ctx context.Context, status string) ([]*model.BorrowRequest, error)
	markSeenFn       func(ctx context.Context, borrowerID string, seenAt time.Time) (int, error)
	countUnreadFn    func(ctx context.Context, borrowerID string) (int, error)
}

func (m *mockRequestRepo) Create(ctx context.Context, req *model.BorrowRequest) error {
	if m.createFn != nil {
		return m.createFn(ctx, req)
	}
	return nil
}

func (m *mockRequestRepo) GetByID(ctx context.Context, requestID string) (*model.BorrowRequest, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, requestID)
	}
	return nil, repository.ErrNotFound
}

func (m *mockRequestRepo) Resolve(ctx context.Context, requestID, status, reviewerID string, reviewedAt time.Time) error {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, requestID, status, reviewerID, reviewedAt)
	}
	return nil
}

func (m *mockRequestRepo) ListByBorrower(ctx context.Context, borrowerID string) ([]*model.BorrowRequest, error) {
	if m.listByBorrowerFn != nil {
		return m.listByBorrowerFn(ctx, borrowerID)
	}
	return nil, nil
}

func (m *mockRequestRepo) ListByStatus(ctx context.Context, status string) ([]*model.BorrowRequest, error) {
	if m.listByStatusFn != nil {
		return m.listByStatusFn(ctx, status)
	}
	return nil, nil
}

func (m *mockRequestRepo) MarkSeen(ctx context.Context, borrowerID string, seenAt time.Time) (int, error) {
	if m.markSeenFn != nil {
		return m.markSeenFn(ctx, borrowerID, seenAt)
	}
	return 0, nil
}

func (m *mockRequestRepo) CountUnread(ctx context.Context, borrowerID string) (int, error) {
	if m.countUnreadFn != nil {
		return m.countUnreadFn(ctx, borrowerID)
	}
	return 0, nil
}

// --- Fake transaction runner ---

// fakeTxRunner выполняет fn поверх переданных репозиториев без транзакции.
type fakeTxRunner struct {
	stores repository.Stores
}

func (f *fakeTxRunner) RunInStores(ctx context.Context, fn func(s repository.Stores) error) error {
	return fn(f.stores)
}

// --- Stub provider ---

// stubProvider — источник метаданных без результатов
// (оценка срока возврата всегда деградирует до fallback).
type stubProvider struct {
	name string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Search(ctx context.Context, query string, limit int) ([]*model.Candidate, error) {
	return nil, nil
}

// --- Сборка тестового окружения ---

// testEnv — обработчик поверх настоящих сервисов и подменённых репозиториев.
type testEnv struct {
	handler  *APIHandler
	books    *mockBookRepo
	loans    *mockLoanRepo
	requests *mockRequestRepo
}

// newTestEnv собирает APIHandler с моками вместо PostgreSQL и провайдеров.
// Оценщик срока возврата работает без источников (всегда fallback).
func newTestEnv() *testEnv {
	logger := testLogger()
	books := &mockBookRepo{}
	loans := &mockLoanRepo{}
	requests := &mockRequestRepo{}
	cache := service.NewCacheService(16, time.Minute)
	tx := &fakeTxRunner{stores: repository.Stores{
		Books:    books,
		Loans:    loans,
		Requests: requests,
	}}

	sourceA := &stubProvider{name: "source-a"}
	sourceB := &stubProvider{name: "source-b"}
	estimate := service.NewEstimateService(sourceA, sourceB, logger)
	enrich := service.NewEnrichService(books, sourceA, sourceB, cache, logger)

	h := NewAPIHandler(
		NewHealthHandler(nil, nil),
		service.NewBookService(books, cache, nil, logger),
		service.NewLendingService(books, loans, tx, estimate, 100*time.Millisecond, cache, logger),
		service.NewRequestService(books, requests, tx, estimate, 100*time.Millisecond, cache, logger),
		enrich,
		service.NewRecommendService(books, loans, cache, logger),
		estimate,
		logger,
	)

	return &testEnv{handler: h, books: books, loans: loans, requests: requests}
}
