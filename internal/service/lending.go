// lending.go — машина состояний выдачи: checkout, checkin,
// списки выдач и административное изменение срока возврата.
// Claim и зависимая вставка выполняются в одной транзакции.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/golibrary/internal/domain/model"
	"github.com/bigkaa/golibrary/internal/repository"
)

// storesRunner — выполнение операции над репозиториями одной транзакции.
// Реализуется repository.TxRunner.
type storesRunner interface {
	RunInStores(ctx context.Context, fn func(s repository.Stores) error) error
}

// LendingService — бизнес-логика выдачи книг.
type LendingService struct {
	books       repository.BookRepository
	loans       repository.LoanRepository
	tx          storesRunner
	estimator   dueDateEstimator
	raceTimeout time.Duration
	cache       *CacheService
	logger      *slog.Logger
}

// NewLendingService создаёт сервис выдачи.
// raceTimeout — сколько checkout ждёт оценщика срока возврата.
func NewLendingService(
	books repository.BookRepository,
	loans repository.LoanRepository,
	tx storesRunner,
	estimator dueDateEstimator,
	raceTimeout time.Duration,
	cache *CacheService,
	logger *slog.Logger,
) *LendingService {
	return &LendingService{
		books:       books,
		loans:       loans,
		tx:          tx,
		estimator:   estimator,
		raceTimeout: raceTimeout,
		cache:       cache,
		logger:      logger.With(slog.String("component", "lending_service")),
	}
}

// Checkout выдаёт доступную книгу читателю.
// При конкурентных запросах побеждает ровно один — claim по флагу available.
func (s *LendingService) Checkout(ctx context.Context, bookID, borrowerID string, dueAt *time.Time) (*model.Loan, error) {
	if borrowerID == "" {
		return nil, fmt.Errorf("%w: не указан читатель", ErrValidation)
	}
	if dueAt != nil && dueAt.Before(time.Now()) {
		return nil, fmt.Errorf("%w: срок возврата в прошлом", ErrValidation)
	}

	// Существование проверяется до claim: предикат claim не отличает
	// отсутствующую книгу от проигранной гонки.
	book, err := s.books.GetByID(ctx, bookID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("проверка книги перед выдачей: %w", err)
	}

	// Срок возврата: либо задан администратором, либо берётся из оценщика
	// (или 30-дневный fallback, если оценщик не успел за raceTimeout).
	// Внешний вызов выполняется до транзакции — store не держится
	// открытым через HTTP.
	dueSource := "admin"
	if dueAt == nil {
		isbn := ""
		if book.ISBN != nil {
			isbn = *book.ISBN
		}
		est := s.estimator.EstimateWithin(ctx, s.raceTimeout, book.Title, book.Author, isbn)
		dueAt = &est.DueAt
		dueSource = est.Source
	}

	loan := &model.Loan{
		ID:           uuid.NewString(),
		BookID:       bookID,
		BorrowerID:   borrowerID,
		CheckedOutAt: time.Now(),
		DueAt:        dueAt,
	}

	err = s.tx.RunInStores(ctx, func(st repository.Stores) error {
		if err := st.Books.ClaimCheckout(ctx, bookID); err != nil {
			return err
		}
		return st.Loans.Create(ctx, loan)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: книга недоступна для выдачи", ErrConflict)
		}
		return nil, fmt.Errorf("выдача книги: %w", err)
	}

	s.cache.Purge()
	s.logger.Info("Книга выдана",
		slog.String("book_id", bookID),
		slog.String("borrower_id", borrowerID),
		slog.String("loan_id", loan.ID),
		slog.String("due_source", dueSource),
	)
	return loan, nil
}

// Checkin возвращает книгу. Разрешён владельцу выдачи и администратору.
func (s *LendingService) Checkin(ctx context.Context, bookID, userID string, isAdmin bool) (*model.Loan, error) {
	loan, err := s.loans.GetActiveByBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: активная выдача не найдена", ErrNotFound)
		}
		return nil, fmt.Errorf("поиск активной выдачи: %w", err)
	}

	if loan.BorrowerID != userID && !isAdmin {
		return nil, fmt.Errorf("%w: вернуть книгу может только её читатель", ErrForbidden)
	}

	returnedAt := time.Now()
	err = s.tx.RunInStores(ctx, func(st repository.Stores) error {
		if err := st.Loans.Close(ctx, loan.ID, returnedAt); err != nil {
			return err
		}
		return st.Books.ReleaseLoan(ctx, bookID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: выдача уже закрыта", ErrConflict)
		}
		return nil, fmt.Errorf("возврат книги: %w", err)
	}

	loan.ReturnedAt = &returnedAt
	s.cache.Purge()
	s.logger.Info("Книга возвращена",
		slog.String("book_id", bookID),
		slog.String("loan_id", loan.ID),
	)
	return loan, nil
}

// ListMine возвращает выдачи читателя, новые первыми.
func (s *LendingService) ListMine(ctx context.Context, borrowerID string, limit int) ([]*model.Loan, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	loans, err := s.loans.ListByBorrower(ctx, borrowerID, limit)
	if err != nil {
		return nil, fmt.Errorf("список выдач читателя: %w", err)
	}
	return loans, nil
}

// OverviewEntry — активная выдача вместе с записью каталога.
type OverviewEntry struct {
	Loan *model.Loan
	Book *model.Book
}

// AdminOverview возвращает все активные выдачи с данными книг.
func (s *LendingService) AdminOverview(ctx context.Context) ([]*OverviewEntry, error) {
	loans, err := s.loans.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("список активных выдач: %w", err)
	}

	entries := make([]*OverviewEntry, 0, len(loans))
	for _, l := range loans {
		entry := &OverviewEntry{Loan: l}
		book, err := s.books.GetByID(ctx, l.BookID)
		if err == nil {
			entry.Book = book
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SetDueDate меняет срок возврата активной выдачи (admin).
func (s *LendingService) SetDueDate(ctx context.Context, loanID string, dueAt time.Time) (*model.Loan, error) {
	if dueAt.Before(time.Now()) {
		return nil, fmt.Errorf("%w: срок возврата в прошлом", ErrValidation)
	}

	if err := s.loans.SetDueDate(ctx, loanID, dueAt); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("изменение срока возврата: %w", err)
		}
		// 0 строк: выдачи нет либо она закрыта
		if _, getErr := s.loans.GetByID(ctx, loanID); errors.Is(getErr, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: выдача уже закрыта", ErrConflict)
	}

	loan, err := s.loans.GetByID(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("получение выдачи: %w", err)
	}
	return loan, nil
}
