// requests.go — workflow заявок на выдачу: создание, одобрение с
// инлайн-оценкой срока возврата, отклонение, просмотр решений.
// Одобрение и отклонение перепроверяют статус PENDING на момент UPDATE —
// двойное решение по одной заявке невозможно.
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

// dueDateEstimator — инлайн-оценка срока возврата с верхней границей
// ожидания. Реализуется EstimateService.
type dueDateEstimator interface {
	EstimateWithin(ctx context.Context, timeout time.Duration, title, author, isbn string) *DueDateEstimate
}

// RequestService — бизнес-логика заявок на выдачу.
type RequestService struct {
	books       repository.BookRepository
	requests    repository.RequestRepository
	tx          storesRunner
	estimator   dueDateEstimator
	raceTimeout time.Duration
	cache       *CacheService
	logger      *slog.Logger
}

// NewRequestService создаёт сервис заявок.
// raceTimeout — сколько одобрение ждёт оценщика срока возврата.
func NewRequestService(
	books repository.BookRepository,
	requests repository.RequestRepository,
	tx storesRunner,
	estimator dueDateEstimator,
	raceTimeout time.Duration,
	cache *CacheService,
	logger *slog.Logger,
) *RequestService {
	return &RequestService{
		books:       books,
		requests:    requests,
		tx:          tx,
		estimator:   estimator,
		raceTimeout: raceTimeout,
		cache:       cache,
		logger:      logger.With(slog.String("component", "request_service")),
	}
}

// Create создаёт PENDING-заявку на доступную книгу.
// На книгу одновременно существует не более одной PENDING-заявки.
func (s *RequestService) Create(ctx context.Context, bookID, borrowerID string) (*model.BorrowRequest, error) {
	if borrowerID == "" {
		return nil, fmt.Errorf("%w: не указан читатель", ErrValidation)
	}

	if _, err := s.books.GetByID(ctx, bookID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("проверка книги перед заявкой: %w", err)
	}

	req := &model.BorrowRequest{
		ID:         uuid.NewString(),
		BorrowerID: borrowerID,
		BookID:     bookID,
		Status:     model.RequestStatusPending,
	}

	err := s.tx.RunInStores(ctx, func(st repository.Stores) error {
		if err := st.Books.ClaimRequest(ctx, bookID); err != nil {
			return err
		}
		return st.Requests.Create(ctx, req)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: книга недоступна или уже запрошена", ErrConflict)
		}
		return nil, fmt.Errorf("создание заявки: %w", err)
	}

	s.cache.Purge()
	s.logger.Info("Заявка на выдачу создана",
		slog.String("request_id", req.ID),
		slog.String("book_id", bookID),
		slog.String("borrower_id", borrowerID),
	)
	return req, nil
}

// ApproveResult — результат одобрения заявки.
type ApproveResult struct {
	Request  *model.BorrowRequest
	Loan     *model.Loan
	Estimate *DueDateEstimate
}

// Approve одобряет PENDING-заявку: книга уходит в выдачу её автору,
// срок возврата берётся из оценщика (или 30-дневный fallback, если
// оценщик не успел за raceTimeout). Внешний вызов оценщика выполняется
// до транзакции — store не держится открытым через HTTP.
func (s *RequestService) Approve(ctx context.Context, requestID, reviewerID string) (*ApproveResult, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение заявки: %w", err)
	}
	if req.Terminal() {
		return nil, fmt.Errorf("%w: заявка уже рассмотрена", ErrConflict)
	}

	book, err := s.books.GetByID(ctx, req.BookID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: книга заявки не найдена", ErrNotFound)
		}
		return nil, fmt.Errorf("получение книги заявки: %w", err)
	}

	isbn := ""
	if book.ISBN != nil {
		isbn = *book.ISBN
	}
	est := s.estimator.EstimateWithin(ctx, s.raceTimeout, book.Title, book.Author, isbn)

	now := time.Now()
	loan := &model.Loan{
		ID:           uuid.NewString(),
		BookID:       req.BookID,
		BorrowerID:   req.BorrowerID,
		CheckedOutAt: now,
		DueAt:        &est.DueAt,
	}

	err = s.tx.RunInStores(ctx, func(st repository.Stores) error {
		if err := st.Requests.Resolve(ctx, requestID, model.RequestStatusApproved, reviewerID, now); err != nil {
			return err
		}
		if err := st.Books.ClaimApprove(ctx, req.BookID); err != nil {
			return err
		}
		return st.Loans.Create(ctx, loan)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: заявка уже рассмотрена или состояние книги изменилось", ErrConflict)
		}
		return nil, fmt.Errorf("одобрение заявки: %w", err)
	}

	req.Status = model.RequestStatusApproved
	req.ReviewedByID = &reviewerID
	req.ReviewedAt = &now

	s.cache.Purge()
	s.logger.Info("Заявка одобрена",
		slog.String("request_id", requestID),
		slog.String("book_id", req.BookID),
		slog.Int("due_days", est.Days),
		slog.String("estimate_source", est.Source),
	)
	return &ApproveResult{Request: req, Loan: loan, Estimate: est}, nil
}

// Decline отклоняет PENDING-заявку и возвращает книгу в доступные.
func (s *RequestService) Decline(ctx context.Context, requestID, reviewerID string) (*model.BorrowRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение заявки: %w", err)
	}
	if req.Terminal() {
		return nil, fmt.Errorf("%w: заявка уже рассмотрена", ErrConflict)
	}

	now := time.Now()
	err = s.tx.RunInStores(ctx, func(st repository.Stores) error {
		if err := st.Requests.Resolve(ctx, requestID, model.RequestStatusDeclined, reviewerID, now); err != nil {
			return err
		}
		return st.Books.ReleaseRequest(ctx, req.BookID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: заявка уже рассмотрена", ErrConflict)
		}
		return nil, fmt.Errorf("отклонение заявки: %w", err)
	}

	req.Status = model.RequestStatusDeclined
	req.ReviewedByID = &reviewerID
	req.ReviewedAt = &now

	s.cache.Purge()
	s.logger.Info("Заявка отклонена",
		slog.String("request_id", requestID),
		slog.String("book_id", req.BookID),
	)
	return req, nil
}

// List возвращает заявки: администратору — по статусу (по умолчанию
// PENDING), читателю — только собственные.
func (s *RequestService) List(ctx context.Context, userID string, isAdmin bool, status string) ([]*model.BorrowRequest, error) {
	if isAdmin {
		if status == "" {
			status = model.RequestStatusPending
		}
		if !model.ValidRequestStatus(status) {
			return nil, fmt.Errorf("%w: некорректный статус %q", ErrValidation, status)
		}
		reqs, err := s.requests.ListByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("список заявок по статусу: %w", err)
		}
		return reqs, nil
	}

	reqs, err := s.requests.ListByBorrower(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("список заявок читателя: %w", err)
	}
	return reqs, nil
}

// MarkSeen отмечает просмотренными все непросмотренные решения читателя.
// Возвращает количество отмеченных заявок.
func (s *RequestService) MarkSeen(ctx context.Context, borrowerID string) (int, error) {
	n, err := s.requests.MarkSeen(ctx, borrowerID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("отметка решений просмотренными: %w", err)
	}
	return n, nil
}

// CountUnread возвращает количество непросмотренных решений читателя.
func (s *RequestService) CountUnread(ctx context.Context, borrowerID string) (int, error) {
	n, err := s.requests.CountUnread(ctx, borrowerID)
	if err != nil {
		return 0, fmt.Errorf("подсчёт непросмотренных решений: %w", err)
	}
	return n, nil
}
