// request.go — репозиторий заявок на выдачу (таблица borrow_requests).
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/golibrary/internal/domain/model"
)

// requestColumns — список столбцов borrow_requests для SELECT-запросов.
const requestColumns = `request_id, borrower_id, book_id, status,
	reviewed_by_id, reviewed_at, borrower_acknowledged_at, created_at`

// RequestRepository — доступ к заявкам на выдачу.
type RequestRepository interface {
	// Create вставляет PENDING-заявку. Вторая PENDING на ту же книгу —
	// ErrConflict (частичный уникальный индекс).
	Create(ctx context.Context, req *model.BorrowRequest) error
	// GetByID возвращает заявку по UUID.
	GetByID(ctx context.Context, requestID string) (*model.BorrowRequest, error)
	// Resolve переводит PENDING-заявку в терминальный статус.
	// Предикат status = 'PENDING' перепроверяется на момент UPDATE:
	// несовпадение (двойное одобрение) — ErrConflict.
	// borrower_acknowledged_at сбрасывается при уходе из PENDING.
	Resolve(ctx context.Context, requestID, status, reviewerID string, reviewedAt time.Time) error
	// ListByBorrower возвращает заявки читателя, новые первыми.
	ListByBorrower(ctx context.Context, borrowerID string) ([]*model.BorrowRequest, error)
	// ListByStatus возвращает заявки с указанным статусом, новые первыми.
	ListByStatus(ctx context.Context, status string) ([]*model.BorrowRequest, error)
	// MarkSeen отмечает все непросмотренные терминальные решения читателя.
	// Возвращает количество отмеченных заявок.
	MarkSeen(ctx context.Context, borrowerID string, seenAt time.Time) (int, error)
	// CountUnread возвращает количество непросмотренных терминальных
	// решений читателя.
	CountUnread(ctx context.Context, borrowerID string) (int, error)
}

// requestRepo — реализация RequestRepository через pgx.
type requestRepo struct {
	db DBTX
}

// NewRequestRepository создаёт репозиторий заявок.
func NewRequestRepository(db DBTX) RequestRepository {
	return &requestRepo{db: db}
}

func (r *requestRepo) Create(ctx context.Context, req *model.BorrowRequest) error {
	query := `
		INSERT INTO borrow_requests (request_id, borrower_id, book_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		req.ID, req.BorrowerID, req.BookID, req.Status,
	).Scan(&req.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

func (r *requestRepo) GetByID(ctx context.Context, requestID string) (*model.BorrowRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM borrow_requests WHERE request_id = $1`, requestColumns)

	req := &model.BorrowRequest{}
	err := r.db.QueryRow(ctx, query, requestID).Scan(
		&req.ID, &req.BorrowerID, &req.BookID, &req.Status,
		&req.ReviewedByID, &req.ReviewedAt, &req.BorrowerAcknowledgedAt, &req.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}
	return req, nil
}

func (r *requestRepo) Resolve(ctx context.Context, requestID, status, reviewerID string, reviewedAt time.Time) error {
	// Claim по статусу: двойное одобрение проигрывает предикату PENDING.
	query := `
		UPDATE borrow_requests
		SET status = $2, reviewed_by_id = $3, reviewed_at = $4,
			borrower_acknowledged_at = NULL
		WHERE request_id = $1 AND status = 'PENDING'`

	tag, err := r.db.Exec(ctx, query, requestID, status, reviewerID, reviewedAt)
	if err != nil {
		return fmt.Errorf("ошибка перевода заявки в статус %s: %w", status, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	return nil
}

func (r *requestRepo) ListByBorrower(ctx context.Context, borrowerID string) ([]*model.BorrowRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM borrow_requests
		WHERE borrower_id = $1
		ORDER BY created_at DESC`, requestColumns)

	return r.queryRequests(ctx, query, borrowerID)
}

func (r *requestRepo) ListByStatus(ctx context.Context, status string) ([]*model.BorrowRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM borrow_requests
		WHERE status = $1
		ORDER BY created_at DESC`, requestColumns)

	return r.queryRequests(ctx, query, status)
}

func (r *requestRepo) queryRequests(ctx context.Context, query string, args ...any) ([]*model.BorrowRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса заявок: %w", err)
	}
	defer rows.Close()

	var result []*model.BorrowRequest
	for rows.Next() {
		req := &model.BorrowRequest{}
		if err := rows.Scan(
			&req.ID, &req.BorrowerID, &req.BookID, &req.Status,
			&req.ReviewedByID, &req.ReviewedAt, &req.BorrowerAcknowledgedAt, &req.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки: %w", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации заявок: %w", err)
	}
	return result, nil
}

func (r *requestRepo) MarkSeen(ctx context.Context, borrowerID string, seenAt time.Time) (int, error) {
	query := `
		UPDATE borrow_requests
		SET borrower_acknowledged_at = $2
		WHERE borrower_id = $1
		  AND status IN ('APPROVED', 'DECLINED')
		  AND borrower_acknowledged_at IS NULL`

	tag, err := r.db.Exec(ctx, query, borrowerID, seenAt)
	if err != nil {
		return 0, fmt.Errorf("ошибка отметки решений просмотренными: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *requestRepo) CountUnread(ctx context.Context, borrowerID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM borrow_requests
		WHERE borrower_id = $1
		  AND status IN ('APPROVED', 'DECLINED')
		  AND borrower_acknowledged_at IS NULL`

	var count int
	if err := r.db.QueryRow(ctx, query, borrowerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта непросмотренных решений: %w", err)
	}
	return count, nil
}
