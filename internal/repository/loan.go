// loan.go — репозиторий выдач (таблица loans).
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/golibrary/internal/domain/model"
)

// loanColumns — список столбцов loans для SELECT-запросов.
const loanColumns = `loan_id, book_id, borrower_id, checked_out_at, due_at, returned_at`

// LoanRepository — доступ к выдачам книг.
type LoanRepository interface {
	// Create вставляет выдачу. Вторая активная выдача на книгу —
	// ErrConflict (частичный уникальный индекс).
	Create(ctx context.Context, l *model.Loan) error
	// GetByID возвращает выдачу по UUID.
	GetByID(ctx context.Context, loanID string) (*model.Loan, error)
	// GetActiveByBook возвращает активную выдачу книги.
	GetActiveByBook(ctx context.Context, bookID string) (*model.Loan, error)
	// Close закрывает активную выдачу (returnedAt = now).
	// Уже закрытая — ErrConflict.
	Close(ctx context.Context, loanID string, returnedAt time.Time) error
	// SetDueDate меняет срок возврата активной выдачи.
	// Уже закрытая — ErrConflict.
	SetDueDate(ctx context.Context, loanID string, dueAt time.Time) error
	// ListByBorrower возвращает выдачи читателя, новые первыми.
	ListByBorrower(ctx context.Context, borrowerID string, limit int) ([]*model.Loan, error)
	// ListActive возвращает все активные выдачи (admin overview).
	ListActive(ctx context.Context) ([]*model.Loan, error)
	// History возвращает историю выдач читателя с жанром и автором книги,
	// новые первыми (для рекомендаций).
	History(ctx context.Context, borrowerID string, limit int) ([]*model.LoanHistoryEntry, error)
}

// loanRepo — реализация LoanRepository через pgx.
type loanRepo struct {
	db DBTX
}

// NewLoanRepository создаёт репозиторий выдач.
func NewLoanRepository(db DBTX) LoanRepository {
	return &loanRepo{db: db}
}

func (r *loanRepo) Create(ctx context.Context, l *model.Loan) error {
	query := `
		INSERT INTO loans (loan_id, book_id, borrower_id, checked_out_at, due_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		l.ID, l.BookID, l.BorrowerID, l.CheckedOutAt, l.DueAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания выдачи: %w", err)
	}
	return nil
}

// scanLoan сканирует одну строку loans.
func scanLoan(row pgx.Row) (*model.Loan, error) {
	l := &model.Loan{}
	err := row.Scan(&l.ID, &l.BookID, &l.BorrowerID, &l.CheckedOutAt, &l.DueAt, &l.ReturnedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка сканирования выдачи: %w", err)
	}
	return l, nil
}

func (r *loanRepo) GetByID(ctx context.Context, loanID string) (*model.Loan, error) {
	query := fmt.Sprintf(`SELECT %s FROM loans WHERE loan_id = $1`, loanColumns)
	return scanLoan(r.db.QueryRow(ctx, query, loanID))
}

func (r *loanRepo) GetActiveByBook(ctx context.Context, bookID string) (*model.Loan, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM loans WHERE book_id = $1 AND returned_at IS NULL`, loanColumns)
	return scanLoan(r.db.QueryRow(ctx, query, bookID))
}

func (r *loanRepo) Close(ctx context.Context, loanID string, returnedAt time.Time) error {
	// Conditional UPDATE: закрыть можно только активную выдачу.
	query := `
		UPDATE loans SET returned_at = $2
		WHERE loan_id = $1 AND returned_at IS NULL`

	tag, err := r.db.Exec(ctx, query, loanID, returnedAt)
	if err != nil {
		return fmt.Errorf("ошибка закрытия выдачи: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	return nil
}

func (r *loanRepo) SetDueDate(ctx context.Context, loanID string, dueAt time.Time) error {
	query := `
		UPDATE loans SET due_at = $2
		WHERE loan_id = $1 AND returned_at IS NULL`

	tag, err := r.db.Exec(ctx, query, loanID, dueAt)
	if err != nil {
		return fmt.Errorf("ошибка изменения срока возврата: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	return nil
}

func (r *loanRepo) ListByBorrower(ctx context.Context, borrowerID string, limit int) ([]*model.Loan, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM loans
		WHERE borrower_id = $1
		ORDER BY checked_out_at DESC
		LIMIT $2`, loanColumns)

	return r.queryLoans(ctx, query, borrowerID, limit)
}

func (r *loanRepo) ListActive(ctx context.Context) ([]*model.Loan, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM loans
		WHERE returned_at IS NULL
		ORDER BY checked_out_at DESC`, loanColumns)

	return r.queryLoans(ctx, query)
}

func (r *loanRepo) queryLoans(ctx context.Context, query string, args ...any) ([]*model.Loan, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса выдач: %w", err)
	}
	defer rows.Close()

	var result []*model.Loan
	for rows.Next() {
		l := &model.Loan{}
		if err := rows.Scan(&l.ID, &l.BookID, &l.BorrowerID, &l.CheckedOutAt, &l.DueAt, &l.ReturnedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования выдачи: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации выдач: %w", err)
	}
	return result, nil
}

func (r *loanRepo) History(ctx context.Context, borrowerID string, limit int) ([]*model.LoanHistoryEntry, error) {
	// Жанр и автор забираются одним JOIN — рекомендациям не нужны
	// записи каталога по одной.
	query := `
		SELECT l.book_id, b.genre, b.author, l.checked_out_at
		FROM loans l
		JOIN catalog_records b ON b.book_id = l.book_id
		WHERE l.borrower_id = $1
		ORDER BY l.checked_out_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, borrowerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории выдач: %w", err)
	}
	defer rows.Close()

	var result []*model.LoanHistoryEntry
	for rows.Next() {
		e := &model.LoanHistoryEntry{}
		if err := rows.Scan(&e.BookID, &e.Genre, &e.Author, &e.CheckedOutAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования истории выдач: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации истории выдач: %w", err)
	}
	return result, nil
}
