// book.go — репозиторий записей каталога (таблица catalog_records).
// Содержит все claim-операции машины состояний выдачи.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/golibrary/internal/domain/model"
)

// bookColumns — список столбцов catalog_records для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const bookColumns = `book_id, title, author, isbn, genre, published_year,
	description, cover_url, average_rating, ratings_count, synthetic,
	available, request_pending, created_at, updated_at`

// BookListParams — параметры листинга каталога.
// Все фильтры — указатели, nil = фильтр не применяется.
type BookListParams struct {
	// Query — поиск по названию или автору (partial match)
	Query *string
	// Author — фильтр по автору (partial match)
	Author *string
	// Genre — фильтр по жанру (exact, case-insensitive)
	Genre *string
	// Available — фильтр по доступности
	Available *bool
	// CursorCreatedAt, CursorID — keyset-курсор: записи строго «старше»
	// пары (created_at, book_id). Нулевые значения = первая страница.
	CursorCreatedAt time.Time
	CursorID        string
	// Limit — количество результатов
	Limit int
}

// BookRepository — доступ к записям каталога.
//
// Claim-методы (ClaimCheckout, ClaimRequest, ClaimApprove, ReleaseLoan,
// ReleaseRequest) возвращают ErrConflict, если предикат ожидаемого состояния
// не совпал ровно с одной строкой. Несуществующий ID здесь неотличим от
// проигранной гонки — вызывающий слой проверяет существование отдельно,
// если ему нужен точный NotFound.
type BookRepository interface {
	// Create вставляет новую запись. Дубликат ISBN — ErrDuplicateISBN.
	Create(ctx context.Context, b *model.Book) error
	// GetByID возвращает запись по UUID.
	GetByID(ctx context.Context, bookID string) (*model.Book, error)
	// GetByISBN возвращает запись по нормализованному ISBN.
	GetByISBN(ctx context.Context, isbn string) (*model.Book, error)
	// GetByTitleAuthor возвращает запись по точному (без учёта регистра)
	// совпадению названия и автора.
	GetByTitleAuthor(ctx context.Context, title, author string) (*model.Book, error)
	// List возвращает страницу каталога (keyset-пагинация, новые первыми).
	List(ctx context.Context, params BookListParams) ([]*model.Book, error)
	// Update перезаписывает редактируемые поля записи (admin PATCH).
	Update(ctx context.Context, b *model.Book) error
	// Delete удаляет запись, только если на ней нет активной выдачи.
	// 0 строк — либо записи нет, либо есть активная выдача; возвращается
	// ErrConflict, точная причина выясняется вызывающим слоем.
	Delete(ctx context.Context, bookID string) error

	// ApplyEnrichment применяет fill-missing-only патч через COALESCE:
	// заполненные поля не перезаписываются даже при конкурентном патче,
	// synthetic только взводится (OR), но не сбрасывается.
	ApplyEnrichment(ctx context.Context, bookID string, p *model.EnrichmentPatch) error
	// ListNeedingEnrichment возвращает записи с незаполненными обогащаемыми
	// полями, давно не обновлявшиеся — первыми.
	ListNeedingEnrichment(ctx context.Context, limit int) ([]*model.Book, error)
	// ListAvailableCandidates возвращает пул кандидатов для рекомендаций:
	// доступные, без PENDING заявки, не встречающиеся в истории выдач
	// читателя. Пустой borrowerID — без исключения по истории.
	ListAvailableCandidates(ctx context.Context, borrowerID string, limit int) ([]*model.Book, error)

	// ClaimCheckout — AVAILABLE → ON_LOAN (available: true→false).
	ClaimCheckout(ctx context.Context, bookID string) error
	// ClaimRequest — AVAILABLE → REQUEST_PENDING (requestPending: false→true).
	ClaimRequest(ctx context.Context, bookID string) error
	// ClaimApprove — REQUEST_PENDING → ON_LOAN
	// (available: true→false, requestPending: true→false).
	ClaimApprove(ctx context.Context, bookID string) error
	// ReleaseLoan — ON_LOAN → AVAILABLE (available: false→true).
	ReleaseLoan(ctx context.Context, bookID string) error
	// ReleaseRequest — REQUEST_PENDING → AVAILABLE (requestPending: true→false).
	ReleaseRequest(ctx context.Context, bookID string) error
}

// bookRepo — реализация BookRepository через pgx.
type bookRepo struct {
	db DBTX
}

// NewBookRepository создаёт репозиторий каталога.
// db — *pgxpool.Pool или pgx.Tx (для claim + зависимой вставки в транзакции).
func NewBookRepository(db DBTX) BookRepository {
	return &bookRepo{db: db}
}

func (r *bookRepo) Create(ctx context.Context, b *model.Book) error {
	query := `
		INSERT INTO catalog_records (book_id, title, author, isbn, genre,
			published_year, description, cover_url, average_rating,
			ratings_count, synthetic, available, request_pending)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		b.ID, b.Title, b.Author, b.ISBN, b.Genre, b.PublishedYear,
		b.Description, b.CoverURL, b.AverageRating, b.RatingsCount,
		b.Synthetic, b.Available, b.RequestPending,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateISBN
		}
		return fmt.Errorf("ошибка создания записи каталога: %w", err)
	}
	return nil
}

// scanBook сканирует одну строку catalog_records.
func scanBook(row pgx.Row) (*model.Book, error) {
	b := &model.Book{}
	err := row.Scan(
		&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Genre, &b.PublishedYear,
		&b.Description, &b.CoverURL, &b.AverageRating, &b.RatingsCount,
		&b.Synthetic, &b.Available, &b.RequestPending, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка сканирования записи каталога: %w", err)
	}
	return b, nil
}

func (r *bookRepo) GetByID(ctx context.Context, bookID string) (*model.Book, error) {
	query := fmt.Sprintf(`SELECT %s FROM catalog_records WHERE book_id = $1`, bookColumns)
	return scanBook(r.db.QueryRow(ctx, query, bookID))
}

func (r *bookRepo) GetByISBN(ctx context.Context, isbn string) (*model.Book, error) {
	query := fmt.Sprintf(`SELECT %s FROM catalog_records WHERE isbn = $1`, bookColumns)
	return scanBook(r.db.QueryRow(ctx, query, isbn))
}

func (r *bookRepo) GetByTitleAuthor(ctx context.Context, title, author string) (*model.Book, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM catalog_records
		WHERE LOWER(title) = LOWER($1) AND LOWER(author) = LOWER($2)
		ORDER BY created_at LIMIT 1`, bookColumns)
	return scanBook(r.db.QueryRow(ctx, query, title, author))
}

func (r *bookRepo) List(ctx context.Context, params BookListParams) ([]*model.Book, error) {
	var conditions []string
	var args []any
	argNum := 1

	if params.Query != nil && *params.Query != "" {
		conditions = append(conditions,
			fmt.Sprintf("(title ILIKE $%d OR author ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+*params.Query+"%")
		argNum++
	}
	if params.Author != nil && *params.Author != "" {
		conditions = append(conditions, fmt.Sprintf("author ILIKE $%d", argNum))
		args = append(args, "%"+*params.Author+"%")
		argNum++
	}
	if params.Genre != nil && *params.Genre != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(genre) = LOWER($%d)", argNum))
		args = append(args, *params.Genre)
		argNum++
	}
	if params.Available != nil {
		conditions = append(conditions, fmt.Sprintf("available = $%d", argNum))
		args = append(args, *params.Available)
		argNum++
	}
	// keyset-курсор: строго старше пары (created_at, book_id)
	if !params.CursorCreatedAt.IsZero() {
		conditions = append(conditions,
			fmt.Sprintf("(created_at, book_id) < ($%d, $%d)", argNum, argNum+1))
		args = append(args, params.CursorCreatedAt, params.CursorID)
		argNum += 2
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT %s FROM catalog_records %s
		ORDER BY created_at DESC, book_id DESC LIMIT $%d`,
		bookColumns, where, argNum)
	args = append(args, params.Limit)

	return r.queryBooks(ctx, query, args...)
}

func (r *bookRepo) Update(ctx context.Context, b *model.Book) error {
	query := `
		UPDATE catalog_records
		SET title = $2, author = $3, isbn = $4, genre = $5,
			published_year = $6, description = $7, cover_url = $8,
			average_rating = $9, ratings_count = $10, synthetic = $11,
			updated_at = now()
		WHERE book_id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		b.ID, b.Title, b.Author, b.ISBN, b.Genre, b.PublishedYear,
		b.Description, b.CoverURL, b.AverageRating, b.RatingsCount, b.Synthetic,
	).Scan(&b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return ErrDuplicateISBN
		}
		return fmt.Errorf("ошибка обновления записи каталога: %w", err)
	}
	return nil
}

func (r *bookRepo) Delete(ctx context.Context, bookID string) error {
	// Удаление запрещено при активной выдаче — conditional DELETE.
	query := `
		DELETE FROM catalog_records
		WHERE book_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM loans
			WHERE loans.book_id = $1 AND loans.returned_at IS NULL
		  )`

	tag, err := r.db.Exec(ctx, query, bookID)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи каталога: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *bookRepo) ApplyEnrichment(ctx context.Context, bookID string, p *model.EnrichmentPatch) error {
	// COALESCE: существующее значение всегда приоритетнее патча —
	// монотонность соблюдается и при конкурентных sweep'ах.
	// Автор — отдельный CASE: заменяется только заглушка.
	query := `
		UPDATE catalog_records
		SET author = CASE
				WHEN $2::text IS NOT NULL
				 AND LOWER(TRIM(author)) IN ('', 'unknown', 'unknown author', 'n/a', '-')
				THEN $2 ELSE author END,
			isbn = COALESCE(isbn, $3),
			genre = COALESCE(genre, $4),
			published_year = COALESCE(published_year, $5),
			description = COALESCE(description, $6),
			cover_url = COALESCE(cover_url, $7),
			average_rating = COALESCE(average_rating, $8),
			ratings_count = COALESCE(ratings_count, $9),
			synthetic = synthetic OR $10,
			updated_at = now()
		WHERE book_id = $1`

	tag, err := r.db.Exec(ctx, query, bookID,
		p.Author, p.ISBN, p.Genre, p.PublishedYear, p.Description,
		p.CoverURL, p.AverageRating, p.RatingsCount, p.Synthetic,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateISBN
		}
		return fmt.Errorf("ошибка применения патча обогащения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *bookRepo) ListNeedingEnrichment(ctx context.Context, limit int) ([]*model.Book, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM catalog_records
		WHERE cover_url IS NULL
		   OR description IS NULL
		   OR genre IS NULL
		   OR published_year IS NULL
		   OR isbn IS NULL
		   OR average_rating IS NULL
		   OR ratings_count IS NULL
		   OR LOWER(TRIM(author)) IN ('', 'unknown', 'unknown author', 'n/a', '-')
		ORDER BY updated_at ASC
		LIMIT $1`, bookColumns)

	return r.queryBooks(ctx, query, limit)
}

func (r *bookRepo) ListAvailableCandidates(ctx context.Context, borrowerID string, limit int) ([]*model.Book, error) {
	// Пул кандидатов: доступные, без ожидающей заявки; книги из истории
	// выдач читателя исключаются — рекомендовать прочитанное не имеет смысла.
	query := fmt.Sprintf(`
		SELECT %s FROM catalog_records b
		WHERE b.available = TRUE
		  AND b.request_pending = FALSE
		  AND ($1 = '' OR NOT EXISTS (
			SELECT 1 FROM loans l
			WHERE l.book_id = b.book_id AND l.borrower_id = $1
		  ))
		ORDER BY b.created_at DESC
		LIMIT $2`, bookColumns)

	return r.queryBooks(ctx, query, borrowerID, limit)
}

// queryBooks выполняет запрос и сканирует список записей.
func (r *bookRepo) queryBooks(ctx context.Context, query string, args ...any) ([]*model.Book, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса записей каталога: %w", err)
	}
	defer rows.Close()

	var result []*model.Book
	for rows.Next() {
		b := &model.Book{}
		if err := rows.Scan(
			&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Genre, &b.PublishedYear,
			&b.Description, &b.CoverURL, &b.AverageRating, &b.RatingsCount,
			&b.Synthetic, &b.Available, &b.RequestPending, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи каталога: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации записей каталога: %w", err)
	}
	return result, nil
}

// --- Claim-операции ---

// claim выполняет conditional UPDATE и валидирует "ровно одна строка".
func (r *bookRepo) claim(ctx context.Context, query, bookID string) error {
	tag, err := r.db.Exec(ctx, query, bookID)
	if err != nil {
		return fmt.Errorf("ошибка claim: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	return nil
}

func (r *bookRepo) ClaimCheckout(ctx context.Context, bookID string) error {
	return r.claim(ctx, `
		UPDATE catalog_records
		SET available = FALSE, updated_at = now()
		WHERE book_id = $1 AND available = TRUE AND request_pending = FALSE`,
		bookID)
}

func (r *bookRepo) ClaimRequest(ctx context.Context, bookID string) error {
	return r.claim(ctx, `
		UPDATE catalog_records
		SET request_pending = TRUE, updated_at = now()
		WHERE book_id = $1 AND available = TRUE AND request_pending = FALSE`,
		bookID)
}

func (r *bookRepo) ClaimApprove(ctx context.Context, bookID string) error {
	return r.claim(ctx, `
		UPDATE catalog_records
		SET available = FALSE, request_pending = FALSE, updated_at = now()
		WHERE book_id = $1 AND available = TRUE AND request_pending = TRUE`,
		bookID)
}

func (r *bookRepo) ReleaseLoan(ctx context.Context, bookID string) error {
	return r.claim(ctx, `
		UPDATE catalog_records
		SET available = TRUE, updated_at = now()
		WHERE book_id = $1 AND available = FALSE`,
		bookID)
}

func (r *bookRepo) ReleaseRequest(ctx context.Context, bookID string) error {
	return r.claim(ctx, `
		UPDATE catalog_records
		SET request_pending = FALSE, updated_at = now()
		WHERE book_id = $1 AND request_pending = TRUE`,
		bookID)
}
