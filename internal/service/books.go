// books.go — сервис каталога: CRUD, листинг с keyset-пагинацией,
// read-кэш и оппортунистический запуск фонового обогащения.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/golibrary/internal/domain/match"
	"github.com/bigkaa/golibrary/internal/domain/model"
	"github.com/bigkaa/golibrary/internal/repository"
)

// sweepTrigger — запуск фонового обогащения, если оно не идёт и
// cooldown истёк. Реализуется Sweeper.
type sweepTrigger interface {
	TryStart()
}

// BookService — бизнес-логика каталога.
type BookService struct {
	books   repository.BookRepository
	cache   *CacheService
	sweeper sweepTrigger
	logger  *slog.Logger
}

// NewBookService создаёт сервис каталога.
// sweeper может быть nil — тогда листинг не запускает фоновое обогащение.
func NewBookService(
	books repository.BookRepository,
	cache *CacheService,
	sweeper sweepTrigger,
	logger *slog.Logger,
) *BookService {
	return &BookService{
		books:   books,
		cache:   cache,
		sweeper: sweeper,
		logger:  logger.With(slog.String("component", "book_service")),
	}
}

// --- Курсор пагинации ---

// EncodeCursor кодирует keyset-курсор последней записи страницы.
// Формат до кодирования: "<unix-nano>:<book_id>".
func EncodeCursor(b *model.Book) string {
	raw := strconv.FormatInt(b.CreatedAt.UnixNano(), 10) + ":" + b.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor разбирает курсор. Некорректный курсор — ErrValidation.
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: некорректный курсор", ErrValidation)
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return time.Time{}, "", fmt.Errorf("%w: некорректный курсор", ErrValidation)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil || id == "" {
		return time.Time{}, "", fmt.Errorf("%w: некорректный курсор", ErrValidation)
	}
	return time.Unix(0, n), id, nil
}

// ListBooksParams — параметры листинга каталога на уровне сервиса.
type ListBooksParams struct {
	Query     string
	Author    string
	Genre     string
	Available *bool
	Cursor    string
	Limit     int
}

// cacheKey строит ключ read-кэша из всех параметров запроса.
func (p ListBooksParams) cacheKey() string {
	avail := ""
	if p.Available != nil {
		avail = strconv.FormatBool(*p.Available)
	}
	return strings.Join([]string{
		p.Query, p.Author, p.Genre, avail, p.Cursor, strconv.Itoa(p.Limit),
	}, "\x1f")
}

// BookPage — страница каталога с курсором продолжения.
type BookPage struct {
	Books      []*model.Book
	NextCursor string
}

// List возвращает страницу каталога.
// Попутно пытается запустить фоновое обогащение (best-effort).
func (s *BookService) List(ctx context.Context, p ListBooksParams) (*BookPage, error) {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}

	if s.sweeper != nil {
		s.sweeper.TryStart()
	}

	key := p.cacheKey()
	if books, ok := s.cache.GetListing(key); ok {
		return s.buildPage(books, p.Limit), nil
	}

	params := repository.BookListParams{Limit: p.Limit + 1}
	if p.Query != "" {
		params.Query = &p.Query
	}
	if p.Author != "" {
		params.Author = &p.Author
	}
	if p.Genre != "" {
		params.Genre = &p.Genre
	}
	params.Available = p.Available

	if p.Cursor != "" {
		createdAt, id, err := DecodeCursor(p.Cursor)
		if err != nil {
			return nil, err
		}
		params.CursorCreatedAt = createdAt
		params.CursorID = id
	}

	books, err := s.books.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("листинг каталога: %w", err)
	}

	s.cache.SetListing(key, books)
	return s.buildPage(books, p.Limit), nil
}

// buildPage отрезает запись перевеса (limit+1) и строит курсор продолжения.
func (s *BookService) buildPage(books []*model.Book, limit int) *BookPage {
	page := &BookPage{Books: books}
	if len(books) > limit {
		page.Books = books[:limit]
		page.NextCursor = EncodeCursor(page.Books[limit-1])
	}
	return page
}

// Get возвращает запись каталога по ID.
func (s *BookService) Get(ctx context.Context, bookID string) (*model.Book, error) {
	book, err := s.books.GetByID(ctx, bookID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение записи каталога: %w", err)
	}
	return book, nil
}

// CreateBookInput — данные создания записи каталога.
type CreateBookInput struct {
	Title         string
	Author        string
	ISBN          string
	Genre         *string
	PublishedYear *int
	Description   *string
	CoverURL      *string
}

// Create создаёт запись каталога (admin).
func (s *BookService) Create(ctx context.Context, in CreateBookInput) (*model.Book, error) {
	title := match.CleanText(in.Title)
	author := match.CleanText(in.Author)
	if title == "" {
		return nil, fmt.Errorf("%w: название обязательно", ErrValidation)
	}
	if author == "" {
		return nil, fmt.Errorf("%w: автор обязателен", ErrValidation)
	}

	book := &model.Book{
		ID:            uuid.NewString(),
		Title:         title,
		Author:        author,
		Genre:         in.Genre,
		PublishedYear: in.PublishedYear,
		Description:   in.Description,
		CoverURL:      in.CoverURL,
		Available:     true,
	}

	if in.ISBN != "" {
		isbn, ok := match.NormalizeISBN(in.ISBN)
		if !ok {
			return nil, fmt.Errorf("%w: некорректный ISBN %q", ErrValidation, in.ISBN)
		}
		book.ISBN = &isbn
	}

	if err := s.books.Create(ctx, book); err != nil {
		if errors.Is(err, repository.ErrDuplicateISBN) {
			return nil, fmt.Errorf("%w: ISBN уже существует в каталоге", ErrConflict)
		}
		return nil, fmt.Errorf("создание записи каталога: %w", err)
	}

	s.cache.Purge()
	s.logger.Info("Запись каталога создана",
		slog.String("book_id", book.ID),
		slog.String("title", book.Title),
	)
	return book, nil
}

// UpdateBookInput — частичное обновление записи (admin PATCH).
// nil-поле = без изменений.
type UpdateBookInput struct {
	Title         *string
	Author        *string
	ISBN          *string
	Genre         *string
	PublishedYear *int
	Description   *string
	CoverURL      *string
	AverageRating *float64
	RatingsCount  *int
}

// Update применяет частичное обновление записи каталога (admin).
func (s *BookService) Update(ctx context.Context, bookID string, in UpdateBookInput) (*model.Book, error) {
	book, err := s.Get(ctx, bookID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		title := match.CleanText(*in.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: название не может быть пустым", ErrValidation)
		}
		book.Title = title
	}
	if in.Author != nil {
		author := match.CleanText(*in.Author)
		if author == "" {
			return nil, fmt.Errorf("%w: автор не может быть пустым", ErrValidation)
		}
		book.Author = author
	}
	if in.ISBN != nil {
		if *in.ISBN == "" {
			book.ISBN = nil
		} else {
			isbn, ok := match.NormalizeISBN(*in.ISBN)
			if !ok {
				return nil, fmt.Errorf("%w: некорректный ISBN %q", ErrValidation, *in.ISBN)
			}
			book.ISBN = &isbn
		}
	}
	if in.Genre != nil {
		book.Genre = in.Genre
	}
	if in.PublishedYear != nil {
		book.PublishedYear = in.PublishedYear
	}
	if in.Description != nil {
		book.Description = in.Description
	}
	if in.CoverURL != nil {
		book.CoverURL = in.CoverURL
	}
	if in.AverageRating != nil {
		book.AverageRating = in.AverageRating
	}
	if in.RatingsCount != nil {
		book.RatingsCount = in.RatingsCount
	}

	if err := s.books.Update(ctx, book); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrDuplicateISBN):
			return nil, fmt.Errorf("%w: ISBN уже существует в каталоге", ErrConflict)
		}
		return nil, fmt.Errorf("обновление записи каталога: %w", err)
	}

	s.cache.Purge()
	return book, nil
}

// Delete удаляет запись каталога (admin).
// Запись с активной выдачей не удаляется — ErrConflict.
func (s *BookService) Delete(ctx context.Context, bookID string) error {
	err := s.books.Delete(ctx, bookID)
	if err == nil {
		s.cache.Purge()
		s.logger.Info("Запись каталога удалена", slog.String("book_id", bookID))
		return nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("удаление записи каталога: %w", err)
	}

	// 0 строк: либо записи нет, либо активная выдача — различаем выборкой
	if _, getErr := s.books.GetByID(ctx, bookID); errors.Is(getErr, repository.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: на книге есть активная выдача", ErrConflict)
}
