// enrich.go — движок обогащения каталога.
// Два режима: import-by-query (поиск по свободному запросу с импортом
// новых записей) и sweep (добивание незаполненных полей существующих
// записей кандидатами из внешних источников или синтетикой).
// Внешние lookup'ы всегда выполняются до атомарной записи патча.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/golibrary/internal/domain/match"
	"github.com/bigkaa/golibrary/internal/domain/model"
	"github.com/bigkaa/golibrary/internal/provider"
	"github.com/bigkaa/golibrary/internal/repository"
)

// Метрики движка обогащения.
var enrichRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lib_enrichment_records_total",
	Help: "Количество обработанных записей по исходу обогащения.",
}, []string{"outcome"})

// importAuthorFallback — автор новой записи, когда источник его не дал.
// Значение из набора заглушек: следующий sweep попробует его заменить.
const importAuthorFallback = "Unknown"

// EnrichService — движок обогащения метаданных.
type EnrichService struct {
	books   repository.BookRepository
	sourceA provider.Client
	sourceB provider.Client
	cache   *CacheService
	logger  *slog.Logger
}

// NewEnrichService создаёт движок обогащения.
func NewEnrichService(
	books repository.BookRepository,
	sourceA, sourceB provider.Client,
	cache *CacheService,
	logger *slog.Logger,
) *EnrichService {
	return &EnrichService{
		books:   books,
		sourceA: sourceA,
		sourceB: sourceB,
		cache:   cache,
		logger:  logger.With(slog.String("component", "enrich_service")),
	}
}

// --- Import-by-query ---

// ImportResult — итог импорта по запросу.
type ImportResult struct {
	// Imported — вставленные новые записи
	Imported []*model.Book
	// Reused — количество кандидатов, слитых в существующие записи
	Reused int
	// Candidates — количество кандидатов после дедупликации
	Candidates int
}

// ImportByQuery ищет кандидатов по свободному запросу и импортирует их
// в каталог. Приоритет источников: A, при пустом ответе — B;
// forcedProvider ограничивает поиск одним источником.
// Совпавший с существующей записью кандидат обогащает её (reused),
// несовпавший — вставляется новой записью. Гонка по уникальности ISBN
// разрешается повторной выборкой конфликтующей записи.
func (s *EnrichService) ImportByQuery(ctx context.Context, query string, limit int, forcedProvider string) (*ImportResult, error) {
	query = match.CleanText(query)
	if query == "" {
		return nil, fmt.Errorf("%w: пустой запрос", ErrValidation)
	}
	if limit <= 0 || limit > 40 {
		limit = 10
	}

	sources, err := s.resolveSources(forcedProvider, false)
	if err != nil {
		return nil, err
	}

	candidates, err := s.searchFirstNonEmpty(ctx, sources, query, limit)
	if err != nil {
		return nil, err
	}
	candidates = match.Dedup(candidates)

	result := &ImportResult{Candidates: len(candidates)}
	for _, c := range candidates {
		book, reused, err := s.importCandidate(ctx, c)
		if err != nil {
			s.logger.Warn("Кандидат не импортирован",
				slog.String("title", c.Title),
				slog.String("error", err.Error()),
			)
			continue
		}
		if reused {
			result.Reused++
		} else {
			result.Imported = append(result.Imported, book)
		}
	}

	if len(result.Imported) > 0 || result.Reused > 0 {
		s.cache.Purge()
	}

	s.logger.Info("Импорт по запросу завершён",
		slog.String("query", query),
		slog.Int("candidates", result.Candidates),
		slog.Int("imported", len(result.Imported)),
		slog.Int("reused", result.Reused),
	)
	return result, nil
}

// searchFirstNonEmpty опрашивает источники по порядку и возвращает первый
// непустой список кандидатов. Все источники упали — ErrProvidersUnavailable.
func (s *EnrichService) searchFirstNonEmpty(ctx context.Context, sources []provider.Client, query string, limit int) ([]*model.Candidate, error) {
	failures := 0
	for _, src := range sources {
		candidates, err := src.Search(ctx, query, limit)
		if err != nil {
			failures++
			s.logger.Warn("Источник недоступен",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(candidates) > 0 {
			return candidates, nil
		}
	}
	if failures == len(sources) {
		return nil, ErrProvidersUnavailable
	}
	return nil, nil
}

// importCandidate сливает кандидата в существующую запись или вставляет новую.
func (s *EnrichService) importCandidate(ctx context.Context, c *model.Candidate) (*model.Book, bool, error) {
	// Сопоставление: сначала ISBN, затем точные title+author
	existing, err := s.findExisting(ctx, c)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if err := s.applyCandidate(ctx, existing, c); err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}

	author := match.CleanText(c.Author)
	if author == "" {
		author = importAuthorFallback
	}
	book := &model.Book{
		ID:            uuid.NewString(),
		Title:         c.Title,
		Author:        author,
		ISBN:          c.ISBN,
		Genre:         c.Genre,
		PublishedYear: c.PublishedYear,
		Description:   c.Description,
		CoverURL:      c.CoverURL,
		AverageRating: c.AverageRating,
		RatingsCount:  c.RatingsCount,
		Available:     true,
	}

	err = s.books.Create(ctx, book)
	if err == nil {
		return book, false, nil
	}
	if !errors.Is(err, repository.ErrDuplicateISBN) || c.ISBN == nil {
		return nil, false, err
	}

	// Гонка: кто-то вставил этот ISBN первым. Запись перечитывается
	// и обогащается — импорт считает её повторно использованной.
	winner, getErr := s.books.GetByISBN(ctx, *c.ISBN)
	if getErr != nil {
		return nil, false, fmt.Errorf("повторная выборка после гонки ISBN: %w", getErr)
	}
	if err := s.applyCandidate(ctx, winner, c); err != nil {
		return nil, false, err
	}
	return winner, true, nil
}

// findExisting ищет существующую запись для кандидата.
func (s *EnrichService) findExisting(ctx context.Context, c *model.Candidate) (*model.Book, error) {
	if c.ISBN != nil {
		book, err := s.books.GetByISBN(ctx, *c.ISBN)
		if err == nil {
			return book, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if c.Author != "" {
		book, err := s.books.GetByTitleAuthor(ctx, c.Title, c.Author)
		if err == nil {
			return book, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// applyCandidate применяет fill-missing-only патч кандидата к записи.
func (s *EnrichService) applyCandidate(ctx context.Context, book *model.Book, c *model.Candidate) error {
	patch := match.BuildPatch(c, book)
	if patch.IsEmpty() {
		return nil
	}
	if err := s.books.ApplyEnrichment(ctx, book.ID, patch); err != nil {
		// Конкурентный патч успел занять ISBN — остальные поля этого
		// патча уже не критичны, запись обогатит следующий sweep
		if errors.Is(err, repository.ErrDuplicateISBN) {
			return nil
		}
		return err
	}
	mergePatch(book, patch)
	return nil
}

// --- Sweep ---

// SweepResult — итог одного прохода обогащения.
type SweepResult struct {
	// Scanned — записей рассмотрено
	Scanned int
	// Matched — обогащено реальным кандидатом
	Matched int
	// Synthesized — добито синтетикой (без реального совпадения или поверх него)
	Synthesized int
	// Failed — записей с ошибкой применения патча
	Failed int
}

// Sweep обогащает записи с незаполненными полями.
// onlyMissing=false рассматривает свежие записи каталога независимо
// от заполненности (принудительный admin-прогон).
// Ошибки отдельных записей считаются, но не прерывают проход.
func (s *EnrichService) Sweep(ctx context.Context, limit int, forcedProvider string, onlyMissing bool) (*SweepResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	sources, err := s.resolveSources(forcedProvider, true)
	if err != nil {
		return nil, err
	}

	var books []*model.Book
	if onlyMissing {
		books, err = s.books.ListNeedingEnrichment(ctx, limit)
	} else {
		books, err = s.books.List(ctx, repository.BookListParams{Limit: limit})
	}
	if err != nil {
		return nil, fmt.Errorf("выборка записей для обогащения: %w", err)
	}

	result := &SweepResult{Scanned: len(books)}
	for _, book := range books {
		if ctx.Err() != nil {
			break
		}
		matched, synthesized, err := s.enrichOne(ctx, book, sources)
		switch {
		case err != nil:
			result.Failed++
			enrichRecordsTotal.WithLabelValues("failed").Inc()
			s.logger.Warn("Ошибка обогащения записи",
				slog.String("book_id", book.ID),
				slog.String("error", err.Error()),
			)
		case matched:
			result.Matched++
			enrichRecordsTotal.WithLabelValues("matched").Inc()
		case synthesized:
			result.Synthesized++
			enrichRecordsTotal.WithLabelValues("synthesized").Inc()
		default:
			enrichRecordsTotal.WithLabelValues("unchanged").Inc()
		}
	}

	if result.Matched > 0 || result.Synthesized > 0 {
		s.cache.Purge()
	}

	s.logger.Info("Проход обогащения завершён",
		slog.Int("scanned", result.Scanned),
		slog.Int("matched", result.Matched),
		slog.Int("synthesized", result.Synthesized),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// enrichOne обогащает одну запись: реальный кандидат при достаточном
// score, затем синтетика на оставшиеся пустые поля.
func (s *EnrichService) enrichOne(ctx context.Context, book *model.Book, sources []provider.Client) (matched, synthesized bool, err error) {
	candidate := s.lookupCandidate(ctx, book, sources)

	if candidate != nil {
		patch := match.BuildPatch(candidate, book)
		if !patch.IsEmpty() {
			if err := s.books.ApplyEnrichment(ctx, book.ID, patch); err != nil {
				return false, false, err
			}
			mergePatch(book, patch)
			matched = true
		}
	}

	// Синтетика добивает то, что не закрыл реальный кандидат
	synth := match.SynthesizePatch(book)
	if !synth.IsEmpty() {
		if err := s.books.ApplyEnrichment(ctx, book.ID, synth); err != nil {
			return matched, false, err
		}
		mergePatch(book, synth)
		synthesized = true
	}

	return matched, synthesized, nil
}

// lookupCandidate ищет лучшего кандидата для записи.
// До трёх запросов в порядке приоритета: isbn:<isbn>, "<title> <author>",
// <title>. Кандидат со score >= ScoreEarlyAccept принимается немедленно;
// иначе после всех попыток принимается лучший со score >= ScoreFinalAccept.
func (s *EnrichService) lookupCandidate(ctx context.Context, book *model.Book, sources []provider.Client) *model.Candidate {
	var best *model.Candidate
	bestScore := 0

	for _, query := range s.sweepQueries(book) {
		for _, src := range sources {
			candidates, err := src.Search(ctx, query, 5)
			if err != nil {
				s.logger.Debug("Источник недоступен при sweep",
					slog.String("source", src.Name()),
					slog.String("error", err.Error()),
				)
				continue
			}
			cand, score := match.BestCandidate(match.Dedup(candidates), book)
			if cand == nil {
				continue
			}
			if score >= match.ScoreEarlyAccept {
				return cand
			}
			if best == nil || score > bestScore {
				best, bestScore = cand, score
			}
		}
	}

	if best != nil && bestScore >= match.ScoreFinalAccept {
		return best
	}
	return nil
}

// sweepQueries строит до трёх поисковых запросов для записи.
func (s *EnrichService) sweepQueries(book *model.Book) []string {
	var queries []string
	if book.ISBN != nil && *book.ISBN != "" {
		queries = append(queries, "isbn:"+*book.ISBN)
	}
	if !book.HasPlaceholderAuthor() {
		queries = append(queries, strings.TrimSpace(book.Title+" "+book.Author))
	}
	queries = append(queries, book.Title)
	return queries
}

// resolveSources возвращает источники в порядке опроса.
// Импорт приоритизирует покрытие (A, затем B), sweep — точность
// совпадения (B, затем A). forcedProvider ограничивает одним источником.
func (s *EnrichService) resolveSources(forcedProvider string, sweep bool) ([]provider.Client, error) {
	switch forcedProvider {
	case "":
		if sweep {
			return []provider.Client{s.sourceB, s.sourceA}, nil
		}
		return []provider.Client{s.sourceA, s.sourceB}, nil
	case model.SourceA:
		return []provider.Client{s.sourceA}, nil
	case model.SourceB:
		return []provider.Client{s.sourceB}, nil
	default:
		return nil, fmt.Errorf("%w: неизвестный источник %q", ErrValidation, forcedProvider)
	}
}

// mergePatch отражает применённый патч в in-memory копии записи,
// чтобы последующие шаги видели актуальное состояние без перечитывания.
func mergePatch(b *model.Book, p *model.EnrichmentPatch) {
	if p.Author != nil && b.HasPlaceholderAuthor() {
		b.Author = *p.Author
	}
	if p.ISBN != nil && b.ISBN == nil {
		b.ISBN = p.ISBN
	}
	if p.Genre != nil && b.Genre == nil {
		b.Genre = p.Genre
	}
	if p.PublishedYear != nil && b.PublishedYear == nil {
		b.PublishedYear = p.PublishedYear
	}
	if p.Description != nil && b.Description == nil {
		b.Description = p.Description
	}
	if p.CoverURL != nil && b.CoverURL == nil {
		b.CoverURL = p.CoverURL
	}
	if p.AverageRating != nil && b.AverageRating == nil {
		b.AverageRating = p.AverageRating
	}
	if p.RatingsCount != nil && b.RatingsCount == nil {
		b.RatingsCount = p.RatingsCount
	}
	if p.Synthetic {
		b.Synthetic = true
	}
}
