// recommend.go — рекомендательный scorer на истории выдач.
// Аффинити по жанру и автору взвешивается давностью выдачи,
// к нему добавляются рейтинг, популярность и доступность кандидата.
// Анонимный читатель получает вырожденный вариант формулы:
// ранжирование только по рейтингу и доступности.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bigkaa/golibrary/internal/domain/match"
	"github.com/bigkaa/golibrary/internal/domain/model"
	"github.com/bigkaa/golibrary/internal/repository"
)

// Параметры рекомендательной формулы.
const (
	// historyDepth — глубина истории выдач
	historyDepth = 40
	// candidatePoolSize — размер пула кандидатов
	candidatePoolSize = 200

	genreAffinityFactor  = 1.2
	authorAffinityFactor = 1.4
	noveltyBonus         = 2.0
	ratingFactor         = 1.5
	popularityCap        = 2.0
	availabilityBoost    = 1.0
)

// Recommendation — кандидат с итоговым score.
type Recommendation struct {
	Book  *model.Book
	Score float64
}

// RecommendService — бизнес-логика рекомендаций.
type RecommendService struct {
	books  repository.BookRepository
	loans  repository.LoanRepository
	cache  *CacheService
	logger *slog.Logger
}

// NewRecommendService создаёт сервис рекомендаций.
func NewRecommendService(
	books repository.BookRepository,
	loans repository.LoanRepository,
	cache *CacheService,
	logger *slog.Logger,
) *RecommendService {
	return &RecommendService{
		books:  books,
		loans:  loans,
		cache:  cache,
		logger: logger.With(slog.String("component", "recommend_service")),
	}
}

// Recommend возвращает до limit рекомендаций для читателя.
// Пустой borrowerID — анонимный запрос без аффинити-весов.
func (s *RecommendService) Recommend(ctx context.Context, borrowerID string, limit int) ([]*Recommendation, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	history, err := s.history(ctx, borrowerID)
	if err != nil {
		return nil, err
	}

	// Ключ кэша включает длину истории: новая выдача меняет рекомендации
	key := strings.Join([]string{borrowerID, strconv.Itoa(len(history)), strconv.Itoa(limit)}, "\x1f")
	if recs, ok := s.cache.GetRecommendations(key); ok {
		return recs, nil
	}

	genreWeight, authorWeight := affinityWeights(history)

	pool, err := s.books.ListAvailableCandidates(ctx, borrowerID, candidatePoolSize)
	if err != nil {
		return nil, fmt.Errorf("пул кандидатов рекомендаций: %w", err)
	}

	recs := make([]*Recommendation, 0, len(pool))
	for _, b := range pool {
		recs = append(recs, &Recommendation{
			Book:  b,
			Score: recommendationScore(b, genreWeight, authorWeight, len(history) == 0),
		})
	}

	// Стабильная сортировка: при равном score сохраняется порядок пула
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Score > recs[j].Score
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}

	s.cache.SetRecommendations(key, recs)
	return recs, nil
}

// history возвращает историю выдач читателя (пустую для анонима).
func (s *RecommendService) history(ctx context.Context, borrowerID string) ([]*model.LoanHistoryEntry, error) {
	if borrowerID == "" {
		return nil, nil
	}
	history, err := s.loans.History(ctx, borrowerID, historyDepth)
	if err != nil {
		return nil, fmt.Errorf("история выдач для рекомендаций: %w", err)
	}
	return history, nil
}

// affinityWeights строит суммы весов по жанрам и авторам.
// Вес позиции i = max(1, 5 - i/8): свежие выдачи весят больше.
func affinityWeights(history []*model.LoanHistoryEntry) (genres, authors map[string]float64) {
	genres = make(map[string]float64)
	authors = make(map[string]float64)
	for i, e := range history {
		w := float64(5 - i/8)
		if w < 1 {
			w = 1
		}
		if e.Genre != nil {
			genres[match.NormalizeKey(*e.Genre)] += w
		}
		if e.Author != "" {
			authors[match.NormalizeKey(e.Author)] += w
		}
	}
	return genres, authors
}

// recommendationScore считает итоговый score кандидата.
func recommendationScore(b *model.Book, genreWeight, authorWeight map[string]float64, emptyHistory bool) float64 {
	score := 0.0

	if b.Genre != nil {
		score += genreWeight[match.NormalizeKey(*b.Genre)] * genreAffinityFactor
	}
	score += authorWeight[match.NormalizeKey(b.Author)] * authorAffinityFactor

	if emptyHistory {
		score += noveltyBonus
	}

	if b.AverageRating != nil {
		score += *b.AverageRating * ratingFactor
	}
	if b.RatingsCount != nil && *b.RatingsCount > 0 {
		pop := math.Log10(float64(*b.RatingsCount) + 1)
		if pop > popularityCap {
			pop = popularityCap
		}
		score += pop
	}
	if b.Available {
		score += availabilityBoost
	}

	return score
}
