// estimate.go — эвристическая оценка срока возврата по объёму книги.
// Source A даёт и количество страниц, и категорию; Source B — только
// количество страниц. Срок = страницы / скорость чтения категории,
// с ограничением диапазона. Без данных — фиксированные 30 дней.
package service

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/bigkaa/golibrary/internal/domain/match"
	"github.com/bigkaa/golibrary/internal/domain/model"
	"github.com/bigkaa/golibrary/internal/provider"
)

// Границы и константы оценки.
const (
	// minUsablePages — меньший page count считается шумом источника.
	minUsablePages = 30
	// minEstimateDays, maxEstimateDays — диапазон итоговой оценки.
	minEstimateDays = 14
	maxEstimateDays = 45
	// fallbackDays — срок при отсутствии данных.
	fallbackDays = 30
)

// Веса similarity-подбора кандидата внутри источника.
const (
	estTitleExact    = 30
	estTitlePartial  = 15
	estAuthorExact   = 20
	estAuthorPartial = 10
	estPageBonusCap  = 15
)

// DueDateEstimate — результат оценки срока возврата.
// PageCount == nil означает fallback без данных источников.
type DueDateEstimate struct {
	Days      int
	DueAt     time.Time
	Source    string
	PageCount *int
}

// EstimateService — оценка срока возврата через внешние источники.
type EstimateService struct {
	sourceA provider.Client
	sourceB provider.Client
	logger  *slog.Logger
}

// NewEstimateService создаёт сервис оценки срока возврата.
func NewEstimateService(sourceA, sourceB provider.Client, logger *slog.Logger) *EstimateService {
	return &EstimateService{
		sourceA: sourceA,
		sourceB: sourceB,
		logger:  logger.With(slog.String("component", "estimate_service")),
	}
}

// FallbackEstimate возвращает оценку без данных источников.
func FallbackEstimate() *DueDateEstimate {
	return &DueDateEstimate{
		Days:   fallbackDays,
		DueAt:  time.Now().AddDate(0, 0, fallbackDays),
		Source: model.SourceFallback,
	}
}

// Estimate оценивает срок возврата книги.
// Ошибки источников не всплывают: любой сбой — это fallback.
func (s *EstimateService) Estimate(ctx context.Context, title, author, isbn string) *DueDateEstimate {
	if est := s.fromSource(ctx, s.sourceA, title, author, isbn, true); est != nil {
		return est
	}
	if est := s.fromSource(ctx, s.sourceB, title, author, isbn, false); est != nil {
		return est
	}
	return FallbackEstimate()
}

// fromSource запрашивает один источник и строит оценку.
// useCategory — учитывать ли категорию кандидата (только Source A).
func (s *EstimateService) fromSource(ctx context.Context, src provider.Client, title, author, isbn string, useCategory bool) *DueDateEstimate {
	query := strings.TrimSpace(title + " " + author)
	if isbn != "" {
		query = "isbn:" + isbn
	}

	candidates, err := src.Search(ctx, query, 5)
	if err != nil {
		s.logger.Debug("Источник недоступен для оценки",
			slog.String("source", src.Name()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	best := bestEstimateCandidate(candidates, title, author)
	if best == nil || best.PageCount == nil || *best.PageCount < minUsablePages {
		return nil
	}

	category := ""
	if useCategory && best.Genre != nil {
		category = *best.Genre
	}

	days := clampDays(*best.PageCount, category)
	return &DueDateEstimate{
		Days:      days,
		DueAt:     time.Now().AddDate(0, 0, days),
		Source:    src.Name(),
		PageCount: best.PageCount,
	}
}

// bestEstimateCandidate выбирает наиболее похожего кандидата.
// При равенстве очков побеждает первый встреченный.
func bestEstimateCandidate(candidates []*model.Candidate, title, author string) *model.Candidate {
	var best *model.Candidate
	bestScore := -1
	for _, c := range candidates {
		score := estimateScore(c, title, author)
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best
}

// estimateScore — упрощённый similarity-score подбора кандидата.
func estimateScore(c *model.Candidate, title, author string) int {
	score := 0

	ct, tt := match.NormalizeKey(c.Title), match.NormalizeKey(title)
	switch {
	case ct != "" && ct == tt:
		score += estTitleExact
	case ct != "" && tt != "" && (strings.Contains(ct, tt) || strings.Contains(tt, ct)):
		score += estTitlePartial
	}

	ca, ta := match.NormalizeKey(c.Author), match.NormalizeKey(author)
	switch {
	case ca != "" && ca == ta:
		score += estAuthorExact
	case ca != "" && ta != "" && (strings.Contains(ca, ta) || strings.Contains(ta, ca)):
		score += estAuthorPartial
	}

	// Небольшой бонус за объём: толстая книга с page count —
	// более надёжное издание, чем брошюра
	if c.PageCount != nil && *c.PageCount > 0 {
		bonus := *c.PageCount / 40
		if bonus > estPageBonusCap {
			bonus = estPageBonusCap
		}
		score += bonus
	}

	return score
}

// pagesPerDay — скорость чтения по категории.
func pagesPerDay(category string) int {
	c := strings.ToLower(category)
	switch {
	case containsAny(c, "children", "juvenile", "young adult"):
		return 50
	case containsAny(c, "science", "engineering", "technology", "computer"):
		return 25
	case containsAny(c, "fantasy", "historic", "classic"):
		return 30
	default:
		return 35
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// clampDays переводит объём в дни и ограничивает диапазон.
func clampDays(pageCount int, category string) int {
	days := int(math.Round(float64(pageCount) / float64(pagesPerDay(category))))
	if days < minEstimateDays {
		return minEstimateDays
	}
	if days > maxEstimateDays {
		return maxEstimateDays
	}
	return days
}

// firstOf возвращает результат op, если тот успел за timeout, иначе fallback.
// Проигравшая операция не отменяется, а игнорируется: op получает контекст
// без отмены и обязан не иметь наблюдаемых побочных эффектов.
func firstOf[T any](ctx context.Context, timeout time.Duration, op func(context.Context) T, fallback T) T {
	done := make(chan T, 1)
	go func() {
		done <- op(context.WithoutCancel(ctx))
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-done:
		return v
	case <-timer.C:
		return fallback
	case <-ctx.Done():
		return fallback
	}
}

// EstimateWithin — оценка с верхней границей ожидания.
// Не успевшая оценка заменяется fallback'ом; сам запрос к источникам
// продолжает выполняться в фоне и просто игнорируется.
func (s *EstimateService) EstimateWithin(ctx context.Context, timeout time.Duration, title, author, isbn string) *DueDateEstimate {
	est := firstOf(ctx, timeout, func(bg context.Context) *DueDateEstimate {
		return s.Estimate(bg, title, author, isbn)
	}, nil)
	if est == nil {
		return FallbackEstimate()
	}
	return est
}
