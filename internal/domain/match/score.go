// score.go — эвристический scoring кандидата против записи каталога.
// Это эвристика, не вероятность: абсолютные значения имеют смысл только
// относительно порогов sweep (early-accept / final-accept).
package match

import (
	"strings"

	"github.com/bigkaa/golibrary/internal/domain/model"
)

// Пороговые значения sweep.
const (
	// ScoreEarlyAccept — кандидат принимается сразу, дальнейшие попытки
	// не выполняются.
	ScoreEarlyAccept = 25
	// ScoreFinalAccept — минимальный балл лучшего кандидата после
	// исчерпания всех попыток.
	ScoreFinalAccept = 18
)

// Слагаемые score.
const (
	scoreISBNExact     = 100
	scoreISBNMismatch  = -30
	scoreTitleExact    = 40
	scoreTitlePartial  = 20
	scoreAuthorExact   = 25
	scoreAuthorPartial = 10
	scorePerFillable   = 6
)

// Score оценивает кандидата относительно существующей записи каталога.
// target == nil — сырой поиск без записи: учитываются только заполняемые поля.
// Ничьи разрешаются порядком обхода (first-seen wins) на стороне вызывающего.
func Score(c *model.Candidate, target *model.Book) int {
	if target == nil {
		return scorePerFillable * countFields(c)
	}

	score := 0

	// ISBN: точное совпадение перекрывает всё остальное, расхождение —
	// сильный сигнал против кандидата.
	if c.ISBN != nil && target.ISBN != nil {
		if *c.ISBN == *target.ISBN {
			score += scoreISBNExact
		} else {
			score += scoreISBNMismatch
		}
	}

	// Название: exact без учёта регистра и пунктуации, иначе вхождение.
	ct, tt := NormalizeKey(c.Title), NormalizeKey(target.Title)
	switch {
	case ct != "" && ct == tt:
		score += scoreTitleExact
	case ct != "" && tt != "" && (strings.Contains(ct, tt) || strings.Contains(tt, ct)):
		score += scoreTitlePartial
	}

	// Автор: заглушку в записи не сравниваем — у неё нет сигнала.
	if !target.HasPlaceholderAuthor() {
		ca, ta := NormalizeKey(c.Author), NormalizeKey(target.Author)
		switch {
		case ca != "" && ca == ta:
			score += scoreAuthorExact
		case ca != "" && ta != "" && (strings.Contains(ca, ta) || strings.Contains(ta, ca)):
			score += scoreAuthorPartial
		}
	}

	// +6 за каждое поле, которое кандидат может заполнить в записи.
	score += scorePerFillable * countFillable(c, target)

	return score
}

// countFields — количество непустых полей кандидата (для сырого поиска).
func countFields(c *model.Candidate) int {
	n := 0
	if c.ISBN != nil {
		n++
	}
	if c.Genre != nil {
		n++
	}
	if c.PublishedYear != nil {
		n++
	}
	if c.Description != nil {
		n++
	}
	if c.CoverURL != nil {
		n++
	}
	if c.AverageRating != nil {
		n++
	}
	if c.RatingsCount != nil {
		n++
	}
	return n
}

// countFillable — количество полей, которые кандидат заполнит в записи
// (поле есть у кандидата и пусто у записи).
func countFillable(c *model.Candidate, b *model.Book) int {
	n := 0
	if c.ISBN != nil && b.ISBN == nil {
		n++
	}
	if c.Genre != nil && b.Genre == nil {
		n++
	}
	if c.PublishedYear != nil && b.PublishedYear == nil {
		n++
	}
	if c.Description != nil && b.Description == nil {
		n++
	}
	if c.CoverURL != nil && b.CoverURL == nil {
		n++
	}
	if c.AverageRating != nil && b.AverageRating == nil {
		n++
	}
	if c.RatingsCount != nil && b.RatingsCount == nil {
		n++
	}
	if c.Author != "" && b.HasPlaceholderAuthor() {
		n++
	}
	return n
}

// BestCandidate выбирает кандидата с максимальным score.
// При равенстве выигрывает первый встреченный.
// Возвращает (nil, 0) для пустого списка.
func BestCandidate(candidates []*model.Candidate, target *model.Book) (*model.Candidate, int) {
	var best *model.Candidate
	bestScore := 0
	for _, c := range candidates {
		s := Score(c, target)
		if best == nil || s > bestScore {
			best = c
			bestScore = s
		}
	}
	return best, bestScore
}

// BuildPatch строит fill-missing-only патч: поле входит в патч, только если
// у записи оно пусто (для автора — заглушка). Заполненные поля записи
// патч никогда не трогает.
func BuildPatch(c *model.Candidate, b *model.Book) *model.EnrichmentPatch {
	p := &model.EnrichmentPatch{}
	if b.HasPlaceholderAuthor() && c.Author != "" {
		author := CleanText(c.Author)
		p.Author = &author
	}
	if b.ISBN == nil && c.ISBN != nil {
		p.ISBN = c.ISBN
	}
	if b.Genre == nil && c.Genre != nil {
		p.Genre = c.Genre
	}
	if b.PublishedYear == nil && c.PublishedYear != nil {
		p.PublishedYear = c.PublishedYear
	}
	if b.Description == nil && c.Description != nil {
		p.Description = c.Description
	}
	if b.CoverURL == nil && c.CoverURL != nil {
		p.CoverURL = c.CoverURL
	}
	if b.AverageRating == nil && c.AverageRating != nil {
		p.AverageRating = c.AverageRating
	}
	if b.RatingsCount == nil && c.RatingsCount != nil {
		p.RatingsCount = c.RatingsCount
	}
	return p
}
