// candidate.go — эфемерный кандидат метаданных из внешнего источника.
// Никогда не сохраняется напрямую: создаётся провайдером, потребляется
// scorer'ом и enrichment engine, затем отбрасывается или сливается в Book.
package model

// Идентификаторы внешних источников метаданных.
const (
	// SourceA — основной источник (широкое покрытие, Source A).
	SourceA = "source-a"
	// SourceB — дополнительный источник (высокая точность, Source B).
	SourceB = "source-b"
	// SourceFallback — детерминированный fallback без внешних данных.
	SourceFallback = "fallback"
)

// Candidate — нормализованный кандидат метаданных.
// nil-поле = источник значения не предоставил.
type Candidate struct {
	// Title — название
	Title string
	// Author — автор
	Author string
	// ISBN — нормализованный ISBN (nullable)
	ISBN *string
	// Genre — жанр/категория (nullable)
	Genre *string
	// PublishedYear — год издания (nullable)
	PublishedYear *int
	// Description — аннотация (nullable)
	Description *string
	// CoverURL — URL обложки (nullable)
	CoverURL *string
	// AverageRating — средний рейтинг (nullable)
	AverageRating *float64
	// RatingsCount — количество оценок (nullable)
	RatingsCount *int
	// PageCount — количество страниц (nullable, нужен оценщику срока возврата)
	PageCount *int
	// SourceID — откуда пришёл кандидат (source-a, source-b)
	SourceID string
}
