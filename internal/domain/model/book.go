// Пакет model — доменные модели Library Module.
// Book — маппинг таблицы catalog_records (агрегат каталога).
package model

import "time"

// Book — запись каталога. Одна запись = один физический экземпляр.
// Флаги Available/RequestPending — compare-токены для conditional updates
// (claim), отдельный version-столбец не требуется.
type Book struct {
	// ID — UUID записи каталога
	ID string
	// Title — название книги
	Title string
	// Author — автор (может быть placeholder: "Unknown", "N/A")
	Author string
	// ISBN — ISBN-10/13 (nullable, уникален при наличии)
	ISBN *string
	// Genre — жанр (nullable)
	Genre *string
	// PublishedYear — год издания (nullable)
	PublishedYear *int
	// Description — аннотация (nullable)
	Description *string
	// CoverURL — URL обложки или data:image/svg+xml URI для synthetic (nullable)
	CoverURL *string
	// AverageRating — средний рейтинг 0–5 (nullable)
	AverageRating *float64
	// RatingsCount — количество оценок (nullable, >= 0)
	RatingsCount *int
	// Synthetic — true, если хотя бы одно поле сгенерировано, а не получено
	// из внешнего источника. Однажды установленный — не сбрасывается.
	Synthetic bool
	// Available — false, пока на запись ссылается активный Loan
	Available bool
	// RequestPending — true, пока на запись ссылается PENDING BorrowRequest
	RequestPending bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// AuthorPlaceholders — значения поля Author, которые считаются заглушкой
// и подлежат замене при обогащении.
var AuthorPlaceholders = map[string]bool{
	"":               true,
	"unknown":        true,
	"unknown author": true,
	"n/a":            true,
	"-":              true,
}

// HasPlaceholderAuthor сообщает, является ли автор заглушкой.
func (b *Book) HasPlaceholderAuthor() bool {
	return IsPlaceholderAuthor(b.Author)
}

// IsPlaceholderAuthor проверяет значение автора на заглушку.
func IsPlaceholderAuthor(author string) bool {
	return AuthorPlaceholders[normalizePlaceholder(author)]
}

// normalizePlaceholder приводит строку к виду для сравнения с заглушками.
func normalizePlaceholder(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ' || r == '\t':
			if len(out) > 0 && out[len(out)-1] != ' ' {
				out = append(out, ' ')
			}
		default:
			out = append(out, r)
		}
	}
	// обрезаем хвостовой пробел
	for len(out) > 0 && out[len(out)-1] == ' ' {
		out = out[:len(out)-1]
	}
	return string(out)
}

// NeedsEnrichment сообщает, есть ли у записи незаполненные обогащаемые поля.
// Список полей соответствует выборке sweep: обложка, описание, жанр, год,
// ISBN, рейтинг, количество оценок, автор-заглушка.
func (b *Book) NeedsEnrichment() bool {
	return b.CoverURL == nil ||
		b.Description == nil ||
		b.Genre == nil ||
		b.PublishedYear == nil ||
		b.ISBN == nil ||
		b.AverageRating == nil ||
		b.RatingsCount == nil ||
		b.HasPlaceholderAuthor()
}

// EnrichmentPatch — fill-missing-only патч для записи каталога.
// nil-поле = не трогать. Заполненные поля записи патч никогда не перезаписывает
// (слой репозитория применяет патч через COALESCE).
type EnrichmentPatch struct {
	// Author — новое значение автора (применяется только поверх заглушки)
	Author *string
	// ISBN — ISBN
	ISBN *string
	// Genre — жанр
	Genre *string
	// PublishedYear — год издания
	PublishedYear *int
	// Description — аннотация
	Description *string
	// CoverURL — обложка
	CoverURL *string
	// AverageRating — рейтинг
	AverageRating *float64
	// RatingsCount — количество оценок
	RatingsCount *int
	// Synthetic — выставить флаг synthetic (однонаправленно: false не сбрасывает)
	Synthetic bool
}

// IsEmpty сообщает, что патч не несёт ни одного поля.
func (p *EnrichmentPatch) IsEmpty() bool {
	return p.Author == nil && p.ISBN == nil && p.Genre == nil &&
		p.PublishedYear == nil && p.Description == nil && p.CoverURL == nil &&
		p.AverageRating == nil && p.RatingsCount == nil
}
