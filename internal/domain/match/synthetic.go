// synthetic.go — детерминированный синтез метаданных-заглушек.
// Используется, когда внешние источники не дали совпадения, либо для
// добивки оставшихся пустых полей после реального совпадения.
// Одинаковые (title, author) всегда дают одинаковый результат — sweep
// идемпотентен и безопасен для повторного запуска.
package match

import (
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/bigkaa/golibrary/internal/domain/model"
)

// SyntheticAuthor — подпись автора, когда реальный автор неизвестен.
const SyntheticAuthor = "Автор неизвестен"

// genreRule — упорядоченное правило вывода жанра по ключевым словам.
type genreRule struct {
	genre    string
	keywords []string
}

// genreRules — правила в порядке приоритета; выигрывает первое совпавшее.
var genreRules = []genreRule{
	{"Science Fiction", []string{"space", "sci-fi", "science fiction", "galaxy", "starship", "robot", "cyber", "космос", "фантастика"}},
	{"Fantasy", []string{"fantasy", "dragon", "wizard", "magic", "sword", "фэнтези", "магия"}},
	{"Mystery", []string{"mystery", "murder", "detective", "crime", "детектив", "убийство"}},
	{"History", []string{"history", "historical", "war", "empire", "история", "война"}},
	{"Biography", []string{"biography", "memoir", "life of", "биография", "мемуары"}},
	{"Poetry", []string{"poetry", "poems", "verse", "поэзия", "стихи"}},
	{"Romance", []string{"romance", "love story", "роман о любви"}},
	{"Children", []string{"children", "kids", "fairy tale", "детская", "сказка"}},
}

// syntheticGenreDefault — жанр, когда ни одно правило не совпало.
const syntheticGenreDefault = "General"

// Диапазоны детерминированного рейтинга.
const (
	ratingBase  = 3.4 // нижняя граница среднего рейтинга
	ratingSteps = 14  // количество шагов по 0.1 → [3.4, 4.7]
	countBase   = 12  // нижняя граница количества оценок
	countRange  = 240 // ширина диапазона → [12, 252)
)

// InferGenre выводит жанр по ключевым словам в title + description.
// Первое совпавшее правило выигрывает; fallback — "General".
func InferGenre(title, description string) string {
	text := strings.ToLower(title + " " + description)
	for _, rule := range genreRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.genre
			}
		}
	}
	return syntheticGenreDefault
}

// identityHash — стабильный хэш идентичности книги.
// FNV-1a над нормализованными title|author: не зависит от регистра,
// пунктуации и порядка обхода map.
func identityHash(title, author string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(NormalizeKey(title)))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(NormalizeKey(author)))
	return h.Sum64()
}

// SyntheticRating возвращает детерминированные (averageRating, ratingsCount)
// для пары (title, author): rating ∈ [3.4, 4.7] с шагом 0.1,
// count ∈ [12, 252).
func SyntheticRating(title, author string) (float64, int) {
	h := identityHash(title, author)
	rating := ratingBase + float64(h%ratingSteps)/10.0
	count := countBase + int((h/13)%countRange)
	return rating, count
}

// Initials — до двух инициалов из названия для синтетической обложки.
func Initials(title string) string {
	words := strings.Fields(title)
	var b strings.Builder
	for _, w := range words {
		for _, r := range w {
			b.WriteString(strings.ToUpper(string(r)))
			break
		}
		if b.Len() >= 2 {
			break
		}
	}
	if b.Len() == 0 {
		return "?"
	}
	return b.String()
}

// coverPalette — фоновые цвета синтетической обложки.
// Выбор детерминирован хэшем идентичности.
var coverPalette = []string{
	"#1e3a5f", "#5f1e3a", "#3a5f1e", "#1e5f5a", "#5f4a1e", "#3a1e5f",
}

// SyntheticCover строит data:image/svg+xml URI — простую векторную обложку
// с инициалами, названием и автором.
func SyntheticCover(title, author string) string {
	bg := coverPalette[identityHash(title, author)%uint64(len(coverPalette))]
	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="300" height="450" viewBox="0 0 300 450">`+
			`<rect width="300" height="450" fill="%s"/>`+
			`<text x="150" y="190" font-family="serif" font-size="96" fill="#ffffff" text-anchor="middle">%s</text>`+
			`<text x="150" y="280" font-family="serif" font-size="20" fill="#ffffff" text-anchor="middle">%s</text>`+
			`<text x="150" y="320" font-family="serif" font-size="16" fill="#d0d0d0" text-anchor="middle">%s</text>`+
			`</svg>`,
		bg,
		escapeXML(Initials(title)),
		escapeXML(truncate(CleanText(title), 28)),
		escapeXML(truncate(CleanText(author), 32)),
	)
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}

// escapeXML экранирует спецсимволы для вставки в SVG.
func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

// truncate обрезает строку до n рун с многоточием.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// SynthesizePatch добивает пустые поля записи синтетическими значениями.
// Возвращает патч с Synthetic=true; пустой патч (IsEmpty) означает,
// что добивать нечего.
//
// ISBN не синтезируется: выдуманный ISBN нарушил бы глобальную уникальность
// и ломал бы сверку с внешними источниками.
func SynthesizePatch(b *model.Book) *model.EnrichmentPatch {
	p := &model.EnrichmentPatch{Synthetic: true}

	author := b.Author
	if b.HasPlaceholderAuthor() {
		synth := SyntheticAuthor
		p.Author = &synth
		author = synth
	}

	if b.Genre == nil {
		desc := ""
		if b.Description != nil {
			desc = *b.Description
		}
		genre := InferGenre(b.Title, desc)
		p.Genre = &genre
	}

	if b.CoverURL == nil {
		cover := SyntheticCover(b.Title, author)
		p.CoverURL = &cover
	}

	if b.AverageRating == nil || b.RatingsCount == nil {
		rating, count := SyntheticRating(b.Title, author)
		if b.AverageRating == nil {
			p.AverageRating = &rating
		}
		if b.RatingsCount == nil {
			p.RatingsCount = &count
		}
	}

	if p.IsEmpty() {
		// нечего синтезировать — патч не несёт полей, флаг synthetic
		// выставлять не из-за чего
		return &model.EnrichmentPatch{}
	}
	return p
}
