// Пакет match — чистая логика сопоставления метаданных:
// нормализация текстовых полей, валидация ISBN, извлечение года,
// дедупликация кандидатов, эвристический scoring и синтез заглушек.
// Пакет не ходит ни в БД, ни в сеть — только функции над значениями.
package match

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/bigkaa/golibrary/internal/domain/model"
)

// yearRe — четырёхзначный год в свободном тексте (1000–2999).
var yearRe = regexp.MustCompile(`\b(1[0-9]{3}|2[0-9]{3})\b`)

// CleanText обрезает пробелы и схлопывает внутренние последовательности
// пробельных символов в один пробел.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeKey приводит строку к ключу сравнения: нижний регистр,
// без пунктуации, пробелы схлопнуты.
// Используется для case/punctuation-insensitive сравнения названий.
func NormalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
		// пунктуация отбрасывается
	}
	return CleanText(b.String())
}

// NormalizeISBN убирает дефисы и пробелы, валидирует форму ISBN-10/ISBN-13.
// Возвращает ("", false) для некорректного значения.
// Проверяется только форма (длина и алфавит), не контрольная цифра:
// внешние источники регулярно отдают ISBN с некорректной контрольной суммой.
func NormalizeISBN(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteRune('X')
		case r == '-' || r == ' ':
			// разделители пропускаем
		default:
			return "", false
		}
	}
	isbn := b.String()
	switch len(isbn) {
	case 10:
		// X допустим только последней позицией
		if i := strings.IndexByte(isbn[:9], 'X'); i >= 0 {
			return "", false
		}
		return isbn, true
	case 13:
		if strings.ContainsRune(isbn, 'X') {
			return "", false
		}
		return isbn, true
	default:
		return "", false
	}
}

// ExtractYear извлекает первый правдоподобный четырёхзначный год из
// свободного текста ("March 2007", "2007-03-01", "c1998").
// Возвращает (0, false), если год не найден.
func ExtractYear(raw string) (int, bool) {
	m := yearRe.FindString(raw)
	if m == "" {
		return 0, false
	}
	year, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return year, true
}

// DedupKey — ключ дедупликации кандидата: ISBN при наличии,
// иначе нормализованные title+author.
func DedupKey(c *model.Candidate) string {
	if c.ISBN != nil && *c.ISBN != "" {
		return "isbn:" + *c.ISBN
	}
	return "ta:" + NormalizeKey(c.Title) + "|" + NormalizeKey(c.Author)
}

// Dedup убирает дубликаты из списка кандидатов, сохраняя порядок
// первого вхождения (first-seen wins).
func Dedup(candidates []*model.Candidate) []*model.Candidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]*model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := DedupKey(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
