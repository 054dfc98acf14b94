// sourcea.go — клиент Source A: широкое покрытие, плоский формат
// {"numFound": N, "docs": [ ... ]}. Поля элементов частично отсутствуют
// или имеют неожиданный тип; парсинг строгий по-элементный.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/golibrary/internal/domain/match"
	"github.com/bigkaa/golibrary/internal/domain/model"
)

// SourceA — клиент первичного источника метаданных.
type SourceA struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSourceA создаёт клиент Source A.
// baseURL — базовый URL без trailing slash, timeout — таймаут одного запроса.
func NewSourceA(baseURL string, timeout time.Duration, logger *slog.Logger) *SourceA {
	return &SourceA{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "source_a")),
	}
}

// Name возвращает идентификатор источника.
func (c *SourceA) Name() string { return model.SourceA }

// aDoc — один элемент ответа Source A.
// json.RawMessage для полей, чей тип в ответах плавает.
type aDoc struct {
	Title            string   `json:"title"`
	AuthorName       []string `json:"author_name"`
	FirstPublishYear *int     `json:"first_publish_year"`
	ISBN             []string `json:"isbn"`
	Subject          []string `json:"subject"`
	CoverID          *int64   `json:"cover_i"`
	PagesMedian      *int     `json:"number_of_pages_median"`
	FirstSentence    []string `json:"first_sentence"`
	RatingsAverage   *float64 `json:"ratings_average"`
	RatingsCount     *int     `json:"ratings_count"`
}

// aResponse — корень ответа Source A.
type aResponse struct {
	NumFound int               `json:"numFound"`
	Docs     []json.RawMessage `json:"docs"`
}

// Search выполняет поиск по Source A.
// Поддерживает префикс "isbn:" — запрос уходит в поле isbn, а не q.
func (c *SourceA) Search(ctx context.Context, query string, limit int) ([]*model.Candidate, error) {
	start := time.Now()
	candidates, err := c.search(ctx, query, limit)
	observe(model.SourceA, start, err)
	return candidates, err
}

func (c *SourceA) search(ctx context.Context, query string, limit int) ([]*model.Candidate, error) {
	params := url.Values{}
	if isbn, ok := strings.CutPrefix(query, "isbn:"); ok {
		params.Set("isbn", strings.TrimSpace(isbn))
	} else {
		params.Set("q", query)
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("fields", "title,author_name,first_publish_year,isbn,subject,cover_i,number_of_pages_median,first_sentence,ratings_average,ratings_count")

	reqURL := c.baseURL + "/search.json?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Source A: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос Source A: %w", err)
	}

	body, err := readBody(resp, "Source A")
	if err != nil {
		return nil, err
	}

	var parsed aResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("разбор ответа Source A: %w", err)
	}

	candidates := make([]*model.Candidate, 0, len(parsed.Docs))
	for _, raw := range parsed.Docs {
		cand, ok := c.parseDoc(raw)
		if !ok {
			continue
		}
		candidates = append(candidates, cand)
		if len(candidates) >= limit {
			break
		}
	}

	c.logger.Debug("Поиск Source A выполнен",
		slog.String("query", query),
		slog.Int("num_found", parsed.NumFound),
		slog.Int("candidates", len(candidates)),
	)

	return candidates, nil
}

// parseDoc разбирает один элемент ответа. Элемент без названия
// или с нечитаемой структурой отбрасывается.
func (c *SourceA) parseDoc(raw json.RawMessage) (*model.Candidate, bool) {
	var doc aDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.logger.Debug("Элемент Source A отброшен", slog.String("error", err.Error()))
		return nil, false
	}

	title := match.CleanText(doc.Title)
	if title == "" {
		return nil, false
	}

	cand := &model.Candidate{
		Title:    title,
		SourceID: model.SourceA,
	}

	if len(doc.AuthorName) > 0 {
		cand.Author = match.CleanText(doc.AuthorName[0])
	}

	for _, rawISBN := range doc.ISBN {
		if isbn, ok := match.NormalizeISBN(rawISBN); ok {
			cand.ISBN = &isbn
			break
		}
	}

	if doc.FirstPublishYear != nil && *doc.FirstPublishYear > 0 {
		cand.PublishedYear = doc.FirstPublishYear
	}

	if len(doc.Subject) > 0 {
		genre := match.CleanText(doc.Subject[0])
		if genre != "" {
			cand.Genre = &genre
		}
	}

	if doc.CoverID != nil && *doc.CoverID > 0 {
		coverURL := fmt.Sprintf("%s/covers/%d-M.jpg", c.baseURL, *doc.CoverID)
		cand.CoverURL = &coverURL
	}

	if len(doc.FirstSentence) > 0 {
		desc := match.CleanText(doc.FirstSentence[0])
		if desc != "" {
			cand.Description = &desc
		}
	}

	if doc.RatingsAverage != nil && *doc.RatingsAverage > 0 {
		cand.AverageRating = doc.RatingsAverage
	}
	if doc.RatingsCount != nil && *doc.RatingsCount > 0 {
		cand.RatingsCount = doc.RatingsCount
	}

	if doc.PagesMedian != nil && *doc.PagesMedian > 0 {
		cand.PageCount = doc.PagesMedian
	}

	return cand, true
}
