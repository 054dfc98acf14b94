// sourceb.go — клиент Source B: высокая точность, вложенный формат
// {"items": [{"volumeInfo": { ... }}]}. Год издания приходит свободным
// текстом в publishedDate, ISBN — в списке industryIdentifiers.
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

// SourceB — клиент дополнительного источника метаданных.
type SourceB struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSourceB создаёт клиент Source B.
func NewSourceB(baseURL string, timeout time.Duration, logger *slog.Logger) *SourceB {
	return &SourceB{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "source_b")),
	}
}

// Name возвращает идентификатор источника.
func (c *SourceB) Name() string { return model.SourceB }

// bVolumeInfo — вложенный блок метаданных одного тома.
type bVolumeInfo struct {
	Title               string   `json:"title"`
	Authors             []string `json:"authors"`
	PublishedDate       string   `json:"publishedDate"`
	Description         string   `json:"description"`
	Categories          []string `json:"categories"`
	PageCount           *int     `json:"pageCount"`
	AverageRating       *float64 `json:"averageRating"`
	RatingsCount        *int     `json:"ratingsCount"`
	IndustryIdentifiers []struct {
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
	} `json:"industryIdentifiers"`
	ImageLinks struct {
		Thumbnail string `json:"thumbnail"`
	} `json:"imageLinks"`
}

// bItem — один элемент списка items.
type bItem struct {
	VolumeInfo json.RawMessage `json:"volumeInfo"`
}

// bResponse — корень ответа Source B.
type bResponse struct {
	TotalItems int     `json:"totalItems"`
	Items      []bItem `json:"items"`
}

// Search выполняет поиск по Source B.
// Префикс "isbn:" источником поддерживается нативно и передаётся как есть.
func (c *SourceB) Search(ctx context.Context, query string, limit int) ([]*model.Candidate, error) {
	start := time.Now()
	candidates, err := c.search(ctx, query, limit)
	observe(model.SourceB, start, err)
	return candidates, err
}

func (c *SourceB) search(ctx context.Context, query string, limit int) ([]*model.Candidate, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(limit))

	reqURL := c.baseURL + "/volumes?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Source B: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос Source B: %w", err)
	}

	body, err := readBody(resp, "Source B")
	if err != nil {
		return nil, err
	}

	var parsed bResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("разбор ответа Source B: %w", err)
	}

	candidates := make([]*model.Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		cand, ok := c.parseVolume(item.VolumeInfo)
		if !ok {
			continue
		}
		candidates = append(candidates, cand)
		if len(candidates) >= limit {
			break
		}
	}

	c.logger.Debug("Поиск Source B выполнен",
		slog.String("query", query),
		slog.Int("total_items", parsed.TotalItems),
		slog.Int("candidates", len(candidates)),
	)

	return candidates, nil
}

// parseVolume разбирает volumeInfo одного элемента.
// Элемент без названия или с нечитаемой структурой отбрасывается.
func (c *SourceB) parseVolume(raw json.RawMessage) (*model.Candidate, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var vi bVolumeInfo
	if err := json.Unmarshal(raw, &vi); err != nil {
		c.logger.Debug("Элемент Source B отброшен", slog.String("error", err.Error()))
		return nil, false
	}

	title := match.CleanText(vi.Title)
	if title == "" {
		return nil, false
	}

	cand := &model.Candidate{
		Title:    title,
		SourceID: model.SourceB,
	}

	if len(vi.Authors) > 0 {
		cand.Author = match.CleanText(vi.Authors[0])
	}

	// ISBN-13 предпочтительнее ISBN-10
	var isbn10 string
	for _, id := range vi.IndustryIdentifiers {
		norm, ok := match.NormalizeISBN(id.Identifier)
		if !ok {
			continue
		}
		switch id.Type {
		case "ISBN_13":
			cand.ISBN = &norm
		case "ISBN_10":
			isbn10 = norm
		}
	}
	if cand.ISBN == nil && isbn10 != "" {
		cand.ISBN = &isbn10
	}

	if year, ok := match.ExtractYear(vi.PublishedDate); ok {
		cand.PublishedYear = &year
	}

	if len(vi.Categories) > 0 {
		genre := match.CleanText(vi.Categories[0])
		if genre != "" {
			cand.Genre = &genre
		}
	}

	if desc := match.CleanText(vi.Description); desc != "" {
		cand.Description = &desc
	}

	if thumb := strings.TrimSpace(vi.ImageLinks.Thumbnail); thumb != "" {
		cand.CoverURL = &thumb
	}

	if vi.AverageRating != nil && *vi.AverageRating > 0 {
		cand.AverageRating = vi.AverageRating
	}
	if vi.RatingsCount != nil && *vi.RatingsCount > 0 {
		cand.RatingsCount = vi.RatingsCount
	}

	if vi.PageCount != nil && *vi.PageCount > 0 {
		cand.PageCount = vi.PageCount
	}

	return cand, true
}
