package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"stock_dashboard_backend/models"
)

// News constants
const (
	NewsAPIBaseURL     = "https://newsapi.org/v2"
	NewsRequestTimeout = 10 * time.Second
	NewsArticleLimit   = 10
	NewsDaysBack       = 7
	NewsRetention      = 24 * time.Hour
)

// Sentiment labels
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

var positiveWords = []string{"up", "rise", "gain", "positive", "bullish", "growth", "profit", "strong", "beat", "exceed"}
var negativeWords = []string{"down", "fall", "drop", "negative", "bearish", "loss", "decline", "weak", "miss", "below"}

// newsAPIResponse is the NewsAPI everything endpoint response
type newsAPIResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// finnhubNewsItem is one entry of the company-news endpoint response
type finnhubNewsItem struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
	Datetime int64  `json:"datetime"`
	Source   string `json:"source"`
}

// NewsService fetches company news with word-list sentiment scoring.
// Sources, in order: NewsAPI, the market data provider's company news,
// and generated placeholders when no key is configured. Fetched articles
// are persisted and day-old rows swept.
type NewsService struct {
	newsAPIKey string
	finnhubKey string
	db         *gorm.DB
	httpClient *http.Client
}

// NewNewsService creates the news service. db may be nil to skip persistence.
func NewNewsService(newsAPIKey, finnhubKey string, db *gorm.DB) *NewsService {
	return &NewsService{
		newsAPIKey: newsAPIKey,
		finnhubKey: finnhubKey,
		db:         db,
		httpClient: &http.Client{Timeout: NewsRequestTimeout},
	}
}

// StockNews returns recent scored articles for a ticker
func (s *NewsService) StockNews(ctx context.Context, ticker string) []models.NewsArticle {
	sym := strings.ToUpper(strings.TrimSpace(ticker))

	if s.newsAPIKey != "" {
		articles, err := s.fetchNewsAPI(ctx, sym)
		if err == nil && len(articles) > 0 {
			s.persist(articles)
			return articles
		}
		if err != nil {
			log.Printf("NewsAPI fetch failed for %s: %v", sym, err)
		}
	}

	if s.finnhubKey != "" {
		articles, err := s.fetchFinnhubNews(ctx, sym)
		if err == nil && len(articles) > 0 {
			s.persist(articles)
			return articles
		}
		if err != nil {
			log.Printf("Company news fetch failed for %s: %v", sym, err)
		}
	}

	log.Printf("No news source available for %s, using placeholder articles", sym)
	return s.mockNews(sym)
}

func (s *NewsService) fetchNewsAPI(ctx context.Context, ticker string) ([]models.NewsArticle, error) {
	from := time.Now().AddDate(0, 0, -NewsDaysBack).Format("2006-01-02")
	query := url.Values{}
	query.Set("q", fmt.Sprintf("%q OR %q", ticker, ticker+" stock"))
	query.Set("from", from)
	query.Set("sortBy", "publishedAt")
	query.Set("language", "en")
	query.Set("apiKey", s.newsAPIKey)

	body, err := s.get(ctx, fmt.Sprintf("%s/everything?%s", NewsAPIBaseURL, query.Encode()))
	if err != nil {
		return nil, err
	}

	var resp newsAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse news response: %w", err)
	}

	articles := make([]models.NewsArticle, 0, NewsArticleLimit)
	for i, a := range resp.Articles {
		if i >= NewsArticleLimit {
			break
		}
		publishedAt, _ := time.Parse(time.RFC3339, a.PublishedAt)
		articles = append(articles, s.scored(models.NewsArticle{
			Ticker:      ticker,
			Title:       a.Title,
			Content:     a.Description,
			URL:         a.URL,
			Source:      a.Source.Name,
			PublishedAt: publishedAt,
		}))
	}
	return articles, nil
}

func (s *NewsService) fetchFinnhubNews(ctx context.Context, ticker string) ([]models.NewsArticle, error) {
	now := time.Now()
	query := url.Values{}
	query.Set("symbol", ticker)
	query.Set("from", now.AddDate(0, 0, -NewsDaysBack).Format("2006-01-02"))
	query.Set("to", now.Format("2006-01-02"))
	query.Set("token", s.finnhubKey)

	body, err := s.get(ctx, fmt.Sprintf("%s/company-news?%s", FinnhubAPIBaseURL, query.Encode()))
	if err != nil {
		return nil, err
	}

	var items []finnhubNewsItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to parse company news: %w", err)
	}

	articles := make([]models.NewsArticle, 0, NewsArticleLimit)
	for i, item := range items {
		if i >= NewsArticleLimit {
			break
		}
		articles = append(articles, s.scored(models.NewsArticle{
			Ticker:      ticker,
			Title:       item.Headline,
			Content:     item.Summary,
			URL:         item.URL,
			Source:      item.Source,
			PublishedAt: time.Unix(item.Datetime, 0),
		}))
	}
	return articles, nil
}

// scored fills in the sentiment fields from the article text
func (s *NewsService) scored(a models.NewsArticle) models.NewsArticle {
	text := a.Title + " " + a.Content
	a.SentimentLabel = AnalyzeSentiment(text)
	a.SentimentScore = SentimentScore(text)
	return a
}

// AnalyzeSentiment labels text by counting positive and negative words
func AnalyzeSentiment(text string) string {
	lower := strings.ToLower(text)
	var pos, neg int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return SentimentPositive
	case neg > pos:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// SentimentScore scores text in [-1, 1] by word counts scaled by text length
func SentimentScore(text string) float64 {
	lower := strings.ToLower(text)
	var pos, neg int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}

	total := len(strings.Fields(text))
	if total == 0 {
		return 0
	}

	score := float64(pos-neg) / float64(total) * 10
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}

func (s *NewsService) mockNews(ticker string) []models.NewsArticle {
	now := time.Now()
	lower := strings.ToLower(ticker)
	articles := []models.NewsArticle{
		{
			Ticker:      ticker,
			Title:       fmt.Sprintf("%s Stock Shows Strong Performance", ticker),
			Content:     fmt.Sprintf("%s has demonstrated robust growth in recent trading sessions.", ticker),
			URL:         fmt.Sprintf("https://example.com/news/%s", lower),
			Source:      "Financial News",
			PublishedAt: now,
		},
		{
			Ticker:      ticker,
			Title:       fmt.Sprintf("Analysts Bullish on %s Future Prospects", ticker),
			Content:     fmt.Sprintf("Market analysts remain optimistic about %s long-term growth potential.", ticker),
			URL:         fmt.Sprintf("https://example.com/analysis/%s", lower),
			Source:      "Market Analysis",
			PublishedAt: now.Add(-2 * time.Hour),
		},
	}
	for i := range articles {
		articles[i] = s.scored(articles[i])
	}
	return articles
}

// persist upserts fetched articles by URL
func (s *NewsService) persist(articles []models.NewsArticle) {
	if s.db == nil {
		return
	}
	for _, a := range articles {
		if a.URL == "" {
			continue
		}
		var existing models.NewsArticle
		err := s.db.Where("url = ?", a.URL).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := s.db.Create(&a).Error; err != nil {
				log.Printf("Failed to save article: %v", err)
			}
		}
	}
}

// CleanupOldArticles removes stored articles older than the retention window
func (s *NewsService) CleanupOldArticles() {
	if s.db == nil {
		return
	}
	cutoff := time.Now().Add(-NewsRetention)
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.NewsArticle{})
	if result.Error != nil {
		log.Printf("Failed to clean up old articles: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("Removed %d stale news articles", result.RowsAffected)
	}
}

// get performs one GET request and returns the response body
func (s *NewsService) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}
