package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Quote API constants
const (
	FinnhubAPIBaseURL = "https://finnhub.io/api/v1"
	QuoteTimeout      = 5 * time.Second
)

// Candle is one OHLCV bar keyed by its unix-second timestamp
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// finnhubQuote is the quote endpoint response
type finnhubQuote struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// finnhubCandles is the stock/candle endpoint response (column-oriented)
type finnhubCandles struct {
	Status     string    `json:"s"`
	Timestamps []int64   `json:"t"`
	Opens      []float64 `json:"o"`
	Highs      []float64 `json:"h"`
	Lows       []float64 `json:"l"`
	Closes     []float64 `json:"c"`
	Volumes    []float64 `json:"v"`
}

// QuoteProvider fetches the current quote for a symbol
type QuoteProvider interface {
	Quote(ctx context.Context, symbol string) (float64, error)
}

// CandleProvider fetches historical bars for a symbol
type CandleProvider interface {
	Candles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Candle, error)
}

// FinnhubClient is the REST client for the market data provider
type FinnhubClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFinnhubClient creates a REST client. An empty API key is allowed; calls
// will fail and the caller falls through to its next price source.
func NewFinnhubClient(apiKey string) *FinnhubClient {
	return &FinnhubClient{
		baseURL:    FinnhubAPIBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: QuoteTimeout},
	}
}

// Quote returns the current price for a symbol
func (c *FinnhubClient) Quote(ctx context.Context, symbol string) (float64, error) {
	if c.apiKey == "" {
		return 0, fmt.Errorf("no API key configured")
	}

	url := fmt.Sprintf("%s/quote?symbol=%s&token=%s", c.baseURL, symbol, c.apiKey)
	body, err := c.get(ctx, url)
	if err != nil {
		return 0, err
	}

	var quote finnhubQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return 0, fmt.Errorf("failed to parse quote response: %w", err)
	}
	if quote.Current <= 0 {
		return 0, fmt.Errorf("no quote available for %s", symbol)
	}
	return quote.Current, nil
}

// Candles returns historical bars for a symbol, oldest first
func (c *FinnhubClient) Candles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Candle, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("no API key configured")
	}

	url := fmt.Sprintf("%s/stock/candle?symbol=%s&resolution=%s&from=%d&to=%d&token=%s",
		c.baseURL, symbol, resolution, from.Unix(), to.Unix(), c.apiKey)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var resp finnhubCandles
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse candle response: %w", err)
	}
	if resp.Status != "ok" || len(resp.Timestamps) == 0 {
		return nil, fmt.Errorf("no candle data for %s", symbol)
	}

	candles := make([]Candle, 0, len(resp.Timestamps))
	for i, ts := range resp.Timestamps {
		if i >= len(resp.Opens) || i >= len(resp.Highs) || i >= len(resp.Lows) || i >= len(resp.Closes) {
			break
		}
		var vol int64
		if i < len(resp.Volumes) {
			vol = int64(resp.Volumes[i])
		}
		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      resp.Opens[i],
			High:      resp.Highs[i],
			Low:       resp.Lows[i],
			Close:     resp.Closes[i],
			Volume:    vol,
		})
	}
	return candles, nil
}

// get performs one GET request and returns the response body
func (c *FinnhubClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
