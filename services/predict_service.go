package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"stock_dashboard_backend/services/analysis"
)

// Prediction parameters
const (
	PredictLookback    = 100
	DefaultPredictDays = 7
	MaxPredictDays     = 30
	// One-day moves beyond this are treated as noise when extrapolating
	maxDailyDrift = 0.02
)

// PredictionResult is the forecast response for one ticker
type PredictionResult struct {
	Ticker      string    `json:"ticker"`
	Predictions []float64 `json:"predictions"`
	LastPrice   float64   `json:"last_price"`
}

// PredictService forecasts prices by extrapolating the mean daily drift of
// the lookback window, anchored to the short moving average. History comes
// from the same ladder the dashboard uses, so a forecast is always possible.
type PredictService struct {
	history *HistoryService
}

// NewPredictService creates the forecast service
func NewPredictService(history *HistoryService) *PredictService {
	return &PredictService{history: history}
}

// Predict forecasts the next days closes for a ticker
func (p *PredictService) Predict(ctx context.Context, ticker string, days int) (*PredictionResult, error) {
	sym := strings.ToUpper(strings.TrimSpace(ticker))
	if days <= 0 {
		days = DefaultPredictDays
	}
	if days > MaxPredictDays {
		days = MaxPredictDays
	}

	closes, err := p.dailyCloses(ctx, sym)
	if err != nil {
		return nil, err
	}

	drift, err := analysis.Drift(closes)
	if err != nil {
		return nil, fmt.Errorf("forecast failed for %s: %w", sym, err)
	}
	drift = math.Max(-maxDailyDrift, math.Min(maxDailyDrift, drift))

	last := closes[len(closes)-1]
	anchor := last
	if sma, err := analysis.SMA(closes, 10); err == nil {
		anchor = sma
	}

	// Walk forward from the last close, easing toward the anchor so a
	// single outlier close does not dominate the whole forecast
	predictions := make([]float64, days)
	price := last
	for i := 0; i < days; i++ {
		price = price*(1+drift)*0.9 + anchor*0.1
		predictions[i] = math.Round(price*100) / 100
	}

	return &PredictionResult{
		Ticker:      sym,
		Predictions: predictions,
		LastPrice:   last,
	}, nil
}

// dailyCloses returns up to PredictLookback chronological daily closes
func (p *PredictService) dailyCloses(ctx context.Context, sym string) ([]float64, error) {
	points, err := p.history.History(ctx, sym, "6mo", "1d")
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", sym, err)
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("insufficient history for %s", sym)
	}

	closes := make([]float64, 0, len(points))
	for _, pt := range points {
		if pt.Close > 0 {
			closes = append(closes, pt.Close)
		}
	}
	if len(closes) > PredictLookback {
		closes = closes[len(closes)-PredictLookback:]
	}
	if len(closes) < 2 {
		return nil, fmt.Errorf("insufficient history for %s", sym)
	}
	return closes, nil
}
