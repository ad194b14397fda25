package analysis

import (
	"fmt"
)

// SMA calculates the Simple Moving Average over the last period closes.
// closes must be in chronological order.
func SMA(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid SMA period %d", period)
	}
	if len(closes) < period {
		return 0, fmt.Errorf("insufficient data for SMA%d calculation", period)
	}

	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), nil
}

// EMA calculates the Exponential Moving Average over the closes.
// closes must be in chronological order.
func EMA(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid EMA period %d", period)
	}
	if len(closes) < period {
		return 0, fmt.Errorf("insufficient data for EMA%d calculation", period)
	}

	multiplier := 2.0 / float64(period+1)
	ema := closes[0]
	for i := 1; i < len(closes); i++ {
		ema = (closes[i]-ema)*multiplier + ema
	}
	return ema, nil
}

// RSI calculates the Relative Strength Index over the last period+1 closes.
// closes must be in chronological order.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid RSI period %d", period)
	}
	if len(closes) < period+1 {
		return 0, fmt.Errorf("insufficient data for RSI%d calculation", period)
	}

	window := closes[len(closes)-period-1:]
	gains := 0.0
	losses := 0.0
	for i := 1; i < len(window); i++ {
		change := window[i] - window[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, nil
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// Drift returns the mean single-step relative change across the closes.
// closes must be in chronological order.
func Drift(closes []float64) (float64, error) {
	if len(closes) < 2 {
		return 0, fmt.Errorf("insufficient data for drift calculation")
	}

	sum := 0.0
	count := 0
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		sum += closes[i]/closes[i-1] - 1
		count++
	}
	if count == 0 {
		return 0, fmt.Errorf("no usable intervals for drift calculation")
	}
	return sum / float64(count), nil
}
