package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultCandleDBPath is where the local candle cache lives
const DefaultCandleDBPath = "data/candles.db"

// CandleStore caches fetched OHLCV bars in a local SQLite database so
// history requests survive provider outages and rate limits
type CandleStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewCandleStore opens (or creates) the candle cache at path
func NewCandleStore(path string) (*CandleStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping candle cache: %w", err)
	}

	store := &CandleStore{db: db}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("Candle cache initialized at %s", path)
	return store, nil
}

// Close closes the underlying database
func (s *CandleStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *CandleStore) createTables() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := `
		CREATE TABLE IF NOT EXISTS candles (
			symbol VARCHAR NOT NULL,
			resolution VARCHAR NOT NULL,
			timestamp INTEGER NOT NULL,
			open REAL,
			high REAL,
			low REAL,
			close REAL,
			volume INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (symbol, resolution, timestamp)
		)
	`
	if _, err := s.db.Exec(table); err != nil {
		return fmt.Errorf("failed to create candles table: %w", err)
	}
	return nil
}

// SaveCandles upserts a batch of bars for one symbol/resolution
func (s *CandleStore) SaveCandles(symbol, resolution string, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.db.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, resolution, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(symbol, resolution, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("failed to save candle for %s: %w", symbol, err)
		}
	}
	return nil
}

// LoadCandles returns cached bars for one symbol/resolution inside [from, to],
// ordered oldest first
func (s *CandleStore) LoadCandles(symbol, resolution string, from, to int64) ([]Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND resolution = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, resolution, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles: %w", err)
	}
	defer rows.Close()

	var candles []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LatestClose returns the most recent stored close for a symbol across all
// resolutions
func (s *CandleStore) LatestClose(ctx context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var close float64
	err := s.db.QueryRowContext(ctx, `
		SELECT close FROM candles
		WHERE symbol = ? AND close > 0
		ORDER BY timestamp DESC LIMIT 1
	`, symbol).Scan(&close)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no stored candles for %s", symbol)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query latest close: %w", err)
	}
	return close, nil
}

// CandleCount returns the number of cached bars for a symbol
func (s *CandleStore) CandleCount(symbol string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM candles WHERE symbol = ?`, symbol).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count candles: %w", err)
	}
	return count, nil
}
