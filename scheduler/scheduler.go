package scheduler

// Package scheduler provides scheduled job management for the dashboard
// backend. It handles:
// - The periodic price refresh loop
// - Synthetic drift simulation in demo mode
// - Daily candle cache warming
// - Stale news cleanup
//
// The main scheduler is implemented in jobs.go
