package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"stock_dashboard_backend/models"
)

// AlertStore abstracts alert persistence for the evaluator
type AlertStore interface {
	Active(ctx context.Context) ([]models.UserAlert, error)
	// MarkTriggered deactivates an alert. Returns false when the alert was
	// already inactive, which makes triggering at-most-once even under
	// concurrent evaluation.
	MarkTriggered(ctx context.Context, id uint, at time.Time) (bool, error)
}

// TriggeredAlert pairs a fired alert with the price that fired it
type TriggeredAlert struct {
	Alert models.UserAlert `json:"alert"`
	Price float64          `json:"price"`
	At    time.Time        `json:"at"`
}

// AlertNotifier receives every fired alert
type AlertNotifier func(TriggeredAlert)

// GormAlertStore persists alerts in the relational database
type GormAlertStore struct {
	db *gorm.DB
}

// NewGormAlertStore creates the database-backed alert store
func NewGormAlertStore(db *gorm.DB) *GormAlertStore {
	return &GormAlertStore{db: db}
}

// Active returns all alerts that have not triggered yet
func (s *GormAlertStore) Active(ctx context.Context) ([]models.UserAlert, error) {
	var alerts []models.UserAlert
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	return alerts, nil
}

// MarkTriggered flips an alert inactive. The conditional update makes the
// transition atomic: exactly one caller observes the flip.
func (s *GormAlertStore) MarkTriggered(ctx context.Context, id uint, at time.Time) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&models.UserAlert{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{"is_active": false, "triggered_at": at})
	if tx.Error != nil {
		return false, fmt.Errorf("failed to mark alert %d triggered: %w", id, tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

// AlertEvaluator checks active alerts against a price snapshot. An alert
// fires once and never again: price_above fires when price >= threshold,
// price_below when price <= threshold.
type AlertEvaluator struct {
	store AlertStore

	mu        sync.RWMutex
	notifiers []AlertNotifier
}

// NewAlertEvaluator creates an evaluator over the given store
func NewAlertEvaluator(store AlertStore) *AlertEvaluator {
	return &AlertEvaluator{store: store}
}

// AddNotifier registers a notifier for fired alerts. Notifiers run
// synchronously in registration order with failure isolation.
func (e *AlertEvaluator) AddNotifier(n AlertNotifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// Evaluate checks every active alert against the snapshot and fires the ones
// whose condition holds. Symbols absent from the snapshot are skipped.
func (e *AlertEvaluator) Evaluate(ctx context.Context, prices map[string]float64) []TriggeredAlert {
	if e.store == nil || len(prices) == 0 {
		return nil
	}

	alerts, err := e.store.Active(ctx)
	if err != nil {
		log.Printf("Alert evaluation skipped: %v", err)
		return nil
	}

	now := time.Now()
	var fired []TriggeredAlert
	for _, alert := range alerts {
		price, ok := prices[alert.Ticker]
		if !ok {
			continue
		}
		if !conditionMet(alert, price) {
			continue
		}

		flipped, err := e.store.MarkTriggered(ctx, alert.ID, now)
		if err != nil {
			log.Printf("Failed to trigger alert %d: %v", alert.ID, err)
			continue
		}
		if !flipped {
			// Lost the race to another evaluation pass
			continue
		}

		alert.IsActive = false
		alert.TriggeredAt = &now
		triggered := TriggeredAlert{Alert: alert, Price: price, At: now}
		fired = append(fired, triggered)
		log.Printf("Alert %d fired: %s %s %s at %.2f",
			alert.ID, alert.Ticker, alert.AlertType, alert.Threshold.String(), price)
		e.notify(triggered)
	}
	return fired
}

func conditionMet(alert models.UserAlert, price float64) bool {
	p := decimal.NewFromFloat(price)
	switch alert.AlertType {
	case models.AlertPriceAbove:
		return p.GreaterThanOrEqual(alert.Threshold)
	case models.AlertPriceBelow:
		return p.LessThanOrEqual(alert.Threshold)
	default:
		return false
	}
}

func (e *AlertEvaluator) notify(t TriggeredAlert) {
	e.mu.RLock()
	notifiers := make([]AlertNotifier, len(e.notifiers))
	copy(notifiers, e.notifiers)
	e.mu.RUnlock()

	for _, n := range notifiers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Alert notifier panic: %v", r)
				}
			}()
			n(t)
		}()
	}
}
