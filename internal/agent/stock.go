package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"procureiq/internal/domain"
	"procureiq/internal/events"
	"procureiq/internal/notify"
	"procureiq/internal/queue"
	"procureiq/internal/severity"
)

// StockOutcome is stored as the outcome of a stock_alert event.
type StockOutcome struct {
	ItemID   int64       `json:"item_id"`
	Quantity int         `json:"quantity"`
	Severity int         `json:"severity"`
	Mode     domain.Mode `json:"mode"`
	AlertID  *int64      `json:"alert_id,omitempty"`
}

// SuggestedQuantity is the restock amount proposed on an alert.
func SuggestedQuantity(it domain.InventoryItem) int {
	if it.ReorderQuantity > 0 {
		return it.ReorderQuantity
	}
	if it.ReorderLevel > 0 {
		return it.ReorderLevel * 5
	}
	return 1
}

func (l *Loop) handleStock(ctx context.Context, evt domain.Event) (StockOutcome, error) {
	var p domain.StockSignal
	if err := queue.Decode(evt, &p); err != nil {
		return StockOutcome{}, err
	}
	if p.ItemID <= 0 {
		return StockOutcome{}, errors.New("item_id is required")
	}
	if p.Quantity != nil && *p.Quantity < 0 {
		return StockOutcome{}, fmt.Errorf("quantity %d is negative", *p.Quantity)
	}

	tx, err := l.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return StockOutcome{}, err
	}
	defer tx.Rollback()

	item, err := l.Repo.UpdateStock(ctx, tx, p.ItemID, p.Quantity, p.SupplierAvailable)
	if err != nil {
		return StockOutcome{}, fmt.Errorf("item %d: %w", p.ItemID, err)
	}
	prev, st, err := l.evaluate(ctx, tx)
	if err != nil {
		return StockOutcome{}, fmt.Errorf("evaluate mode: %w", err)
	}
	score := severity.Score(severity.FromItem(item))
	out := StockOutcome{ItemID: item.ID, Quantity: item.Quantity, Severity: score, Mode: st.Mode}

	var alert *domain.StockAlert
	if item.Quantity <= item.ReorderLevel {
		alert, err = l.openAlert(ctx, tx, item, score, st.Mode)
		if err != nil {
			return StockOutcome{}, err
		}
		if alert != nil {
			out.AlertID = &alert.ID
		}
	}
	if err := tx.Commit(); err != nil {
		return StockOutcome{}, err
	}

	l.log().Info("stock_updated",
		zap.Int64("item_id", item.ID),
		zap.String("sku", item.SKU),
		zap.Int("quantity", item.Quantity),
		zap.Int("severity", score),
		zap.String("mode", string(st.Mode)))
	l.announceMode(prev, st)
	if alert != nil {
		l.notify(notify.Summary{
			Kind:       notify.KindStockAlert,
			Subject:    fmt.Sprintf("Restock %s (%s)", item.Name, item.SKU),
			Body:       alert.Message,
			Urgency:    urgencyFor(alert.Priority),
			EntityKind: "stock_alert",
			EntityID:   events.ID(alert.ID),
		})
	}
	return out, nil
}

// openAlert inserts an alert unless the item already has an open one.
func (l *Loop) openAlert(ctx context.Context, tx *sql.Tx, item domain.InventoryItem, score int, m domain.Mode) (*domain.StockAlert, error) {
	open, err := l.Repo.HasOpenAlert(ctx, tx, item.ID)
	if err != nil || open {
		return nil, err
	}
	crisisAt := severity.Max
	if l.Mode != nil {
		crisisAt = l.Mode.Policy.CrisisAt
	}
	suggested := SuggestedQuantity(item)
	a, err := l.Repo.InsertAlert(ctx, tx, domain.StockAlert{
		ItemID:            item.ID,
		Severity:          score,
		Priority:          severity.Priority(score, crisisAt, m),
		Mode:              m,
		SuggestedQuantity: suggested,
		Message: fmt.Sprintf("%s has %d on hand (reorder at %d), suggest ordering %d",
			item.Name, item.Quantity, item.ReorderLevel, suggested),
	})
	if err != nil {
		return nil, err
	}
	if err := l.Events.Append(ctx, tx, events.TypeAlertOpened, "stock_alert", events.ID(a.ID), Actor, events.Payload{
		"item_id":            item.ID,
		"severity":           score,
		"priority":           a.Priority,
		"suggested_quantity": suggested,
		"mode":               m,
	}); err != nil {
		return nil, err
	}
	return &a, nil
}

func urgencyFor(p domain.AlertPriority) notify.Urgency {
	if p == domain.PriorityUrgent {
		return notify.UrgencyHigh
	}
	return notify.UrgencyNormal
}

// ScanInventory appends a stock_alert event for every item at or below its
// reorder level that has neither an open alert nor a queued stock_alert. It
// returns the number queued.
func (l *Loop) ScanInventory(ctx context.Context) (int, error) {
	items, err := l.Repo.LowStockItems(ctx)
	if err != nil {
		return 0, err
	}
	for i, it := range items {
		if _, err := l.Queue.Append(ctx, domain.EventStockAlert, domain.StockSignal{ItemID: it.ID, Source: "scan"}); err != nil {
			return i, err
		}
	}
	if len(items) > 0 {
		l.log().Info("inventory_scan_queued", zap.Int("items", len(items)))
	}
	return len(items), nil
}

// evaluate refreshes the system state inside tx and returns the previous and
// current values.
func (l *Loop) evaluate(ctx context.Context, tx *sql.Tx) (domain.SystemState, domain.SystemState, error) {
	prev, err := l.Repo.GetSystemState(ctx, tx)
	if err != nil {
		return prev, prev, err
	}
	if l.Mode == nil {
		return prev, prev, nil
	}
	st, err := l.Mode.Evaluate(ctx, tx)
	return prev, st, err
}

func (l *Loop) announceMode(prev, st domain.SystemState) {
	if prev.Mode == st.Mode {
		return
	}
	l.notify(notify.Summary{
		Kind:       notify.KindModeChanged,
		Subject:    fmt.Sprintf("System mode %s -> %s", prev.Mode, st.Mode),
		Body:       fmt.Sprintf("severity %d, rolling confidence %.1f over %d decisions", st.Severity, st.RollingConfidence, st.Samples),
		Urgency:    notify.UrgencyHigh,
		EntityKind: "system",
	})
}
