package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"procureiq/internal/domain"
)

const itemColumns = `id,sku,name,quantity,reorder_level,reorder_quantity,supplier_id,supplier_available,updated_at`

func scanItem(row interface{ Scan(...any) error }) (domain.InventoryItem, error) {
	var it domain.InventoryItem
	var supplier sql.NullInt64
	var available int
	if err := row.Scan(&it.ID, &it.SKU, &it.Name, &it.Quantity, &it.ReorderLevel, &it.ReorderQuantity, &supplier, &available, &it.UpdatedAt); err != nil {
		return it, err
	}
	if supplier.Valid {
		it.SupplierID = &supplier.Int64
	}
	it.SupplierAvailable = available == 1
	return it, nil
}

func (r Repo) InsertItem(ctx context.Context, it domain.InventoryItem) (domain.InventoryItem, error) {
	it.SKU = strings.TrimSpace(it.SKU)
	if it.SKU == "" {
		return it, errors.New("sku is required")
	}
	if strings.TrimSpace(it.Name) == "" {
		it.Name = it.SKU
	}
	if it.ReorderLevel < 0 || it.ReorderQuantity < 0 {
		return it, errors.New("reorder_level and reorder_quantity must be >= 0")
	}
	it.UpdatedAt = r.now()
	res, err := r.DB.ExecContext(ctx, `INSERT INTO inventory_items(sku,name,quantity,reorder_level,reorder_quantity,supplier_id,supplier_available,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		it.SKU, it.Name, it.Quantity, it.ReorderLevel, it.ReorderQuantity, nullableInt64(it.SupplierID), boolInt(it.SupplierAvailable), it.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return it, fmt.Errorf("sku %q: %w", it.SKU, ErrConflict)
		}
		return it, err
	}
	it.ID, err = res.LastInsertId()
	return it, err
}

func (r Repo) GetItem(ctx context.Context, tx *sql.Tx, id int64) (domain.InventoryItem, error) {
	it, err := scanItem(r.q(tx).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

func (r Repo) ListItems(ctx context.Context, tx *sql.Tx) ([]domain.InventoryItem, error) {
	return r.queryItems(ctx, tx, `SELECT `+itemColumns+` FROM inventory_items ORDER BY id`)
}

// LowStockItems returns items at or below their reorder level that have no
// open alert.
func (r Repo) LowStockItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return r.queryItems(ctx, nil, `SELECT `+itemColumns+` FROM inventory_items i
		WHERE i.quantity <= i.reorder_level
		AND NOT EXISTS (SELECT 1 FROM stock_alerts a WHERE a.item_id=i.id AND a.status='open')
		AND NOT EXISTS (SELECT 1 FROM events e WHERE e.kind='stock_alert' AND e.status IN ('pending','processing')
			AND json_extract(e.payload_json,'$.item_id')=i.id)
		ORDER BY i.id`)
}

func (r Repo) queryItems(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]domain.InventoryItem, error) {
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InventoryItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// UpdateStock applies a stock snapshot; nil fields keep the stored value.
func (r Repo) UpdateStock(ctx context.Context, tx *sql.Tx, id int64, quantity *int, supplierAvailable *bool) (domain.InventoryItem, error) {
	it, err := r.GetItem(ctx, tx, id)
	if err != nil {
		return it, err
	}
	if quantity != nil {
		it.Quantity = *quantity
	}
	if supplierAvailable != nil {
		it.SupplierAvailable = *supplierAvailable
	}
	it.UpdatedAt = r.now()
	_, err = r.q(tx).ExecContext(ctx, `UPDATE inventory_items SET quantity=?, supplier_available=?, updated_at=? WHERE id=?`,
		it.Quantity, boolInt(it.SupplierAvailable), it.UpdatedAt, id)
	return it, err
}

// --- alerts ---

func (r Repo) HasOpenAlert(ctx context.Context, tx *sql.Tx, itemID int64) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_alerts WHERE item_id=? AND status='open'`, itemID).Scan(&n)
	return n > 0, err
}

func (r Repo) InsertAlert(ctx context.Context, tx *sql.Tx, a domain.StockAlert) (domain.StockAlert, error) {
	a.CreatedAt = r.now()
	if a.Status == "" {
		a.Status = domain.AlertOpen
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO stock_alerts(item_id,severity,priority,mode,suggested_quantity,message,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ItemID, a.Severity, string(a.Priority), string(a.Mode), a.SuggestedQuantity, a.Message, string(a.Status), a.CreatedAt)
	if err != nil {
		return a, fmt.Errorf("insert alert: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return a, err
}

type AlertFilters struct {
	Status domain.AlertStatus
	ItemID int64
	Limit  int
}

func (r Repo) ListAlerts(ctx context.Context, f AlertFilters) ([]domain.StockAlert, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.ItemID > 0 {
		clauses = append(clauses, "item_id=?")
		args = append(args, f.ItemID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,item_id,severity,priority,mode,suggested_quantity,message,status,created_at FROM stock_alerts ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StockAlert
	for rows.Next() {
		var a domain.StockAlert
		var priority, mode, status string
		if err := rows.Scan(&a.ID, &a.ItemID, &a.Severity, &priority, &mode, &a.SuggestedQuantity, &a.Message, &status, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Priority, a.Mode, a.Status = domain.AlertPriority(priority), domain.Mode(mode), domain.AlertStatus(status)
		res = append(res, a)
	}
	return res, rows.Err()
}

// SetAlertStatus closes an open alert.
func (r Repo) SetAlertStatus(ctx context.Context, id int64, status domain.AlertStatus) error {
	if status != domain.AlertApproved && status != domain.AlertDismissed {
		return fmt.Errorf("invalid alert status %q", status)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE stock_alerts SET status=? WHERE id=? AND status='open'`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current string
		err := r.DB.QueryRowContext(ctx, `SELECT status FROM stock_alerts WHERE id=?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("alert %d is %s: %w", id, current, ErrConflict)
	}
	return nil
}
