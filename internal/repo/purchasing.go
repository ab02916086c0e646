package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"procureiq/internal/domain"
)

func (r Repo) InsertPurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (domain.PurchaseOrder, error) {
	po.PONumber = strings.TrimSpace(po.PONumber)
	if po.PONumber == "" {
		return po, errors.New("po_number is required")
	}
	if po.Amount < 0 {
		return po, errors.New("amount must be >= 0")
	}
	if _, err := r.GetVendor(ctx, nil, po.VendorID); err != nil {
		return po, fmt.Errorf("vendor %d: %w", po.VendorID, err)
	}
	po.CreatedAt = r.now()
	res, err := r.DB.ExecContext(ctx, `INSERT INTO purchase_orders(po_number,vendor_id,amount,created_at) VALUES (?,?,?,?)`,
		po.PONumber, po.VendorID, po.Amount, po.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return po, fmt.Errorf("po %q: %w", po.PONumber, ErrConflict)
		}
		return po, err
	}
	po.ID, err = res.LastInsertId()
	return po, err
}

func (r Repo) InsertGoodsReceipt(ctx context.Context, poID int64) (domain.GoodsReceipt, error) {
	var exists int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE id=?`, poID).Scan(&exists); err != nil {
		return domain.GoodsReceipt{}, err
	}
	if exists == 0 {
		return domain.GoodsReceipt{}, ErrNotFound
	}
	gr := domain.GoodsReceipt{PurchaseOrderID: poID, ReceivedAt: r.now()}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO goods_receipts(purchase_order_id,received_at) VALUES (?,?)`, poID, gr.ReceivedAt)
	if err != nil {
		return gr, err
	}
	gr.ID, err = res.LastInsertId()
	return gr, err
}

func (r Repo) PurchaseOrdersForVendor(ctx context.Context, vendorID int64) ([]domain.PurchaseOrder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,po_number,vendor_id,amount,created_at FROM purchase_orders WHERE vendor_id=? ORDER BY id DESC`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PurchaseOrder
	for rows.Next() {
		var po domain.PurchaseOrder
		if err := rows.Scan(&po.ID, &po.PONumber, &po.VendorID, &po.Amount, &po.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, po)
	}
	return res, rows.Err()
}

func (r Repo) HasGoodsReceipt(ctx context.Context, poID int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM goods_receipts WHERE purchase_order_id=?`, poID).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	return n > 0, nil
}
