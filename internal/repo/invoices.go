package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"procureiq/internal/domain"
)

const invoiceColumns = `id,invoice_number,vendor_id,raw_vendor,amount,currency,confidence_score,match_method,status,route,reasoning,extracted_json,decided,created_at,updated_at`

func scanInvoice(row interface{ Scan(...any) error }) (domain.Invoice, error) {
	var inv domain.Invoice
	var vendorID sql.NullInt64
	var method, status, route string
	var decided int
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &vendorID, &inv.RawVendor, &inv.Amount, &inv.Currency, &inv.ConfidenceScore,
		&method, &status, &route, &inv.Reasoning, &inv.ExtractedData, &decided, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return inv, err
	}
	if vendorID.Valid {
		inv.VendorID = &vendorID.Int64
	}
	inv.MatchMethod = domain.MatchMethod(method)
	inv.Status = domain.InvoiceStatus(status)
	inv.Route = domain.Route(route)
	inv.Decided = decided == 1
	return inv, nil
}

// EnsureInvoice returns the invoice with the given number, inserting it when
// missing. created reports whether a row was inserted.
func (r Repo) EnsureInvoice(ctx context.Context, tx *sql.Tx, inv domain.Invoice) (domain.Invoice, bool, error) {
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		return domain.Invoice{}, false, errors.New("invoice_number is required")
	}
	existing, err := r.GetInvoiceByNumber(ctx, tx, inv.InvoiceNumber)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.Invoice{}, false, err
	}
	now := r.now()
	if inv.Currency == "" {
		inv.Currency = "USD"
	}
	if inv.ExtractedData == "" {
		inv.ExtractedData = "{}"
	}
	if inv.MatchMethod == "" {
		inv.MatchMethod = domain.MethodManual
	}
	inv.Status = domain.InvoicePending
	inv.CreatedAt, inv.UpdatedAt = now, now
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO invoices(invoice_number,raw_vendor,amount,currency,match_method,status,extracted_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		inv.InvoiceNumber, inv.RawVendor, inv.Amount, inv.Currency, string(inv.MatchMethod), string(inv.Status), inv.ExtractedData, now, now)
	if err != nil {
		return domain.Invoice{}, false, fmt.Errorf("insert invoice: %w", err)
	}
	inv.ID, err = res.LastInsertId()
	return inv, true, err
}

func (r Repo) GetInvoice(ctx context.Context, tx *sql.Tx, id int64) (domain.Invoice, error) {
	inv, err := scanInvoice(r.q(tx).QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	return inv, err
}

func (r Repo) GetInvoiceByNumber(ctx context.Context, tx *sql.Tx, number string) (domain.Invoice, error) {
	inv, err := scanInvoice(r.q(tx).QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE invoice_number=?`, number))
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	return inv, err
}

type InvoiceFilters struct {
	Status   domain.InvoiceStatus
	VendorID int64
	Limit    int
	BeforeID int64
}

func (r Repo) ListInvoices(ctx context.Context, f InvoiceFilters) ([]domain.Invoice, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.VendorID > 0 {
		clauses = append(clauses, "vendor_id=?")
		args = append(args, f.VendorID)
	}
	if f.BeforeID > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.BeforeID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

// InvoiceUpdate is the decision written back to an invoice.
type InvoiceUpdate struct {
	ID         int64
	From       domain.InvoiceStatus
	To         domain.InvoiceStatus
	Route      domain.Route
	VendorID   *int64
	Confidence int
	Method     domain.MatchMethod
	Reasoning  string
	Actor      string
	Mode       domain.Mode
	Threshold  int
	Note       string
}

// ApplyDecision updates the invoice only if it is still in From and appends a
// transition row. ErrConflict means another writer moved it first.
func (r Repo) ApplyDecision(ctx context.Context, tx *sql.Tx, u InvoiceUpdate) error {
	if u.To == domain.InvoiceApproved && u.VendorID == nil {
		return errors.New("approval requires a vendor")
	}
	now := r.now()
	res, err := r.q(tx).ExecContext(ctx, `UPDATE invoices SET status=?, route=?, vendor_id=?, confidence_score=?, match_method=?, reasoning=?, decided=1, updated_at=? WHERE id=? AND status=?`,
		string(u.To), string(u.Route), nullableInt64(u.VendorID), u.Confidence, string(u.Method), u.Reasoning, now, u.ID, string(u.From))
	if err != nil {
		return fmt.Errorf("update invoice %d: %w", u.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("invoice %d not in status %s: %w", u.ID, u.From, ErrConflict)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO invoice_transitions(invoice_id,from_status,to_status,route,actor,mode,threshold,confidence,note,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		u.ID, string(u.From), string(u.To), string(u.Route), u.Actor, string(u.Mode), u.Threshold, u.Confidence, u.Note, now)
	return err
}

func (r Repo) ListTransitions(ctx context.Context, invoiceID int64) ([]domain.InvoiceTransition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,invoice_id,from_status,to_status,route,actor,mode,threshold,confidence,note,created_at FROM invoice_transitions WHERE invoice_id=? ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InvoiceTransition
	for rows.Next() {
		var t domain.InvoiceTransition
		var from, to, route, mode string
		if err := rows.Scan(&t.ID, &t.InvoiceID, &from, &to, &route, &t.Actor, &mode, &t.Threshold, &t.Confidence, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.From, t.To, t.Route, t.Mode = domain.InvoiceStatus(from), domain.InvoiceStatus(to), domain.Route(route), domain.Mode(mode)
		res = append(res, t)
	}
	return res, rows.Err()
}

// RecentConfidences returns the confidence of the last n automated decisions,
// newest first.
func (r Repo) RecentConfidences(ctx context.Context, tx *sql.Tx, n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT confidence FROM invoice_transitions WHERE actor='agent' ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []int
	for rows.Next() {
		var c int
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountInvoicesByStatus is used by the status views.
func (r Repo) CountInvoicesByStatus(ctx context.Context) (map[domain.InvoiceStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM invoices GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.InvoiceStatus]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		res[domain.InvoiceStatus(s)] = n
	}
	return res, rows.Err()
}
