package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"procureiq/internal/domain"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) now() string {
	if r.Now != nil {
		return r.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (r Repo) q(tx *sql.Tx) DBTX {
	if tx != nil {
		return tx
	}
	return r.DB
}

// --- vendors ---

func (r Repo) InsertVendor(ctx context.Context, tx *sql.Tx, v domain.Vendor) (domain.Vendor, error) {
	name := strings.TrimSpace(v.CanonicalName)
	if name == "" {
		return domain.Vendor{}, errors.New("canonical_name is required")
	}
	v.CanonicalName = name
	v.CreatedAt = r.now()
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO vendors(canonical_name,email,active,created_at) VALUES (?,?,?,?)`,
		v.CanonicalName, nullable(v.Email), boolInt(v.Active), v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Vendor{}, fmt.Errorf("vendor %q: %w", v.CanonicalName, ErrConflict)
		}
		return domain.Vendor{}, err
	}
	v.ID, err = res.LastInsertId()
	if v.Aliases == nil {
		v.Aliases = []string{}
	}
	return v, err
}

func (r Repo) GetVendor(ctx context.Context, tx *sql.Tx, id int64) (domain.Vendor, error) {
	var v domain.Vendor
	var email sql.NullString
	var active int
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,canonical_name,email,active,created_at FROM vendors WHERE id=?`, id).
		Scan(&v.ID, &v.CanonicalName, &email, &active, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Email = email.String
	v.Active = active == 1
	v.Aliases, err = r.vendorAliases(ctx, r.q(tx), v.ID)
	return v, err
}

// ListVendors returns vendors with their aliases; activeOnly filters inactive ones.
func (r Repo) ListVendors(ctx context.Context, activeOnly bool) ([]domain.Vendor, error) {
	query := `SELECT id,canonical_name,email,active,created_at FROM vendors`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	var res []domain.Vendor
	for rows.Next() {
		var v domain.Vendor
		var email sql.NullString
		var active int
		if err := rows.Scan(&v.ID, &v.CanonicalName, &email, &active, &v.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		v.Email = email.String
		v.Active = active == 1
		res = append(res, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	aliases, err := r.allAliases(ctx)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Aliases = aliases[res[i].ID]
		if res[i].Aliases == nil {
			res[i].Aliases = []string{}
		}
	}
	return res, nil
}

func (r Repo) SetVendorActive(ctx context.Context, id int64, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE vendors SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) vendorAliases(ctx context.Context, q DBTX, vendorID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT alias FROM vendor_aliases WHERE vendor_id=? ORDER BY alias`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	aliases := []string{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

func (r Repo) allAliases(ctx context.Context) (map[int64][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT vendor_id, alias FROM vendor_aliases ORDER BY alias`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int64][]string{}
	for rows.Next() {
		var id int64
		var a string
		if err := rows.Scan(&id, &a); err != nil {
			return nil, err
		}
		res[id] = append(res[id], a)
	}
	return res, rows.Err()
}

// --- aliases ---

// AliasVendor returns the vendor bound to a normalized alias.
func (r Repo) AliasVendor(ctx context.Context, tx *sql.Tx, alias string) (int64, error) {
	var id int64
	err := r.q(tx).QueryRowContext(ctx, `SELECT vendor_id FROM vendor_aliases WHERE alias=?`, alias).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

func (r Repo) InsertAlias(ctx context.Context, tx *sql.Tx, a domain.VendorAlias) error {
	if a.CreatedAt == "" {
		a.CreatedAt = r.now()
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO vendor_aliases(alias,vendor_id,learned_from_invoice_id,created_at) VALUES (?,?,?,?)`,
		a.Alias, a.VendorID, nullableInt64(a.LearnedFromInvoiceID), a.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("alias %q: %w", a.Alias, ErrConflict)
	}
	return err
}

func (r Repo) InsertAliasConflict(ctx context.Context, tx *sql.Tx, c domain.AliasConflict) (domain.AliasConflict, error) {
	c.CreatedAt = r.now()
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO alias_conflicts(alias,existing_vendor_id,rejected_vendor_id,invoice_id,created_at) VALUES (?,?,?,?,?)`,
		c.Alias, c.ExistingVendorID, c.RejectedVendorID, nullableInt64(c.InvoiceID), c.CreatedAt)
	if err != nil {
		return c, err
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

func (r Repo) ListAliasConflicts(ctx context.Context) ([]domain.AliasConflict, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,alias,existing_vendor_id,rejected_vendor_id,invoice_id,created_at FROM alias_conflicts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AliasConflict
	for rows.Next() {
		var c domain.AliasConflict
		var invoiceID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Alias, &c.ExistingVendorID, &c.RejectedVendorID, &invoiceID, &c.CreatedAt); err != nil {
			return nil, err
		}
		if invoiceID.Valid {
			c.InvoiceID = &invoiceID.Int64
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
