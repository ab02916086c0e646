package server

import (
	"procureiq/internal/domain"
	"procureiq/internal/engine"
)

// Request payloads

type SubmitInvoiceRequest struct {
	InvoiceNumber string  `json:"invoice_number" minLength:"1"`
	VendorName    string  `json:"vendor_name" minLength:"1"`
	Amount        float64 `json:"amount" minimum:"0"`
	Currency      string  `json:"currency,omitempty"`
	RawText       string  `json:"raw_text,omitempty"`
	Source        string  `json:"source,omitempty"`
}

type DecisionRequest struct {
	Decision string `json:"decision" enum:"approve,reject"`
	VendorID *int64 `json:"vendor_id,omitempty"`
	Note     string `json:"note,omitempty"`
}

type CreateVendorRequest struct {
	CanonicalName string   `json:"canonical_name" minLength:"1"`
	Email         string   `json:"email,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
}

type AddAliasRequest struct {
	Alias string `json:"alias" minLength:"1"`
}

type CreateItemRequest struct {
	SKU               string `json:"sku" minLength:"1"`
	Name              string `json:"name,omitempty"`
	Quantity          int    `json:"quantity" minimum:"0"`
	ReorderLevel      int    `json:"reorder_level" minimum:"0"`
	ReorderQuantity   int    `json:"reorder_quantity,omitempty" minimum:"0"`
	SupplierID        *int64 `json:"supplier_id,omitempty"`
	SupplierAvailable *bool  `json:"supplier_available,omitempty"`
}

type StockUpdateRequest struct {
	Quantity          *int  `json:"quantity,omitempty"`
	SupplierAvailable *bool `json:"supplier_available,omitempty"`
}

type CreatePurchaseOrderRequest struct {
	PONumber string  `json:"po_number" minLength:"1"`
	VendorID int64   `json:"vendor_id"`
	Amount   float64 `json:"amount" minimum:"0"`
}

// Response payloads

type EventAcceptedResponse struct {
	EventID int64 `json:"event_id"`
}

type RetryResponse struct {
	EventID   int64 `json:"event_id"`
	RetriedID int64 `json:"retried_event_id"`
}

type InvoiceListResponse struct {
	Items      []domain.Invoice `json:"items"`
	NextCursor *int64           `json:"next_cursor,omitempty"`
}

type EventListResponse struct {
	Items      []domain.Event `json:"items"`
	NextCursor *int64         `json:"next_cursor,omitempty"`
}

type VendorListResponse struct {
	Items []domain.Vendor `json:"items"`
}

type ItemListResponse struct {
	Items []domain.InventoryItem `json:"items"`
}

type AlertListResponse struct {
	Items []domain.StockAlert `json:"items"`
}

type AuditListResponse struct {
	Items []domain.AuditEntry `json:"items"`
}

type StateResponse = engine.Status

func (r SubmitInvoiceRequest) payload() domain.InvoiceReceived {
	return domain.InvoiceReceived{
		InvoiceNumber: r.InvoiceNumber,
		VendorName:    r.VendorName,
		Amount:        r.Amount,
		Currency:      r.Currency,
		RawText:       r.RawText,
		Source:        defaultString(r.Source, "api"),
	}
}

func (r CreateItemRequest) item() domain.InventoryItem {
	available := true
	if r.SupplierAvailable != nil {
		available = *r.SupplierAvailable
	}
	return domain.InventoryItem{
		SKU:               r.SKU,
		Name:              r.Name,
		Quantity:          r.Quantity,
		ReorderLevel:      r.ReorderLevel,
		ReorderQuantity:   r.ReorderQuantity,
		SupplierID:        r.SupplierID,
		SupplierAvailable: available,
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
