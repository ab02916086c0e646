package domain

// InvoiceReceived is the payload of an invoice_received event.
type InvoiceReceived struct {
	InvoiceNumber string  `json:"invoice_number"`
	VendorName    string  `json:"vendor_name"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	RawText       string  `json:"raw_text,omitempty"`
	Source        string  `json:"source,omitempty"`
}

// StockSignal is the payload of a stock_alert event. Nil fields keep the
// stored item value.
type StockSignal struct {
	ItemID            int64  `json:"item_id"`
	Quantity          *int   `json:"quantity,omitempty"`
	SupplierAvailable *bool  `json:"supplier_available,omitempty"`
	Source            string `json:"source,omitempty"`
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	// DecisionBindAlias is an operator binding Alias to VendorID outside any
	// invoice. InvoiceID is zero.
	DecisionBindAlias Decision = "bind_alias"
)

// DecisionRecorded is the payload of a decision_recorded event.
type DecisionRecorded struct {
	InvoiceID int64    `json:"invoice_id"`
	Decision  Decision `json:"decision"`
	VendorID  *int64   `json:"vendor_id,omitempty"`
	Actor     string   `json:"actor"`
	Note      string   `json:"note,omitempty"`
	Alias     string   `json:"alias,omitempty"`
}
