package domain

type EventKind string

const (
	EventInvoiceReceived  EventKind = "invoice_received"
	EventStockAlert       EventKind = "stock_alert"
	EventDecisionRecorded EventKind = "decision_recorded"
)

type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventDone       EventStatus = "done"
	EventFailed     EventStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s EventStatus) Terminal() bool {
	return s == EventDone || s == EventFailed
}

type Event struct {
	ID          int64       `json:"id"`
	Kind        EventKind   `json:"kind" enum:"invoice_received,stock_alert,decision_recorded"`
	Payload     string      `json:"payload_json"`
	Status      EventStatus `json:"status" enum:"pending,processing,done,failed"`
	Attempts    int         `json:"attempts"`
	WorkerID    string      `json:"worker_id,omitempty"`
	Outcome     string      `json:"outcome_json,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   string      `json:"created_at" format:"date-time"`
	ClaimedAt   *string     `json:"claimed_at,omitempty" format:"date-time"`
	CompletedAt *string     `json:"completed_at,omitempty" format:"date-time"`
}

type Vendor struct {
	ID            int64    `json:"id"`
	CanonicalName string   `json:"canonical_name"`
	Email         string   `json:"email,omitempty"`
	Aliases       []string `json:"aliases"`
	Active        bool     `json:"active"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
}

type VendorAlias struct {
	Alias                string `json:"alias"`
	VendorID             int64  `json:"vendor_id"`
	LearnedFromInvoiceID *int64 `json:"learned_from_invoice_id,omitempty"`
	CreatedAt            string `json:"created_at" format:"date-time"`
}

type AliasConflict struct {
	ID               int64  `json:"id"`
	Alias            string `json:"alias"`
	ExistingVendorID int64  `json:"existing_vendor_id"`
	RejectedVendorID int64  `json:"rejected_vendor_id"`
	InvoiceID        *int64 `json:"invoice_id,omitempty"`
	CreatedAt        string `json:"created_at" format:"date-time"`
}

type MatchMethod string

const (
	MethodAlias      MatchMethod = "alias"
	MethodPrimaryAI  MatchMethod = "primary-ai"
	MethodFallbackAI MatchMethod = "fallback-ai"
	MethodFuzzy      MatchMethod = "fuzzy"
	MethodManual     MatchMethod = "manual"
)

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoiceApproved  InvoiceStatus = "approved"
	InvoiceRejected  InvoiceStatus = "rejected"
	InvoiceEscalated InvoiceStatus = "escalated"
)

// Route is the automated routing outcome attached to an invoice.
type Route string

const (
	RouteNone     Route = ""
	RouteAuto     Route = "auto"
	RouteReview   Route = "review"
	RouteEscalate Route = "escalate"
)

type Invoice struct {
	ID              int64         `json:"id"`
	InvoiceNumber   string        `json:"invoice_number"`
	VendorID        *int64        `json:"vendor_id,omitempty"`
	RawVendor       string        `json:"raw_vendor"`
	Amount          float64       `json:"amount"`
	Currency        string        `json:"currency"`
	ConfidenceScore int           `json:"confidence_score" minimum:"0" maximum:"100"`
	MatchMethod     MatchMethod   `json:"match_method"`
	Status          InvoiceStatus `json:"status" enum:"pending,approved,rejected,escalated"`
	Route           Route         `json:"route,omitempty"`
	Reasoning       string        `json:"reasoning,omitempty"`
	ExtractedData   string        `json:"extracted_json,omitempty"`
	Decided         bool          `json:"decided"`
	CreatedAt       string        `json:"created_at" format:"date-time"`
	UpdatedAt       string        `json:"updated_at" format:"date-time"`
}

// Open reports whether the invoice still accepts a human decision.
func (i Invoice) Open() bool {
	return i.Status == InvoicePending || i.Status == InvoiceEscalated
}

type InvoiceTransition struct {
	ID         int64         `json:"id"`
	InvoiceID  int64         `json:"invoice_id"`
	From       InvoiceStatus `json:"from"`
	To         InvoiceStatus `json:"to"`
	Route      Route         `json:"route,omitempty"`
	Actor      string        `json:"actor"`
	Mode       Mode          `json:"mode"`
	Threshold  int           `json:"threshold"`
	Confidence int           `json:"confidence"`
	Note       string        `json:"note,omitempty"`
	CreatedAt  string        `json:"created_at" format:"date-time"`
}

type MatchResult struct {
	Confidence int         `json:"confidence"`
	Method     MatchMethod `json:"method"`
	Reasoning  string      `json:"reasoning"`
	VendorID   *int64      `json:"vendor_id,omitempty"`
}

type Mode string

const (
	ModeNormal Mode = "normal"
	ModeCrisis Mode = "crisis"
	ModeSafe   Mode = "safe"
)

type SystemState struct {
	Mode              Mode    `json:"mode" enum:"normal,crisis,safe"`
	Severity          int     `json:"severity" minimum:"0" maximum:"10"`
	RollingConfidence float64 `json:"rolling_confidence"`
	Samples           int     `json:"samples"`
	LastUpdated       string  `json:"last_updated" format:"date-time"`
}

type InventoryItem struct {
	ID                int64  `json:"id"`
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	Quantity          int    `json:"quantity"`
	ReorderLevel      int    `json:"reorder_level"`
	ReorderQuantity   int    `json:"reorder_quantity"`
	SupplierID        *int64 `json:"supplier_id,omitempty"`
	SupplierAvailable bool   `json:"supplier_available"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

type AlertPriority string

const (
	PriorityNormal AlertPriority = "normal"
	PriorityUrgent AlertPriority = "urgent"
)

type AlertStatus string

const (
	AlertOpen      AlertStatus = "open"
	AlertApproved  AlertStatus = "approved"
	AlertDismissed AlertStatus = "dismissed"
)

type StockAlert struct {
	ID                int64         `json:"id"`
	ItemID            int64         `json:"item_id"`
	Severity          int           `json:"severity"`
	Priority          AlertPriority `json:"priority" enum:"normal,urgent"`
	Mode              Mode          `json:"mode"`
	SuggestedQuantity int           `json:"suggested_quantity"`
	Message           string        `json:"message"`
	Status            AlertStatus   `json:"status" enum:"open,approved,dismissed"`
	CreatedAt         string        `json:"created_at" format:"date-time"`
}

type PurchaseOrder struct {
	ID        int64   `json:"id"`
	PONumber  string  `json:"po_number"`
	VendorID  int64   `json:"vendor_id"`
	Amount    float64 `json:"amount"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type GoodsReceipt struct {
	ID              int64  `json:"id"`
	PurchaseOrderID int64  `json:"purchase_order_id"`
	ReceivedAt      string `json:"received_at" format:"date-time"`
}

type Heartbeat struct {
	WorkerID      string `json:"worker_id"`
	Status        string `json:"status"`
	Cycles        int64  `json:"cycles"`
	LastHeartbeat string `json:"last_heartbeat" format:"date-time"`
}

type AuditEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates a producer or reviewer. Only the hash is stored.
type APIKey struct {
	ID        string  `json:"id"`
	Actor     string  `json:"actor"`
	Name      string  `json:"name,omitempty"`
	KeyHash   string  `json:"-"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	RevokedAt *string `json:"revoked_at,omitempty" format:"date-time"`
}
