package procureiqsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal procureiq HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Invoice is the API invoice model (partial).
type Invoice struct {
	ID              int64   `json:"id"`
	InvoiceNumber   string  `json:"invoice_number"`
	VendorID        *int64  `json:"vendor_id,omitempty"`
	RawVendor       string  `json:"raw_vendor"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	ConfidenceScore int     `json:"confidence_score"`
	MatchMethod     string  `json:"match_method"`
	Status          string  `json:"status"`
	Route           string  `json:"route,omitempty"`
	Reasoning       string  `json:"reasoning,omitempty"`
}

// Transition is one status change of an invoice.
type Transition struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Actor      string `json:"actor"`
	Mode       string `json:"mode"`
	Threshold  int    `json:"threshold"`
	Confidence int    `json:"confidence"`
	CreatedAt  string `json:"created_at"`
}

type InvoiceDetail struct {
	Invoice
	Transitions []Transition `json:"transitions"`
}

// Event is a queued or processed agent event.
type Event struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	Payload     string `json:"payload_json"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	WorkerID    string `json:"worker_id,omitempty"`
	Outcome     string `json:"outcome_json,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type Vendor struct {
	ID            int64    `json:"id"`
	CanonicalName string   `json:"canonical_name"`
	Email         string   `json:"email,omitempty"`
	Aliases       []string `json:"aliases"`
	Active        bool     `json:"active"`
}

// SystemState is the agent's current operating mode.
type SystemState struct {
	Mode              string  `json:"mode"`
	Severity          int     `json:"severity"`
	RollingConfidence float64 `json:"rolling_confidence"`
	Samples           int     `json:"samples"`
	LastUpdated       string  `json:"last_updated"`
}

type Status struct {
	State      SystemState    `json:"state"`
	Queue      map[string]int `json:"queue"`
	Invoices   map[string]int `json:"invoices"`
	OpenAlerts int            `json:"open_alerts"`
}

// InvoiceInput is what a producer submits.
type InvoiceInput struct {
	InvoiceNumber string  `json:"invoice_number"`
	VendorName    string  `json:"vendor_name"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	RawText       string  `json:"raw_text,omitempty"`
	Source        string  `json:"source,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor *int64  `json:"next_cursor"`
}

type accepted struct {
	EventID int64 `json:"event_id"`
}

// SubmitInvoice queues an invoice and returns the event id.
func (c *Client) SubmitInvoice(ctx context.Context, in InvoiceInput) (int64, error) {
	var resp accepted
	err := c.do(ctx, http.MethodPost, "invoices", in, &resp)
	return resp.EventID, err
}

// Decide records an approve or reject decision as the authenticated actor.
// vendorID may be nil to approve against the matched vendor.
func (c *Client) Decide(ctx context.Context, invoiceID int64, decision string, vendorID *int64, note string) (int64, error) {
	body := map[string]any{"decision": decision}
	if vendorID != nil {
		body["vendor_id"] = *vendorID
	}
	if note != "" {
		body["note"] = note
	}
	var resp accepted
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("invoices/%d/decision", invoiceID), body, &resp)
	return resp.EventID, err
}

func (c *Client) Invoice(ctx context.Context, id int64) (InvoiceDetail, error) {
	var resp InvoiceDetail
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("invoices/%d", id), nil, &resp)
	return resp, err
}

// Invoices lists invoices, optionally filtered by status.
func (c *Client) Invoices(ctx context.Context, status string, limit int) ([]Invoice, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Items []Invoice `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("invoices", q), nil, &resp)
	return resp.Items, err
}

// UpdateStock queues a stock snapshot. Nil fields keep the stored value.
func (c *Client) UpdateStock(ctx context.Context, itemID int64, quantity *int, supplierAvailable *bool) (int64, error) {
	body := map[string]any{}
	if quantity != nil {
		body["quantity"] = *quantity
	}
	if supplierAvailable != nil {
		body["supplier_available"] = *supplierAvailable
	}
	var resp accepted
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("inventory/%d/stock", itemID), body, &resp)
	return resp.EventID, err
}

// CreatedVendor is a new vendor plus the events that will bind its aliases
// once the agent processes them.
type CreatedVendor struct {
	Vendor
	AliasEventIDs []int64 `json:"alias_event_ids"`
}

func (c *Client) CreateVendor(ctx context.Context, name string, aliases ...string) (CreatedVendor, error) {
	body := map[string]any{"canonical_name": name}
	if len(aliases) > 0 {
		body["aliases"] = aliases
	}
	var resp CreatedVendor
	err := c.do(ctx, http.MethodPost, "vendors", body, &resp)
	return resp, err
}

// AddAlias queues an alias binding and returns the event id.
func (c *Client) AddAlias(ctx context.Context, vendorID int64, alias string) (int64, error) {
	var resp accepted
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("vendors/%d/aliases", vendorID), map[string]any{"alias": alias}, &resp)
	return resp.EventID, err
}

func (c *Client) State(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "state", nil, &resp)
	return resp, err
}

// EventsPage returns a page of events, newest first. cursor 0 starts at the newest.
func (c *Client) EventsPage(ctx context.Context, status string, limit int, cursor int64) (PaginatedEvents, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

// RetryEvent re-queues a failed event and returns the new event id.
func (c *Client) RetryEvent(ctx context.Context, id int64) (int64, error) {
	var resp accepted
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("events/%d/retry", id), nil, &resp)
	return resp.EventID, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
