package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"procureiq/internal/domain"
	"procureiq/internal/engine"
	"procureiq/internal/queue"
	"procureiq/internal/repo"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

type idPath struct {
	ID int64 `path:"id"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerState(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "state",
		Method:      http.MethodGet,
		Path:        "/state",
		Summary:     "Operating mode, queue depth and worker heartbeats",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StateResponse `json:"body"`
	}, error) {
		st, err := e.State(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StateResponse `json:"body"`
		}{Body: st}, nil
	})
}

func registerInvoices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-invoice",
		Method:        http.MethodPost,
		Path:          "/invoices",
		Summary:       "Queue an invoice for matching",
		DefaultStatus: http.StatusAccepted,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body SubmitInvoiceRequest
	}) (*struct {
		Body EventAcceptedResponse `json:"body"`
	}, error) {
		id, err := e.SubmitInvoice(ctx, input.Body.payload())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventAcceptedResponse `json:"body"`
		}{Body: EventAcceptedResponse{EventID: id}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-invoices",
		Method:      http.MethodGet,
		Path:        "/invoices",
		Summary:     "List invoices, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"pending,approved,rejected,escalated"`
		VendorID int64  `query:"vendor_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   int64  `query:"cursor"`
	}) (*struct {
		Body InvoiceListResponse `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := e.ListInvoices(ctx, repo.InvoiceFilters{
			Status:   domain.InvoiceStatus(input.Status),
			VendorID: input.VendorID,
			Limit:    limit + 1,
			BeforeID: input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := InvoiceListResponse{Items: emptyIfNil(items)}
		if len(items) > limit {
			resp.Items = items[:limit]
			next := items[limit-1].ID
			resp.NextCursor = &next
		}
		return &struct {
			Body InvoiceListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-invoice",
		Method:      http.MethodGet,
		Path:        "/invoices/{id}",
		Summary:     "Get an invoice with its decision history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body engine.InvoiceDetail `json:"body"`
	}, error) {
		inv, err := e.GetInvoice(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.InvoiceDetail `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "decide-invoice",
		Method:        http.MethodPost,
		Path:          "/invoices/{id}/decision",
		Summary:       "Record a human approve/reject decision",
		DefaultStatus: http.StatusAccepted,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body DecisionRequest
	}) (*struct {
		Body EventAcceptedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := e.RecordDecision(ctx, domain.DecisionRecorded{
			InvoiceID: input.ID,
			Decision:  domain.Decision(input.Body.Decision),
			VendorID:  input.Body.VendorID,
			Actor:     actorID,
			Note:      input.Body.Note,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventAcceptedResponse `json:"body"`
		}{Body: EventAcceptedResponse{EventID: id}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List queued and processed events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind   string `query:"kind" enum:"invoice_received,stock_alert,decision_recorded"`
		Status string `query:"status" enum:"pending,processing,done,failed"`
		Limit  int    `query:"limit" default:"50"`
		Cursor int64  `query:"cursor"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := e.ListEvents(ctx, queue.Filter{
			Kind:     domain.EventKind(input.Kind),
			Status:   domain.EventStatus(input.Status),
			Limit:    limit + 1,
			BeforeID: input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventListResponse{Items: emptyIfNil(items)}
		if len(items) > limit {
			resp.Items = items[:limit]
			next := items[limit-1].ID
			resp.NextCursor = &next
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{id}",
		Summary:     "Get an event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		evt, err := e.GetEvent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: evt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "retry-event",
		Method:        http.MethodPost,
		Path:          "/events/{id}/retry",
		Summary:       "Re-queue the payload of a failed event",
		DefaultStatus: http.StatusAccepted,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body RetryResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		newID, err := e.RetryEvent(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RetryResponse `json:"body"`
		}{Body: RetryResponse{EventID: newID, RetriedID: input.ID}}, nil
	})
}

func registerVendors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-vendor",
		Method:        http.MethodPost,
		Path:          "/vendors",
		Summary:       "Create a vendor and queue its aliases for binding",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateVendorRequest
	}) (*struct {
		Body engine.VendorCreated `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.CreateVendor(ctx, domain.Vendor{
			CanonicalName: input.Body.CanonicalName,
			Email:         input.Body.Email,
			Aliases:       input.Body.Aliases,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.VendorCreated `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-vendors",
		Method:      http.MethodGet,
		Path:        "/vendors",
		Summary:     "List vendors",
	}, func(ctx context.Context, input *struct {
		ActiveOnly bool `query:"active_only"`
	}) (*struct {
		Body VendorListResponse `json:"body"`
	}, error) {
		items, err := e.ListVendors(ctx, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VendorListResponse `json:"body"`
		}{Body: VendorListResponse{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-vendor",
		Method:      http.MethodGet,
		Path:        "/vendors/{id}",
		Summary:     "Get a vendor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Vendor `json:"body"`
	}, error) {
		v, err := e.GetVendor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Vendor `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-vendor-active",
		Method:      http.MethodPatch,
		Path:        "/vendors/{id}",
		Summary:     "Activate or deactivate a vendor",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			Active bool `json:"active"`
		}
	}) (*struct {
		Body domain.Vendor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetVendorActive(ctx, input.ID, input.Body.Active, actorID); err != nil {
			return nil, handleError(err)
		}
		v, err := e.GetVendor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Vendor `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-vendor-alias",
		Method:        http.MethodPost,
		Path:          "/vendors/{id}/aliases",
		Summary:       "Queue an alias binding for a vendor",
		DefaultStatus: http.StatusAccepted,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body AddAliasRequest
	}) (*struct {
		Body EventAcceptedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := e.AddAlias(ctx, input.ID, input.Body.Alias, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventAcceptedResponse `json:"body"`
		}{Body: EventAcceptedResponse{EventID: id}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-alias-conflicts",
		Method:      http.MethodGet,
		Path:        "/alias-conflicts",
		Summary:     "Aliases that were claimed by more than one vendor",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.AliasConflict `json:"body"`
	}, error) {
		items, err := e.ListAliasConflicts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AliasConflict `json:"body"`
		}{Body: emptyIfNil(items)}, nil
	})
}

func registerInventory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/inventory",
		Summary:       "Add an inventory item",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateItemRequest
	}) (*struct {
		Body domain.InventoryItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.AddItem(ctx, input.Body.item(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.InventoryItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/inventory",
		Summary:     "List inventory items",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ItemListResponse `json:"body"`
	}, error) {
		items, err := e.ListItems(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemListResponse `json:"body"`
		}{Body: ItemListResponse{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "update-stock",
		Method:        http.MethodPost,
		Path:          "/inventory/{id}/stock",
		Summary:       "Queue a stock snapshot for an item",
		DefaultStatus: http.StatusAccepted,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body StockUpdateRequest
	}) (*struct {
		Body EventAcceptedResponse `json:"body"`
	}, error) {
		id, err := e.UpdateStock(ctx, domain.StockSignal{
			ItemID:            input.ID,
			Quantity:          input.Body.Quantity,
			SupplierAvailable: input.Body.SupplierAvailable,
			Source:            "api",
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventAcceptedResponse `json:"body"`
		}{Body: EventAcceptedResponse{EventID: id}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "List stock alerts",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"open,approved,dismissed"`
		ItemID int64  `query:"item_id"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body AlertListResponse `json:"body"`
	}, error) {
		items, err := e.ListAlerts(ctx, repo.AlertFilters{
			Status: domain.AlertStatus(input.Status),
			ItemID: input.ItemID,
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AlertListResponse `json:"body"`
		}{Body: AlertListResponse{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-alert",
		Method:        http.MethodPost,
		Path:          "/alerts/{id}/{action}",
		Summary:       "Approve or dismiss an open stock alert",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID     int64  `path:"id"`
		Action string `path:"action" enum:"approve,dismiss"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		status := domain.AlertApproved
		if input.Action == "dismiss" {
			status = domain.AlertDismissed
		}
		if err := e.CloseAlert(ctx, input.ID, status, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPurchasing(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-purchase-order",
		Method:        http.MethodPost,
		Path:          "/purchase-orders",
		Summary:       "Record a purchase order",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreatePurchaseOrderRequest
	}) (*struct {
		Body domain.PurchaseOrder `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		po, err := e.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
			PONumber: input.Body.PONumber,
			VendorID: input.Body.VendorID,
			Amount:   input.Body.Amount,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PurchaseOrder `json:"body"`
		}{Body: po}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-receipt",
		Method:        http.MethodPost,
		Path:          "/purchase-orders/{id}/receipt",
		Summary:       "Record goods received against a purchase order",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.GoodsReceipt `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		gr, err := e.RecordReceipt(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GoodsReceipt `json:"body"`
		}{Body: gr}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit entries, newest first",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body AuditListResponse `json:"body"`
	}, error) {
		items, err := e.ListAudit(ctx, repo.AuditFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditListResponse `json:"body"`
		}{Body: AuditListResponse{Items: emptyIfNil(items)}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	type createdKey struct {
		domain.APIKey
		Key string `json:"key"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key for the calling actor",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name string `json:"name,omitempty"`
		}
	}) (*struct {
		Body createdKey `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, secret, err := e.CreateAPIKey(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body createdKey `json:"body"`
		}{Body: createdKey{APIKey: key, Key: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		keys, err := e.ListAPIKeys(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: emptyIfNil(keys)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
