package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"procureiq/internal/app"
	"procureiq/internal/config"
	"procureiq/internal/domain"
	"procureiq/internal/matching"
	"procureiq/internal/queue"
	"procureiq/internal/repo"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printAccepted(id int64) error {
	if viper.GetBool("json") {
		return printJSON(map[string]int64{"event_id": id})
	}
	fmt.Printf("queued event %d\n", id)
	return nil
}

// --- invoices ---

func invoiceCmd() *cobra.Command {
	inv := &cobra.Command{Use: "invoice", Short: "Submit, inspect and decide invoices"}
	inv.AddCommand(invoiceSubmitCmd(), invoiceListCmd(), invoiceShowCmd(), invoiceDecideCmd())
	return inv
}

func invoiceSubmitCmd() *cobra.Command {
	var in domain.InvoiceReceived
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue an invoice for the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Source = "cli"
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Engine.SubmitInvoice(ctx, in)
				if err != nil {
					return err
				}
				return printAccepted(id)
			})
		},
	}
	cmd.Flags().StringVar(&in.InvoiceNumber, "number", "", "invoice number")
	cmd.Flags().StringVar(&in.VendorName, "vendor", "", "vendor name as printed on the invoice")
	cmd.Flags().Float64Var(&in.Amount, "amount", 0, "invoice amount")
	cmd.Flags().StringVar(&in.Currency, "currency", "USD", "currency code")
	cmd.Flags().StringVar(&in.RawText, "text", "", "raw invoice text passed to providers")
	_ = cmd.MarkFlagRequired("number")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

func invoiceListCmd() *cobra.Command {
	var f repo.InvoiceFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List invoices, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.InvoiceStatus(status)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListInvoices(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, i := range items {
					rows = append(rows, table.Row{i.ID, i.InvoiceNumber, i.RawVendor, deref(i.VendorID), i.Amount, i.Status, i.ConfidenceScore, i.MatchMethod})
				}
				return printJSONOrTable(items, table.Row{"ID", "Number", "Vendor (raw)", "Vendor ID", "Amount", "Status", "Confidence", "Method"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, approved, rejected, escalated)")
	cmd.Flags().Int64Var(&f.VendorID, "vendor-id", 0, "vendor filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func invoiceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an invoice with its decision history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				inv, err := a.Engine.GetInvoice(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(inv)
			})
		},
	}
}

func invoiceDecideCmd() *cobra.Command {
	var vendorID int64
	var note string
	cmd := &cobra.Command{
		Use:   "decide <id> <approve|reject>",
		Short: "Record a human decision on an open invoice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			d := domain.DecisionRecorded{
				InvoiceID: id,
				Decision:  domain.Decision(args[1]),
				Actor:     actorID(),
				Note:      note,
			}
			if cmd.Flags().Changed("vendor-id") {
				d.VendorID = &vendorID
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evtID, err := a.Engine.RecordDecision(ctx, d)
				if err != nil {
					return err
				}
				return printAccepted(evtID)
			})
		},
	}
	cmd.Flags().Int64Var(&vendorID, "vendor-id", 0, "vendor to approve against (defaults to the matched vendor)")
	cmd.Flags().StringVar(&note, "note", "", "note stored on the transition")
	return cmd
}

func matchCmd() *cobra.Command {
	var facts matching.Facts
	cmd := &cobra.Command{
		Use:   "match <vendor name>",
		Short: "Run the matching pipeline without queuing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res := a.Pipeline(nil).Match(ctx, args[0], facts)
				return printJSONOrTable(res,
					table.Row{"Vendor ID", "Confidence", "Method", "Reasoning"},
					[]table.Row{{deref(res.VendorID), res.Confidence, res.Method, res.Reasoning}})
			})
		},
	}
	cmd.Flags().Float64Var(&facts.Amount, "amount", 0, "invoice amount for three-way weighting")
	cmd.Flags().StringVar(&facts.Currency, "currency", "USD", "currency code")
	return cmd
}

// --- vendors ---

func vendorCmd() *cobra.Command {
	v := &cobra.Command{Use: "vendor", Short: "Manage vendors and aliases"}
	v.AddCommand(vendorCreateCmd(), vendorListCmd(), vendorAliasCmd(), vendorActiveCmd(), vendorConflictsCmd())
	return v
}

func vendorCreateCmd() *cobra.Command {
	var v domain.Vendor
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a vendor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Engine.CreateVendor(ctx, v, actorID())
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	cmd.Flags().StringVar(&v.CanonicalName, "name", "", "canonical vendor name")
	cmd.Flags().StringVar(&v.Email, "email", "", "contact email")
	cmd.Flags().StringSliceVar(&v.Aliases, "alias", nil, "alias (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func vendorListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vendors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListVendors(ctx, activeOnly)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, v := range items {
					rows = append(rows, table.Row{v.ID, v.CanonicalName, v.Active, len(v.Aliases)})
				}
				return printJSONOrTable(items, table.Row{"ID", "Name", "Active", "Aliases"}, rows)
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active vendors")
	return cmd
}

func vendorAliasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alias <vendor-id> <alias>",
		Short: "Queue an alias binding for the agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evtID, err := a.Engine.AddAlias(ctx, id, args[1], actorID())
				if err != nil {
					return err
				}
				return printAccepted(evtID)
			})
		},
	}
}

func vendorActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-active <vendor-id> <true|false>",
		Short: "Activate or deactivate a vendor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			active, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid active value %q", args[1])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.SetVendorActive(ctx, id, active, actorID())
			})
		},
	}
}

func vendorConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List aliases claimed by more than one vendor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListAliasConflicts(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, c := range items {
					rows = append(rows, table.Row{c.ID, c.Alias, c.ExistingVendorID, c.RejectedVendorID, deref(c.InvoiceID), c.CreatedAt})
				}
				return printJSONOrTable(items, table.Row{"ID", "Alias", "Bound to", "Rejected", "Invoice", "At"}, rows)
			})
		},
	}
}

// --- inventory ---

func inventoryCmd() *cobra.Command {
	inv := &cobra.Command{Use: "inventory", Short: "Manage inventory items and stock"}
	inv.AddCommand(inventoryAddCmd(), inventoryListCmd(), inventorySetCmd(), inventoryScanCmd())
	return inv
}

func inventoryAddCmd() *cobra.Command {
	var it domain.InventoryItem
	var supplierID int64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an inventory item",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("supplier-id") {
				it.SupplierID = &supplierID
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Engine.AddItem(ctx, it, actorID())
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	cmd.Flags().StringVar(&it.SKU, "sku", "", "stock keeping unit")
	cmd.Flags().StringVar(&it.Name, "name", "", "display name")
	cmd.Flags().IntVar(&it.Quantity, "quantity", 0, "current quantity")
	cmd.Flags().IntVar(&it.ReorderLevel, "reorder-level", 0, "alert at or below this quantity")
	cmd.Flags().IntVar(&it.ReorderQuantity, "reorder-quantity", 0, "suggested order size")
	cmd.Flags().Int64Var(&supplierID, "supplier-id", 0, "supplying vendor")
	cmd.Flags().BoolVar(&it.SupplierAvailable, "supplier-available", true, "supplier can currently deliver")
	_ = cmd.MarkFlagRequired("sku")
	return cmd
}

func inventoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List inventory items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListItems(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.ID, it.SKU, it.Name, it.Quantity, it.ReorderLevel, it.SupplierAvailable})
				}
				return printJSONOrTable(items, table.Row{"ID", "SKU", "Name", "Qty", "Reorder at", "Supplier ok"}, rows)
			})
		},
	}
}

func inventorySetCmd() *cobra.Command {
	var qty int
	var available bool
	cmd := &cobra.Command{
		Use:   "set <item-id>",
		Short: "Queue a stock snapshot for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s := domain.StockSignal{ItemID: id, Source: "cli"}
			if cmd.Flags().Changed("quantity") {
				s.Quantity = &qty
			}
			if cmd.Flags().Changed("supplier-available") {
				s.SupplierAvailable = &available
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evtID, err := a.Engine.UpdateStock(ctx, s)
				if err != nil {
					return err
				}
				return printAccepted(evtID)
			})
		},
	}
	cmd.Flags().IntVar(&qty, "quantity", 0, "new quantity")
	cmd.Flags().BoolVar(&available, "supplier-available", true, "supplier availability")
	return cmd
}

func inventoryScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Queue stock events for every item at or below its reorder level",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				loop := a.Loop(app.WorkerID(""), a.Pipeline(nil), nil)
				n, err := loop.ScanInventory(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("queued %d stock event(s)\n", n)
				return nil
			})
		},
	}
}

// --- alerts and purchasing ---

func alertCmd() *cobra.Command {
	al := &cobra.Command{Use: "alert", Short: "Review stock alerts"}
	var f repo.AlertFilters
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List stock alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.AlertStatus(status)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListAlerts(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, sa := range items {
					rows = append(rows, table.Row{sa.ID, sa.ItemID, sa.Severity, sa.Priority, sa.Mode, sa.SuggestedQuantity, sa.Status})
				}
				return printJSONOrTable(items, table.Row{"ID", "Item", "Severity", "Priority", "Mode", "Suggested", "Status"}, rows)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "open", "status filter (open, approved, dismissed; empty for all)")
	list.Flags().Int64Var(&f.ItemID, "item-id", 0, "item filter")
	al.AddCommand(list, closeAlertCmd("approve", domain.AlertApproved), closeAlertCmd("dismiss", domain.AlertDismissed))
	return al
}

func closeAlertCmd(verb string, status domain.AlertStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <alert-id>",
		Short: verb + " an open alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.CloseAlert(ctx, id, status, actorID())
			})
		},
	}
}

func poCmd() *cobra.Command {
	po := &cobra.Command{Use: "po", Short: "Record purchase orders and goods receipts"}
	var in domain.PurchaseOrder
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a purchase order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Engine.CreatePurchaseOrder(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	add.Flags().StringVar(&in.PONumber, "number", "", "purchase order number")
	add.Flags().Int64Var(&in.VendorID, "vendor-id", 0, "vendor id")
	add.Flags().Float64Var(&in.Amount, "amount", 0, "order amount")
	_ = add.MarkFlagRequired("number")
	_ = add.MarkFlagRequired("vendor-id")
	receive := &cobra.Command{
		Use:   "receive <po-id>",
		Short: "Record goods received for a purchase order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				gr, err := a.Engine.RecordReceipt(ctx, id, actorID())
				if err != nil {
					return err
				}
				return printJSON(gr)
			})
		},
	}
	po.AddCommand(add, receive)
	return po
}

// --- events, state, audit ---

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Inspect the event store"}
	var f queue.Filter
	var kind, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Kind = domain.EventKind(kind)
			f.Status = domain.EventStatus(status)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, e := range items {
					rows = append(rows, table.Row{e.ID, e.Kind, e.Status, e.Attempts, e.WorkerID, e.CreatedAt, e.Error})
				}
				return printJSONOrTable(items, table.Row{"ID", "Kind", "Status", "Attempts", "Worker", "Created", "Error"}, rows)
			})
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "kind filter")
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().IntVar(&f.Limit, "limit", 50, "max rows")

	show := &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evt, err := a.Engine.GetEvent(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(evt)
			})
		},
	}
	retry := &cobra.Command{
		Use:   "retry <event-id>",
		Short: "Re-queue the payload of a failed event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				newID, err := a.Engine.RetryEvent(ctx, id, actorID())
				if err != nil {
					return err
				}
				return printAccepted(newID)
			})
		},
	}
	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Return stale processing claims to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				loop := a.Loop(app.WorkerID(""), a.Pipeline(nil), nil)
				ids, err := loop.RecoverStale(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"requeued": ids})
				}
				fmt.Printf("requeued %d event(s)\n", len(ids))
				return nil
			})
		},
	}
	ev.AddCommand(list, show, retry, recoverCmd)
	return ev
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show operating mode, queue depth and workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.State(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("mode: %s  severity: %d  rolling confidence: %.1f (%d samples)\n",
					st.State.Mode, st.State.Severity, st.State.RollingConfidence, st.State.Samples)
				fmt.Printf("queue: pending=%d processing=%d done=%d failed=%d  open alerts: %d\n",
					st.Queue[domain.EventPending], st.Queue[domain.EventProcessing], st.Queue[domain.EventDone], st.Queue[domain.EventFailed], st.OpenAlerts)
				rows := make([]table.Row, 0, len(st.Workers))
				for _, w := range st.Workers {
					rows = append(rows, table.Row{w.WorkerID, w.Status, w.Cycles, w.LastHeartbeat})
				}
				return printJSONOrTable(st.Workers, table.Row{"Worker", "Status", "Cycles", "Last heartbeat"}, rows)
			})
		},
	}
}

func auditCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListAudit(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, e := range items {
					rows = append(rows, table.Row{e.ID, e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID})
				}
				return printJSONOrTable(items, table.Row{"ID", "At", "Type", "Kind", "Entity", "Actor"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "entry type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	cmd.Flags().IntVar(&f.Limit, "n", 50, "number of entries")
	return cmd
}

// --- config and api keys ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage procureiq.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default procureiq.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.DefaultYAML), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	var full bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			if full {
				return yaml.NewEncoder(os.Stdout).Encode(c)
			}
			status := c.Status()
			keys := make([]string, 0, len(status))
			for k := range status {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			rows := make([]table.Row, 0, len(keys))
			for _, k := range keys {
				rows = append(rows, table.Row{k, status[k]})
			}
			return printJSONOrTable(status, table.Row{"Setting", "Value"}, rows)
		},
	}
	show.Flags().BoolVar(&full, "full", false, "print the full YAML")
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate procureiq.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cfg.AddCommand(initCmd, show, validate)
	return cfg
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	var name string
	var save bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				key, secret, err := a.Engine.CreateAPIKey(ctx, actorID(), name)
				if err != nil {
					return err
				}
				if save {
					if err := saveEnv(filepath.Join(a.Workspace, ".env"), "PROCUREIQ_API_KEY", secret); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor": key.Actor, "key": secret})
				}
				fmt.Printf("api key %s for %s (shown once):\n%s\n", key.ID, key.Actor, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	create.Flags().BoolVar(&save, "save", false, "store the key as PROCUREIQ_API_KEY in the workspace .env")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(keys))
				for _, key := range keys {
					rows = append(rows, table.Row{key.ID, key.Actor, key.Name, key.CreatedAt, deref(key.RevokedAt)})
				}
				return printJSONOrTable(keys, table.Row{"ID", "Actor", "Name", "Created", "Revoked"}, rows)
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.RevokeAPIKey(ctx, args[0], actorID())
			})
		},
	}
	k.AddCommand(create, list, revoke)
	return k
}

// saveEnv sets key=value in a dotenv file, keeping the other entries.
func saveEnv(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}
