package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"procureiq/internal/app"
	"procureiq/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "piq",
	Short: "procureiq CLI",
	Long: `procureiq runs an autonomous procurement agent over a local workspace.
- Producers (this CLI, the HTTP API, the SDK) append events: invoices, stock snapshots, human decisions.
- The agent claims one event at a time, matches vendors (alias, AI providers, fuzzy), routes invoices
  to auto-approval, review or escalation, and raises stock alerts scored by severity.
- The operating mode (normal, crisis, safe) follows stock severity and recent match confidence.
- Everything the agent decides is in the audit log ('piq audit').`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loadDotEnv(viper.GetString("workspace"))
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROCUREIQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("actor-id", "local-user", "actor identifier recorded on writes")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "console", "log format (json or console)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(matchCmd())
	rootCmd.AddCommand(vendorCmd())
	rootCmd.AddCommand(inventoryCmd())
	rootCmd.AddCommand(alertCmd())
	rootCmd.AddCommand(poCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(auditCmd())
}

// loadDotEnv loads <workspace>/.env without overriding variables already set.
func loadDotEnv(workspace string) {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath, workerID string
	var withAgent, allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server, optionally with the agent loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:        viper.GetString("jwt-secret"),
						AllowActorHeader: allowActorHeader,
					},
					Metrics: a.Metrics,
					Logger:  a.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				agentDone := make(chan error, 1)
				if withAgent {
					go func() { agentDone <- runAgent(ctx, a, workerID) }()
				} else {
					close(agentDone)
				}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("http_listening",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.Bool("agent", withAgent))
				fmt.Printf("Serving procureiq API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return <-agentDone
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&withAgent, "with-agent", false, "run the agent loop in the same process")
	cmd.Flags().StringVar(&workerID, "worker-id", "", "agent worker id (default host-pid-random)")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (local use only)")
	_ = viper.BindEnv("jwt-secret", "PROCUREIQ_JWT_SECRET")
	return cmd
}

func agentCmd() *cobra.Command {
	ag := &cobra.Command{Use: "agent", Short: "Run the agent loop"}
	var workerID string
	run := &cobra.Command{
		Use:   "run",
		Short: "Claim and process events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runAgent(ctx, a, workerID)
			})
		},
	}
	run.Flags().StringVar(&workerID, "worker-id", "", "worker id (default host-pid-random)")
	var once int
	drain := &cobra.Command{
		Use:   "drain",
		Short: "Process pending events and exit when the queue is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d := a.Dispatcher()
				defer d.Close()
				loop := a.Loop(app.WorkerID(workerID), a.Pipeline(nil), d)
				loop.Housekeeping(ctx)
				n := 0
				for once <= 0 || n < once {
					ok, err := loop.Cycle(ctx)
					if err != nil {
						return err
					}
					if !ok {
						break
					}
					n++
				}
				fmt.Printf("processed %d event(s)\n", n)
				return nil
			})
		},
	}
	drain.Flags().StringVar(&workerID, "worker-id", "", "worker id (default host-pid-random)")
	drain.Flags().IntVar(&once, "max", 0, "stop after this many events (0 = until empty)")
	ag.AddCommand(run, drain)
	return ag
}

func runAgent(ctx context.Context, a *app.App, workerID string) error {
	d := a.Dispatcher()
	defer d.Close()
	loop := a.Loop(app.WorkerID(workerID), a.Pipeline(nil), d)
	return loop.Run(ctx)
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

// printJSONOrTable prints v as JSON under --json, otherwise renders a table
// with the given header and rows.
func printJSONOrTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") || header == nil {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}
