package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codeblue/internal/app"
	"codeblue/internal/config"
	"codeblue/internal/db"
	"codeblue/internal/domain"
	"codeblue/internal/engine"
	"codeblue/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cb",
	Short: "Code Blue CLI",
	Long: `Code Blue escalates hospital emergencies to the on-call roster.
Starting a hotline calls every roster member with an interactive voice prompt
(press 1 to accept, 2 to decline), retries the unresponsive over escalating
tiers, falls back to a secondary messaging channel, and finally sends a call
status report to the operations contact.

State lives in the .codeblue workspace database. Carrier credentials come
from TWILIO_ACCOUNT_SID / TWILIO_AUTH_TOKEN; without them dispatches run in
log-only mode.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CODEBLUE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(rosterCmd())
	rootCmd.AddCommand(hotlineCmd())
	rootCmd.AddCommand(incidentCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default codeblue.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			return printJSON(cfg)
		},
	}
}

func rosterCmd() *cobra.Command {
	roster := &cobra.Command{Use: "roster", Short: "Manage the on-call roster"}
	roster.AddCommand(rosterListCmd())
	roster.AddCommand(rosterAddCmd())
	roster.AddCommand(rosterRemoveCmd())
	return roster
}

func rosterListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List roster members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMembers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("NAME", "PHONE", "ADDED")
				for _, m := range items {
					t.AppendRow(table.Row{m.Name, m.Phone, m.CreatedAt})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
}

func rosterAddCmd() *cobra.Command {
	var phone, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a roster member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if phone == "" || name == "" {
				return fmt.Errorf("--phone and --name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddMember(ctx, phone, name)
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "phone number in E.164 form")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func rosterRemoveCmd() *cobra.Command {
	var phone string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a roster member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if phone == "" {
				return fmt.Errorf("--phone required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveMember(ctx, phone)
			})
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	return cmd
}

func hotlineCmd() *cobra.Command {
	hotline := &cobra.Command{Use: "hotline", Short: "Escalation runs"}
	hotline.AddCommand(hotlineStartCmd())
	return hotline
}

func hotlineStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start an escalation run against the current roster",
		Long: `Dispatches tier-1 calls immediately and blocks until the whole
timeline (retries, secondary messages, report) has run. Callback events only
arrive when 'cb serve' is reachable at the configured callbacks.base_url.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := e.StartEscalation(ctx)
				if err != nil {
					return err
				}
				fmt.Println("incident", id, "started; timeline running")
				waitForReport(ctx, e, id)
				return nil
			})
		},
	}
}

// waitForReport keeps the process alive until the incident's report is out,
// since the timeline runs on a goroutine owned by this process.
func waitForReport(ctx context.Context, e engine.Engine, id string) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inc, err := e.Repo.GetIncident(ctx, id)
			if err != nil {
				continue
			}
			if inc.ReportedAt != nil {
				fmt.Println("incident", id, "reported at", *inc.ReportedAt)
				return
			}
		}
	}
}

func incidentCmd() *cobra.Command {
	inc := &cobra.Command{Use: "incident", Short: "Inspect incidents"}
	inc.AddCommand(incidentShowCmd())
	return inc
}

func incidentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show an incident (latest when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var id string
				if len(args) == 1 {
					id = args[0]
				}
				inc, err := resolve(ctx, e, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(inc)
				}
				t := newTable("PHONE", "STATUS", "TIER", "DISPATCH REF")
				for _, entry := range inc.Entries {
					ref := ""
					if entry.DispatchRef != nil {
						ref = *entry.DispatchRef
					}
					t.AppendRow(table.Row{entry.Phone, entry.Status, entry.AttemptTier, ref})
				}
				fmt.Println("incident:", inc.ID, "created:", inc.CreatedAt)
				fmt.Println(t.Render())
				return nil
			})
		},
	}
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Call status reports"}
	rep.AddCommand(reportShowCmd())
	return rep
}

func reportShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [incident-id]",
		Short: "Show the call status report (latest incident when no id)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var id string
				if len(args) == 1 {
					id = args[0]
				}
				rows, err := e.ReportRows(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				t := newTable("NAME", "PHONE", "STATUS", "TIER")
				for _, r := range rows {
					t.AppendRow(table.Row{r.Name, r.Phone, r.Status, r.Tier})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, incidentID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.LatestEvents(ctx, n, incidentID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("TS", "TYPE", "INCIDENT", "CONTACT", "PAYLOAD")
				for _, ev := range items {
					t.AppendRow(table.Row{ev.TS, ev.Type, ev.IncidentID, ev.Contact, ev.Payload})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&incidentID, "incident", "", "incident id filter")
	return cmd
}

type serveOptions struct {
	Addr            string        `mapstructure:"addr"`
	BasePath        string        `mapstructure:"base-path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and callback server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts serveOptions
			if err := viper.Unmarshal(&opts, viper.DecodeHook(
				mapstructure.StringToTimeDurationHookFunc(),
			)); err != nil {
				return err
			}
			rt, err := app.Bootstrap(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()
			handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: opts.BasePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: opts.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Code Blue API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", opts.Addr, opts.BasePath, opts.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:3001", "listen address")
	cmd.Flags().String("base-path", "/v1", "API base path")
	cmd.Flags().Duration("shutdown-timeout", 5*time.Second, "graceful shutdown timeout")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("base-path", cmd.Flags().Lookup("base-path"))
	_ = viper.BindPFlag("shutdown-timeout", cmd.Flags().Lookup("shutdown-timeout"))
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := app.Bootstrap(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

func resolve(ctx context.Context, e engine.Engine, id string) (domain.Incident, error) {
	if id != "" {
		return e.Repo.GetIncident(ctx, id)
	}
	return e.Repo.LatestIncident(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(cols ...any) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(cols))
	return t
}
