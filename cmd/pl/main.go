package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"playline/internal/app"
	"playline/internal/config"
	"playline/internal/db"
	"playline/internal/engine"
	"playline/internal/events"
	"playline/internal/migrate"
	"playline/internal/repo"
	"playline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Playline CLI",
	Long: `Playline runs live, host-directed play sessions.
Core concepts:
- Workspace: the directory holding the SQLite database; tenant configs live in the DB and are imported explicitly.
- Tenant: the organisation owning games, hosts and sessions.
- Game: imported content (steps, phases, roles, artifacts, triggers) a session can be run against.
- Session: one live run with a short join code; statuses go active -> paused/locked -> ended -> archived.
- Participant: a player who joined with the code and holds a participant token.
- Signal: a short typed message between host and participants (ready, help, pause, ...).
- Board: the read-only spectator projection of a session, watch it with 'pl board watch'.
- Event log: every session change, view with 'pl log tail'.`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLAYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "acting user id")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id (defaults to the only tenant)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(participantCmd())
	rootCmd.AddCommand(signalCmd())
	rootCmd.AddCommand(gameCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(codeCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTenants(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Created"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	var id string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant with its default config and an admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tenantID, cfg, err := app.ResolveTenantAndConfig(ctx, strings.TrimSpace(id), viper.GetString("actor-id"), r)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"tenant_id": tenantID, "config": cfg})
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "tenant id")
	_ = create.MarkFlagRequired("id")
	cmd.AddCommand(create)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage tenant configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the tenant config stored in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default playline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			tenantID := viper.GetString("tenant")
			if tenantID == "" {
				tenantID = "default"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(tenantID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	var file string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate a YAML config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	validate.Flags().StringVar(&file, "file", "", "path to YAML config (defaults to the workspace playline.yml)")
	cmd.AddCommand(validate)

	var importPath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import a YAML config into the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(importPath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tenantID := e.Config.Tenant.ID
				cfg.Tenant.ID = tenantID
				if err := e.Repo.UpsertTenantConfig(ctx, tenantID, cfg); err != nil {
					return err
				}
				if err := e.Repo.SetQuotaLimit(ctx, tenantID, cfg.Quota.NoExpiryTokensLimit); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	importCmd.Flags().StringVar(&importPath, "file", "", "path to YAML config")
	_ = importCmd.MarkFlagRequired("file")
	cmd.AddCommand(importCmd)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the session event log"}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail <session-id>",
		Short: "Show the latest events of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.SessionID = args[0]
				f.Newest = true
				items, err := e.Repo.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Time", "Type", "Actor", "Payload"})
				for _, evt := range items {
					payload, _ := json.Marshal(evt.Payload)
					actor := evt.ActorType
					if evt.ActorID != "" {
						actor += ":" + evt.ActorID
					}
					tw.AppendRow(table.Row{evt.ID, evt.Timestamp, evt.Type, actor, string(payload)})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.TypeContains, "type-contains", "", "event type substring filter")
	cmd.AddCommand(tail)
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, noSweep, noWebhooks bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.LoadServerEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				env.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				env.BasePath = basePath
			}
			if cmd.Flags().Changed("dev-login") {
				env.DevLogin = devLogin
			}
			env.DisableSweep = env.DisableSweep || noSweep
			env.WebhooksOff = env.WebhooksOff || noWebhooks
			if env.JWTSecret == "" {
				return fmt.Errorf("PLAYLINE_JWT_SECRET is required for bearer auth")
			}
			tenant := viper.GetString("tenant")
			if tenant == "" {
				tenant = env.TenantID
			}
			actor := viper.GetString("actor-id")
			if !cmd.Flags().Changed("actor-id") && env.AdminUserID != "" {
				actor = env.AdminUserID
			}

			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveTenantAndConfig(cmd.Context(), tenant, actor, r)
			if err != nil {
				return err
			}
			logger := log.New(os.Stderr, "playline: ", log.LstdFlags)
			e := engine.New(conn, cfg)
			e.Logger = logger

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: env.BasePath,
				Logger:   logger,
				Auth: server.AuthConfig{
					JWTSecret: env.JWTSecret,
					DevLogin:  env.DevLogin,
					TokenTTL:  env.TokenTTL,
					Logger:    logger,
				},
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if !env.DisableSweep {
				sw := engine.NewSweeper(e)
				if env.ArchiveSweep > 0 {
					sw.ArchiveInterval = env.ArchiveSweep
				}
				go sw.Run(ctx)
			}
			if !env.WebhooksOff {
				if d := server.NewWebhookDispatcher(e); d != nil {
					d.Logger = logger
					go d.Run(ctx)
				}
			}

			srv := &http.Server{Addr: env.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				_ = srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Playline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at %s/docs)\n", env.Addr, env.BasePath, env.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "disable the delayed-action and archive sweeper")
	cmd.Flags().BoolVar(&noWebhooks, "no-webhooks", false, "disable webhook delivery")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		_, cfg, err := app.ResolveTenantAndConfig(ctx, viper.GetString("tenant"), viper.GetString("actor-id"), r)
		if err != nil {
			return err
		}
		return fn(ctx, engine.New(r.DB, cfg))
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func hostActor() events.Actor {
	return engine.HostActor(viper.GetString("actor-id"))
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
