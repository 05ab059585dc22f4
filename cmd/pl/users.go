package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"playline/internal/domain"
	"playline/internal/engine"
	"playline/internal/engine/auth"
	"playline/internal/repo"
	"playline/internal/server"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage host users"}
	cmd.AddCommand(userListCmd())
	cmd.AddCommand(userCreateCmd())
	cmd.AddCommand(userRoleCmd())
	cmd.AddCommand(userTokenCmd())
	cmd.AddCommand(userGrantCmd())
	cmd.AddCommand(userRevokeCmd())
	cmd.AddCommand(userGrantsCmd())
	return cmd
}

// requireAdmin loads the acting user and rejects non system admins.
func requireAdmin(ctx context.Context, e engine.Engine) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, viper.GetString("actor-id"))
	if err != nil {
		return domain.User{}, fmt.Errorf("load actor: %w", err)
	}
	if !u.IsSystemAdmin() {
		return domain.User{}, auth.ForbiddenError{Reason: "system_admin required"}
	}
	return u, nil
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users of the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUsers(ctx, e.Config.Tenant.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Role", "Created"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.DisplayName, u.GlobalRole, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userCreateCmd() *cobra.Command {
	var id, name string
	var admin bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a host user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := requireAdmin(ctx, e); err != nil {
					return err
				}
				u := domain.User{
					ID:          id,
					TenantID:    e.Config.Tenant.ID,
					DisplayName: name,
					GlobalRole:  domain.GlobalRoleMember,
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if admin {
					u.GlobalRole = domain.GlobalRoleSystemAdmin
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.InsertUserTx(ctx, tx, u); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant system_admin")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func userRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "role <user-id> <member|system_admin>",
		Short:     "Change a user's global role",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{domain.GlobalRoleMember, domain.GlobalRoleSystemAdmin},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := requireAdmin(ctx, e); err != nil {
					return err
				}
				if err := e.Repo.SetGlobalRole(ctx, args[0], args[1]); err != nil {
					return err
				}
				u, err := e.Repo.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func userGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "grant <user-id> tenant_admin",
		Short:     "Grant a tenant-scoped role in the workspace tenant",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{domain.TenantRoleAdmin},
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[1] != domain.TenantRoleAdmin {
				return fmt.Errorf("unknown tenant role %q", args[1])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				admin, err := requireAdmin(ctx, e)
				if err != nil {
					return err
				}
				if _, err := e.Repo.GetUser(ctx, args[0]); err != nil {
					return fmt.Errorf("load user %s: %w", args[0], err)
				}
				g := domain.TenantRoleGrant{
					TenantID:  e.Config.Tenant.ID,
					UserID:    args[0],
					Role:      args[1],
					GrantedBy: admin.ID,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.GrantTenantRole(ctx, nil, g); err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
}

func userRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <user-id> tenant_admin",
		Short: "Revoke a tenant-scoped role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := requireAdmin(ctx, e); err != nil {
					return err
				}
				return e.Repo.RevokeTenantRole(ctx, nil, e.Config.Tenant.ID, args[0], args[1])
			})
		},
	}
}

func userGrantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grants",
		Short: "List tenant-scoped role grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTenantRoles(ctx, e.Config.Tenant.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"User", "Role", "Granted by", "At"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.UserID, g.Role, g.GrantedBy, g.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint a bearer token signed with PLAYLINE_JWT_SECRET",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("PLAYLINE_JWT_SECRET is required")
			}
			userID := viper.GetString("actor-id")
			if len(args) == 1 {
				userID = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUser(ctx, userID)
				if err != nil {
					return err
				}
				now := time.Now()
				token, err := server.SignToken(secret, u, ttl, now)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token, "expires_at": now.Add(ttl).UTC().Format(time.RFC3339)})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "api-key", Short: "Manage host API keys"}

	var userID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the plain key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				owner := userID
				if owner == "" {
					owner = viper.GetString("actor-id")
				}
				if owner != viper.GetString("actor-id") {
					if _, err := requireAdmin(ctx, e); err != nil {
						return err
					}
				}
				if _, err := e.Repo.GetUser(ctx, owner); err != nil {
					return fmt.Errorf("load user %s: %w", owner, err)
				}
				plain, err := newAPIKey()
				if err != nil {
					return err
				}
				key := domain.APIKey{ID: uuid.NewString(), UserID: owner, Name: name, KeyHash: repo.HashAPIKey(plain)}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "user_id": owner, "key": plain})
			})
		},
	}
	create.Flags().StringVar(&userID, "user", "", "owner (defaults to the acting user)")
	create.Flags().StringVar(&name, "name", "", "label")
	cmd.AddCommand(create)

	var listUser string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				owner := listUser
				if owner == "" {
					owner = viper.GetString("actor-id")
				}
				items, err := r.ListAPIKeys(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listUser, "user", "", "owner (defaults to the acting user)")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return cmd
}

func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "plk_" + hex.EncodeToString(buf), nil
}
