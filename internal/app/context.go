package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"playline/internal/config"
	"playline/internal/domain"
	"playline/internal/repo"
)

// ResolveTenantAndConfig picks the active tenant and ensures the tenant and
// its config exist in the database, seeding defaults when missing. It
// prefers the override, then a single-tenant database. A new tenant is
// created on the fly with actorID as its first system admin.
func ResolveTenantAndConfig(ctx context.Context, tenantOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	tenantID := tenantOverride
	if tenantID == "" {
		t, err := r.SingleTenant(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("tenant not specified; use --tenant")
		}
		tenantID = t.ID
	}
	seedCfg := config.Default(tenantID)

	if _, err := r.GetTenant(ctx, tenantID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createTenant(ctx, r, tenantID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetTenantConfig(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := r.UpsertTenantConfig(ctx, tenantID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed tenant config: %w", err)
		}
		cfg = seedCfg
	}
	cfg.Tenant.ID = tenantID
	return tenantID, cfg, nil
}

func createTenant(ctx context.Context, r repo.Repo, tenantID string, seedCfg *config.Config, actorID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsureTenantTx(ctx, tx, tenantID, seedCfg.Tenant.Name, now); err != nil {
		return fmt.Errorf("ensure tenant: %w", err)
	}
	if err := r.UpsertTenantConfigTx(ctx, tx, tenantID, seedCfg); err != nil {
		return fmt.Errorf("insert tenant config: %w", err)
	}
	if actorID == "" {
		actorID = "local-admin"
	}
	if err := r.InsertUserTx(ctx, tx, domain.User{
		ID:         actorID,
		TenantID:   tenantID,
		GlobalRole: domain.GlobalRoleSystemAdmin,
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("insert admin user: %w", err)
	}
	return tx.Commit()
}
