package app

import (
	"context"
	"testing"

	"playline/internal/db"
	"playline/internal/domain"
	"playline/internal/migrate"
	"playline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func TestResolveTenantCreatesTenantAndAdmin(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	if _, _, err := ResolveTenantAndConfig(ctx, "", "alice", r); err == nil {
		t.Fatalf("expected error without tenant in an empty database")
	}
	tenantID, cfg, err := ResolveTenantAndConfig(ctx, "acme", "alice", r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tenantID != "acme" || cfg.Tenant.ID != "acme" {
		t.Fatalf("unexpected tenant %s / %s", tenantID, cfg.Tenant.ID)
	}
	u, err := r.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.GlobalRole != domain.GlobalRoleSystemAdmin || u.TenantID != "acme" {
		t.Fatalf("unexpected admin: %+v", u)
	}

	// A single tenant is picked without an override.
	again, _, err := ResolveTenantAndConfig(ctx, "", "alice", r)
	if err != nil || again != "acme" {
		t.Fatalf("single tenant lookup: %s %v", again, err)
	}
}

func TestResolveTenantKeepsStoredConfig(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	_, cfg, err := ResolveTenantAndConfig(ctx, "acme", "", r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	cfg.Quota.NoExpiryTokensLimit = 7
	if err := r.UpsertTenantConfig(ctx, "acme", cfg); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_, got, err := ResolveTenantAndConfig(ctx, "acme", "", r)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if got.Quota.NoExpiryTokensLimit != 7 {
		t.Fatalf("stored config not used: %d", got.Quota.NoExpiryTokensLimit)
	}
}
