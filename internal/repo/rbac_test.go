package repo_test

import (
	"context"
	"errors"
	"testing"

	"playline/internal/db"
	"playline/internal/domain"
	"playline/internal/migrate"
	"playline/internal/repo"
)

func TestTenantRoleGrants(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	now := "2024-01-01T12:00:00Z"
	for _, tenant := range []string{"t1", "t2"} {
		if err := r.EnsureTenantTx(ctx, nil, tenant, "", now); err != nil {
			t.Fatalf("tenant: %v", err)
		}
	}
	if err := r.InsertUserTx(ctx, nil, domain.User{ID: "curator", TenantID: "t1", CreatedAt: now}); err != nil {
		t.Fatalf("user: %v", err)
	}

	g := domain.TenantRoleGrant{TenantID: "t1", UserID: "curator", Role: domain.TenantRoleAdmin, GrantedBy: "admin", CreatedAt: now}
	for i := 0; i < 2; i++ {
		if err := r.GrantTenantRole(ctx, nil, g); err != nil {
			t.Fatalf("grant %d: %v", i, err)
		}
	}
	if ok, err := r.HasTenantRole(ctx, "t1", "curator", domain.TenantRoleAdmin); err != nil || !ok {
		t.Fatalf("has role in t1: %v %v", ok, err)
	}
	if ok, err := r.HasTenantRole(ctx, "t2", "curator", domain.TenantRoleAdmin); err != nil || ok {
		t.Fatalf("grant leaked into t2: %v %v", ok, err)
	}
	list, err := r.ListTenantRoles(ctx, "t1")
	if err != nil || len(list) != 1 || list[0].GrantedBy != "admin" {
		t.Fatalf("grants = %+v %v", list, err)
	}

	if err := r.RevokeTenantRole(ctx, nil, "t1", "curator", domain.TenantRoleAdmin); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := r.HasTenantRole(ctx, "t1", "curator", domain.TenantRoleAdmin); ok {
		t.Fatalf("role survived revoke")
	}
	if err := r.RevokeTenantRole(ctx, nil, "t1", "curator", domain.TenantRoleAdmin); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second revoke: %v", err)
	}
}
