package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gatekeeperhq/gatekeeper/internal/keys"
	"github.com/gatekeeperhq/gatekeeper/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTenantCreateAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tn, err := s.CreateTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if tn.ID == uuid.Nil {
		t.Error("expected non-nil tenant ID")
	}

	if _, err := s.CreateTenant(ctx, "acme"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate name: got %v, want ErrDuplicate", err)
	}

	tenants, err := s.ListTenants(ctx)
	if err != nil {
		t.Fatalf("ListTenants: %v", err)
	}
	if len(tenants) != 1 || tenants[0].Name != "acme" {
		t.Errorf("unexpected tenants: %+v", tenants)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tn, err := s.CreateTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	raw, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	hash := keys.Hash(raw)

	k, err := s.CreateAPIKey(ctx, tn.ID, hash, keys.Prefix(raw), 10, 60)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got.ID != k.ID || got.TenantID != tn.ID {
		t.Errorf("lookup mismatch: got %+v", got)
	}
	if got.Revoked() {
		t.Error("new key should not be revoked")
	}

	if _, err := s.GetAPIKeyByHash(ctx, keys.Hash("gk_nonexistent")); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown hash: got %v, want ErrNotFound", err)
	}

	// Revoke, then verify the very next lookup observes it.
	already, err := s.RevokeAPIKey(ctx, k.ID)
	if err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if already {
		t.Error("first revoke should not report already revoked")
	}

	got, err = s.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetAPIKeyByHash after revoke: %v", err)
	}
	if !got.Revoked() {
		t.Error("lookup after revoke must observe revocation")
	}

	already, err = s.RevokeAPIKey(ctx, k.ID)
	if err != nil {
		t.Fatalf("second RevokeAPIKey: %v", err)
	}
	if !already {
		t.Error("second revoke should report already revoked")
	}
}

func TestUsageRecordDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tn, _ := s.CreateTenant(ctx, "acme")
	now := time.Now().UTC()

	rec := &model.UsageRecord{
		RequestID: "req-1",
		TenantID:  &tn.ID,
		ClientIP:  "192.0.2.1",
		Method:    "GET",
		Endpoint:  "/api/things",
		Status:    200,
		LatencyMs: 12,
		Timestamp: now,
	}

	if err := s.InsertUsageRecord(ctx, rec); err != nil {
		t.Fatalf("InsertUsageRecord: %v", err)
	}
	// Duplicate delivery must be absorbed, not double-counted.
	if err := s.InsertUsageRecord(ctx, rec); err != nil {
		t.Fatalf("duplicate InsertUsageRecord: %v", err)
	}

	n, err := s.CountUsageRecords(ctx, tn.ID)
	if err != nil {
		t.Fatalf("CountUsageRecords: %v", err)
	}
	if n != 1 {
		t.Errorf("record count: got %d, want 1", n)
	}
}

func TestUsageSummaryAndTopEndpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tn, _ := s.CreateTenant(ctx, "acme")
	keyID := uuid.New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	insert := func(id, endpoint string, status int, latency int64) {
		t.Helper()
		err := s.InsertUsageRecord(ctx, &model.UsageRecord{
			RequestID: id,
			TenantID:  &tn.ID,
			KeyID:     &keyID,
			ClientIP:  "192.0.2.1",
			Method:    "GET",
			Endpoint:  endpoint,
			Status:    status,
			LatencyMs: latency,
			Timestamp: base,
		})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	insert("r1", "/api/a", 200, 10)
	insert("r2", "/api/a", 200, 20)
	insert("r3", "/api/a", 429, 5)
	insert("r4", "/api/b", 401, 3)

	from := base.Add(-time.Hour)
	to := base.Add(time.Hour)

	sum, err := s.UsageSummary(ctx, tn.ID, from, to)
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if sum.Total != 4 {
		t.Errorf("total: got %d, want 4", sum.Total)
	}
	if sum.ByStatus["200"] != 2 || sum.ByStatus["429"] != 1 || sum.ByStatus["401"] != 1 {
		t.Errorf("by status: got %v", sum.ByStatus)
	}
	if sum.Unauthorized != 1 || sum.RateLimited != 1 {
		t.Errorf("unauthorized=%d rate_limited=%d, want 1 and 1", sum.Unauthorized, sum.RateLimited)
	}
	if want := (10.0 + 20.0 + 5.0 + 3.0) / 4.0; sum.AvgLatencyMs != want {
		t.Errorf("avg latency: got %v, want %v", sum.AvgLatencyMs, want)
	}

	// Re-querying the same window must be deterministic.
	again, err := s.UsageSummary(ctx, tn.ID, from, to)
	if err != nil {
		t.Fatalf("UsageSummary again: %v", err)
	}
	if again.Total != sum.Total || again.AvgLatencyMs != sum.AvgLatencyMs {
		t.Error("repeated query returned different results")
	}

	top, err := s.TopEndpoints(ctx, tn.ID, 10, from, to)
	if err != nil {
		t.Fatalf("TopEndpoints: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("top endpoints: got %d rows, want 2", len(top))
	}
	if top[0].Endpoint != "/api/a" || top[0].Count != 3 {
		t.Errorf("top[0]: got %+v", top[0])
	}
	if want := 1.0 / 3.0; top[0].ErrorRate != want {
		t.Errorf("top[0] error rate: got %v, want %v", top[0].ErrorRate, want)
	}

	byKey, err := s.UsageByKey(ctx, tn.ID, from, to)
	if err != nil {
		t.Fatalf("UsageByKey: %v", err)
	}
	if len(byKey) != 1 || byKey[0].KeyID != keyID || byKey[0].Count != 4 {
		t.Errorf("by key: got %+v", byKey)
	}
}

func TestAdminAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("HasAnyAdmin: %v", err)
	}
	if has {
		t.Error("fresh store should have no admins")
	}

	if _, err := s.CreateAdmin(ctx, "ops@example.com", "$2a$10$hash"); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if _, err := s.CreateAdmin(ctx, "ops@example.com", "$2a$10$hash"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate admin: got %v, want ErrDuplicate", err)
	}

	a, err := s.GetAdminByEmail(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("GetAdminByEmail: %v", err)
	}
	if a.Email != "ops@example.com" {
		t.Errorf("email: got %q", a.Email)
	}
}
