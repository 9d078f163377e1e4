package pipeline

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gatekeeperhq/gatekeeper/internal/abuse"
	"github.com/gatekeeperhq/gatekeeper/internal/blocklist"
	"github.com/gatekeeperhq/gatekeeper/internal/counter"
	"github.com/gatekeeperhq/gatekeeper/internal/keys"
	"github.com/gatekeeperhq/gatekeeper/internal/model"
	"github.com/gatekeeperhq/gatekeeper/internal/ratelimit"
	"github.com/gatekeeperhq/gatekeeper/internal/service"
	"github.com/gatekeeperhq/gatekeeper/internal/store"
	"github.com/gatekeeperhq/gatekeeper/internal/usage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memorySink collects usage records for assertions.
type memorySink struct {
	mu      sync.Mutex
	records []*model.UsageRecord
}

func (s *memorySink) InsertUsageRecord(_ context.Context, rec *model.UsageRecord) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

type fixture struct {
	pipeline *Pipeline
	store    *store.Store
	blocks   *blocklist.Memory
	recorder *usage.Recorder
	sink     *memorySink
	now      *time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	now := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	f := &fixture{now: &now}

	s, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	f.store = s

	counters := counter.NewMemory(counter.WithClock(func() time.Time { return *f.now }))
	t.Cleanup(func() { counters.Close() })

	f.blocks = blocklist.NewMemoryWithClock(func() time.Time { return *f.now })

	logger := discardLogger()
	monitor := abuse.NewMonitor(counters, f.blocks,
		abuse.Config{Threshold: 5, Window: time.Minute, BlockTTL: 10 * time.Minute}, logger)
	guard := service.NewAuthGuard(s, monitor, logger)

	var limiterOpts []ratelimit.Option
	limiterOpts = append(limiterOpts, ratelimit.WithClock(func() time.Time { return *f.now }))
	if cfg.FailOpen {
		limiterOpts = append(limiterOpts, ratelimit.FailOpen())
	}
	limiter := ratelimit.New(counters, logger, limiterOpts...)

	f.sink = &memorySink{}
	f.recorder = usage.NewRecorder(f.sink, logger, 64)
	t.Cleanup(func() { f.recorder.Close() })

	f.pipeline = New(f.blocks, guard, limiter, monitor, f.recorder, cfg, logger)
	f.pipeline.now = func() time.Time { return *f.now }
	return f
}

func (f *fixture) createKey(t *testing.T, limit, window int) string {
	t.Helper()
	ctx := context.Background()
	tn, err := f.store.CreateTenant(ctx, "acme-"+time.Now().Format("150405.000000000"))
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	raw, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := f.store.CreateAPIKey(ctx, tn.ID, keys.Hash(raw), keys.Prefix(raw), limit, window); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return raw
}

func request(credential, ip string) Request {
	return Request{
		RequestID:  "req-" + time.Now().Format("150405.000000000"),
		ClientIP:   ip,
		Method:     "GET",
		Endpoint:   "/api/things",
		UserAgent:  "test",
		Credential: credential,
	}
}

func TestLimitThreeScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IPLimit = 1000
	f := newFixture(t, cfg)
	raw := f.createKey(t, 3, 60)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		v := f.pipeline.Admit(ctx, request(raw, "192.0.2.1"))
		if v.Outcome != OutcomeForwarded {
			t.Fatalf("request %d: got %s (%d), want forwarded", i, v.Outcome, v.Status)
		}
	}

	v := f.pipeline.Admit(ctx, request(raw, "192.0.2.1"))
	if v.Outcome != OutcomeRateLimited || v.Status != http.StatusTooManyRequests {
		t.Fatalf("request 4: got %s (%d), want rate_limited 429", v.Outcome, v.Status)
	}
	if v.RetryAfter <= 0 || v.RetryAfter > 60 {
		t.Errorf("retry after: got %d, want in (0, 60]", v.RetryAfter)
	}

	*f.now = f.now.Add(61 * time.Second)

	v = f.pipeline.Admit(ctx, request(raw, "192.0.2.1"))
	if v.Outcome != OutcomeForwarded {
		t.Fatalf("request 5 after window: got %s, want forwarded", v.Outcome)
	}
	if v.Decision.Remaining != 2 {
		t.Errorf("remaining after reset: got %d, want 2", v.Decision.Remaining)
	}
}

func TestAuthFailuresCollapseToOneMessage(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	raw := f.createKey(t, 3, 60)
	k, err := f.store.GetAPIKeyByHash(ctx, keys.Hash(raw))
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if _, err := f.store.RevokeAPIKey(ctx, k.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	cases := map[string]string{
		"missing": "",
		"invalid": "gk_not_a_real_key",
		"revoked": raw,
	}
	for name, cred := range cases {
		v := f.pipeline.Admit(ctx, request(cred, "192.0.2.9"))
		if v.Outcome != OutcomeUnauthorized || v.Status != http.StatusUnauthorized {
			t.Errorf("%s: got %s (%d), want unauthorized 401", name, v.Outcome, v.Status)
		}
		if v.Message != "Invalid API key" {
			t.Errorf("%s: message %q leaks the rejection kind", name, v.Message)
		}
	}
}

func TestInvalidKeyFloodBlocksEvenValidKeys(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	raw := f.createKey(t, 100, 60)

	for i := 0; i < 5; i++ {
		v := f.pipeline.Admit(ctx, request("gk_wrong_key", "203.0.113.9"))
		if v.Outcome != OutcomeUnauthorized {
			t.Fatalf("flood request %d: got %s", i, v.Outcome)
		}
	}

	// Sixth request carries a valid key but must be stopped at IpCheck.
	v := f.pipeline.Admit(ctx, request(raw, "203.0.113.9"))
	if v.Outcome != OutcomeBlocked {
		t.Fatalf("got %s, want blocked", v.Outcome)
	}
	if v.Status != http.StatusForbidden {
		t.Errorf("status: got %d, want 403", v.Status)
	}

	// Another IP with the same valid key is unaffected.
	v = f.pipeline.Admit(ctx, request(raw, "192.0.2.77"))
	if v.Outcome != OutcomeForwarded {
		t.Errorf("other IP: got %s, want forwarded", v.Outcome)
	}
}

func TestDualDenySurfacesLargerRetryAfter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IPLimit = 1
	cfg.IPWindowSeconds = 120
	f := newFixture(t, cfg)
	raw := f.createKey(t, 1, 60)
	ctx := context.Background()

	v := f.pipeline.Admit(ctx, request(raw, "192.0.2.5"))
	if v.Outcome != OutcomeForwarded {
		t.Fatalf("first request: got %s", v.Outcome)
	}

	v = f.pipeline.Admit(ctx, request(raw, "192.0.2.5"))
	if v.Outcome != OutcomeRateLimited {
		t.Fatalf("second request: got %s, want rate_limited", v.Outcome)
	}
	// The IP window (120s) outlasts the key window (60s); the longer wait
	// must be the one surfaced.
	if v.RetryAfter <= 60 {
		t.Errorf("retry after: got %d, want > 60 (IP window)", v.RetryAfter)
	}
}

func TestAnonymousTrafficUsesStricterLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowAnonymous = true
	cfg.AnonLimit = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		v := f.pipeline.Admit(ctx, request("", "198.51.100.2"))
		if v.Outcome != OutcomeForwarded {
			t.Fatalf("anon request %d: got %s", i, v.Outcome)
		}
		if v.Identity != nil {
			t.Error("anonymous verdict should carry no identity")
		}
	}

	v := f.pipeline.Admit(ctx, request("", "198.51.100.2"))
	if v.Outcome != OutcomeRateLimited {
		t.Fatalf("third anon request: got %s, want rate_limited", v.Outcome)
	}
}

func TestBlockedRequestsAreRecorded(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	f.blocks.Block(ctx, "203.0.113.1", time.Hour, blocklist.ReasonManual, "test")

	req := request("", "203.0.113.1")
	v := f.pipeline.Admit(ctx, req)
	if v.Outcome != OutcomeBlocked {
		t.Fatalf("got %s, want blocked", v.Outcome)
	}

	f.pipeline.Record(req, nil, v.Status, 3*time.Millisecond)
	f.recorder.Close()

	if len(f.sink.records) != 1 {
		t.Fatalf("records: got %d, want 1", len(f.sink.records))
	}
	rec := f.sink.records[0]
	if rec.Status != http.StatusForbidden || rec.TenantID != nil {
		t.Errorf("blocked record: got status=%d tenant=%v", rec.Status, rec.TenantID)
	}
	if rec.Endpoint != "/api/things" {
		t.Errorf("endpoint: got %q", rec.Endpoint)
	}
}

func TestManualUnblockRestoresAccess(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	cfgRaw := f.createKey(t, 10, 60)
	ctx := context.Background()

	f.blocks.Block(ctx, "192.0.2.33", time.Hour, blocklist.ReasonManual, "test")
	v := f.pipeline.Admit(ctx, request(cfgRaw, "192.0.2.33"))
	if v.Outcome != OutcomeBlocked {
		t.Fatalf("got %s, want blocked", v.Outcome)
	}

	f.blocks.Unblock(ctx, "192.0.2.33")
	v = f.pipeline.Admit(ctx, request(cfgRaw, "192.0.2.33"))
	if v.Outcome != OutcomeForwarded {
		t.Fatalf("after unblock: got %s, want forwarded", v.Outcome)
	}
}
