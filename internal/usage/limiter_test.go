package usage

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubLabels struct {
	label string
	err   error
}

func (s *stubLabels) LatestLabel(context.Context, string, string) (string, error) {
	return s.label, s.err
}

func openUsageDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, errOpen := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.UsageEvent{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return db
}

func testUsageConfig() config.UsageConfig {
	return config.UsageConfig{DailyLimit: 20, PerMinuteLimit: 6, SuspiciousDailyLimit: 3}
}

func seedUsage(t *testing.T, db *gorm.DB, ipHash string, createdAt time.Time, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		event := models.UsageEvent{Action: "search", IPHash: ipHash, CreatedAt: createdAt}
		if errCreate := db.Create(&event).Error; errCreate != nil {
			t.Fatalf("seed usage: %v", errCreate)
		}
	}
}

func TestEnforceAllowsUnderLimits(t *testing.T) {
	db := openUsageDB(t)
	limiter := NewLimiter(db, &stubLabels{}, testUsageConfig())

	decision := limiter.Enforce(context.Background(), "ip-1", "fp-1")
	if !decision.Allowed {
		t.Fatalf("expected allowance: %+v", decision)
	}
	if decision.Limits.Daily != 20 || decision.Limits.PerMinute != 6 {
		t.Fatalf("limits = %+v", decision.Limits)
	}
}

func TestEnforceBlocksAbusiveLabel(t *testing.T) {
	db := openUsageDB(t)
	limiter := NewLimiter(db, &stubLabels{label: models.RiskLabelAbusive}, testUsageConfig())

	decision := limiter.Enforce(context.Background(), "ip-1", "")
	if decision.Allowed {
		t.Fatal("expected block")
	}
	if decision.Status != http.StatusForbidden || decision.Reason != ReasonAbuseBlocked {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestEnforceDailyLimit(t *testing.T) {
	db := openUsageDB(t)
	limiter := NewLimiter(db, &stubLabels{}, testUsageConfig())
	// Events inside the 24h window but outside the minute window.
	seedUsage(t, db, "ip-1", time.Now().UTC().Add(-2*time.Hour), 20)

	decision := limiter.Enforce(context.Background(), "ip-1", "")
	if decision.Allowed {
		t.Fatal("expected daily denial")
	}
	if decision.Status != http.StatusTooManyRequests || decision.Reason != ReasonDailyLimit {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestEnforceMinuteLimit(t *testing.T) {
	db := openUsageDB(t)
	limiter := NewLimiter(db, &stubLabels{}, testUsageConfig())
	seedUsage(t, db, "ip-1", time.Now().UTC().Add(-10*time.Second), 6)

	decision := limiter.Enforce(context.Background(), "ip-1", "")
	if decision.Allowed {
		t.Fatal("expected minute denial")
	}
	if decision.Reason != ReasonMinuteLimit {
		t.Fatalf("reason = %q", decision.Reason)
	}
	if decision.RetryAfterSeconds != 60 {
		t.Fatalf("retry after = %d, want 60", decision.RetryAfterSeconds)
	}
}

func TestEnforceSuspiciousTightensDailyCap(t *testing.T) {
	db := openUsageDB(t)
	limiter := NewLimiter(db, &stubLabels{label: models.RiskLabelSuspicious}, testUsageConfig())
	seedUsage(t, db, "ip-1", time.Now().UTC().Add(-2*time.Hour), 3)

	decision := limiter.Enforce(context.Background(), "ip-1", "")
	if decision.Allowed {
		t.Fatal("expected suspicious daily denial at 3 events")
	}
	if decision.Reason != ReasonDailyLimit {
		t.Fatalf("reason = %q", decision.Reason)
	}
	if decision.Limits.Daily != 3 {
		t.Fatalf("daily limit = %d, want 3", decision.Limits.Daily)
	}
}

func TestEnforceExpiredEventsIgnored(t *testing.T) {
	db := openUsageDB(t)
	limiter := NewLimiter(db, &stubLabels{}, testUsageConfig())
	seedUsage(t, db, "ip-1", time.Now().UTC().Add(-25*time.Hour), 30)

	decision := limiter.Enforce(context.Background(), "ip-1", "")
	if !decision.Allowed {
		t.Fatalf("events outside the window must not count: %+v", decision)
	}
}

func TestEnforceCountsEitherHash(t *testing.T) {
	db := openUsageDB(t)
	limiter := NewLimiter(db, &stubLabels{}, testUsageConfig())

	// Events recorded under the fingerprint only.
	for i := 0; i < 20; i++ {
		event := models.UsageEvent{Action: "search", FingerprintHash: "fp-1", CreatedAt: time.Now().UTC().Add(-2 * time.Hour)}
		if errCreate := db.Create(&event).Error; errCreate != nil {
			t.Fatalf("seed usage: %v", errCreate)
		}
	}

	decision := limiter.Enforce(context.Background(), "fresh-ip", "fp-1")
	if decision.Allowed {
		t.Fatal("fingerprint-matched events must count against a fresh IP")
	}
}

func TestEnforceRiskLookupFailureAllows(t *testing.T) {
	db := openUsageDB(t)
	limiter := NewLimiter(db, &stubLabels{err: errors.New("db down")}, testUsageConfig())

	decision := limiter.Enforce(context.Background(), "ip-1", "")
	if !decision.Allowed {
		t.Fatalf("risk lookup failure must not block: %+v", decision)
	}
}

func TestEnforceAnonymousIdentityAllowed(t *testing.T) {
	db := openUsageDB(t)
	limiter := NewLimiter(db, &stubLabels{}, testUsageConfig())

	decision := limiter.Enforce(context.Background(), "", "")
	if !decision.Allowed {
		t.Fatalf("no identity signals, expected allowance: %+v", decision)
	}
}

func TestRecordStoresEvent(t *testing.T) {
	db := openUsageDB(t)
	limiter := NewLimiter(db, &stubLabels{}, testUsageConfig())

	limiter.Record(context.Background(), "generateNewPlan", "ip-1", "fp-1", "agent")

	var event models.UsageEvent
	if errTake := db.Take(&event).Error; errTake != nil {
		t.Fatalf("load event: %v", errTake)
	}
	if event.Action != "generateNewPlan" || event.IPHash != "ip-1" || event.FingerprintHash != "fp-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestRecordSkipsAnonymous(t *testing.T) {
	db := openUsageDB(t)
	limiter := NewLimiter(db, &stubLabels{}, testUsageConfig())

	limiter.Record(context.Background(), "search", "", "", "agent")

	var count int64
	db.Model(&models.UsageEvent{}).Count(&count)
	if count != 0 {
		t.Fatalf("event count = %d, want 0", count)
	}
}
