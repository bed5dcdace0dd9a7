package credit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, errOpen := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Profile{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return db
}

func testCreditConfig() config.CreditConfig {
	return config.CreditConfig{
		InitialCredits:    100,
		InitialPeriodDays: 3,
		DailyFreeCredits:  20,
	}
}

func TestCheckAndDeductStoreFailureReturnsError(t *testing.T) {
	db := openLedgerDB(t)
	ledger := NewLedger(db, testCreditConfig())

	if _, errDeduct := ledger.CheckAndDeduct(context.Background(), "user-1", "a@example.com", "iphash-1", 5); errDeduct != nil {
		t.Fatalf("initial deduct: %v", errDeduct)
	}

	// A broken store must refuse the deduction, never wave it through.
	if errDrop := db.Migrator().DropTable(&models.Profile{}); errDrop != nil {
		t.Fatalf("drop table: %v", errDrop)
	}
	result, errDeduct := ledger.CheckAndDeduct(context.Background(), "user-1", "a@example.com", "iphash-1", 5)
	if errDeduct == nil {
		t.Fatalf("expected error from broken store, got %+v", result)
	}
	if result.Allowed {
		t.Fatalf("deduction allowed despite store failure: %+v", result)
	}
}

func TestCheckAndDeductCreatesProfileWithInitialGrant(t *testing.T) {
	db := openLedgerDB(t)
	ledger := NewLedger(db, testCreditConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger.nowFn = func() time.Time { return now }

	result, errDeduct := ledger.CheckAndDeduct(context.Background(), "user-1", "a@example.com", "iphash-1", 10)
	if errDeduct != nil {
		t.Fatalf("check and deduct: %v", errDeduct)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed, got %+v", result)
	}
	if result.CurrentCredits != 90 {
		t.Fatalf("credits = %v, want 90", result.CurrentCredits)
	}

	var profile models.Profile
	if errTake := db.Where("id = ?", "user-1").Take(&profile).Error; errTake != nil {
		t.Fatalf("load profile: %v", errTake)
	}
	if profile.Credits != 90 {
		t.Fatalf("stored credits = %v, want 90", profile.Credits)
	}
	if profile.SignupIPHash != "iphash-1" {
		t.Fatalf("signup ip = %q, want iphash-1", profile.SignupIPHash)
	}
	if profile.InitialCreditsExpiry == nil {
		t.Fatal("expected initial credits expiry to be set")
	}
	wantExpiry := now.Add(3 * 24 * time.Hour)
	if !profile.InitialCreditsExpiry.Equal(wantExpiry) {
		t.Fatalf("expiry = %v, want %v", profile.InitialCreditsExpiry, wantExpiry)
	}
}

func TestCheckAndDeductRejectsDuplicateSignupIP(t *testing.T) {
	db := openLedgerDB(t)
	ledger := NewLedger(db, testCreditConfig())

	if _, errFirst := ledger.CheckAndDeduct(context.Background(), "user-1", "a@example.com", "shared-ip", 0); errFirst != nil {
		t.Fatalf("first signup: %v", errFirst)
	}
	result, errSecond := ledger.CheckAndDeduct(context.Background(), "user-2", "b@example.com", "shared-ip", 0)
	if errSecond != nil {
		t.Fatalf("second signup: %v", errSecond)
	}
	if result.Allowed {
		t.Fatal("expected duplicate signup denial")
	}
	if result.Status != http.StatusForbidden || result.Reason != ReasonDuplicateSignupIP {
		t.Fatalf("unexpected denial: %+v", result)
	}
	var count int64
	db.Model(&models.Profile{}).Count(&count)
	if count != 1 {
		t.Fatalf("profile count = %d, want 1", count)
	}
}

func TestCheckAndDeductDuplicateIPCheckDisabled(t *testing.T) {
	db := openLedgerDB(t)
	cfg := testCreditConfig()
	disabled := false
	cfg.DuplicateIPCheck = &disabled
	ledger := NewLedger(db, cfg)

	if _, errFirst := ledger.CheckAndDeduct(context.Background(), "user-1", "a@example.com", "shared-ip", 0); errFirst != nil {
		t.Fatalf("first signup: %v", errFirst)
	}
	result, errSecond := ledger.CheckAndDeduct(context.Background(), "user-2", "b@example.com", "shared-ip", 0)
	if errSecond != nil {
		t.Fatalf("second signup: %v", errSecond)
	}
	if !result.Allowed {
		t.Fatalf("expected allowance with check disabled, got %+v", result)
	}
}

func TestCheckAndDeductInsufficientBalance(t *testing.T) {
	db := openLedgerDB(t)
	ledger := NewLedger(db, testCreditConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger.nowFn = func() time.Time { return now }

	seedProfile(t, db, models.Profile{ID: "user-1", Credits: 5, LastResetDate: now})

	result, errDeduct := ledger.CheckAndDeduct(context.Background(), "user-1", "", "", 10)
	if errDeduct != nil {
		t.Fatalf("check and deduct: %v", errDeduct)
	}
	if result.Allowed {
		t.Fatal("expected denial")
	}
	if result.Status != http.StatusPaymentRequired || result.Reason != ReasonCreditLimit {
		t.Fatalf("unexpected denial: %+v", result)
	}
	if result.CurrentCredits != 5 {
		t.Fatalf("reported balance = %v, want 5", result.CurrentCredits)
	}

	var profile models.Profile
	if errTake := db.Where("id = ?", "user-1").Take(&profile).Error; errTake != nil {
		t.Fatalf("load profile: %v", errTake)
	}
	if profile.Credits != 5 {
		t.Fatalf("stored balance = %v, want 5 (unchanged)", profile.Credits)
	}
}

func TestDailyResetRaisesToFloorAfterInitialPeriod(t *testing.T) {
	db := openLedgerDB(t)
	ledger := NewLedger(db, testCreditConfig())
	yesterday := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	today := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	ledger.nowFn = func() time.Time { return today }

	seedProfile(t, db, models.Profile{ID: "user-1", Credits: 2, LastResetDate: yesterday})

	result, errBalance := ledger.Balance(context.Background(), "user-1", "", "")
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if result.CurrentCredits != 20 {
		t.Fatalf("credits = %v, want 20 after reset", result.CurrentCredits)
	}

	var profile models.Profile
	if errTake := db.Where("id = ?", "user-1").Take(&profile).Error; errTake != nil {
		t.Fatalf("load profile: %v", errTake)
	}
	if profile.Credits != 20 {
		t.Fatalf("stored credits = %v, want 20", profile.Credits)
	}
	if !sameUTCDay(profile.LastResetDate, today) {
		t.Fatalf("reset date not stamped: %v", profile.LastResetDate)
	}
}

func TestDailyResetNeverLowersBalance(t *testing.T) {
	db := openLedgerDB(t)
	ledger := NewLedger(db, testCreditConfig())
	yesterday := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	today := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	ledger.nowFn = func() time.Time { return today }

	seedProfile(t, db, models.Profile{ID: "user-1", Credits: 80, LastResetDate: yesterday})

	result, errBalance := ledger.Balance(context.Background(), "user-1", "", "")
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if result.CurrentCredits != 80 {
		t.Fatalf("credits = %v, want 80 (floor must not lower)", result.CurrentCredits)
	}
}

func TestDailyResetOnlyStampsDateInsideInitialPeriod(t *testing.T) {
	db := openLedgerDB(t)
	ledger := NewLedger(db, testCreditConfig())
	yesterday := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	today := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	expiry := today.Add(48 * time.Hour)
	ledger.nowFn = func() time.Time { return today }

	seedProfile(t, db, models.Profile{
		ID:                   "user-1",
		Credits:              2,
		LastResetDate:        yesterday,
		InitialCreditsExpiry: &expiry,
	})

	result, errBalance := ledger.Balance(context.Background(), "user-1", "", "")
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if result.CurrentCredits != 2 {
		t.Fatalf("credits = %v, want 2 (no floor inside initial period)", result.CurrentCredits)
	}

	var profile models.Profile
	if errTake := db.Where("id = ?", "user-1").Take(&profile).Error; errTake != nil {
		t.Fatalf("load profile: %v", errTake)
	}
	if !sameUTCDay(profile.LastResetDate, today) {
		t.Fatalf("reset date not stamped: %v", profile.LastResetDate)
	}
}

func TestDailyResetSkippedSameDay(t *testing.T) {
	db := openLedgerDB(t)
	ledger := NewLedger(db, testCreditConfig())
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	ledger.nowFn = func() time.Time { return now }

	seedProfile(t, db, models.Profile{ID: "user-1", Credits: 2, LastResetDate: earlier})

	result, errBalance := ledger.Balance(context.Background(), "user-1", "", "")
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if result.CurrentCredits != 2 {
		t.Fatalf("credits = %v, want 2 (same-day reset must not fire)", result.CurrentCredits)
	}
}

func TestBackfillsEmptySignupIP(t *testing.T) {
	db := openLedgerDB(t)
	ledger := NewLedger(db, testCreditConfig())
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ledger.nowFn = func() time.Time { return now }

	seedProfile(t, db, models.Profile{ID: "user-1", Credits: 50, LastResetDate: now})

	if _, errBalance := ledger.Balance(context.Background(), "user-1", "", "late-ip"); errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	var profile models.Profile
	if errTake := db.Where("id = ?", "user-1").Take(&profile).Error; errTake != nil {
		t.Fatalf("load profile: %v", errTake)
	}
	if profile.SignupIPHash != "late-ip" {
		t.Fatalf("signup ip = %q, want late-ip", profile.SignupIPHash)
	}
}

func TestTTSCost(t *testing.T) {
	cases := []struct {
		chars int
		want  float64
	}{
		{0, 1},
		{1, 1},
		{10, 1},
		{11, 2},
		{100, 10},
		{101, 11},
	}
	for _, tc := range cases {
		if got := TTSCost(tc.chars); got != tc.want {
			t.Fatalf("TTSCost(%d) = %v, want %v", tc.chars, got, tc.want)
		}
	}
}

func TestCostForAction(t *testing.T) {
	if cost, ok := CostForAction("generateNewPlan", 0); !ok || cost != CostScriptPlan {
		t.Fatalf("generateNewPlan: cost=%v ok=%v", cost, ok)
	}
	if cost, ok := CostForAction("synthesizeSpeech", 25); !ok || cost != 3 {
		t.Fatalf("synthesizeSpeech: cost=%v ok=%v", cost, ok)
	}
	if _, ok := CostForAction("unknownAction", 0); ok {
		t.Fatal("expected unknown action to be rejected")
	}
}

func seedProfile(t *testing.T, db *gorm.DB, profile models.Profile) {
	t.Helper()
	if errCreate := db.Create(&profile).Error; errCreate != nil {
		t.Fatalf("seed profile: %v", errCreate)
	}
}
