package coupon

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/credit"
	"github.com/creatorsuite/creditguard/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func openCouponDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, errOpen := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Profile{}, &models.CouponWhitelistEntry{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return db
}

func newTestResolver(t *testing.T, db *gorm.DB, cfg config.CouponConfig) *Resolver {
	t.Helper()
	ledger := credit.NewLedger(db, config.CreditConfig{InitialCredits: 100, DailyFreeCredits: 20})
	catalog := Catalog{
		"LAUNCH50": {Code: "LAUNCH50", Credits: 50},
	}
	return NewResolver(db, ledger, catalog, cfg)
}

func seedWhitelist(t *testing.T, db *gorm.DB, entry models.CouponWhitelistEntry) models.CouponWhitelistEntry {
	t.Helper()
	if errCreate := db.Create(&entry).Error; errCreate != nil {
		t.Fatalf("seed whitelist: %v", errCreate)
	}
	return entry
}

func assertRedemptionError(t *testing.T, err error, status int, reason string) {
	t.Helper()
	var redemptionErr *Error
	if !errors.As(err, &redemptionErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if redemptionErr.Status != status || redemptionErr.Reason != reason {
		t.Fatalf("error = %d/%s, want %d/%s", redemptionErr.Status, redemptionErr.Reason, status, reason)
	}
}

func TestRedeemHappyPath(t *testing.T) {
	db := openCouponDB(t)
	resolver := newTestResolver(t, db, config.CouponConfig{})
	seedWhitelist(t, db, models.CouponWhitelistEntry{
		EmailNormalized: "a@example.com",
		CouponCode:      "LAUNCH50",
		IsActive:        true,
	})

	redemption, errRedeem := resolver.Redeem(context.Background(), Identity{
		UserID: "user-1",
		Email:  "A@Example.com",
	}, " launch50 ")
	if errRedeem != nil {
		t.Fatalf("redeem: %v", errRedeem)
	}
	if redemption.Code != "LAUNCH50" {
		t.Fatalf("code = %q", redemption.Code)
	}

	var entry models.CouponWhitelistEntry
	if errTake := db.Take(&entry).Error; errTake != nil {
		t.Fatalf("load entry: %v", errTake)
	}
	if entry.UsedByUserID == nil || *entry.UsedByUserID != "user-1" {
		t.Fatalf("entry not reserved: %+v", entry)
	}
	if entry.UsedAt == nil {
		t.Fatal("used_at not stamped")
	}

	var profile models.Profile
	if errTake := db.Where("id = ?", "user-1").Take(&profile).Error; errTake != nil {
		t.Fatalf("load profile: %v", errTake)
	}
	state := BypassStateFromMetadata(profile.Metadata, time.Now().UTC())
	if !state.Active {
		t.Fatalf("bypass not active: %+v", state)
	}
	if state.ExpiresAt == nil {
		t.Fatal("bypass expiry missing")
	}
}

func TestRedeemRejectsEmptyAndUnknownCodes(t *testing.T) {
	db := openCouponDB(t)
	resolver := newTestResolver(t, db, config.CouponConfig{})

	_, errEmpty := resolver.Redeem(context.Background(), Identity{UserID: "user-1", Email: "a@example.com"}, "   ")
	assertRedemptionError(t, errEmpty, http.StatusBadRequest, ReasonInvalidCode)

	_, errUnknown := resolver.Redeem(context.Background(), Identity{UserID: "user-1", Email: "a@example.com"}, "NOPE")
	assertRedemptionError(t, errUnknown, http.StatusBadRequest, ReasonNotFound)
}

func TestRedeemRejectsExpiredCatalogCoupon(t *testing.T) {
	db := openCouponDB(t)
	ledger := credit.NewLedger(db, config.CreditConfig{InitialCredits: 100})
	past := time.Now().UTC().Add(-time.Hour)
	resolver := NewResolver(db, ledger, Catalog{
		"OLD": {Code: "OLD", Credits: 10, ExpiresAt: &past},
	}, config.CouponConfig{})

	_, errRedeem := resolver.Redeem(context.Background(), Identity{UserID: "user-1", Email: "a@example.com"}, "OLD")
	assertRedemptionError(t, errRedeem, http.StatusBadRequest, ReasonExpired)
}

func TestRedeemRequiresWhitelistEntry(t *testing.T) {
	db := openCouponDB(t)
	resolver := newTestResolver(t, db, config.CouponConfig{})

	_, errRedeem := resolver.Redeem(context.Background(), Identity{UserID: "user-1", Email: "a@example.com"}, "LAUNCH50")
	assertRedemptionError(t, errRedeem, http.StatusForbidden, ReasonNotWhitelisted)
}

func TestRedeemRequiresEmailWhenWhitelistEnforced(t *testing.T) {
	db := openCouponDB(t)
	resolver := newTestResolver(t, db, config.CouponConfig{})

	_, errRedeem := resolver.Redeem(context.Background(), Identity{UserID: "user-1"}, "LAUNCH50")
	assertRedemptionError(t, errRedeem, http.StatusBadRequest, ReasonMissingEmail)
}

func TestRedeemInactiveEntryRejected(t *testing.T) {
	db := openCouponDB(t)
	resolver := newTestResolver(t, db, config.CouponConfig{})
	seedWhitelist(t, db, models.CouponWhitelistEntry{
		EmailNormalized: "a@example.com",
		CouponCode:      "LAUNCH50",
		IsActive:        false,
	})

	_, errRedeem := resolver.Redeem(context.Background(), Identity{UserID: "user-1", Email: "a@example.com"}, "LAUNCH50")
	assertRedemptionError(t, errRedeem, http.StatusForbidden, ReasonNotWhitelisted)
}

func TestRedeemExpiredWhitelistEntryRejected(t *testing.T) {
	db := openCouponDB(t)
	resolver := newTestResolver(t, db, config.CouponConfig{})
	past := time.Now().UTC().Add(-time.Hour)
	seedWhitelist(t, db, models.CouponWhitelistEntry{
		EmailNormalized: "a@example.com",
		CouponCode:      "LAUNCH50",
		IsActive:        true,
		ExpiresAt:       &past,
	})

	_, errRedeem := resolver.Redeem(context.Background(), Identity{UserID: "user-1", Email: "a@example.com"}, "LAUNCH50")
	assertRedemptionError(t, errRedeem, http.StatusBadRequest, ReasonExpired)
}

func TestRedeemClaimedByAnotherUserConflicts(t *testing.T) {
	db := openCouponDB(t)
	resolver := newTestResolver(t, db, config.CouponConfig{})
	other := "user-other"
	seedWhitelist(t, db, models.CouponWhitelistEntry{
		EmailNormalized: "a@example.com",
		CouponCode:      "LAUNCH50",
		IsActive:        true,
		UsedByUserID:    &other,
	})

	_, errRedeem := resolver.Redeem(context.Background(), Identity{UserID: "user-1", Email: "a@example.com"}, "LAUNCH50")
	assertRedemptionError(t, errRedeem, http.StatusConflict, ReasonAlreadyUsed)
}

func TestRedeemLosingClaimRaceConflicts(t *testing.T) {
	db := openCouponDB(t)
	resolver := newTestResolver(t, db, config.CouponConfig{})
	seeded := seedWhitelist(t, db, models.CouponWhitelistEntry{
		EmailNormalized: "a@example.com",
		CouponCode:      "LAUNCH50",
		IsActive:        true,
	})

	// Steal the entry between the resolver's load and its conditional
	// update, the way a concurrent redemption would.
	stolen := false
	errRegister := db.Callback().Update().Before("gorm:update").Register("steal_entry", func(tx *gorm.DB) {
		if stolen {
			return
		}
		stolen = true
		if errSteal := tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE coupon_whitelist_entries SET used_by_user_id = ? WHERE id = ?", "user-other", seeded.ID).Error; errSteal != nil {
			t.Errorf("steal entry: %v", errSteal)
		}
	})
	if errRegister != nil {
		t.Fatalf("register callback: %v", errRegister)
	}

	_, errRedeem := resolver.Redeem(context.Background(), Identity{UserID: "user-1", Email: "a@example.com"}, "LAUNCH50")
	assertRedemptionError(t, errRedeem, http.StatusConflict, ReasonAlreadyUsed)
	if !stolen {
		t.Fatal("interceptor never fired")
	}

	var entry models.CouponWhitelistEntry
	if errTake := db.Where("id = ?", seeded.ID).Take(&entry).Error; errTake != nil {
		t.Fatalf("load entry: %v", errTake)
	}
	if entry.UsedByUserID == nil || *entry.UsedByUserID != "user-other" {
		t.Fatalf("winner's claim lost: %+v", entry)
	}
}

func TestRedeemIsIdempotentPerUser(t *testing.T) {
	db := openCouponDB(t)
	resolver := newTestResolver(t, db, config.CouponConfig{})
	seedWhitelist(t, db, models.CouponWhitelistEntry{
		EmailNormalized: "a@example.com",
		CouponCode:      "LAUNCH50",
		IsActive:        true,
	})
	identity := Identity{UserID: "user-1", Email: "a@example.com"}

	if _, errFirst := resolver.Redeem(context.Background(), identity, "LAUNCH50"); errFirst != nil {
		t.Fatalf("first redeem: %v", errFirst)
	}
	_, errSecond := resolver.Redeem(context.Background(), identity, "LAUNCH50")
	assertRedemptionError(t, errSecond, http.StatusConflict, ReasonAlreadyUsed)
}

func TestRedeemWhitelistDisabledSkipsChecks(t *testing.T) {
	db := openCouponDB(t)
	disabled := false
	resolver := newTestResolver(t, db, config.CouponConfig{WhitelistRequired: &disabled})

	redemption, errRedeem := resolver.Redeem(context.Background(), Identity{UserID: "user-1"}, "LAUNCH50")
	if errRedeem != nil {
		t.Fatalf("redeem: %v", errRedeem)
	}
	if redemption.Code != "LAUNCH50" {
		t.Fatalf("code = %q", redemption.Code)
	}
}

type failingProfileStore struct {
	inner ProfileStore
}

func (f *failingProfileStore) EnsureProfile(ctx context.Context, userID, email, ipHash string) (*models.Profile, error) {
	return f.inner.EnsureProfile(ctx, userID, email, ipHash)
}

func (f *failingProfileStore) UpdateMetadata(context.Context, string, datatypes.JSON) error {
	return errors.New("write refused")
}

func TestRedeemMetadataFailureRollsBackReservation(t *testing.T) {
	db := openCouponDB(t)
	ledger := credit.NewLedger(db, config.CreditConfig{InitialCredits: 100})
	resolver := NewResolver(db, &failingProfileStore{inner: ledger}, Catalog{
		"LAUNCH50": {Code: "LAUNCH50", Credits: 50},
	}, config.CouponConfig{})
	seeded := seedWhitelist(t, db, models.CouponWhitelistEntry{
		EmailNormalized: "a@example.com",
		CouponCode:      "LAUNCH50",
		IsActive:        true,
	})

	_, errRedeem := resolver.Redeem(context.Background(), Identity{UserID: "user-1", Email: "a@example.com"}, "LAUNCH50")
	assertRedemptionError(t, errRedeem, http.StatusInternalServerError, ReasonMetadataFailed)

	var entry models.CouponWhitelistEntry
	if errTake := db.Where("id = ?", seeded.ID).Take(&entry).Error; errTake != nil {
		t.Fatalf("load entry: %v", errTake)
	}
	if entry.UsedByUserID != nil {
		t.Fatalf("reservation not rolled back: %+v", entry)
	}
}

func TestStateForUnknownUser(t *testing.T) {
	db := openCouponDB(t)
	resolver := newTestResolver(t, db, config.CouponConfig{})

	state, errState := resolver.State(context.Background(), "nobody")
	if errState != nil {
		t.Fatalf("state: %v", errState)
	}
	if state.Active {
		t.Fatal("unknown user must not have an active bypass")
	}
}
