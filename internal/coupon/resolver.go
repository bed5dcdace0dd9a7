package coupon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Redemption reason codes.
const (
	ReasonInvalidCode    = "invalid_code"
	ReasonNotFound       = "coupon_not_found"
	ReasonExpired        = "coupon_expired"
	ReasonMissingEmail   = "missing_user_email"
	ReasonNotWhitelisted = "coupon_not_whitelisted"
	ReasonAlreadyUsed    = "coupon_already_used"
	ReasonLookupFailed   = "coupon_whitelist_lookup_failed"
	ReasonReserveFailed  = "coupon_reserve_failed"
	ReasonMetadataFailed = "metadata_update_failed"
)

// Error is a typed redemption failure carrying the HTTP status to surface.
type Error struct {
	Status int
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func redemptionError(status int, reason string) *Error {
	return &Error{Status: status, Reason: reason}
}

// Identity is the authenticated caller redeeming a coupon.
type Identity struct {
	UserID string
	Email  string
	IPHash string
}

// Redemption is a successful coupon application.
type Redemption struct {
	Code            string
	BypassExpiresAt time.Time
}

// ProfileStore materializes and mutates profiles for redemption. Implemented
// by the credit ledger.
type ProfileStore interface {
	EnsureProfile(ctx context.Context, userID, email, clientIPHash string) (*models.Profile, error)
	UpdateMetadata(ctx context.Context, userID string, metadata datatypes.JSON) error
}

// Resolver validates coupon codes against the catalog and whitelist, claims
// whitelist entries exactly once, and stamps the bypass window onto the
// profile metadata.
type Resolver struct {
	db       *gorm.DB
	profiles ProfileStore
	catalog  Catalog
	cfg      config.CouponConfig
	nowFn    func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB, profiles ProfileStore, catalog Catalog, cfg config.CouponConfig) *Resolver {
	return &Resolver{db: db, profiles: profiles, catalog: catalog, cfg: cfg, nowFn: time.Now}
}

// Redeem applies one coupon code for the caller. All refusals come back as
// *Error; anything else is an infrastructure failure.
func (r *Resolver) Redeem(ctx context.Context, identity Identity, codeRaw string) (*Redemption, error) {
	code := NormalizeCode(codeRaw)
	if code == "" {
		return nil, redemptionError(http.StatusBadRequest, ReasonInvalidCode)
	}
	now := r.nowFn().UTC()

	coupon, okCoupon := r.catalog[code]
	if !okCoupon {
		return nil, redemptionError(http.StatusBadRequest, ReasonNotFound)
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return nil, redemptionError(http.StatusBadRequest, ReasonExpired)
	}

	profile, errProfile := r.profiles.EnsureProfile(ctx, identity.UserID, identity.Email, identity.IPHash)
	if errProfile != nil {
		return nil, errProfile
	}

	var reservedEntryID uint64
	if r.cfg.WhitelistEnforced() {
		entryID, errWhitelist := r.claimWhitelistEntry(ctx, identity, code, now)
		if errWhitelist != nil {
			return nil, errWhitelist
		}
		reservedEntryID = entryID
	}

	fields := parseMetadata(profile.Metadata)
	if fields == nil {
		fields = map[string]any{}
	}
	redeemed := redeemedCodes(fields)
	if slices.Contains(redeemed, code) {
		return nil, redemptionError(http.StatusConflict, ReasonAlreadyUsed)
	}

	months := r.cfg.BypassMonths
	if months <= 0 {
		months = DefaultBypassMonths
	}
	expiresAt := now.AddDate(0, months, 0)

	fields[metaRedeemedCoupons] = append(redeemed, code)
	fields[metaBypassCredits] = true
	fields[metaBypassEnabledAt] = now.Format(time.RFC3339)
	fields[metaBypassExpiresAt] = expiresAt.Format(time.RFC3339)

	nextMetadata, errMarshal := marshalMetadata(fields)
	if errMarshal != nil {
		r.rollbackReservation(ctx, reservedEntryID, identity.UserID)
		return nil, errMarshal
	}
	if errUpdate := r.profiles.UpdateMetadata(ctx, identity.UserID, nextMetadata); errUpdate != nil {
		r.rollbackReservation(ctx, reservedEntryID, identity.UserID)
		log.WithError(errUpdate).Error("coupon: metadata update failed")
		return nil, redemptionError(http.StatusInternalServerError, ReasonMetadataFailed)
	}

	return &Redemption{Code: code, BypassExpiresAt: expiresAt}, nil
}

// State reports the caller's current bypass window without mutating anything.
func (r *Resolver) State(ctx context.Context, userID string) (BypassState, error) {
	var profile models.Profile
	if errTake := r.db.WithContext(ctx).Where("id = ?", userID).Take(&profile).Error; errTake != nil {
		if errors.Is(errTake, gorm.ErrRecordNotFound) {
			return BypassState{}, nil
		}
		return BypassState{}, fmt.Errorf("coupon: load profile: %w", errTake)
	}
	return BypassStateFromMetadata(profile.Metadata, r.nowFn().UTC()), nil
}

// claimWhitelistEntry enforces whitelist membership and reserves the entry
// for this user. Returns the reserved row ID when this call performed the
// reservation, zero when the caller already held it.
func (r *Resolver) claimWhitelistEntry(ctx context.Context, identity Identity, code string, now time.Time) (uint64, error) {
	email := normalizeEmail(identity.Email)
	if email == "" {
		return 0, redemptionError(http.StatusBadRequest, ReasonMissingEmail)
	}

	var entry models.CouponWhitelistEntry
	errTake := r.db.WithContext(ctx).
		Where("email_normalized = ? AND coupon_code = ?", email, code).
		Take(&entry).Error
	if errTake != nil {
		if errors.Is(errTake, gorm.ErrRecordNotFound) {
			return 0, redemptionError(http.StatusForbidden, ReasonNotWhitelisted)
		}
		log.WithError(errTake).Error("coupon: whitelist lookup failed")
		return 0, redemptionError(http.StatusInternalServerError, ReasonLookupFailed)
	}
	if !entry.IsActive {
		return 0, redemptionError(http.StatusForbidden, ReasonNotWhitelisted)
	}
	if entry.ExpiresAt != nil && now.After(*entry.ExpiresAt) {
		return 0, redemptionError(http.StatusBadRequest, ReasonExpired)
	}
	if entry.UsedByUserID != nil {
		if *entry.UsedByUserID != identity.UserID {
			return 0, redemptionError(http.StatusConflict, ReasonAlreadyUsed)
		}
		return 0, nil
	}

	res := r.db.WithContext(ctx).
		Model(&models.CouponWhitelistEntry{}).
		Where("id = ? AND used_by_user_id IS NULL", entry.ID).
		Updates(map[string]any{
			"used_by_user_id": identity.UserID,
			"used_at":         now,
		})
	if res.Error != nil {
		log.WithError(res.Error).Error("coupon: whitelist reserve failed")
		return 0, redemptionError(http.StatusInternalServerError, ReasonReserveFailed)
	}
	if res.RowsAffected == 0 {
		// Another request claimed the entry between load and update.
		return 0, redemptionError(http.StatusConflict, ReasonAlreadyUsed)
	}
	return entry.ID, nil
}

func (r *Resolver) rollbackReservation(ctx context.Context, entryID uint64, userID string) {
	if entryID == 0 {
		return
	}
	if errRollback := r.db.WithContext(ctx).
		Model(&models.CouponWhitelistEntry{}).
		Where("id = ? AND used_by_user_id = ?", entryID, userID).
		Updates(map[string]any{
			"used_by_user_id": nil,
			"used_at":         nil,
		}).Error; errRollback != nil {
		log.WithError(errRollback).WithField("entry_id", entryID).Error("coupon: reservation rollback failed")
	}
}

func marshalMetadata(fields map[string]any) (datatypes.JSON, error) {
	raw, errMarshal := json.Marshal(fields)
	if errMarshal != nil {
		return nil, fmt.Errorf("coupon: marshal metadata: %w", errMarshal)
	}
	return datatypes.JSON(raw), nil
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
