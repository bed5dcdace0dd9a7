package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/creatorsuite/creditguard/internal/coupon"
	"github.com/creatorsuite/creditguard/internal/db"
	"github.com/creatorsuite/creditguard/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultWhitelistListLimit = 100
	maxWhitelistListLimit     = 500
)

// AdminWhitelistHandler manages coupon whitelist entries.
type AdminWhitelistHandler struct {
	db *gorm.DB
}

// NewAdminWhitelistHandler constructs an admin whitelist handler.
func NewAdminWhitelistHandler(db *gorm.DB) *AdminWhitelistHandler {
	return &AdminWhitelistHandler{db: db}
}

type whitelistUpsertRequest struct {
	Email      string  `json:"email"`
	CouponCode string  `json:"couponCode"`
	IsActive   *bool   `json:"isActive"`
	ExpiresAt  *string `json:"expiresAt"`
}

// Upsert creates or updates the whitelist entry for an email and coupon code.
// The reservation fields are never touched here; a claim can only happen
// through redemption.
func (h *AdminWhitelistHandler) Upsert(c *gin.Context) {
	var body whitelistUpsertRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		denial(c, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON.")
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	code := coupon.NormalizeCode(body.CouponCode)
	if email == "" || code == "" {
		denial(c, http.StatusBadRequest, "missing_fields", "email and couponCode are required.")
		return
	}

	var expiresAt *time.Time
	if body.ExpiresAt != nil && strings.TrimSpace(*body.ExpiresAt) != "" {
		parsed, errParse := time.Parse(time.RFC3339, strings.TrimSpace(*body.ExpiresAt))
		if errParse != nil {
			denial(c, http.StatusBadRequest, "invalid_expires_at", "expiresAt must be an RFC3339 timestamp.")
			return
		}
		utc := parsed.UTC()
		expiresAt = &utc
	}
	isActive := true
	if body.IsActive != nil {
		isActive = *body.IsActive
	}

	ctx := c.Request.Context()
	var entry models.CouponWhitelistEntry
	errTake := h.db.WithContext(ctx).
		Where("email_normalized = ? AND coupon_code = ?", email, code).
		Take(&entry).Error
	switch {
	case errTake == nil:
		updates := map[string]any{
			"is_active":  isActive,
			"expires_at": expiresAt,
		}
		if errUpdate := h.db.WithContext(ctx).
			Model(&models.CouponWhitelistEntry{}).
			Where("id = ?", entry.ID).
			Updates(updates).Error; errUpdate != nil {
			denial(c, http.StatusInternalServerError, "storage_error", "Whitelist update failed.")
			return
		}
		entry.IsActive = isActive
		entry.ExpiresAt = expiresAt
		c.JSON(http.StatusOK, gin.H{"entry": entry, "created": false})
	case errors.Is(errTake, gorm.ErrRecordNotFound):
		entry = models.CouponWhitelistEntry{
			EmailNormalized: email,
			CouponCode:      code,
			IsActive:        isActive,
			ExpiresAt:       expiresAt,
		}
		if errCreate := h.db.WithContext(ctx).Create(&entry).Error; errCreate != nil {
			denial(c, http.StatusInternalServerError, "storage_error", "Whitelist create failed.")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"entry": entry, "created": true})
	default:
		denial(c, http.StatusInternalServerError, "storage_error", "Whitelist lookup failed.")
	}
}

type whitelistSyncRequest struct {
	Entries []whitelistUpsertRequest `json:"entries"`
}

// Sync replaces the active whitelist with the submitted entries: each one is
// upserted and every entry absent from the payload is deactivated. Claimed
// entries keep their reservation either way.
func (h *AdminWhitelistHandler) Sync(c *gin.Context) {
	var body whitelistSyncRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		denial(c, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON.")
		return
	}

	type entryKey struct {
		email string
		code  string
	}
	keep := make(map[entryKey]bool, len(body.Entries))
	upserted := 0

	ctx := c.Request.Context()
	errTx := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range body.Entries {
			email := strings.ToLower(strings.TrimSpace(item.Email))
			code := coupon.NormalizeCode(item.CouponCode)
			if email == "" || code == "" {
				continue
			}
			keep[entryKey{email: email, code: code}] = true

			var expiresAt *time.Time
			if item.ExpiresAt != nil && strings.TrimSpace(*item.ExpiresAt) != "" {
				parsed, errParse := time.Parse(time.RFC3339, strings.TrimSpace(*item.ExpiresAt))
				if errParse != nil {
					continue
				}
				utc := parsed.UTC()
				expiresAt = &utc
			}
			isActive := true
			if item.IsActive != nil {
				isActive = *item.IsActive
			}

			var entry models.CouponWhitelistEntry
			errTake := tx.Where("email_normalized = ? AND coupon_code = ?", email, code).Take(&entry).Error
			switch {
			case errTake == nil:
				if errUpdate := tx.Model(&models.CouponWhitelistEntry{}).
					Where("id = ?", entry.ID).
					Updates(map[string]any{"is_active": isActive, "expires_at": expiresAt}).Error; errUpdate != nil {
					return errUpdate
				}
			case errors.Is(errTake, gorm.ErrRecordNotFound):
				entry = models.CouponWhitelistEntry{
					EmailNormalized: email,
					CouponCode:      code,
					IsActive:        isActive,
					ExpiresAt:       expiresAt,
				}
				if errCreate := tx.Create(&entry).Error; errCreate != nil {
					return errCreate
				}
			default:
				return errTake
			}
			upserted++
		}

		var existing []models.CouponWhitelistEntry
		if errFind := tx.Where("is_active = ?", true).Find(&existing).Error; errFind != nil {
			return errFind
		}
		for _, entry := range existing {
			if keep[entryKey{email: entry.EmailNormalized, code: entry.CouponCode}] {
				continue
			}
			if errDeactivate := tx.Model(&models.CouponWhitelistEntry{}).
				Where("id = ?", entry.ID).
				Update("is_active", false).Error; errDeactivate != nil {
				return errDeactivate
			}
		}
		return nil
	})
	if errTx != nil {
		denial(c, http.StatusInternalServerError, "storage_error", "Whitelist sync failed.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"synced": upserted})
}

// List returns whitelist entries filtered by email and/or coupon code.
func (h *AdminWhitelistHandler) List(c *gin.Context) {
	limit := defaultWhitelistListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil {
			denial(c, http.StatusBadRequest, "invalid_limit", "limit must be an integer.")
			return
		}
		limit = parsed
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxWhitelistListLimit {
		limit = maxWhitelistListLimit
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.CouponWhitelistEntry{})
	if email := strings.TrimSpace(c.Query("email")); email != "" {
		pattern := db.NormalizeLikePattern(h.db, "%"+email+"%")
		query = query.Where(db.CaseInsensitiveLikeExpr(h.db, "email_normalized"), pattern)
	}
	if code := coupon.NormalizeCode(c.Query("couponCode")); code != "" {
		query = query.Where("coupon_code = ?", code)
	}

	var entries []models.CouponWhitelistEntry
	if errFind := query.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error; errFind != nil {
		denial(c, http.StatusInternalServerError, "storage_error", "Whitelist lookup failed.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
