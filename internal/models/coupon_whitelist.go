package models

import "time"

// CouponWhitelistEntry grants one email access to one coupon code. At most one
// user may ever claim an entry: the reservation is a conditional update
// guarded by used_by_user_id IS NULL.
type CouponWhitelistEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EmailNormalized string `gorm:"type:text;not null;uniqueIndex:idx_whitelist_email_code"`        // Lowercased, trimmed email.
	CouponCode      string `gorm:"type:varchar(64);not null;uniqueIndex:idx_whitelist_email_code"` // Uppercased coupon code.

	IsActive  bool       `gorm:"not null;default:true"` // Whether the entry is redeemable.
	ExpiresAt *time.Time ``                             // Optional entry expiry.

	UsedByUserID *string    `gorm:"type:text"` // Set exactly once via conditional reservation.
	UsedAt       *time.Time ``                 // Reservation timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
