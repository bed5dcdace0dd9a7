package models

import (
	"time"

	"gorm.io/datatypes"
)

// Profile holds the per-user credit balance and billing metadata.
// Rows are created lazily the first time the ledger sees a user, not at
// registration.
type Profile struct {
	ID string `gorm:"primaryKey;type:text"` // External auth subject.

	Email string `gorm:"type:text"` // Email at first sight.

	Credits float64 `gorm:"type:decimal(20,10);not null;default:0"` // Current balance. May be fractional (per-character TTS pricing).

	LastResetDate        time.Time  `gorm:"not null"` // Last daily-credit evaluation.
	InitialCreditsExpiry *time.Time ``                // End of the initial-grant grace period.

	SignupIPHash string `gorm:"type:text;index"` // First IP hash seen, for duplicate-signup detection.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Coupon bypass flags and redeemed codes.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
