package models

import "time"

// UsageEvent records one billable request for rate-limit accounting. One row
// per request; the usage limiter derives rolling per-minute and per-day counts
// from this table.
type UsageEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Action string `gorm:"type:varchar(64);not null"` // Billable action name.

	IPHash          string `gorm:"type:text;index"` // Salted SHA-256 of the client IP.
	FingerprintHash string `gorm:"type:text;index"` // Salted SHA-256 of the browser fingerprint.

	UserAgent string `gorm:"type:text"` // Raw User-Agent header.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
