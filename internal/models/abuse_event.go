package models

import (
	"time"

	"gorm.io/datatypes"
)

// Risk labels assigned to abuse events.
const (
	// RiskLabelPending marks an event awaiting classification.
	RiskLabelPending = "pending"
	// RiskLabelNormal marks an event with no abuse signals.
	RiskLabelNormal = "normal"
	// RiskLabelSuspicious marks an event with repeated-request signals.
	RiskLabelSuspicious = "suspicious"
	// RiskLabelAbusive marks an event with high-volume abuse signals.
	RiskLabelAbusive = "abusive"
	// RiskLabelUnknown marks an event whose classification failed.
	RiskLabelUnknown = "unknown"
)

// Actions derived from risk labels.
const (
	// ActionAllow permits the request.
	ActionAllow = "allow"
	// ActionLimit restricts heavy operations for the identity.
	ActionLimit = "limit"
	// ActionBlock denies all billable operations for the identity.
	ActionBlock = "block"
)

// Sources a verdict can come from.
const (
	// DecisionSourceGroq marks a verdict produced by the LLM classifier.
	DecisionSourceGroq = "groq"
	// DecisionSourceFallback marks a verdict produced by the threshold rule.
	DecisionSourceFallback = "fallback"
)

// AbuseEvent records one abuse-check call. Rows are append-only: the verdict
// update after classification is the last write, and a crash before it leaves
// an auditable pending/unknown row.
type AbuseEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	IPHash          string `gorm:"type:text;index"` // Salted SHA-256 of the client IP.
	FingerprintHash string `gorm:"type:text;index"` // Salted SHA-256 of the browser fingerprint.

	UserAgent string `gorm:"type:text"`        // Raw User-Agent header.
	Browser   string `gorm:"type:varchar(64)"` // Client-reported browser name.
	OS        string `gorm:"type:varchar(64)"` // Client-reported OS name.

	FingerprintData datatypes.JSON `gorm:"type:jsonb"` // Raw fingerprint payload from the client.

	RiskLabel  string `gorm:"type:varchar(16);not null;default:'pending'"` // pending|normal|suspicious|abusive|unknown.
	RiskScore  int    `gorm:"not null;default:0"`                          // 0-100.
	RiskReason string `gorm:"type:text"`                                   // Short classifier explanation.

	DecisionSource  string         `gorm:"type:varchar(16)"` // groq|fallback.
	DecisionPayload string         `gorm:"type:text"`        // Raw classifier output.
	Metrics         datatypes.JSON `gorm:"type:jsonb"`       // Rolling counts used for the verdict.

	Action string `gorm:"type:varchar(8)"` // allow|limit|block.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`       // Last update timestamp.
}
