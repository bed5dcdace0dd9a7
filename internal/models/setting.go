package models

import (
	"encoding/json"
	"time"
)

// Setting stores a runtime configuration override as a JSON value keyed by
// name. Values here take precedence over config-file defaults for tunable
// limits.
type Setting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key   string          `gorm:"type:varchar(128);not null;uniqueIndex"` // Setting name.
	Value json.RawMessage `gorm:"type:jsonb"`                             // JSON-encoded value.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
