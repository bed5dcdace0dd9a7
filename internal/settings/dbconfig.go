package settings

import (
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/creatorsuite/creditguard/internal/models"
	"gorm.io/gorm"
)

// boundDB holds the connection used for settings lookups. Bound once at boot.
var boundDB atomic.Pointer[gorm.DB]

// Bind registers the database connection used for settings lookups.
func Bind(conn *gorm.DB) {
	if conn == nil {
		return
	}
	boundDB.Store(conn)
}

// DBConfigValue returns the raw JSON value for a settings key. The second
// return is false when no connection is bound, the key is absent, or the
// lookup fails.
func DBConfigValue(key string) (json.RawMessage, bool) {
	conn := boundDB.Load()
	if conn == nil || key == "" {
		return nil, false
	}
	var row models.Setting
	if errFind := conn.Where("key = ?", key).First(&row).Error; errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, false
		}
		return nil, false
	}
	if len(row.Value) == 0 {
		return nil, false
	}
	return row.Value, true
}

// IntValue returns an integer setting, or the fallback when absent or
// malformed.
func IntValue(key string, fallback int) int {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var value int
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal != nil {
		return fallback
	}
	return value
}

// BoolValue returns a boolean setting, or the fallback when absent or
// malformed.
func BoolValue(key string, fallback bool) bool {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var value bool
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal != nil {
		return fallback
	}
	return value
}

// StringValue returns a string setting, or the fallback when absent or
// malformed.
func StringValue(key string, fallback string) string {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	var value string
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal != nil {
		return fallback
	}
	return value
}
