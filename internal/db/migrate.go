package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creatorsuite/creditguard/internal/models"
	internalsettings "github.com/creatorsuite/creditguard/internal/settings"
	"gorm.io/gorm"
)

// Migrate applies the schema and seeds default settings.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.Profile{},
		&models.AbuseEvent{},
		&models.UsageEvent{},
		&models.CouponWhitelistEntry{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	if errSeed := ensureUsageLimitSettings(conn); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureBurstSettings(conn); errSeed != nil {
		return errSeed
	}
	return nil
}

// ensureUsageLimitSettings seeds the usage window caps with defaults.
func ensureUsageLimitSettings(conn *gorm.DB) error {
	if errEnsure := ensureIntSetting(
		conn,
		internalsettings.UsageDailyLimitKey,
		internalsettings.DefaultUsageDailyLimit,
	); errEnsure != nil {
		return errEnsure
	}
	if errEnsure := ensureIntSetting(
		conn,
		internalsettings.UsagePerMinuteLimitKey,
		internalsettings.DefaultUsagePerMinuteLimit,
	); errEnsure != nil {
		return errEnsure
	}
	return ensureIntSetting(
		conn,
		internalsettings.UsageSuspiciousDailyLimitKey,
		internalsettings.DefaultUsageSuspiciousDailyLimit,
	)
}

// ensureBurstSettings seeds the burst limiter defaults.
func ensureBurstSettings(conn *gorm.DB) error {
	if errEnsure := ensureIntSetting(
		conn,
		internalsettings.BurstLimitKey,
		internalsettings.DefaultBurstLimit,
	); errEnsure != nil {
		return errEnsure
	}
	return ensureBoolSetting(conn, internalsettings.BurstRedisEnabledKey, false)
}

// ensureIntSetting ensures an integer setting exists and defaults when empty.
func ensureIntSetting(conn *gorm.DB, key string, value int) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	return ensureRawSetting(conn, key, json.RawMessage(payload))
}

// ensureBoolSetting ensures a boolean setting exists and defaults when empty.
func ensureBoolSetting(conn *gorm.DB, key string, value bool) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	return ensureRawSetting(conn, key, json.RawMessage(payload))
}

// ensureRawSetting creates the setting row, or fills it when present but
// empty. Populated values are never overwritten.
func ensureRawSetting(conn *gorm.DB, key string, rawValue json.RawMessage) error {
	var existing models.Setting
	if errFind := conn.Where("key = ?", key).First(&existing).Error; errFind == nil {
		trimmed := strings.TrimSpace(string(existing.Value))
		if len(existing.Value) == 0 || trimmed == "" || trimmed == "null" {
			if errUpdate := conn.Model(&existing).Updates(map[string]any{
				"value":      rawValue,
				"updated_at": time.Now().UTC(),
			}).Error; errUpdate != nil {
				return fmt.Errorf("db: update %s setting: %w", key, errUpdate)
			}
		}
		return nil
	} else if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}

	setting := models.Setting{
		Key:       key,
		Value:     rawValue,
		UpdatedAt: time.Now().UTC(),
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}
