package usage

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/models"
	"github.com/creatorsuite/creditguard/internal/policy"
	internalsettings "github.com/creatorsuite/creditguard/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Denial reason codes surfaced by the limiter.
const (
	ReasonAbuseBlocked = "abuse_blocked"
	ReasonDailyLimit   = "daily_limit"
	ReasonMinuteLimit  = "minute_limit"
)

const (
	dailyWindow  = 24 * time.Hour
	minuteWindow = time.Minute
)

// LabelSource resolves the latest risk label for an identity pair.
type LabelSource interface {
	LatestLabel(ctx context.Context, ipHash, fingerprintHash string) (string, error)
}

// Limits reports the caps in effect for a decision.
type Limits struct {
	Daily     int `json:"daily"`
	PerMinute int `json:"perMinute"`
}

// Decision is the outcome of a usage limit check.
type Decision struct {
	Allowed           bool
	Status            int
	Reason            string
	Message           string
	RetryAfterSeconds int
	Limits            Limits
}

// Limiter enforces per-identity request caps backed by persisted usage
// events. Counting failures allow the request; the caps protect upstream
// spend, not correctness.
type Limiter struct {
	db     *gorm.DB
	labels LabelSource
	cfg    config.UsageConfig
	nowFn  func() time.Time
}

// NewLimiter constructs a Limiter.
func NewLimiter(db *gorm.DB, labels LabelSource, cfg config.UsageConfig) *Limiter {
	return &Limiter{db: db, labels: labels, cfg: cfg, nowFn: time.Now}
}

// Enforce checks the rolling windows for the identity pair. Settings rows
// override the configured caps at runtime.
func (l *Limiter) Enforce(ctx context.Context, ipHash, fingerprintHash string) Decision {
	limits := l.effectiveLimits()
	if ipHash == "" && fingerprintHash == "" {
		return Decision{Allowed: true, Limits: limits}
	}

	label := ""
	if l.labels != nil {
		var errLabel error
		label, errLabel = l.labels.LatestLabel(ctx, ipHash, fingerprintHash)
		if errLabel != nil {
			if policy.FailsOpen(policy.OpUsageLimitCheck) {
				log.WithError(errLabel).Warn("usage: risk lookup failed, allowing")
				return Decision{Allowed: true, Limits: limits}
			}
			return Decision{Allowed: false, Status: http.StatusInternalServerError, Reason: "usage_lookup_failed"}
		}
	}

	if label == models.RiskLabelAbusive {
		return Decision{
			Allowed: false,
			Status:  http.StatusForbidden,
			Reason:  ReasonAbuseBlocked,
			Message: "Requests from this client are blocked.",
		}
	}

	dailyLimit := limits.Daily
	if label == models.RiskLabelSuspicious {
		dailyLimit = l.suspiciousDailyLimit()
	}
	effective := Limits{Daily: dailyLimit, PerMinute: limits.PerMinute}

	now := l.nowFn().UTC()

	dailyCount, errDaily := l.countEvents(ctx, ipHash, fingerprintHash, now.Add(-dailyWindow))
	if errDaily != nil {
		return l.failCount(errDaily, effective)
	}
	if dailyCount >= int64(dailyLimit) {
		return Decision{
			Allowed: false,
			Status:  http.StatusTooManyRequests,
			Reason:  ReasonDailyLimit,
			Message: "Daily request limit reached.",
			Limits:  effective,
		}
	}

	minuteCount, errMinute := l.countEvents(ctx, ipHash, fingerprintHash, now.Add(-minuteWindow))
	if errMinute != nil {
		return l.failCount(errMinute, effective)
	}
	if minuteCount >= int64(limits.PerMinute) {
		return Decision{
			Allowed:           false,
			Status:            http.StatusTooManyRequests,
			Reason:            ReasonMinuteLimit,
			Message:           "Too many requests, slow down.",
			RetryAfterSeconds: int(math.Ceil(minuteWindow.Seconds())),
			Limits:            effective,
		}
	}

	return Decision{Allowed: true, Limits: effective}
}

// Record appends a usage event. Failures are logged and swallowed so a
// billable request never fails because bookkeeping did.
func (l *Limiter) Record(ctx context.Context, action, ipHash, fingerprintHash, userAgent string) {
	if ipHash == "" && fingerprintHash == "" {
		return
	}
	event := models.UsageEvent{
		Action:          action,
		IPHash:          ipHash,
		FingerprintHash: fingerprintHash,
		UserAgent:       userAgent,
	}
	if errCreate := l.db.WithContext(ctx).Create(&event).Error; errCreate != nil {
		log.WithError(errCreate).Warn("usage: failed to store usage event")
	}
}

func (l *Limiter) effectiveLimits() Limits {
	daily := l.cfg.DailyLimit
	if daily <= 0 {
		daily = internalsettings.DefaultUsageDailyLimit
	}
	perMinute := l.cfg.PerMinuteLimit
	if perMinute <= 0 {
		perMinute = internalsettings.DefaultUsagePerMinuteLimit
	}
	return Limits{
		Daily:     internalsettings.IntValue(internalsettings.UsageDailyLimitKey, daily),
		PerMinute: internalsettings.IntValue(internalsettings.UsagePerMinuteLimitKey, perMinute),
	}
}

func (l *Limiter) suspiciousDailyLimit() int {
	limit := l.cfg.SuspiciousDailyLimit
	if limit <= 0 {
		limit = internalsettings.DefaultUsageSuspiciousDailyLimit
	}
	return internalsettings.IntValue(internalsettings.UsageSuspiciousDailyLimitKey, limit)
}

func (l *Limiter) countEvents(ctx context.Context, ipHash, fingerprintHash string, since time.Time) (int64, error) {
	query := l.db.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("created_at >= ?", since)
	switch {
	case ipHash != "" && fingerprintHash != "":
		query = query.Where("ip_hash = ? OR fingerprint_hash = ?", ipHash, fingerprintHash)
	case ipHash != "":
		query = query.Where("ip_hash = ?", ipHash)
	default:
		query = query.Where("fingerprint_hash = ?", fingerprintHash)
	}
	var count int64
	if errCount := query.Count(&count).Error; errCount != nil {
		return 0, fmt.Errorf("usage: count events: %w", errCount)
	}
	return count, nil
}

func (l *Limiter) failCount(err error, limits Limits) Decision {
	if policy.FailsOpen(policy.OpUsageLimitCheck) {
		log.WithError(err).Warn("usage: count failed, allowing")
		return Decision{Allowed: true, Limits: limits}
	}
	return Decision{Allowed: false, Status: http.StatusInternalServerError, Reason: "usage_count_failed"}
}
