package credit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Denial reason codes surfaced by the ledger.
const (
	ReasonDuplicateSignupIP = "duplicate_signup_ip"
	ReasonCreditLimit       = "credit_limit"
)

// ErrDuplicateSignupIP reports that profile creation was refused because
// another profile already carries the same signup IP hash.
var ErrDuplicateSignupIP = errors.New("credit: duplicate signup ip")

// Result describes the outcome of a ledger operation.
type Result struct {
	Allowed        bool
	CurrentCredits float64
	Cost           float64
	Status         int
	Reason         string
	Message        string
}

// Ledger owns per-user credit balances: lazy profile creation, the daily
// free-credit reset, and the atomic check-and-deduct used by every billable
// action. Storage errors are returned to the caller; the ledger never
// allows on failure.
type Ledger struct {
	db    *gorm.DB
	cfg   config.CreditConfig
	nowFn func() time.Time
}

// NewLedger constructs a Ledger.
func NewLedger(db *gorm.DB, cfg config.CreditConfig) *Ledger {
	return &Ledger{db: db, cfg: cfg, nowFn: time.Now}
}

// CheckAndDeduct ensures the profile exists, applies the daily reset, then
// deducts cost as a single conditional update so that concurrent requests
// cannot both spend the same balance.
func (l *Ledger) CheckAndDeduct(ctx context.Context, userID, email, clientIPHash string, cost float64) (Result, error) {
	profile, denial, errEnsure := l.ensureProfile(ctx, userID, email, clientIPHash)
	if errEnsure != nil {
		return Result{}, errEnsure
	}
	if denial != nil {
		return *denial, nil
	}
	if errReset := l.applyDailyReset(ctx, profile); errReset != nil {
		return Result{}, errReset
	}

	if cost <= 0 {
		return Result{Allowed: true, CurrentCredits: profile.Credits, Cost: cost, Status: http.StatusOK}, nil
	}

	res := l.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ? AND credits >= ?", userID, cost).
		Update("credits", gorm.Expr("credits - ?", cost))
	if res.Error != nil {
		return Result{}, fmt.Errorf("credit: deduct: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		balance, errBalance := l.currentCredits(ctx, userID)
		if errBalance != nil {
			return Result{}, errBalance
		}
		return Result{
			Allowed:        false,
			CurrentCredits: balance,
			Cost:           cost,
			Status:         http.StatusPaymentRequired,
			Reason:         ReasonCreditLimit,
			Message:        fmt.Sprintf("Insufficient credits: need %.1f, have %.1f.", cost, balance),
		}, nil
	}

	balance, errBalance := l.currentCredits(ctx, userID)
	if errBalance != nil {
		return Result{}, errBalance
	}
	return Result{Allowed: true, CurrentCredits: balance, Cost: cost, Status: http.StatusOK}, nil
}

// Balance runs the read path of the credits endpoint: lazy create and daily
// reset without any deduction.
func (l *Ledger) Balance(ctx context.Context, userID, email, clientIPHash string) (Result, error) {
	profile, denial, errEnsure := l.ensureProfile(ctx, userID, email, clientIPHash)
	if errEnsure != nil {
		return Result{}, errEnsure
	}
	if denial != nil {
		return *denial, nil
	}
	if errReset := l.applyDailyReset(ctx, profile); errReset != nil {
		return Result{}, errReset
	}
	return Result{Allowed: true, CurrentCredits: profile.Credits, Status: http.StatusOK}, nil
}

// Profile loads the stored profile without mutating it. Callers that need
// metadata (coupon bypass state) use this instead of Balance.
func (l *Ledger) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	if errTake := l.db.WithContext(ctx).Where("id = ?", userID).Take(&profile).Error; errTake != nil {
		if errors.Is(errTake, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("credit: load profile: %w", errTake)
	}
	return &profile, nil
}

// EnsureProfile loads the profile, creating it with the initial grant when
// missing. The duplicate-signup check only applies when clientIPHash is set.
func (l *Ledger) EnsureProfile(ctx context.Context, userID, email, clientIPHash string) (*models.Profile, error) {
	profile, denial, errEnsure := l.ensureProfile(ctx, userID, email, clientIPHash)
	if errEnsure != nil {
		return nil, errEnsure
	}
	if denial != nil {
		return nil, ErrDuplicateSignupIP
	}
	return profile, nil
}

// UpdateMetadata replaces the profile metadata blob.
func (l *Ledger) UpdateMetadata(ctx context.Context, userID string, metadata datatypes.JSON) error {
	res := l.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ?", userID).
		Update("metadata", metadata)
	if res.Error != nil {
		return fmt.Errorf("credit: update metadata: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("credit: update metadata: profile %s not found", userID)
	}
	return nil
}

// ensureProfile loads the profile, creating it on first sight. A nil denial
// and nil error mean profile is valid.
func (l *Ledger) ensureProfile(ctx context.Context, userID, email, clientIPHash string) (*models.Profile, *Result, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil, errors.New("credit: empty user id")
	}
	now := l.nowFn().UTC()

	var profile models.Profile
	errTake := l.db.WithContext(ctx).Where("id = ?", userID).Take(&profile).Error
	if errTake == nil {
		if profile.SignupIPHash == "" && clientIPHash != "" {
			// Best-effort backfill for profiles created before IP tracking.
			if errBackfill := l.db.WithContext(ctx).
				Model(&models.Profile{}).
				Where("id = ? AND (signup_ip_hash IS NULL OR signup_ip_hash = '')", userID).
				Update("signup_ip_hash", clientIPHash).Error; errBackfill != nil {
				log.WithError(errBackfill).Warn("credit: signup ip backfill failed")
			} else {
				profile.SignupIPHash = clientIPHash
			}
		}
		return &profile, nil, nil
	}
	if !errors.Is(errTake, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("credit: load profile: %w", errTake)
	}

	if l.cfg.DuplicateIPCheckEnabled() && clientIPHash != "" {
		var count int64
		if errCount := l.db.WithContext(ctx).
			Model(&models.Profile{}).
			Where("signup_ip_hash = ? AND id <> ?", clientIPHash, userID).
			Count(&count).Error; errCount != nil {
			return nil, nil, fmt.Errorf("credit: duplicate ip check: %w", errCount)
		}
		if count > 0 {
			return nil, &Result{
				Allowed: false,
				Status:  http.StatusForbidden,
				Reason:  ReasonDuplicateSignupIP,
				Message: "An account already exists for this network address.",
			}, nil
		}
	}

	profile = models.Profile{
		ID:            userID,
		Email:         email,
		Credits:       l.cfg.InitialCredits,
		LastResetDate: now,
		SignupIPHash:  clientIPHash,
	}
	if l.cfg.InitialPeriodDays > 0 {
		expiry := now.Add(time.Duration(l.cfg.InitialPeriodDays) * 24 * time.Hour)
		profile.InitialCreditsExpiry = &expiry
	}
	if errCreate := l.db.WithContext(ctx).Create(&profile).Error; errCreate != nil {
		// A concurrent first request may have created the row already.
		var existing models.Profile
		if errRetry := l.db.WithContext(ctx).Where("id = ?", userID).Take(&existing).Error; errRetry == nil {
			return &existing, nil, nil
		}
		return nil, nil, fmt.Errorf("credit: create profile: %w", errCreate)
	}
	return &profile, nil, nil
}

// applyDailyReset stamps the reset date on UTC calendar-day change and, once
// the initial-grant period has lapsed, raises the balance to the daily floor
// when it has fallen below it.
func (l *Ledger) applyDailyReset(ctx context.Context, profile *models.Profile) error {
	now := l.nowFn().UTC()
	if sameUTCDay(profile.LastResetDate, now) {
		return nil
	}

	inInitialPeriod := profile.InitialCreditsExpiry != nil && now.Before(profile.InitialCreditsExpiry.UTC())
	if inInitialPeriod || profile.Credits >= l.cfg.DailyFreeCredits {
		if errStamp := l.db.WithContext(ctx).
			Model(&models.Profile{}).
			Where("id = ?", profile.ID).
			Update("last_reset_date", now).Error; errStamp != nil {
			return fmt.Errorf("credit: stamp reset date: %w", errStamp)
		}
		profile.LastResetDate = now
		return nil
	}

	// Raise to the daily floor guarded by the current balance so a racing
	// deduction cannot be overwritten upward.
	res := l.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ? AND credits < ?", profile.ID, l.cfg.DailyFreeCredits).
		Updates(map[string]any{
			"credits":         l.cfg.DailyFreeCredits,
			"last_reset_date": now,
		})
	if res.Error != nil {
		return fmt.Errorf("credit: daily reset: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		profile.Credits = l.cfg.DailyFreeCredits
		profile.LastResetDate = now
		return nil
	}
	// Balance rose past the floor between load and update; stamp the date.
	if errStamp := l.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ?", profile.ID).
		Update("last_reset_date", now).Error; errStamp != nil {
		return fmt.Errorf("credit: stamp reset date: %w", errStamp)
	}
	profile.LastResetDate = now
	return nil
}

func (l *Ledger) currentCredits(ctx context.Context, userID string) (float64, error) {
	var profile models.Profile
	if errTake := l.db.WithContext(ctx).
		Select("credits").
		Where("id = ?", userID).
		Take(&profile).Error; errTake != nil {
		return 0, fmt.Errorf("credit: load balance: %w", errTake)
	}
	return profile.Credits, nil
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
