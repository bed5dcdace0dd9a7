package abuse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/models"
	"github.com/creatorsuite/creditguard/internal/policy"
	"github.com/creatorsuite/creditguard/internal/risk"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Denial reason codes surfaced by the guard.
const (
	ReasonAbuseBlocked = "abuse_blocked"
	ReasonAbuseLimited = "abuse_limited"
)

// CheckInput carries one abuse-check submission.
type CheckInput struct {
	IPHash          string
	FingerprintHash string
	UserAgent       string
	Browser         string
	OS              string
	FingerprintData json.RawMessage
}

// Verdict is the recorded classification outcome.
type Verdict struct {
	Label  string
	Score  int
	Reason string
	Action string
}

// Decision is a policy enforcement outcome for one request.
type Decision struct {
	Allowed bool
	Status  int
	Reason  string
	Message string
	Label   string
}

// Guard records abuse-check events, classifies them, and enforces the
// resulting policy on billable requests.
type Guard struct {
	db         *gorm.DB
	classifier risk.Classifier
	cfg        config.AbuseConfig
	heavy      map[string]bool
	nowFn      func() time.Time
}

// NewGuard constructs a Guard. An empty heavy-action list falls back to the
// default set.
func NewGuard(db *gorm.DB, classifier risk.Classifier, cfg config.AbuseConfig) *Guard {
	actions := cfg.HeavyActions
	if len(actions) == 0 {
		actions = config.DefaultHeavyActions()
	}
	heavy := make(map[string]bool, len(actions))
	for _, action := range actions {
		heavy[action] = true
	}
	return &Guard{
		db:         db,
		classifier: classifier,
		cfg:        cfg,
		heavy:      heavy,
		nowFn:      time.Now,
	}
}

// RecordCheck inserts a pending event, classifies it, and stamps the verdict
// back onto the row. Failures after the insert mark the row unknown and
// propagate the error so the handler can surface it.
func (g *Guard) RecordCheck(ctx context.Context, in CheckInput) (Verdict, error) {
	event := models.AbuseEvent{
		IPHash:          in.IPHash,
		FingerprintHash: in.FingerprintHash,
		UserAgent:       in.UserAgent,
		Browser:         in.Browser,
		OS:              in.OS,
		RiskLabel:       models.RiskLabelPending,
	}
	if len(in.FingerprintData) > 0 {
		event.FingerprintData = datatypes.JSON(in.FingerprintData)
	}
	if errCreate := g.db.WithContext(ctx).Create(&event).Error; errCreate != nil {
		return Verdict{}, fmt.Errorf("abuse: insert event: %w", errCreate)
	}

	metrics, errMetrics := g.rollingMetrics(ctx, in.IPHash, in.FingerprintHash)
	if errMetrics != nil {
		g.markUnknown(ctx, event.ID)
		return Verdict{}, errMetrics
	}

	decision := g.classifier.Classify(ctx, risk.Input{
		IPHash:          in.IPHash,
		FingerprintHash: in.FingerprintHash,
		UserAgent:       in.UserAgent,
		Browser:         in.Browser,
		OS:              in.OS,
		Metrics:         metrics,
	})
	action := ActionForLabel(decision.Label)

	metricsJSON, _ := json.Marshal(metrics)
	updates := map[string]any{
		"risk_label":       decision.Label,
		"risk_score":       decision.Score,
		"risk_reason":      decision.Reason,
		"decision_source":  decision.Source,
		"decision_payload": decision.Raw,
		"metrics":          datatypes.JSON(metricsJSON),
		"action":           action,
	}
	if errUpdate := g.db.WithContext(ctx).
		Model(&models.AbuseEvent{}).
		Where("id = ?", event.ID).
		Updates(updates).Error; errUpdate != nil {
		g.markUnknown(ctx, event.ID)
		return Verdict{}, fmt.Errorf("abuse: store verdict: %w", errUpdate)
	}

	return Verdict{
		Label:  decision.Label,
		Score:  decision.Score,
		Reason: decision.Reason,
		Action: action,
	}, nil
}

// EnforcePolicy resolves the latest verdict for either identity hash and
// maps it onto the requested action. Lookup failures allow the request;
// blocking legitimate users on infrastructure trouble is worse than letting
// an abuser through one window.
func (g *Guard) EnforcePolicy(ctx context.Context, ipHash, fingerprintHash, action string) Decision {
	label, errLabel := g.LatestLabel(ctx, ipHash, fingerprintHash)
	if errLabel != nil {
		if policy.FailsOpen(policy.OpAbusePolicyLookup) {
			log.WithError(errLabel).Warn("abuse: policy lookup failed, allowing")
			return Decision{Allowed: true, Label: models.RiskLabelUnknown}
		}
		return Decision{
			Allowed: false,
			Status:  http.StatusInternalServerError,
			Reason:  "abuse_lookup_failed",
			Message: "Abuse policy lookup failed.",
		}
	}

	switch label {
	case models.RiskLabelAbusive:
		return Decision{
			Allowed: false,
			Status:  http.StatusForbidden,
			Reason:  ReasonAbuseBlocked,
			Message: "Requests from this client are blocked.",
			Label:   label,
		}
	case models.RiskLabelSuspicious:
		if g.heavy[action] {
			return Decision{
				Allowed: false,
				Status:  http.StatusTooManyRequests,
				Reason:  ReasonAbuseLimited,
				Message: "This operation is temporarily limited for your client.",
				Label:   label,
			}
		}
	}
	return Decision{Allowed: true, Label: label}
}

// LatestLabel returns the most recent non-pending risk label recorded for
// either hash, or empty when no verdict exists.
func (g *Guard) LatestLabel(ctx context.Context, ipHash, fingerprintHash string) (string, error) {
	if ipHash == "" && fingerprintHash == "" {
		return "", nil
	}
	query := g.db.WithContext(ctx).
		Model(&models.AbuseEvent{}).
		Select("risk_label").
		Where("risk_label NOT IN ?", []string{models.RiskLabelPending, models.RiskLabelUnknown}).
		Order("created_at DESC, id DESC")
	switch {
	case ipHash != "" && fingerprintHash != "":
		query = query.Where("ip_hash = ? OR fingerprint_hash = ?", ipHash, fingerprintHash)
	case ipHash != "":
		query = query.Where("ip_hash = ?", ipHash)
	default:
		query = query.Where("fingerprint_hash = ?", fingerprintHash)
	}

	var event models.AbuseEvent
	if errTake := query.Take(&event).Error; errTake != nil {
		if errors.Is(errTake, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("abuse: latest label: %w", errTake)
	}
	return event.RiskLabel, nil
}

// ActionForLabel maps a risk label to the enforcement action.
func ActionForLabel(label string) string {
	switch label {
	case models.RiskLabelAbusive:
		return models.ActionBlock
	case models.RiskLabelSuspicious:
		return models.ActionLimit
	default:
		return models.ActionAllow
	}
}

func (g *Guard) rollingMetrics(ctx context.Context, ipHash, fingerprintHash string) (risk.Metrics, error) {
	lookback := g.cfg.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	since := g.nowFn().UTC().Add(-lookback)
	var metrics risk.Metrics

	if ipHash != "" {
		var count int64
		if errCount := g.db.WithContext(ctx).
			Model(&models.AbuseEvent{}).
			Where("ip_hash = ? AND created_at >= ?", ipHash, since).
			Count(&count).Error; errCount != nil {
			return metrics, fmt.Errorf("abuse: count by ip: %w", errCount)
		}
		metrics.EventsByIP24h = int(count)
	}
	if fingerprintHash != "" {
		var count int64
		if errCount := g.db.WithContext(ctx).
			Model(&models.AbuseEvent{}).
			Where("fingerprint_hash = ? AND created_at >= ?", fingerprintHash, since).
			Count(&count).Error; errCount != nil {
			return metrics, fmt.Errorf("abuse: count by fingerprint: %w", errCount)
		}
		metrics.EventsByFingerprint24h = int(count)
	}

	// The total spans every identity in the window, not just the caller's
	// hashes: it is the flood signal for the systemwide thresholds.
	var total int64
	if errCount := g.db.WithContext(ctx).
		Model(&models.AbuseEvent{}).
		Where("created_at >= ?", since).
		Count(&total).Error; errCount != nil {
		return metrics, fmt.Errorf("abuse: count total: %w", errCount)
	}
	metrics.TotalEvents24h = int(total)
	return metrics, nil
}

func (g *Guard) markUnknown(ctx context.Context, eventID uint64) {
	if errMark := g.db.WithContext(ctx).
		Model(&models.AbuseEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{
			"risk_label":  models.RiskLabelUnknown,
			"risk_reason": "processing_failed",
		}).Error; errMark != nil {
		log.WithError(errMark).WithField("event_id", eventID).Warn("abuse: failed to mark event unknown")
	}
}
