package coupon

import (
	"encoding/json"
	"strings"
	"time"
)

// Metadata keys stamped onto profiles at redemption.
const (
	metaBypassCredits   = "coupon_bypass_credits"
	metaBypassEnabledAt = "coupon_bypass_enabled_at"
	metaBypassExpiresAt = "coupon_bypass_expires_at"
	metaRedeemedCoupons = "redeemed_coupons"
)

// DefaultBypassMonths is how long a redeemed coupon keeps credit deduction
// switched off.
const DefaultBypassMonths = 2

// BypassState reports whether credit deduction is currently bypassed.
type BypassState struct {
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// BypassStateFromMetadata derives the bypass state from a profile metadata
// blob. Legacy profiles may carry only enabled_at; their window is derived
// by adding the default bypass length. A profile flagged on with no dates at
// all stays active.
func BypassStateFromMetadata(metadata []byte, now time.Time) BypassState {
	fields := parseMetadata(metadata)
	if fields == nil {
		return BypassState{}
	}
	enabled, okEnabled := fields[metaBypassCredits].(bool)
	if !okEnabled || !enabled {
		return BypassState{}
	}

	if expiry, ok := metadataTime(fields[metaBypassExpiresAt]); ok {
		return BypassState{Active: !now.After(expiry), ExpiresAt: &expiry}
	}
	if enabledAt, ok := metadataTime(fields[metaBypassEnabledAt]); ok {
		derived := enabledAt.AddDate(0, DefaultBypassMonths, 0)
		return BypassState{Active: !now.After(derived), ExpiresAt: &derived}
	}
	return BypassState{Active: true}
}

func parseMetadata(metadata []byte) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	var fields map[string]any
	if errUnmarshal := json.Unmarshal(metadata, &fields); errUnmarshal != nil {
		return nil
	}
	return fields
}

func metadataTime(raw any) (time.Time, bool) {
	str, ok := raw.(string)
	if !ok || strings.TrimSpace(str) == "" {
		return time.Time{}, false
	}
	parsed, errParse := time.Parse(time.RFC3339, str)
	if errParse != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

func redeemedCodes(fields map[string]any) []string {
	raw, ok := fields[metaRedeemedCoupons].([]any)
	if !ok {
		return nil
	}
	codes := make([]string, 0, len(raw))
	for _, item := range raw {
		if code, okStr := item.(string); okStr {
			codes = append(codes, code)
		}
	}
	return codes
}
