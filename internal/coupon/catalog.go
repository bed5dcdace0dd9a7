package coupon

import (
	"encoding/json"
	"strings"
	"time"
)

// Coupon is one redeemable code from the configured catalog.
type Coupon struct {
	Code      string     `json:"code"`
	Credits   float64    `json:"credits"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Catalog maps normalized codes to coupons.
type Catalog map[string]Coupon

// NormalizeCode canonicalizes user-supplied coupon codes.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ParseCatalogCSV parses `CODE:credits[:expiresAt]` entries separated by
// commas. Malformed entries are skipped.
func ParseCatalogCSV(raw string) Catalog {
	catalog := Catalog{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		code := NormalizeCode(parts[0])
		if code == "" || len(parts) < 2 {
			continue
		}
		credits, okCredits := parsePositiveFloat(parts[1])
		if !okCredits {
			continue
		}
		coupon := Coupon{Code: code, Credits: credits}
		if len(parts) == 3 {
			if expiry, okExpiry := parseExpiry(parts[2]); okExpiry {
				coupon.ExpiresAt = &expiry
			}
		}
		catalog[code] = coupon
	}
	return catalog
}

// ParseCatalogJSON parses a JSON array of coupon objects. Invalid input or
// malformed entries yield an empty/partial catalog.
func ParseCatalogJSON(raw string) Catalog {
	catalog := Catalog{}
	var entries []struct {
		Code      string          `json:"code"`
		Credits   json.RawMessage `json:"credits"`
		ExpiresAt string          `json:"expiresAt"`
	}
	if errUnmarshal := json.Unmarshal([]byte(raw), &entries); errUnmarshal != nil {
		return catalog
	}
	for _, entry := range entries {
		code := NormalizeCode(entry.Code)
		if code == "" {
			continue
		}
		credits, okCredits := parseRawFloat(entry.Credits)
		if !okCredits {
			continue
		}
		coupon := Coupon{Code: code, Credits: credits}
		if expiry, okExpiry := parseExpiry(entry.ExpiresAt); okExpiry {
			coupon.ExpiresAt = &expiry
		}
		catalog[code] = coupon
	}
	return catalog
}

// LoadCatalog prefers the JSON form when present, falling back to CSV.
func LoadCatalog(jsonRaw, csvRaw string) Catalog {
	if strings.TrimSpace(jsonRaw) != "" {
		return ParseCatalogJSON(jsonRaw)
	}
	return ParseCatalogCSV(csvRaw)
}

func parsePositiveFloat(raw string) (float64, bool) {
	var value float64
	if errUnmarshal := json.Unmarshal([]byte(strings.TrimSpace(raw)), &value); errUnmarshal != nil {
		return 0, false
	}
	return value, value > 0
}

func parseRawFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var value float64
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal == nil {
		return value, value > 0
	}
	var str string
	if errUnmarshal := json.Unmarshal(raw, &str); errUnmarshal == nil {
		return parsePositiveFloat(str)
	}
	return 0, false
}

func parseExpiry(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, errParse := time.Parse(layout, raw); errParse == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
