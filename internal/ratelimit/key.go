package ratelimit

import "strings"

// KeyForIdentity builds a limiter key from the strongest identity signal
// available. Authenticated users get a stable per-user key; anonymous
// callers fall back to fingerprint, then IP.
func KeyForIdentity(userID, ipHash, fingerprintHash string) string {
	if id := strings.TrimSpace(userID); id != "" {
		return "u:" + id
	}
	if fp := strings.TrimSpace(fingerprintHash); fp != "" {
		return "fp:" + fp
	}
	if ip := strings.TrimSpace(ipHash); ip != "" {
		return "ip:" + ip
	}
	return ""
}
