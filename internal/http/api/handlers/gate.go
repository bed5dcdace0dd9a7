package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/creatorsuite/creditguard/internal/abuse"
	"github.com/creatorsuite/creditguard/internal/coupon"
	"github.com/creatorsuite/creditguard/internal/credit"
	"github.com/creatorsuite/creditguard/internal/identity"
	"github.com/creatorsuite/creditguard/internal/ratelimit"
	"github.com/creatorsuite/creditguard/internal/security"
	"github.com/creatorsuite/creditguard/internal/usage"
	"github.com/gin-gonic/gin"
)

// IdentityContextKey is where the auth middleware stores the caller.
const IdentityContextKey = "caller"

// UserAPIKeyHeader carries the caller's own upstream key, required while a
// coupon bypass is active.
const UserAPIKeyHeader = "X-User-Api-Key"

// CallerIdentity reads the authenticated caller set by the middleware.
func CallerIdentity(c *gin.Context) (identity.Identity, bool) {
	value, exists := c.Get(IdentityContextKey)
	if !exists {
		return identity.Identity{}, false
	}
	caller, ok := value.(identity.Identity)
	return caller, ok
}

// GateHandler runs the full billable-request chain: abuse policy, usage
// limits, bypass resolution, and credit deduction.
type GateHandler struct {
	guard   *abuse.Guard
	limiter *usage.Limiter
	ledger  *credit.Ledger
	burst   *ratelimit.Manager
	salt    string
}

// NewGateHandler constructs a gate handler.
func NewGateHandler(guard *abuse.Guard, limiter *usage.Limiter, ledger *credit.Ledger, burst *ratelimit.Manager, salt string) *GateHandler {
	return &GateHandler{guard: guard, limiter: limiter, ledger: ledger, burst: burst, salt: salt}
}

type gateRequest struct {
	CharCount int              `json:"charCount"`
	Client    *gateClientBlock `json:"client"`
}

type gateClientBlock struct {
	Fingerprint string `json:"fingerprint"`
}

// Decide runs the chain and responds with the billing decision.
func (h *GateHandler) Decide(c *gin.Context) {
	caller, okCaller := CallerIdentity(c)
	if !okCaller {
		denial(c, http.StatusUnauthorized, "auth_required", "Authentication required.")
		return
	}

	action := c.Param("action")
	var body gateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		denial(c, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON.")
		return
	}
	cost, okCost := credit.CostForAction(action, body.CharCount)
	if !okCost {
		denial(c, http.StatusBadRequest, "unknown_action", "Unknown action: "+action)
		return
	}

	ipHash := security.HashIdentity(ClientIP(c), h.salt)
	fingerprint := ""
	if body.Client != nil {
		fingerprint = body.Client.Fingerprint
	}
	fingerprintHash := security.HashIdentity(fingerprint, h.salt)

	if h.burst != nil {
		key := ratelimit.KeyForIdentity(caller.ID, ipHash, fingerprintHash)
		result, errBurst := h.burst.Allow(c.Request.Context(), key)
		if errBurst == nil && !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(result.Reset)))
			denial(c, http.StatusTooManyRequests, "burst_limit", "Too many requests, slow down.")
			return
		}
	}

	if decision := h.guard.EnforcePolicy(c.Request.Context(), ipHash, fingerprintHash, action); !decision.Allowed {
		denial(c, decision.Status, decision.Reason, decision.Message)
		return
	}

	if decision := h.limiter.Enforce(c.Request.Context(), ipHash, fingerprintHash); !decision.Allowed {
		if decision.RetryAfterSeconds > 0 {
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
		}
		denial(c, decision.Status, decision.Reason, decision.Message)
		return
	}

	// Bookkeeping must not delay or fail the request.
	userAgent := c.Request.UserAgent()
	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		defer cancel()
		h.limiter.Record(recordCtx, action, ipHash, fingerprintHash, userAgent)
	}()

	profile, errProfile := h.ledger.Profile(c.Request.Context(), caller.ID)
	if errProfile != nil {
		denial(c, http.StatusInternalServerError, "storage_error", "Profile lookup failed.")
		return
	}
	if profile != nil {
		state := coupon.BypassStateFromMetadata(profile.Metadata, time.Now().UTC())
		if state.Active {
			if c.GetHeader(UserAPIKeyHeader) == "" {
				denial(c, http.StatusBadRequest, "coupon_user_key_required", "Coupon users must supply their own API key.")
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"allowed": true,
				"bypass":  true,
				"action":  action,
				"cost":    0,
			})
			return
		}
	}

	result, errDeduct := h.ledger.CheckAndDeduct(c.Request.Context(), caller.ID, caller.Email, ipHash, cost)
	if errDeduct != nil {
		denial(c, http.StatusInternalServerError, "storage_error", "Credit check failed.")
		return
	}
	if !result.Allowed {
		c.JSON(result.Status, gin.H{
			"reason":         result.Reason,
			"message":        result.Message,
			"currentCredits": result.CurrentCredits,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allowed": true,
		"bypass":  false,
		"action":  action,
		"cost":    result.Cost,
		"credits": result.CurrentCredits,
	})
}

// Preview reports the cost of an action without running the chain.
func (h *GateHandler) Preview(c *gin.Context) {
	action := c.Param("action")
	charCount := 0
	if raw := c.Query("charCount"); raw != "" {
		if parsed, errParse := strconv.Atoi(raw); errParse == nil && parsed > 0 {
			charCount = parsed
		}
	}
	cost, okCost := credit.CostForAction(action, charCount)
	if !okCost {
		denial(c, http.StatusBadRequest, "unknown_action", "Unknown action: "+action)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": action, "cost": cost})
}

func retryAfterSeconds(reset time.Time) int {
	seconds := int(time.Until(reset).Seconds()) + 1
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
