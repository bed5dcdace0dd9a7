package handlers

import (
	"net/http"

	"github.com/creatorsuite/creditguard/internal/credit"
	"github.com/creatorsuite/creditguard/internal/security"
	"github.com/gin-gonic/gin"
)

// maxExplicitDeduct caps a single client-reported deduction so a buggy or
// hostile caller cannot drain a balance in one request.
const maxExplicitDeduct = 1000

// CreditsHandler serves balance reads and explicit deductions.
type CreditsHandler struct {
	ledger *credit.Ledger
	salt   string
}

// NewCreditsHandler constructs a credits handler.
func NewCreditsHandler(ledger *credit.Ledger, salt string) *CreditsHandler {
	return &CreditsHandler{ledger: ledger, salt: salt}
}

// Balance returns the caller's current balance, materializing the profile and
// applying the daily reset first.
func (h *CreditsHandler) Balance(c *gin.Context) {
	caller, okCaller := CallerIdentity(c)
	if !okCaller {
		denial(c, http.StatusUnauthorized, "auth_required", "Authentication required.")
		return
	}
	ipHash := security.HashIdentity(ClientIP(c), h.salt)
	result, errBalance := h.ledger.Balance(c.Request.Context(), caller.ID, caller.Email, ipHash)
	if errBalance != nil {
		denial(c, http.StatusInternalServerError, "storage_error", "Balance lookup failed.")
		return
	}
	if !result.Allowed {
		denial(c, result.Status, result.Reason, result.Message)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": result.CurrentCredits})
}

type deductRequest struct {
	Cost float64 `json:"cost"`
}

// Deduct applies an explicit client-reported cost against the balance. Used
// for flows where the cost is only known client-side, such as per-character
// speech synthesis.
func (h *CreditsHandler) Deduct(c *gin.Context) {
	caller, okCaller := CallerIdentity(c)
	if !okCaller {
		denial(c, http.StatusUnauthorized, "auth_required", "Authentication required.")
		return
	}
	var body deductRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		denial(c, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON.")
		return
	}
	if body.Cost <= 0 || body.Cost > maxExplicitDeduct {
		denial(c, http.StatusBadRequest, "invalid_cost", "Cost must be a positive number.")
		return
	}

	ipHash := security.HashIdentity(ClientIP(c), h.salt)
	result, errDeduct := h.ledger.CheckAndDeduct(c.Request.Context(), caller.ID, caller.Email, ipHash, body.Cost)
	if errDeduct != nil {
		denial(c, http.StatusInternalServerError, "storage_error", "Credit deduction failed.")
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
	c.JSON(http.StatusOK, gin.H{"credits": result.CurrentCredits, "deducted": result.Cost})
}
