package handlers

import (
	"errors"
	"net/http"

	"github.com/creatorsuite/creditguard/internal/coupon"
	"github.com/creatorsuite/creditguard/internal/credit"
	"github.com/creatorsuite/creditguard/internal/security"
	"github.com/gin-gonic/gin"
)

// CouponHandler serves coupon redemption and bypass state reads.
type CouponHandler struct {
	resolver *coupon.Resolver
	salt     string
}

// NewCouponHandler constructs a coupon handler.
func NewCouponHandler(resolver *coupon.Resolver, salt string) *CouponHandler {
	return &CouponHandler{resolver: resolver, salt: salt}
}

type redeemRequest struct {
	Code string `json:"code"`
}

// Redeem applies a coupon code to the caller's account.
func (h *CouponHandler) Redeem(c *gin.Context) {
	caller, okCaller := CallerIdentity(c)
	if !okCaller {
		denial(c, http.StatusUnauthorized, "auth_required", "Authentication required.")
		return
	}
	var body redeemRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		denial(c, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON.")
		return
	}

	ident := coupon.Identity{
		UserID: caller.ID,
		Email:  caller.Email,
		IPHash: security.HashIdentity(ClientIP(c), h.salt),
	}
	redemption, errRedeem := h.resolver.Redeem(c.Request.Context(), ident, body.Code)
	if errRedeem != nil {
		var couponErr *coupon.Error
		if errors.As(errRedeem, &couponErr) {
			denial(c, couponErr.Status, couponErr.Reason, redemptionMessage(couponErr.Reason))
			return
		}
		if errors.Is(errRedeem, credit.ErrDuplicateSignupIP) {
			denial(c, http.StatusForbidden, credit.ReasonDuplicateSignupIP, "Account creation from this network is not allowed.")
			return
		}
		denial(c, http.StatusInternalServerError, "storage_error", "Coupon redemption failed.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"redeemed":        true,
		"code":            redemption.Code,
		"bypassExpiresAt": redemption.BypassExpiresAt,
	})
}

// State reports whether the caller currently has an active deduction bypass.
func (h *CouponHandler) State(c *gin.Context) {
	caller, okCaller := CallerIdentity(c)
	if !okCaller {
		denial(c, http.StatusUnauthorized, "auth_required", "Authentication required.")
		return
	}
	state, errState := h.resolver.State(c.Request.Context(), caller.ID)
	if errState != nil {
		denial(c, http.StatusInternalServerError, "storage_error", "Bypass state lookup failed.")
		return
	}
	c.JSON(http.StatusOK, state)
}

func redemptionMessage(reason string) string {
	switch reason {
	case coupon.ReasonInvalidCode:
		return "A coupon code is required."
	case coupon.ReasonNotFound:
		return "Unknown coupon code."
	case coupon.ReasonExpired:
		return "This coupon has expired."
	case coupon.ReasonMissingEmail:
		return "An account email is required to redeem a coupon."
	case coupon.ReasonNotWhitelisted:
		return "This coupon is not available for your account."
	case coupon.ReasonAlreadyUsed:
		return "This coupon has already been redeemed."
	default:
		return "Coupon redemption failed."
	}
}
