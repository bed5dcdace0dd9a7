package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/creatorsuite/creditguard/internal/abuse"
	"github.com/creatorsuite/creditguard/internal/security"
	"github.com/gin-gonic/gin"
)

// AbuseHandler ingests client fingerprint reports and returns the verdict.
type AbuseHandler struct {
	guard *abuse.Guard
	salt  string
}

// NewAbuseHandler constructs an abuse handler.
func NewAbuseHandler(guard *abuse.Guard, salt string) *AbuseHandler {
	return &AbuseHandler{guard: guard, salt: salt}
}

type abuseCheckRequest struct {
	Client *abuseClientBlock `json:"client"`
}

type abuseClientBlock struct {
	IP              string          `json:"ip"`
	Fingerprint     string          `json:"fingerprint"`
	UserAgent       string          `json:"userAgent"`
	Browser         string          `json:"browser"`
	OS              string          `json:"os"`
	FingerprintData json.RawMessage `json:"fingerprintData"`
}

// Check records and classifies one abuse-check submission. Identity hashes
// are always computed server-side; the reported IP is only a fallback when
// no forwarding header is present.
func (h *AbuseHandler) Check(c *gin.Context) {
	var body abuseCheckRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.Client == nil {
		denial(c, http.StatusBadRequest, "missing_client", "Request must include a client block.")
		return
	}

	ip := ClientIP(c)
	if ip == "" {
		ip = body.Client.IP
	}
	ipHash := security.HashIdentity(ip, h.salt)
	fingerprintHash := security.HashIdentity(body.Client.Fingerprint, h.salt)

	verdict, errCheck := h.guard.RecordCheck(c.Request.Context(), abuse.CheckInput{
		IPHash:          ipHash,
		FingerprintHash: fingerprintHash,
		UserAgent:       body.Client.UserAgent,
		Browser:         body.Client.Browser,
		OS:              body.Client.OS,
		FingerprintData: body.Client.FingerprintData,
	})
	if errCheck != nil {
		denial(c, http.StatusInternalServerError, "analysis_error", "Abuse check failed.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"label":  verdict.Label,
		"score":  verdict.Score,
		"reason": verdict.Reason,
		"action": verdict.Action,
	})
}
