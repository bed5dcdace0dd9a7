package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/creatorsuite/creditguard/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultAbuseListLimit = 100
	maxAbuseListLimit     = 500
)

// AdminAbuseHandler lists recorded abuse events for operators.
type AdminAbuseHandler struct {
	db *gorm.DB
}

// NewAdminAbuseHandler constructs an admin abuse handler.
func NewAdminAbuseHandler(db *gorm.DB) *AdminAbuseHandler {
	return &AdminAbuseHandler{db: db}
}

// List returns recent abuse events, newest first, with a per-label summary.
// Supports label, since (RFC3339), and limit query parameters.
func (h *AdminAbuseHandler) List(c *gin.Context) {
	limit := defaultAbuseListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil {
			denial(c, http.StatusBadRequest, "invalid_limit", "limit must be an integer.")
			return
		}
		limit = parsed
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxAbuseListLimit {
		limit = maxAbuseListLimit
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.AbuseEvent{})
	if label := c.Query("label"); label != "" {
		query = query.Where("risk_label = ?", label)
	}
	if raw := c.Query("since"); raw != "" {
		since, errParse := time.Parse(time.RFC3339, raw)
		if errParse != nil {
			denial(c, http.StatusBadRequest, "invalid_since", "since must be an RFC3339 timestamp.")
			return
		}
		query = query.Where("created_at >= ?", since.UTC())
	}

	var events []models.AbuseEvent
	if errFind := query.Order("created_at DESC, id DESC").Limit(limit).Find(&events).Error; errFind != nil {
		denial(c, http.StatusInternalServerError, "storage_error", "Abuse event lookup failed.")
		return
	}

	summary, errSummary := h.labelSummary(c)
	if errSummary != nil {
		denial(c, http.StatusInternalServerError, "storage_error", "Abuse event lookup failed.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events":  events,
		"summary": summary,
		"count":   len(events),
	})
}

func (h *AdminAbuseHandler) labelSummary(c *gin.Context) (map[string]int64, error) {
	type labelCount struct {
		RiskLabel string
		Count     int64
	}
	var rows []labelCount
	errGroup := h.db.WithContext(c.Request.Context()).
		Model(&models.AbuseEvent{}).
		Select("risk_label, COUNT(*) AS count").
		Group("risk_label").
		Scan(&rows).Error
	if errGroup != nil {
		return nil, errGroup
	}
	summary := make(map[string]int64, len(rows))
	for _, row := range rows {
		summary[row.RiskLabel] = row.Count
	}
	return summary, nil
}
