package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/models"
	"github.com/creatorsuite/creditguard/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AdminAuthHandler issues admin bearer tokens.
type AdminAuthHandler struct {
	db  *gorm.DB
	jwt config.JWTConfig
}

// NewAdminAuthHandler constructs an admin auth handler.
func NewAdminAuthHandler(db *gorm.DB, jwt config.JWTConfig) *AdminAuthHandler {
	return &AdminAuthHandler{db: db, jwt: jwt}
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies operator credentials and returns a signed token.
func (h *AdminAuthHandler) Login(c *gin.Context) {
	var body adminLoginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		denial(c, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON.")
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		denial(c, http.StatusBadRequest, "missing_credentials", "Username and password are required.")
		return
	}

	var admin models.Admin
	errTake := h.db.WithContext(c.Request.Context()).Where("username = ?", username).Take(&admin).Error
	if errTake != nil {
		if errors.Is(errTake, gorm.ErrRecordNotFound) {
			denial(c, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password.")
			return
		}
		denial(c, http.StatusInternalServerError, "storage_error", "Login failed.")
		return
	}
	if !security.CheckPassword(admin.Password, body.Password) {
		denial(c, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password.")
		return
	}

	token, errSign := security.SignToken(strconv.FormatUint(admin.ID, 10), "", true, h.jwt)
	if errSign != nil {
		denial(c, http.StatusInternalServerError, "token_error", "Could not issue token.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresIn": int(h.jwt.Expiry.Seconds())})
}
