// Package api wires the HTTP surface: abuse checks, the billable gate,
// user credit and coupon endpoints, and the admin area.
package api

import (
	"net/http"
	"strconv"

	"github.com/creatorsuite/creditguard/internal/abuse"
	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/coupon"
	"github.com/creatorsuite/creditguard/internal/credit"
	"github.com/creatorsuite/creditguard/internal/http/api/handlers"
	"github.com/creatorsuite/creditguard/internal/identity"
	"github.com/creatorsuite/creditguard/internal/models"
	"github.com/creatorsuite/creditguard/internal/ratelimit"
	"github.com/creatorsuite/creditguard/internal/usage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the constructed services the routes depend on.
type Deps struct {
	DB       *gorm.DB
	Guard    *abuse.Guard
	Limiter  *usage.Limiter
	Ledger   *credit.Ledger
	Resolver *coupon.Resolver
	Burst    *ratelimit.Manager
	JWT      config.JWTConfig
	HashSalt string
}

// RegisterRoutes registers all routes, middleware, and handlers.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	abuseHandler := handlers.NewAbuseHandler(deps.Guard, deps.HashSalt)
	r.POST("/api/abuse/check", abuseHandler.Check)

	gateHandler := handlers.NewGateHandler(deps.Guard, deps.Limiter, deps.Ledger, deps.Burst, deps.HashSalt)
	gateGroup := r.Group("/api/gate")
	gateGroup.Use(userAuthMiddleware(deps.JWT))
	gateGroup.POST("/:action", gateHandler.Decide)
	gateGroup.GET("/:action", gateHandler.Preview)

	creditsHandler := handlers.NewCreditsHandler(deps.Ledger, deps.HashSalt)
	couponHandler := handlers.NewCouponHandler(deps.Resolver, deps.HashSalt)
	userGroup := r.Group("/api/user")
	userGroup.Use(userAuthMiddleware(deps.JWT))
	userGroup.GET("/credits", creditsHandler.Balance)
	userGroup.POST("/credits/deduct", creditsHandler.Deduct)
	userGroup.POST("/coupon", couponHandler.Redeem)
	userGroup.GET("/coupon", couponHandler.State)

	adminGroup := r.Group("/api/admin")

	adminAuthHandler := handlers.NewAdminAuthHandler(deps.DB, deps.JWT)
	adminGroup.POST("/login", adminAuthHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(deps.DB, deps.JWT))

	adminAbuseHandler := handlers.NewAdminAbuseHandler(deps.DB)
	authed.GET("/abuse", adminAbuseHandler.List)

	adminWhitelistHandler := handlers.NewAdminWhitelistHandler(deps.DB)
	authed.POST("/coupon-whitelist", adminWhitelistHandler.Upsert)
	authed.POST("/coupon-whitelist/sync", adminWhitelistHandler.Sync)
	authed.GET("/coupon-whitelist", adminWhitelistHandler.List)
}

// userAuthMiddleware validates user bearer tokens and stores the caller.
func userAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, errAuth := identity.FromAuthorizationHeader(c.GetHeader("Authorization"), jwtCfg)
		if errAuth != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"reason":  "auth_required",
				"message": "Authentication required.",
			})
			return
		}
		c.Set(handlers.IdentityContextKey, caller)
		c.Next()
	}
}

// adminAuthMiddleware validates admin tokens and requires a live admin row.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, errAuth := identity.FromAuthorizationHeader(c.GetHeader("Authorization"), jwtCfg)
		if errAuth != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"reason":  "auth_required",
				"message": "Authentication required.",
			})
			return
		}
		if !caller.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"reason":  "admin_required",
				"message": "Admin access required.",
			})
			return
		}

		adminID, errParse := strconv.ParseUint(caller.ID, 10, 64)
		if errParse != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"reason":  "auth_required",
				"message": "Authentication required.",
			})
			return
		}
		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, adminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"reason":  "admin_not_found",
				"message": "Admin account not found.",
			})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Next()
	}
}
