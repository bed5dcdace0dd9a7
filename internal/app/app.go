// Package app boots the credit guard service: database, settings, guard
// services, and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/creatorsuite/creditguard/internal/abuse"
	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/coupon"
	"github.com/creatorsuite/creditguard/internal/credit"
	"github.com/creatorsuite/creditguard/internal/db"
	"github.com/creatorsuite/creditguard/internal/http/api"
	"github.com/creatorsuite/creditguard/internal/ratelimit"
	"github.com/creatorsuite/creditguard/internal/risk"
	internalsettings "github.com/creatorsuite/creditguard/internal/settings"
	"github.com/creatorsuite/creditguard/internal/usage"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const burstWindow = time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the credit guard API server.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	internalsettings.Bind(conn)

	if errSeed := SeedAdminFromEnv(conn); errSeed != nil {
		return errSeed
	}

	jwtConfig, _ := config.LoadJWTConfig(configPath)
	guardConfig, errGuardCfg := config.LoadGuardConfig(configPath)
	if errGuardCfg != nil {
		return errGuardCfg
	}
	if jwtConfig.Secret == "" {
		log.Warn("jwt secret not configured, issued tokens will not survive restarts")
	}
	if guardConfig.Groq.APIKey == "" {
		log.Warn("groq api key not configured, risk classification uses threshold fallback only")
	}

	classifier := risk.NewGroqClassifier(guardConfig.Groq)
	guard := abuse.NewGuard(conn, classifier, guardConfig.Abuse)
	limiter := usage.NewLimiter(conn, guard, guardConfig.Usage)
	ledger := credit.NewLedger(conn, guardConfig.Credits)
	catalog := coupon.LoadCatalog(guardConfig.Coupons.CatalogJSON, guardConfig.Coupons.CatalogCSV)
	resolver := coupon.NewResolver(conn, ledger, catalog, guardConfig.Coupons)
	burst := ratelimit.NewManager(nil, burstWindow, nil, nil)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.RegisterRoutes(router, api.Deps{
		DB:       conn,
		Guard:    guard,
		Limiter:  limiter,
		Ledger:   ledger,
		Resolver: resolver,
		Burst:    burst,
		JWT:      jwtConfig,
		HashSalt: guardConfig.Abuse.HashSalt,
	})

	if defaultPort <= 0 {
		defaultPort = 8318
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", defaultPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	log.WithField("addr", server.Addr).Info("credit guard server started")

	select {
	case errServe := <-serveErr:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return errShutdown
	}
	log.Info("credit guard server stopped")
	return nil
}
