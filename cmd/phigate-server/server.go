package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/phigate/phigate/internal/config"
	"github.com/phigate/phigate/internal/domain/profile"
	"github.com/phigate/phigate/internal/domain/release"
	"github.com/phigate/phigate/internal/platform/auth"
	"github.com/phigate/phigate/internal/platform/db"
	"github.com/phigate/phigate/internal/platform/deid"
	"github.com/phigate/phigate/internal/platform/hipaa"
	"github.com/phigate/phigate/internal/platform/middleware"
	"github.com/phigate/phigate/internal/platform/summarizer"
	"github.com/phigate/phigate/internal/platform/verify"
)

const version = "0.1.0"

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		logger.Warn().Str("header", auth.DevSubjectHeader).Msg("development auth: callers choose their subject")
	}

	// Database
	ctx := context.Background()
	store, err := openDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open profile store")
	}
	defer store.Close()
	logger.Info().Str("store", cfg.ProfileStore).Msg("connected to profile store")

	if cfg.ProfileStore == config.StoreSQLite {
		n, err := store.migrator().Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite migrations failed")
		}
		logger.Info().Int("applied", n).Msg("sqlite schema up to date")
	}

	// PHI encryption
	enc, err := hipaa.NewEncryptionService(hipaa.EncryptionConfig{
		Key:          cfg.HIPAAEncryptionKey,
		KeyVersion:   cfg.HIPAAKeyVersion,
		PreviousKeys: cfg.HIPAAPreviousKeys,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PHI encryption")
	}

	// De-identification
	rec, err := newRecognizer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid recognizer configuration")
	}
	if lc, ok := rec.(deid.Lifecycle); ok {
		if err := lc.Load(ctx); err != nil {
			logger.Fatal().Err(err).Msg("entity recognizer not ready")
		}
		defer lc.Close()
	}
	walker, err := newWalker(cfg, rec)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid de-identification configuration")
	}
	verifyCfg, err := cfg.VerifyConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid verification configuration")
	}
	verifier, err := verify.New(verifyCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid verification configuration")
	}

	// Domain services
	profileSvc := profile.NewService(store.profiles(enc))
	releases := store.releases()
	releaseOpts := []release.Option{
		release.WithAuditSink(hipaa.MultiAuditSink{hipaa.NewLogAuditSink(logger), releases}),
		release.WithHistory(releases),
	}
	if cfg.SummarizerURL != "" {
		sum := summarizer.New(summarizer.Config{
			BaseURL: cfg.SummarizerURL,
			Timeout: cfg.SummarizerTimeout,
		}, logger)
		defer sum.Close()
		releaseOpts = append(releaseOpts, release.WithSummarizer(sum))
	} else {
		logger.Info().Msg("SUMMARIZER_URL not set: released documents are returned without a summary")
	}
	releaseSvc := release.NewService(walker, verifier, profileSvc, logger, releaseOpts...)

	// Audit retention
	retention, err := hipaa.NewRetentionService(releases, cfg.AuditRetention, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid audit retention")
	}
	retentionCtx, stopRetention := context.WithCancel(ctx)
	defer stopRetention()
	go retention.Run(retentionCtx, cfg.AuditPurgeInterval)

	logger.Info().
		Str("overlap_policy", walker.Policy().String()).
		Str("verify_policy", string(verifier.Policy())).
		Bool("encryption", enc.IsEnabled()).
		Msg("release gate configured")

	e := newServer(cfg, logger, store.healthChecks(),
		profile.NewHandler(profileSvc),
		release.NewHandler(releaseSvc),
	)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

// newServer assembles the echo instance: global middleware, the open health
// endpoint, and the authenticated /api/v1 group.
func newServer(cfg *config.Config, logger zerolog.Logger, checks []db.HealthCheck, handlers ...routeRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.DevSubjectHeader},
	}))

	// Health check
	e.GET("/health", db.HealthHandler(checks...))
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"version": version})
	})

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))

	// Auth middleware
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// Rate limiting runs after auth so limits are per subject.
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	for _, h := range handlers {
		h.RegisterRoutes(apiV1)
	}
	return e
}
