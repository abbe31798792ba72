package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/esign-api/api/swagger"
	"github.com/noah-isme/esign-api/internal/handler"
	internalmiddleware "github.com/noah-isme/esign-api/internal/middleware"
	"github.com/noah-isme/esign-api/internal/repository"
	"github.com/noah-isme/esign-api/internal/service"
	"github.com/noah-isme/esign-api/pkg/cache"
	"github.com/noah-isme/esign-api/pkg/config"
	"github.com/noah-isme/esign-api/pkg/database"
	"github.com/noah-isme/esign-api/pkg/export"
	"github.com/noah-isme/esign-api/pkg/jobs"
	"github.com/noah-isme/esign-api/pkg/lock"
	"github.com/noah-isme/esign-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/esign-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/esign-api/pkg/middleware/requestid"
	"github.com/noah-isme/esign-api/pkg/pdfstamp"
	"github.com/noah-isme/esign-api/pkg/storage"
)

const shutdownTimeout = 30 * time.Second

// @title E-Sign API
// @version 1.0.0
// @description Document signing: staff upload and anchor documents, signers complete through token links.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	readiness := map[string]handler.Pinger{"postgres": db}

	var locker lock.Locker = lock.NewLocalLocker(cfg.Signing.LockWait)
	if cfg.Signing.LockDriver == config.LockDriverRedis {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, cfg.Signing.LockTTL, cfg.Signing.LockWait)
		readiness["redis"] = redisPinger{client: client}
	}

	objects, local, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	documents := repository.NewDocumentRepository(db)
	audits := repository.NewAuditRepository(db)

	trail := service.NewAuditTrail(audits, metrics, logr, jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		BufferSize: cfg.Events.BufferSize,
		MaxRetries: cfg.Events.MaxRetries,
	})
	trail.Start(ctx)
	defer trail.Stop()

	tokens := service.NewSignerTokenManager(service.TokenManagerConfig{
		DefaultTTL:          cfg.Signing.DefaultTTL,
		MaxTTL:              cfg.Signing.MaxTTL,
		PostSignatureWindow: cfg.Signing.PostSignatureWindow,
	})
	engine := service.NewPdfCompositionEngine(documents, objects, pdfstamp.NewStamper(), metrics, logr, cfg.Storage.Timeout)

	documentSvc := service.NewDocumentService(service.DocumentServiceDeps{
		Store:       documents,
		AuditReader: audits,
		Objects:     objects,
		Tokens:      tokens,
		Engine:      engine,
		Locker:      locker,
		Audit:       trail,
		Metrics:     metrics,
		Validator:   validate,
		Logger:      logr,
	}, service.DocumentServiceConfig{
		LinkBaseURL:    cfg.Signing.LinkBaseURL,
		MaxPDFBytes:    cfg.Signing.MaxPDFBytes,
		DownloadURLTTL: cfg.Storage.URLTTL,
		StorageTimeout: cfg.Storage.Timeout,
	})

	signingSvc := service.NewSignerCompletionService(service.SignerCompletionDeps{
		Store:     documents,
		Objects:   objects,
		Tokens:    tokens,
		Engine:    engine,
		Locker:    locker,
		Receipts:  export.NewReceiptRenderer(),
		Audit:     trail,
		Metrics:   metrics,
		Validator: validate,
		Logger:    logr,
	}, service.SignerCompletionConfig{
		TermsVersion:     cfg.Signing.TermsVersion,
		MaxArtifactBytes: cfg.Signing.MaxArtifactBytes,
		DownloadURLTTL:   cfg.Storage.URLTTL,
		StorageTimeout:   cfg.Storage.Timeout,
	})

	authSvc := service.NewStaffAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, readiness)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	handler.NewPublicSigningHandler(signingSvc, cfg.Signing.MaxArtifactBytes).Register(api)
	if local != nil {
		handler.NewFileHandler(local).Register(api)
	}

	staff := api.Group("")
	staff.Use(internalmiddleware.JWT(authSvc))
	handler.NewDocumentHandler(documentSvc, cfg.Signing.MaxPDFBytes).Register(staff)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.Storage.Driver, "lock", cfg.Signing.LockDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
