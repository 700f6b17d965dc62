package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/jobpsych/server/internal/infra/cache"
	"github.com/jobpsych/server/internal/infra/config"
	"github.com/jobpsych/server/internal/infra/database"
	"github.com/jobpsych/server/internal/infra/httpclient"
	"github.com/jobpsych/server/internal/module/analysis"
	"github.com/jobpsych/server/internal/module/auth"
	"github.com/jobpsych/server/internal/module/document"
	"github.com/jobpsych/server/internal/module/quota"
	"github.com/jobpsych/server/internal/shared/logger"
	"github.com/jobpsych/server/internal/shared/metrics"
	"github.com/jobpsych/server/internal/shared/middleware"
)

// App holds the assembled application.
type App struct {
	config *config.Config
	router *gin.Engine
	logger *zap.Logger

	db    *gorm.DB
	redis *goredis.Client

	metrics     *metrics.Metrics
	engine      *quota.Engine
	rateLimiter *middleware.RateLimiter
	handler     *analysis.Handler

	stopJanitor chan struct{}
}

// New assembles the application from configuration.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &App{
		config:      cfg,
		logger:      log,
		metrics:     metrics.New("jobpsych"),
		stopJanitor: make(chan struct{}),
	}

	store, err := app.initQuotaStore()
	if err != nil {
		return nil, fmt.Errorf("init quota store: %w", err)
	}

	httpClient := httpclient.New(cfg.HTTPClient)

	account := quota.NewAccountClient(&quota.AccountClientConfig{
		BaseURL:          cfg.Account.BaseURL,
		UploadLimit:      cfg.Account.UploadLimit,
		Timeout:          cfg.Account.Timeout,
		FailureThreshold: cfg.Account.BreakerFailureThreshold,
		OpenTimeout:      cfg.Account.BreakerOpenTimeout,
	}, httpClient, log.Named("account"), app.metrics)

	app.engine = quota.NewEngine(store, account, quota.EngineConfig{
		AnonymousLimit: cfg.Quota.AnonymousLimit,
		FreeLimit:      cfg.Account.UploadLimit,
		FailClosed:     cfg.Quota.FailClosed,
	}, log.Named("quota"), app.metrics)

	extractor := document.NewExtractor(&document.Config{
		MaxFileSize: cfg.Upload.MaxFileSize,
	})

	analyzer := analysis.NewAIClient(analysis.AIClientConfig{
		BaseURL: cfg.AI.BaseURL,
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
	}, httpClient, log.Named("ai"), app.metrics)

	dispatcher := analysis.NewDispatcher(&analysis.DispatcherConfig{
		MaxConcurrency: cfg.Batch.MaxConcurrency,
		TaskTimeout:    cfg.Batch.TaskTimeout,
	}, log.Named("dispatch"), app.metrics)

	service := analysis.NewService(extractor, analyzer, dispatcher, log.Named("analysis"))

	app.handler = analysis.NewHandler(service, app.engine, extractor, analysis.HandlerConfig{
		SignupURL:  cfg.Quota.SignupURL,
		UpgradeURL: cfg.Quota.UpgradeURL,
	}, log.Named("http"))

	if cfg.RateLimit.Enabled {
		app.rateLimiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RPS:     cfg.RateLimit.RPS,
			Burst:   cfg.RateLimit.Burst,
			IdleTTL: 10 * time.Minute,
		})
		app.rateLimiter.StartJanitor(app.stopJanitor, time.Minute)
	}

	app.router = app.setupRouter()

	return app, nil
}

// initQuotaStore selects the IP counter backend from configuration.
func (a *App) initQuotaStore() (quota.Store, error) {
	switch a.config.Quota.StoreBackend {
	case "redis":
		client, err := cache.NewRedisClient(&a.config.Redis)
		if err != nil {
			return nil, err
		}
		a.redis = client
		return quota.NewRedisStore(client), nil
	case "postgres":
		db, err := database.New(&a.config.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		return quota.NewPostgresStore(db)
	default:
		return quota.NewMemoryStore(), nil
	}
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.CORS(a.config.CORS))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	verifier := auth.NewVerifier(a.config.Auth.JWTSecret)

	api := r.Group("/api")
	if a.rateLimiter != nil {
		api.Use(middleware.RateLimit(a.rateLimiter, auth.ClientIP))
	}
	api.Use(auth.Identity(verifier, a.logger.Named("auth")))

	a.handler.RegisterRoutes(api)

	return r
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop stops background work and releases resources.
func (a *App) Stop() {
	close(a.stopJanitor)

	_ = a.logger.Sync()

	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = database.Close(a.db)
	}
}
