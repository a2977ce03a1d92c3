// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/interpay/internal/causes"
	"github.com/mbd888/interpay/internal/config"
	"github.com/mbd888/interpay/internal/health"
	"github.com/mbd888/interpay/internal/idgen"
	"github.com/mbd888/interpay/internal/logging"
	"github.com/mbd888/interpay/internal/metrics"
	"github.com/mbd888/interpay/internal/openpayments"
	"github.com/mbd888/interpay/internal/payments"
	"github.com/mbd888/interpay/internal/ratelimit"
	"github.com/mbd888/interpay/internal/realtime"
	"github.com/mbd888/interpay/internal/receipts"
	"github.com/mbd888/interpay/internal/scheduler"
	"github.com/mbd888/interpay/internal/security"
	"github.com/mbd888/interpay/internal/traces"
	"github.com/mbd888/interpay/internal/validation"
	"github.com/mbd888/interpay/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg              *config.Config
	version          string
	opClient         openpayments.Client
	paymentsService  *payments.Service
	schedulerService *scheduler.Service
	schedulerTimer   *scheduler.Timer
	catalog          *causes.Catalog
	realtimeHub      *realtime.Hub
	webhookStore     webhooks.Store
	webhookDispatch  *webhooks.Dispatcher
	receipts         *receipts.Service
	healthRegistry   *health.Registry
	rateLimiter      *ratelimit.Limiter
	db               *sql.DB       // nil if not using Postgres
	redis            *redis.Client // nil unless sessions live in Redis
	router           *gin.Engine
	httpSrv          *http.Server
	logger           *slog.Logger
	now              func() time.Time
	drainDelay       time.Duration
	shutdownTracing  func(context.Context) error
	cancelRunCtx     context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the build version reported by /health and tracing.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithPaymentsClient sets the Open Payments client instead of building a
// signed HTTP client from config (for testing).
func WithPaymentsClient(client openpayments.Client) Option {
	return func(s *Server) {
		s.opClient = client
	}
}

// WithClock sets the time source used by the server time endpoint.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		now:        time.Now,
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set client/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, s.version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTracing = shutdownTracing

	// Initialize storage (Postgres if DATABASE_URL set, Redis sessions if
	// REDIS_URL set, otherwise in-memory)
	var (
		sessionStore payments.SessionStore
		taskStore    scheduler.Store
		causeStore   causes.Store
		webhookStore webhooks.Store
		receiptStore receipts.Store
	)
	s.healthRegistry = health.NewRegistry()

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		sessionStore = payments.NewPostgresSessionStore(db)
		taskStore = scheduler.NewPostgresStore(db)
		causeStore = causes.NewPostgresStore(db)
		webhookStore = webhooks.NewPostgresStore(db)
		receiptStore = receipts.NewPostgresStore(db)
		s.healthRegistry.Register("database", health.DBChecker(db))
		s.logger.Info("using PostgreSQL storage", "dsn", maskDSN(cfg.DatabaseURL))
	} else {
		taskStore = scheduler.NewMemoryStore()
		causeStore = causes.NewMemoryStore()
		webhookStore = webhooks.NewMemoryStore()
		receiptStore = receipts.NewMemoryStore()
		s.logger.Info("using in-memory storage for tasks, causes, webhooks and receipts")
	}

	if sessionStore == nil && cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		s.redis = rdb
		sessionStore = payments.NewRedisSessionStore(rdb, "")
		s.healthRegistry.Register("redis", health.RedisChecker(rdb))
		s.logger.Info("using Redis session storage", "addr", redisOpts.Addr)
	}
	if sessionStore == nil {
		sessionStore = payments.NewMemorySessionStore()
		s.logger.Info("using in-memory session storage (sessions lost on restart)")
	}

	// Open Payments client
	if s.opClient == nil {
		client, err := s.buildPaymentsClient()
		if err != nil {
			return nil, err
		}
		s.opClient = client
	}
	if oh, ok := s.opClient.(interface{ OpenHosts() []string }); ok {
		s.healthRegistry.Register("upstream", health.UpstreamChecker(oh.OpenHosts))
	}

	// Donation causes
	seed := causes.DefaultCauses()
	if cfg.CausesFile != "" {
		seed, err = causes.LoadFile(cfg.CausesFile)
		if err != nil {
			return nil, err
		}
	}
	if err := causeStore.Seed(ctx, seed); err != nil {
		return nil, fmt.Errorf("failed to seed causes: %w", err)
	}
	s.catalog = causes.NewCatalog(causeStore)
	s.logger.Info("causes catalog loaded", "count", len(seed))

	// Signed receipts for every outgoing payment
	s.receipts = receipts.NewService(receiptStore, receipts.NewSigner(cfg.ReceiptSecret)).WithClock(s.now)
	if !s.receipts.Enabled() {
		s.logger.Warn("receipt signing disabled (RECEIPT_SECRET not set)")
	}

	// Event fan-out: receipts, websocket clients and webhook subscribers
	s.realtimeHub = realtime.NewHub(s.logger).WithAllowedOrigins(cfg.CORSOrigins)
	s.webhookStore = webhookStore
	s.webhookDispatch = webhooks.NewDispatcher(webhookStore, s.logger)
	if cfg.IsProduction() {
		s.webhookDispatch.WithURLValidator(security.NewEndpointGuard(true).Check)
	}
	events := eventFanout{s.receipts, s.realtimeHub, webhooks.NewEmitter(s.webhookDispatch, s.logger)}

	// Payment orchestration
	s.paymentsService = payments.NewService(s.opClient, sessionStore, cfg.SenderWalletURL).
		WithCauses(s.catalog).
		WithEvents(events)

	// Scheduled payments
	s.schedulerService = scheduler.NewService(taskStore, s.paymentsService, cfg.Location()).
		WithEvents(events)
	s.schedulerTimer = scheduler.NewTimer(s.schedulerService, cfg.SchedulerInterval, s.logger)
	s.logger.Info("scheduler enabled",
		"interval", cfg.SchedulerInterval.String(),
		"timezone", cfg.Timezone,
	)

	// Setup Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) buildPaymentsClient() (*openpayments.HTTPClient, error) {
	signer, err := openpayments.LoadSigner(s.cfg.KeyID, s.cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	httpCfg := openpayments.DefaultHTTPConfig()
	httpCfg.ClientWalletURL = s.cfg.ClientWalletURL
	httpCfg.Timeout = s.cfg.UpstreamTimeout
	httpCfg.RequestsPerSecond = s.cfg.UpstreamRPS
	httpCfg.Burst = s.cfg.UpstreamBurst
	if s.cfg.IsProduction() {
		httpCfg.HostGuard = security.NewEndpointGuard(true).Check
	}

	s.logger.Info("open payments client ready",
		"key_id", signer.KeyID(),
		"sender_wallet", s.cfg.SenderWalletURL,
		"client_wallet", s.cfg.ClientWalletURL,
	)
	return openpayments.NewHTTPClient(httpCfg, signer, s.logger), nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   payments.KindInternal,
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{RequestsPerMinute: s.cfg.RateLimitRPM})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an ID set by a proxy if it is well formed
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || !validation.IsValidKey(requestID) {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for task and payment events
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")
	payments.NewHandler(s.paymentsService).RegisterRoutes(v1)
	scheduler.NewHandler(s.schedulerService).RegisterRoutes(v1)
	causes.NewHandler(s.catalog).RegisterRoutes(v1)
	webhooks.NewHandler(s.webhookStore, s.webhookDispatch).RegisterRoutes(v1)
	receipts.NewHandler(s.receipts).RegisterRoutes(v1)
	v1.GET("/server-time", s.serverTimeHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for the aggregate health endpoint
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Scheduler string          `json:"scheduler"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, checks := s.healthRegistry.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	timerState := "stopped"
	if s.schedulerTimer.Running() {
		timerState = "running"
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Scheduler: timerState,
		Timestamp: s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	s.healthRegistry.Live(c)
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	s.healthRegistry.Ready(c)
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":         "interpay",
		"version":      s.version,
		"senderWallet": s.cfg.SenderWalletURL,
		"timezone":     s.cfg.Timezone,
		"realtime":     s.realtimeHub.Stats(),
		"receipts":     s.receipts.Enabled(),
	})
}

// serverTimeHandler handles GET /v1/server-time. Callers use it to pick
// trigger times for scheduled payments in the server's time zone.
func (s *Server) serverTimeHandler(c *gin.Context) {
	now := s.now().In(s.schedulerService.Location())
	c.JSON(http.StatusOK, gin.H{
		"now":        now.Format(time.RFC3339),
		"in2Minutes": now.Add(2 * time.Minute).Format(time.RFC3339),
		"in5Minutes": now.Add(5 * time.Minute).Format(time.RFC3339),
		"timezone":   s.cfg.Timezone,
		"timestamp":  now.UnixMilli(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"sender_wallet", s.cfg.SenderWalletURL,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start scheduled payment timer
	go s.schedulerTimer.Start(runCtx)

	// Sample connection pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timer, collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.schedulerTimer.Stop()
	s.logger.Info("scheduler stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Let in-flight webhook deliveries record their results
	s.webhookDispatch.Wait()

	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
