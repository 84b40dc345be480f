package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wenwu/saas-platform/vps-service/internal/config"
)

// RateLimiter is a simple in-memory sliding-window limiter
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether a request under key may proceed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	var valid []time.Time
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}

// RateLimitMiddleware applies a limiter keyed by client id, falling back to
// source IP for unauthenticated routes
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString("clientID")
		if key == "" {
			key = c.ClientIP()
		}

		if !rl.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

type Server struct {
	router   *gin.Engine
	handler  *Handler
	webhooks *WebhookHandler
	cfg      *config.Config

	// Per-client limit for the general API.
	clientLimiter *RateLimiter
	// Orders hit the payment gateway; keep creation well below the general limit.
	orderLimiter *RateLimiter
	// Reinstall and restore destroy disks. A handful per hour covers
	// legitimate rebuild loops.
	rebuildLimiter *RateLimiter
}

func NewServer(cfg *config.Config, handler *Handler, webhooks *WebhookHandler) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:         router,
		handler:        handler,
		webhooks:       webhooks,
		cfg:            cfg,
		clientLimiter:  NewRateLimiter(30, time.Minute),
		orderLimiter:   NewRateLimiter(10, time.Hour),
		rebuildLimiter: NewRateLimiter(5, time.Hour),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "vps-service",
		})
	})

	// Payment gateway webhooks - authenticated by callback token
	webhooks := s.router.Group("/api/webhooks/xendit")
	webhooks.Use(CallbackTokenMiddleware(s.cfg.Xendit.CallbackToken))
	{
		webhooks.POST("/invoice", s.webhooks.InvoiceCallback)
		webhooks.POST("/virtual-account", s.webhooks.VirtualAccountCallback)
	}

	// Client API - requires JWT authentication
	client := s.router.Group("/api/v1")
	client.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	client.Use(RateLimitMiddleware(s.clientLimiter))
	{
		// Checkout and orders
		client.POST("/checkout/preview", s.handler.PreviewCheckout)
		client.POST("/orders", RateLimitMiddleware(s.orderLimiter), s.handler.CreateOrder)
		client.GET("/orders/:id/payment", s.handler.GetPaymentStatus)

		// Instance management
		client.GET("/my/vps", s.handler.GetMyVPS)
		client.GET("/vps/:id", s.handler.GetVPS)
		client.GET("/vps/:id/logs", s.handler.GetVPSLogs)
		client.POST("/vps/:id/power", s.handler.PowerVPS)
		client.POST("/vps/:id/reinstall", RateLimitMiddleware(s.rebuildLimiter), s.handler.ReinstallVPS)
		client.POST("/vps/:id/restore", RateLimitMiddleware(s.rebuildLimiter), s.handler.RestoreVPS)
	}

	// Public API - no authentication required
	public := s.router.Group("/api/v1/public")
	{
		public.GET("/regions", s.handler.GetRegions)
	}

	// Internal API - called by admin-portal and operators
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		internal.POST("/provision", s.handler.ProvisionOrder)

		internal.POST("/backups/run", s.handler.RunBackup)
		internal.POST("/backups/upload", s.handler.UploadBackup)

		internal.POST("/storages", s.handler.CreateStorage)
		internal.GET("/storages", s.handler.ListStorages)
		internal.POST("/storages/:id/probe", s.handler.ProbeStorage)
		internal.POST("/storages/:id/default", s.handler.SetDefaultStorage)
		internal.DELETE("/storages/:id", s.handler.DeleteStorage)

		internal.POST("/templates/sync", s.handler.SyncTemplates)
		internal.GET("/hypervisors/:id/stats", s.handler.GetHypervisorStats)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
