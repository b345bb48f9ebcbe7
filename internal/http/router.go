// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → identity → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/permitdesk/go-inbox-backend/internal/badge"
	"github.com/permitdesk/go-inbox-backend/internal/bus"
	"github.com/permitdesk/go-inbox-backend/internal/config"
	"github.com/permitdesk/go-inbox-backend/internal/domain"
	"github.com/permitdesk/go-inbox-backend/internal/http/handlers"
	"github.com/permitdesk/go-inbox-backend/internal/http/middleware"
	"github.com/permitdesk/go-inbox-backend/internal/realtime"
	"github.com/permitdesk/go-inbox-backend/internal/repo"
	"github.com/permitdesk/go-inbox-backend/internal/services"
)

// conversationRepoShim adapts the repository free functions to the
// services.ConversationRepo interface expected by the ConversationService.
// This keeps services decoupled from the concrete repo package while reusing
// existing functions.
type conversationRepoShim struct{}

// GetApplication proxies repo.GetApplication.
func (conversationRepoShim) GetApplication(ctx context.Context, db *gorm.DB, id string) (*domain.Application, error) {
	return repo.GetApplication(ctx, db, id)
}

// GetConversation proxies repo.GetConversation.
func (conversationRepoShim) GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, id)
}

// GetConversationByApplication proxies repo.GetConversationByApplication.
func (conversationRepoShim) GetConversationByApplication(ctx context.Context, db *gorm.DB, applicationID string) (*domain.Conversation, error) {
	return repo.GetConversationByApplication(ctx, db, applicationID)
}

// CreateConversation proxies repo.CreateConversation.
func (conversationRepoShim) CreateConversation(ctx context.Context, db *gorm.DB, applicationID string) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, applicationID)
}

// scopeRepoShim adapts the repository free functions to services.ScopeRepo.
type scopeRepoShim struct{}

// ResolveClientIDForOwner proxies repo.ResolveClientIDForOwner.
func (scopeRepoShim) ResolveClientIDForOwner(ctx context.Context, db *gorm.DB, ownerUserID string) (string, error) {
	return repo.ResolveClientIDForOwner(ctx, db, ownerUserID)
}

// ListApplicationIDsForClient proxies repo.ListApplicationIDsForClient.
func (scopeRepoShim) ListApplicationIDsForClient(ctx context.Context, db *gorm.DB, clientID string) ([]string, error) {
	return repo.ListApplicationIDsForClient(ctx, db, clientID)
}

// ListApplicationIDsForExpert proxies repo.ListApplicationIDsForExpert.
func (scopeRepoShim) ListApplicationIDsForExpert(ctx context.Context, db *gorm.DB, expertID string) ([]string, error) {
	return repo.ListApplicationIDsForExpert(ctx, db, expertID)
}

// ListConversationIDsByApplication proxies repo.ListConversationIDsByApplication.
func (scopeRepoShim) ListConversationIDsByApplication(ctx context.Context, db *gorm.DB, appIDs []string) ([]string, error) {
	return repo.ListConversationIDsByApplication(ctx, db, appIDs)
}

// ListConversationIDs proxies repo.ListConversationIDs.
func (scopeRepoShim) ListConversationIDs(ctx context.Context, db *gorm.DB, limit int) ([]string, error) {
	return repo.ListConversationIDs(ctx, db, limit)
}

// badgeSource feeds the badge aggregator from the scope, message, and
// notification services. Read-only by contract.
type badgeSource struct {
	scope *services.ScopeService
	msg   *services.MessageService
	notif *services.NotificationService
}

func (s badgeSource) VisibleConversationIDs(ctx context.Context, userID, role string) ([]string, error) {
	return s.scope.VisibleConversationIDs(ctx, userID, role)
}

func (s badgeSource) TotalUnreadMessages(ctx context.Context, conversationIDs []string, userID string) (int64, error) {
	return s.msg.TotalUnread(ctx, conversationIDs, userID)
}

func (s badgeSource) UnreadNotifications(ctx context.Context, userID string) (int64, error) {
	return s.notif.UnreadCount(ctx, userID)
}

// Deps carries the long-lived process components the router binds into the
// HTTP surface. Everything here is constructed (and torn down) by main.
type Deps struct {
	DB     *gorm.DB
	Broker *bus.Broker
	Hub    *realtime.Hub
	Badges *badge.Manager
}

// NewBadgeManager builds the process-wide badge manager wired to the same
// service stack the routes use. Exposed so main owns the manager's lifecycle.
func NewBadgeManager(db *gorm.DB, broker *bus.Broker, cfg config.Config, log zerolog.Logger) *badge.Manager {
	scopeSvc := services.NewScopeService(db, scopeRepoShim{})
	scopeSvc.AdminPageSize = cfg.AdminScopeLimit
	msgSvc := &services.MessageService{DB: db, Broker: broker, MaxContentRunes: cfg.MaxMessageRunes}
	notifSvc := services.NewNotificationService(db, broker)

	src := badgeSource{scope: scopeSvc, msg: msgSvc, notif: notifSvc}
	return badge.NewManager(src, broker, badge.Config{
		TTL:              cfg.Badge.TTL,
		Debounce:         cfg.Badge.Debounce,
		Settle:           cfg.Badge.Settle,
		RecomputeTimeout: cfg.Badge.RecomputeTimeout,
	}, log)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine, then mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Identity: lift gateway identity headers into context
//  4. Logger: structured access logs
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Rate limiter (per user/IP)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Caller identity from the gateway
	r.Use(middleware.Identity())

	// 4) Structured logging
	r.Use(middleware.Logger())

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-User-Role"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-User-Role"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/broker
	convSvc := services.NewConversationService(deps.DB, conversationRepoShim{})
	scopeSvc := services.NewScopeService(deps.DB, scopeRepoShim{})
	scopeSvc.AdminPageSize = cfg.AdminScopeLimit
	msgSvc := &services.MessageService{
		DB:              deps.DB,
		Broker:          deps.Broker,
		MaxContentRunes: cfg.MaxMessageRunes,
	}
	notifSvc := services.NewNotificationService(deps.DB, deps.Broker)
	notifSvc.ListLimit = cfg.NotificationLimit

	h := handlers.New(convSvc, msgSvc, notifSvc, scopeSvc, deps.Badges, deps.Hub)

	// Realtime attach point (outside the gzip group; the socket is hijacked).
	r.GET("/ws", h.ServeWS)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		// Conversations
		api.POST("/applications/:id/conversation", h.ResolveConversation)
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id", h.GetConversation)

		// Messages
		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/messages", h.PostMessage)
		api.POST("/messages/read", h.MarkMessagesRead)

		// Notifications
		api.GET("/notifications", h.ListNotifications)
		api.POST("/notifications", h.PostNotification)
		api.PUT("/notifications/:id/read", h.MarkNotificationRead)
		api.DELETE("/notifications/:id", h.DeleteNotification)

		// Badge
		api.GET("/badge", h.GetBadge)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
