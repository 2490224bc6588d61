package handler

import (
	"net/http"

	"offchain-settlement/config"
	"offchain-settlement/internal/adapter/http/middleware"
	"offchain-settlement/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies; a full settlement batch fits comfortably.
const maxBodyBytes = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	SettlementSvc    ports.SettlementService
	ChannelSvc       ports.ChannelService
	StreamSvc        ports.StreamService
	AuthorizationSvc ports.AuthorizationService
	SessionSvc       ports.SessionService
	EventFeed        ports.EventFeed
	SigSvc           ports.SignatureService
	NonceStore       ports.NonceStore
	TokenSvc         ports.TokenService
	Clock            ports.Clock
	Operator         config.OperatorConfig
	RateLimiter      ports.RateLimiter // nil = rate limiting disabled
	HealthCheckers   []ports.HealthChecker
	HTTPObserver     middleware.HTTPObserver // nil = no request metrics
	MetricsHandler   http.Handler            // nil = /metrics not served
	MetricsPath      string
	Logger           zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger, deps.HTTPObserver))
	r.Use(middleware.MaxBodySize(maxBodyBytes))

	// Health check (deep: verifies PostgreSQL + Redis when configured)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	if deps.MetricsHandler != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(deps.MetricsHandler))
	}

	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if a limiter is configured, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	settlementHandler := NewSettlementHandler(deps.SettlementSvc)
	channelHandler := NewChannelHandler(deps.ChannelSvc)
	streamHandler := NewStreamHandler(deps.StreamSvc)
	authorizationHandler := NewAuthorizationHandler(deps.AuthorizationSvc)
	sessionHandler := NewSessionHandler(deps.SessionSvc)
	eventHandler := NewEventHandler(deps.EventFeed)

	// --- Self-authenticating routes (EIP-712 signatures in the body) ---
	v1.POST("/settlements", rl("settlements"), settlementHandler.SettleBatch)
	v1.POST("/channels/withdrawals", rl("withdrawals"), channelHandler.Withdraw)
	v1.POST("/authorizations/transfer", rl("authorizations"), authorizationHandler.VerifyTransfer)
	v1.POST("/sessions", rl("sessions"), sessionHandler.Open)

	// --- Public reads ---
	v1.GET("/settlements/:digest", rl("reads"), settlementHandler.GetSettlement)
	v1.GET("/channels/:payer", rl("reads"), channelHandler.Get)
	v1.GET("/streams/:id", rl("reads"), streamHandler.Get)
	v1.GET("/events", rl("reads"), eventHandler.List)

	// --- Operator routes (HMAC) ---
	operatorAuth := middleware.OperatorAuth(deps.Operator, deps.SigSvc, deps.NonceStore, deps.Clock, deps.Logger)
	v1.POST("/channels/deposits", rl("operator"), operatorAuth, channelHandler.Deposit)
	v1.POST("/streams", rl("operator"), operatorAuth, streamHandler.Create)

	// --- Session routes (JWT) ---
	sessionAuth := middleware.SessionAuth(deps.TokenSvc)
	streams := v1.Group("/streams/:id", sessionAuth)
	{
		streams.POST("/withdraw", rl("streams"), streamHandler.Withdraw)
		streams.POST("/cancel", rl("streams"), streamHandler.Cancel)
	}
	v1.GET("/me/streams", sessionAuth, rl("streams"), streamHandler.ListMine)

	return r
}
