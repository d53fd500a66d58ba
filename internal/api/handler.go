package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"signalpipeline/internal/exchange"
	"signalpipeline/internal/ingress"
	"signalpipeline/internal/monitor"
	"signalpipeline/internal/notify"
	"signalpipeline/internal/store"
	"signalpipeline/pkg/license"
)

// Server wires the operator-facing control-plane HTTP surface around the
// same collaborators the webhook Ingress and Worker pool use: the
// webhook routes themselves are mounted separately via
// ingress.RegisterRoutes, kept distinct per §1's auth split (HMAC/shared
// secret for webhooks, JWT for everything under /api/v1).
type Server struct {
	Router   *gin.Engine
	Ingress  *ingress.Ingress
	Store    *store.Store
	Registry *exchange.Registry
	Notify   *notify.Bus
	Metrics  *monitor.SystemMetrics

	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to operators via /health.
type SystemMeta struct {
	DryRun  bool
	Version string
}

// NewServer builds the gin engine, middleware stack, and route table.
func NewServer(
	ing *ingress.Ingress,
	st *store.Store,
	registry *exchange.Registry,
	bus *notify.Bus,
	metrics *monitor.SystemMetrics,
	meta SystemMeta,
	jwtSecret string,
) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())          // Panic recovery (first)
	r.Use(RequestIDMiddleware())   // Request ID tracking
	r.Use(RequestLogger(metrics))  // Request logging (after ID is set)
	r.Use(RateLimitMiddleware())   // Rate limiting
	// Security headers handled by the reverse proxy in front of this service.
	r.Use(TimeoutMiddleware(30 * time.Second)) // Request timeout (30s)
	r.Use(CORSMiddleware())                    // CORS (last before routes)

	s := &Server{
		Router:    r,
		Ingress:   ing,
		Store:     st,
		Registry:  registry,
		Notify:    bus,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	s.Ingress.RegisterRoutes(s.Router)

	api := s.Router.Group("/api/v1")
	{
		api.GET("/metrics", s.getMetrics)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/strategies/:id", s.getStrategy)
			protected.GET("/portfolio", s.getPortfolio)
			protected.GET("/risk/:strategy_id", s.getRiskSettings)
			protected.PUT("/risk/:strategy_id", s.updateRiskSettings)
			protected.POST("/keys", s.registerExchangeKey)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	instanceID, err := license.MachineID()
	if err != nil {
		instanceID = "unknown"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     s.Meta.Version,
		"dry_run":     s.Meta.DryRun,
		"instance_id": instanceID,
	})
}

// Start runs the HTTP server on addr, blocking until it exits.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
