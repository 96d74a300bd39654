package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/scheduler"
	"github.com/naperu/zapinsight/internal/service"
	"github.com/naperu/zapinsight/internal/ws"
	"github.com/naperu/zapinsight/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type Server struct {
	app      *fiber.App
	cfg      *config.Config
	services *service.Services
	hub      *ws.Hub
	checks   map[string]HealthCheck
	sched    *scheduler.Scheduler
	// background work started by a request (full sync) runs under ctx
	ctx context.Context
}

func NewServer(ctx context.Context, cfg *config.Config, services *service.Services, hub *ws.Hub, gatherer prometheus.Gatherer, checks map[string]HealthCheck) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "zapinsight",
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
	}))

	app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
	}))

	// Rate Limiting - 120 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many requests, please slow down",
			})
		},
		Next: func(c *fiber.Ctx) bool {
			path := c.Path()
			return path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/ws")
		},
	}))

	corsOrigins := "http://localhost:3000,http://localhost:8080"
	if cfg.IsProduction() && len(cfg.CORSOrigins) > 0 {
		corsOrigins = strings.Join(cfg.CORSOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,Upgrade,Connection",
		AllowCredentials: true,
	}))

	if ctx == nil {
		ctx = context.Background()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	server := &Server{
		app:      app,
		cfg:      cfg,
		services: services,
		hub:      hub,
		checks:   checks,
		ctx:      ctx,
	}

	server.setupRoutes(gatherer)
	return server
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.app.Group("/api")
	// scopes are checked per route
	read := s.authMiddleware(service.ScopeRead)
	trigger := s.authMiddleware(service.ScopeTrigger)

	// Ingestion
	api.Post("/ingest/poll", trigger, s.handlePollChats)
	api.Post("/ingest/history", trigger, s.handleFetchHistory)
	api.Post("/ingest/sync", trigger, s.handleStartSync)
	api.Get("/runs", read, s.handleListRuns)
	api.Get("/runs/:id", read, s.handleGetRun)

	// Contacts
	api.Get("/contacts/:id", read, s.handleGetContact)
	api.Get("/contacts/:id/insight", read, s.handleGetInsight)
	api.Post("/contacts/:id/poll", trigger, s.handlePollContact)
	api.Post("/contacts/:id/enrich", trigger, s.handleEnrichContact)

	// Analysis queue
	api.Post("/analysis/enqueue", trigger, s.handleEnqueue)
	api.Post("/analysis/run", trigger, s.handleRunAnalysis)
	api.Post("/analysis/release-stale", trigger, s.handleReleaseStale)
	api.Get("/analysis/queue", read, s.handleListQueue)
	api.Get("/analysis/queue/:id", read, s.handleGetQueueItem)
	api.Post("/analysis/queue/:id/requeue", trigger, s.handleRequeue)
	api.Get("/analysis/stats", read, s.handleQueueStats)
	api.Get("/analysis/priority", read, s.handlePriorityPreview)

	api.Get("/scheduler", read, s.handleSchedulerStatus)

	// WebSocket route
	s.app.Use("/ws", s.wsUpgrade)
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	deps := fiber.Map{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":       status,
		"dependencies": deps,
		"time":         time.Now(),
	})
}

// authMiddleware accepts bearer trigger tokens carrying scope.
func (s *Server) authMiddleware(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		if token == "" {
			return c.Status(401).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized",
			})
		}

		claims, err := s.services.Tokens.Validate(token)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid token",
			})
		}
		if !claims.Allows(scope) {
			return c.Status(403).JSON(fiber.Map{
				"success": false,
				"error":   "Forbidden: " + scope + " scope required",
			})
		}

		c.Locals("claims", claims)
		return c.Next()
	}
}

// WebSocket upgrade middleware
func (s *Server) wsUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		// Validate token from query param
		token := c.Query("token")
		if token == "" {
			return c.Status(401).JSON(fiber.Map{"error": "Missing token"})
		}

		claims, err := s.services.Tokens.Validate(token)
		if err != nil || !claims.Allows(service.ScopeRead) {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid token"})
		}

		c.Locals("claims", claims)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	client := ws.NewClient(uuid.New().String(), c, s.hub)
	s.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}

// SetScheduler exposes the status of the periodic triggers.
func (s *Server) SetScheduler(sched *scheduler.Scheduler) {
	s.sched = sched
}

func (s *Server) handleSchedulerStatus(c *fiber.Ctx) error {
	if s.sched == nil {
		return c.JSON(fiber.Map{"success": true, "scheduler": scheduler.Status{Jobs: []scheduler.JobStatus{}}})
	}
	return c.JSON(fiber.Map{"success": true, "scheduler": s.sched.GetStatus()})
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
