package http

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"vidfetch/internal/config"
	"vidfetch/internal/downloader"
	"vidfetch/internal/jobs"
	"vidfetch/internal/metrics"
	"vidfetch/internal/store"
)

type Server struct {
	app    *fiber.App
	config *config.Config
	store  *store.Store
	logger *slog.Logger
}

func NewServer(cfg *config.Config, st *store.Store, bus *jobs.Broadcaster, coord *jobs.Coordinator, dl *downloader.Downloader, logger *slog.Logger) *Server {
	app := fiber.New()

	// Inject shared components into context for handlers
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("store", st)
		c.Locals("bus", bus)
		c.Locals("coordinator", coord)
		c.Locals("downloader", dl)
		return c.Next()
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		if logger != nil {
			c.Locals("logger", logger)
		}

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}

		return err
	})

	// Health endpoint. Durability degradation (a state commit that
	// failed after retry) is non-fatal for serving but must be
	// visible to operators.
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if st.Degraded() {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{
				"status":     "degraded",
				"durability": "state file writes are failing; in-memory state is authoritative",
			})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
		return c.SendString(metrics.Export())
	})

	app.Post("/api/downloads", submitDownloadHandler)
	app.Get("/api/downloads/:id", downloadStatusHandler)
	app.Get("/api/downloads/:id/events", downloadEventsHandler)
	app.Post("/api/downloads/:id/cancel", cancelDownloadHandler)
	app.Get("/api/downloads/:id/file", downloadFileHandler)

	return &Server{app: app, config: cfg, store: st, logger: logger}
}

// Listen blocks serving HTTP on the configured address.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
