// Package httpapi is the batch entry API and status endpoint (spec.md
// §6): `POST /v1/batch`, `GET /v1/batch/:id/status`, plus `GET
// /metrics` and `GET /healthz`. Grounded on raito/internal/http's
// fiber.App construction (middleware chain, route groups) and
// handlers_batch.go's request/response shape, generalized from one
// crawl job to the batch-of-companies status object spec.md §6 fixes.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/waltagan/scraper-api/internal/batch"
	"github.com/waltagan/scraper-api/internal/config"
)

// Server wraps the fiber app plus the dependencies its handlers close
// over.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	manager *batch.Manager
	logger  *slog.Logger
	rdb     *redis.Client
	selfID  string
}

// NewServer builds the batch entry API, wiring request logging,
// /healthz and /metrics the same way raito/internal/http.NewServer
// does.
func NewServer(cfg *config.Config, manager *batch.Manager, logger *slog.Logger) *Server {
	app := fiber.New()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			rdb = redis.NewClient(opt)
		}
	}

	s := &Server{app: app, cfg: cfg, manager: manager, logger: logger, rdb: rdb, selfID: uuid.New().String()}

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if logger != nil {
			logger.Info("request",
				"method", c.Method(), "path", c.Path(),
				"status", c.Response().StatusCode(),
				"latency_ms", time.Since(start).Milliseconds(),
			)
		}
		return err
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(manager.ExportPrometheus())
	})

	v1 := app.Group("/v1")
	v1.Post("/batch", s.submitBatch)
	v1.Get("/batch/:id/status", s.batchStatus)

	return s
}

// Listen starts the HTTP server on cfg.Server.Host:Port.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests and closes the listener, waiting
// up to timeout before forcing connections closed.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// batchEntry mirrors one element of the batch entry API request body
// (spec.md §6: `{registration_id, url?, trade_name?, city?}`).
type batchEntry struct {
	RegistrationID string `json:"registration_id"`
	URL            string `json:"url,omitempty"`
	TradeName      string `json:"trade_name,omitempty"`
	City           string `json:"city,omitempty"`
}

type submitRequest struct {
	Companies []batchEntry `json:"companies"`
}

type submitResponse struct {
	BatchID string `json:"batch_id"`
}

func (s *Server) submitBatch(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed JSON body"})
	}
	if len(req.Companies) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "companies must be non-empty"})
	}

	companies := make([]batch.CompanyRequest, 0, len(req.Companies))
	for _, e := range req.Companies {
		if e.RegistrationID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "registration_id is required for every entry"})
		}
		companies = append(companies, batch.CompanyRequest{
			RegistrationID: e.RegistrationID,
			URL:            e.URL,
			TradeName:      e.TradeName,
			City:           e.City,
		})
	}

	id := s.manager.Submit(context.Background(), companies)
	s.StartPublishing(context.Background(), id)
	return c.Status(fiber.StatusOK).JSON(submitResponse{BatchID: id})
}

func (s *Server) batchStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	b, ok := s.manager.Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "batch not found"})
	}

	snap := s.manager.Snapshot(b)
	infra := s.manager.Infra()
	instances := s.instances(c.Context(), id, snap)

	return c.Status(fiber.StatusOK).JSON(statusResponse(id, string(b.Status()), snap, infra, instances))
}
