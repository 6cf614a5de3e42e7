package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/leshchenko/tgpool/internal/pool"
	"github.com/leshchenko/tgpool/internal/workers"
)

// HealthHandler reports the pool's checkout readiness and the scan worker
// pool's load, adapted from the teacher's HealthHandler (which checked a RAG
// service's reachability — this domain's equivalent external dependency is
// the account pool itself).
type HealthHandler struct {
	pool    *pool.Pool
	workers *workers.Pool
}

func NewHealthHandler(p *pool.Pool, w *workers.Pool) *HealthHandler {
	return &HealthHandler{pool: p, workers: w}
}

func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	status := h.pool.Status()

	health := "healthy"
	if status.SessionActive && status.AvailableAccounts == 0 && status.ParkedAccounts == status.StartedAccounts {
		health = "degraded"
	}
	if status.SessionActive && status.StartedAccounts == 0 {
		health = "unhealthy"
	}

	return c.JSON(fiber.Map{
		"status":       health,
		"timestamp":    time.Now(),
		"pool":         status,
		"worker_stats": h.workers.Stats(),
	})
}
