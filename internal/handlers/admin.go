package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/leshchenko/tgpool/internal/apperr"
	"github.com/leshchenko/tgpool/internal/pool"
	"github.com/leshchenko/tgpool/internal/scanner"
	"github.com/leshchenko/tgpool/internal/stats"
	"github.com/leshchenko/tgpool/internal/statsdb"
	"github.com/leshchenko/tgpool/internal/workers"
)

// triggerScanTimeout bounds how long one manual scan is allowed to run.
const triggerScanTimeout = 10 * time.Minute

// AdminHandler exposes the operator-facing pool status and manual
// trigger-scan endpoints, grounded on the teacher's HandleAddArticle
// (internal/handlers/articles.go); a triggered scan runs synchronously in the
// request under a context timeout.
type AdminHandler struct {
	pool        *pool.Pool
	scanner     *scanner.Scanner
	workers     *workers.Pool
	statsStore  *statsdb.Store
	triggerSema chan struct{} // size-1: only one manual scan in flight at a time
}

func NewAdminHandler(p *pool.Pool, sc *scanner.Scanner, w *workers.Pool, store *statsdb.Store) *AdminHandler {
	return &AdminHandler{
		pool:        p,
		scanner:     sc,
		workers:     w,
		statsStore:  store,
		triggerSema: make(chan struct{}, 1),
	}
}

// HandleStatus reports the pool's live checkout state.
func (h *AdminHandler) HandleStatus(c *fiber.Ctx) error {
	return c.JSON(h.pool.Status())
}

// TriggerScanRequest is the body of POST /admin/scan.
type TriggerScanRequest struct {
	Channels []string `json:"channels"`
	Parallel bool     `json:"parallel"`
	// DepthHours, when > 0, bounds how far back the scan looks.
	DepthHours int `json:"depth_hours"`
}

// HandleTriggerScan runs one stats-collection pass synchronously, bounded by
// a request-scoped timeout, rejecting a second concurrent trigger outright
// rather than queuing it — manual triggers are an operator action, not a
// workload to batch.
func (h *AdminHandler) HandleTriggerScan(c *fiber.Ctx) error {
	var req TriggerScanRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.New(apperr.ErrValidationFailed, "invalid request body")
	}
	if len(req.Channels) == 0 {
		return apperr.New(apperr.ErrValidationFailed, "channels must be non-empty")
	}

	select {
	case h.triggerSema <- struct{}{}:
	default:
		return apperr.New(apperr.ErrServiceUnavailable, "a scan is already in progress")
	}
	defer func() { <-h.triggerSema }()

	collector := stats.New(h.scanner, h.workers)
	if req.DepthHours > 0 {
		collector.Depth = time.Duration(req.DepthHours) * time.Hour
	}

	ctx, cancel := context.WithTimeout(c.Context(), triggerScanTimeout)
	defer cancel()

	var result stats.Result
	err := h.scanner.Session(ctx, nil, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = collector.CollectAllStats(ctx, req.Channels, req.Parallel, nil)
		if innerErr != nil {
			return innerErr
		}
		if h.statsStore != nil {
			if err := h.statsStore.SaveNewStats(ctx, result.Channels); err != nil {
				return err
			}
			if err := h.statsStore.SaveMsgs(ctx, result.Msgs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Wrap(err, apperr.ErrStatsStoreError)
	}

	return c.JSON(fiber.Map{
		"channels_scanned": len(result.Channels),
		"messages_scanned": len(result.Msgs),
	})
}
