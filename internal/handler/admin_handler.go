package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-rush/internal/worker"
	"github.com/prohmpiriya/ticket-rush/pkg/response"
)

// Sweeper is the admin view of the expiration sweeper
type Sweeper interface {
	GetStats() *worker.ExpirationSweeperStats
	Sweep(ctx context.Context) worker.SweepResult
}

// AdminHandler handles admin HTTP requests
type AdminHandler struct {
	sweeper Sweeper
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(sweeper Sweeper) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

// SweeperStats handles GET /admin/sweeper
func (h *AdminHandler) SweeperStats(c *gin.Context) {
	if h.sweeper == nil {
		response.NotFound(c, "expiration sweeper is disabled")
		return
	}
	response.Success(c, h.sweeper.GetStats())
}

// RunSweep handles POST /admin/sweeper/run and sweeps once synchronously
func (h *AdminHandler) RunSweep(c *gin.Context) {
	if h.sweeper == nil {
		response.NotFound(c, "expiration sweeper is disabled")
		return
	}
	response.Success(c, h.sweeper.Sweep(c.Request.Context()))
}
