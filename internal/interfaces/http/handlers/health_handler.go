package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"unicity-proxy.backend/internal/usecases"
)

type HealthHandler struct {
	usecase *usecases.HealthUsecase
}

func NewHealthHandler(usecase *usecases.HealthUsecase) *HealthHandler {
	return &HealthHandler{usecase: usecase}
}

// Health reports database and aggregator reachability
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.usecase.Check(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
