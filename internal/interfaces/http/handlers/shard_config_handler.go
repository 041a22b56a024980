package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"unicity-proxy.backend/internal/interfaces/http/response"
	"unicity-proxy.backend/internal/usecases"
)

type ShardConfigHandler struct {
	usecase *usecases.ShardConfigUsecase
}

func NewShardConfigHandler(usecase *usecases.ShardConfigUsecase) *ShardConfigHandler {
	return &ShardConfigHandler{usecase: usecase}
}

// GetShardConfig returns the latest routing document
// GET /config/shards
func (h *ShardConfigHandler) GetShardConfig(c *gin.Context) {
	cfg, err := h.usecase.Current(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, cfg)
}
