package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/interfaces/http/response"
	"unicity-proxy.backend/internal/usecases"
)

type AdminHandler struct {
	usecase *usecases.AdminUsecase
}

func NewAdminHandler(usecase *usecases.AdminUsecase) *AdminHandler {
	return &AdminHandler{usecase: usecase}
}

// ReplaceShardConfig appends a new routing document revision
// PUT /admin/shards
func (h *AdminHandler) ReplaceShardConfig(c *gin.Context) {
	document, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, domainerrors.BadRequest("failed to read request body"))
		return
	}

	record, err := h.usecase.ReplaceShardConfig(c.Request.Context(), document, c.ClientIP())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"id":        record.ID,
		"createdAt": record.CreatedAt,
	})
}

type CreateKeyRequest struct {
	Description string `json:"description"`
	PlanID      int64  `json:"planId" binding:"required"`
	ActiveDays  int    `json:"activeDays"`
}

// CreateKey provisions a key outside the payment flow
// POST /admin/keys
func (h *AdminHandler) CreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	apiKey, err := h.usecase.CreateKey(c.Request.Context(), usecases.CreateKeyInput{
		Description: req.Description,
		PlanID:      req.PlanID,
		ActiveDays:  req.ActiveDays,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, apiKey)
}

// RevokeKey permanently disables a key
// DELETE /admin/keys/:key
func (h *AdminHandler) RevokeKey(c *gin.Context) {
	if err := h.usecase.RevokeKey(c.Request.Context(), c.Param("key")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

type AssignPlanRequest struct {
	PlanID     int64 `json:"planId" binding:"required"`
	ActiveDays int   `json:"activeDays"`
}

// AssignPlan changes a key's plan and resets its expiry
// POST /admin/keys/:key/plan
func (h *AdminHandler) AssignPlan(c *gin.Context) {
	var req AssignPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	apiKey, err := h.usecase.AssignPlan(c.Request.Context(), usecases.AssignPlanInput{
		Key:        c.Param("key"),
		PlanID:     req.PlanID,
		ActiveDays: req.ActiveDays,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, apiKey)
}
