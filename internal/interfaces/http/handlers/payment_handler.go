package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/interfaces/http/response"
	"unicity-proxy.backend/internal/usecases"
)

type PaymentHandler struct {
	usecase *usecases.PaymentUsecase
}

func NewPaymentHandler(usecase *usecases.PaymentUsecase) *PaymentHandler {
	return &PaymentHandler{usecase: usecase}
}

type InitiatePaymentRequest struct {
	ApiKey       string `json:"apiKey"`
	TargetPlanID int64  `json:"targetPlanId" binding:"required"`
}

// InitiatePayment opens a payment session for a purchase or an upgrade
// POST /api/payment/initiate
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	result, err := h.usecase.InitiatePayment(c.Request.Context(), usecases.InitiatePaymentInput{
		ApiKey:       req.ApiKey,
		TargetPlanID: req.TargetPlanID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"sessionId":      result.SessionID,
		"paymentAddress": result.PaymentAddress,
		"amountRequired": result.AmountRequired.String(),
		"refundAmount":   result.RefundAmount.String(),
		"expiresAt":      result.ExpiresAt,
	})
}

type CompletePaymentRequest struct {
	SessionID              string `json:"sessionId" binding:"required"`
	Salt                   string `json:"salt"`
	TransferCommitmentJSON string `json:"transferCommitmentJson" binding:"required"`
	SourceTokenJSON        string `json:"sourceTokenJson" binding:"required"`
}

// CompletePayment settles a pending session against the chain
// POST /api/payment/complete
func (h *PaymentHandler) CompletePayment(c *gin.Context) {
	var req CompletePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		response.Error(c, domainerrors.BadRequest("invalid session ID"))
		return
	}

	result, err := h.usecase.CompletePayment(c.Request.Context(), usecases.CompletePaymentInput{
		SessionID:              sessionID,
		TransferCommitmentJSON: []byte(req.TransferCommitmentJSON),
		SourceTokenJSON:        []byte(req.SourceTokenJSON),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if !result.Success {
		// Explicit payment rejection, not an infrastructure error.
		response.Success(c, http.StatusPaymentRequired, result)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// ListPlans lists the purchasable plans
// GET /api/payment/plans
func (h *PaymentHandler) ListPlans(c *gin.Context) {
	plans, err := h.usecase.ListPlans(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]gin.H, 0, len(plans))
	for _, p := range plans {
		out = append(out, gin.H{
			"id":                p.ID,
			"name":              p.Name,
			"requestsPerSecond": p.RequestsPerSecond,
			"requestsPerDay":    p.RequestsPerDay,
			"price":             p.Price.String(),
		})
	}
	response.Success(c, http.StatusOK, gin.H{"plans": out})
}

// KeyStatus reports the subscription state of one key
// GET /api/payment/key/:apiKey
func (h *PaymentHandler) KeyStatus(c *gin.Context) {
	result, err := h.usecase.KeyStatus(c.Request.Context(), c.Param("apiKey"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
