package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
	"github.com/noah-isme/lms-enrollment-api/pkg/response"
)

type paymentService interface {
	CreateOrder(ctx context.Context, studentID string, req dto.EnrollRequest) (*dto.EnrollResponse, error)
	VerifyPayment(ctx context.Context, studentID string, req dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error)
}

// PaymentHandler exposes checkout endpoints.
type PaymentHandler struct {
	payments paymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments paymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// CreateOrder godoc
// @Summary Open a payment order for a paid course
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body dto.EnrollRequest true "Order payload"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /payments/order [post]
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.payments.CreateOrder(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Verify godoc
// @Summary Verify a completed checkout
// @Description Confirms the payment with the gateway and waits briefly for the enrollment to become readable.
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body dto.VerifyPaymentRequest true "Checkout callback"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /payments/verify [post]
func (h *PaymentHandler) Verify(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.payments.VerifyPayment(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, map[string]interface{}{"visible": result.Visible})
}
