package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/service"
)

// PaymentProcessor resolves the state of a remote order.
type PaymentProcessor interface {
	ProcessPaymentStatus(ctx context.Context, remoteOrderID string) (service.PaymentOutcome, error)
}

// PaymentHandler serves the Vipps callback and the fallback status lookup.
// Both re-read the state from Vipps instead of trusting the request body.
type PaymentHandler struct {
	Payments PaymentProcessor
	Log      *zap.Logger
}

// Callback handles POST /v2/payments/:order_id, the path Vipps appends to
// the callback prefix.  Vipps only needs a 2xx; anything else is retried.
func (h *PaymentHandler) Callback(c echo.Context) error {
	return h.process(c, "callback")
}

// Status handles GET /v1/payments/:order_id, polled by the fallback page
// after the user returns from the Vipps app.
func (h *PaymentHandler) Status(c echo.Context) error {
	return h.process(c, "status")
}

func (h *PaymentHandler) process(c echo.Context, source string) error {
	orderID := strings.TrimSpace(c.Param("order_id"))
	if orderID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order id is required"})
	}
	outcome, err := h.Payments.ProcessPaymentStatus(c.Request().Context(), orderID)
	if err != nil {
		h.log().Error("payment status", zap.String("source", source),
			zap.String("remote_order_id", orderID), zap.String("outcome", string(outcome)), zap.Error(err))
		switch {
		case errors.Is(err, service.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "payment not found"})
		case errors.Is(err, service.ErrPaymentUnavailable):
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payments are not enabled"})
		case outcome == service.OutcomeCaptureFailed:
			return c.JSON(http.StatusBadGateway, echo.Map{"order_id": orderID, "status": outcome})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment processing failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"order_id": orderID, "status": outcome})
}

func (h *PaymentHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}
