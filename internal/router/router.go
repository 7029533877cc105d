// Package router registers the HTTP routes.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/handler"
)

// RegisterRoutes maps the health check and the payment endpoints.  limit
// guards the payment routes.
func RegisterRoutes(e *echo.Echo, health *handler.HealthHandler, payments *handler.PaymentHandler, limit echo.MiddlewareFunc) {
	e.GET("/healthz", health.Health)

	if payments == nil {
		return
	}
	// Vipps appends /v2/payments/{orderId} to the callback prefix.
	e.POST("/v2/payments/:order_id", payments.Callback, limit)
	e.GET("/v1/payments/:order_id", payments.Status, limit)
}
