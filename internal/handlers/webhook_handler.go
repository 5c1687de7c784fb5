package handlers

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"pixbot/internal/bot"
	"pixbot/internal/services"
	"pixbot/internal/store"
)

// gatewayEvent is the shape of a Pagar.me webhook notification
type gatewayEvent struct {
	Type string `json:"type"`
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// WebhookHandler exposes the bot's small HTTP surface: the gateway
// webhook, a health probe and a sales stats endpoint
type WebhookHandler struct {
	orch  *bot.Orchestrator
	sales store.SaleLog
	cache *services.RedisCache
	token string
}

// NewWebhookHandler creates the handler; cache may be nil
func NewWebhookHandler(orch *bot.Orchestrator, sales store.SaleLog, cache *services.RedisCache, token string) *WebhookHandler {
	return &WebhookHandler{orch: orch, sales: sales, cache: cache, token: token}
}

// Health reports liveness
func (h *WebhookHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Stats reports the sales total, plus the Redis counter mirror when
// a cache is wired
func (h *WebhookHandler) Stats(c echo.Context) error {
	total, err := h.sales.Total(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to read sales total")
	}
	body := map[string]interface{}{
		"sales_total": total,
	}
	if h.cache != nil {
		if counter, err := h.cache.Counter(c.Request().Context(), bot.SalesCounterKey); err == nil {
			body["sales_counter"] = counter
		}
	}
	return c.JSON(http.StatusOK, body)
}

// HandleGatewayEvent accepts the gateway's charge notifications as an
// alternate settlement-confirmation path next to buyer-driven polling.
// Unknown event types are acknowledged and ignored.
func (h *WebhookHandler) HandleGatewayEvent(c echo.Context) error {
	if h.token == "" || c.Request().Header.Get("X-Webhook-Token") != h.token {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid webhook token")
	}

	var event gatewayEvent
	if err := c.Bind(&event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed event payload")
	}

	if event.Type != "charge.paid" || event.Data.ID == "" {
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}

	if err := h.orch.ConfirmSettlement(c.Request().Context(), event.Data.ID); err != nil {
		// the gateway retries on 5xx; settlement is also reachable via polling
		log.Printf("Webhook settlement for charge %s failed: %v", event.Data.ID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Settlement processing failed")
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// Register mounts the routes on an echo instance
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/stats", h.Stats)
	e.POST("/webhooks/pagarme", h.HandleGatewayEvent)
}
