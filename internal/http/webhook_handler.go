package http

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
	"github.com/wenwu/saas-platform/vps-service/internal/repository"
	"github.com/wenwu/saas-platform/vps-service/internal/service"
)

// WebhookHandler receives payment gateway callbacks
type WebhookHandler struct {
	paymentService *service.PaymentService
}

func NewWebhookHandler(paymentService *service.PaymentService) *WebhookHandler {
	return &WebhookHandler{paymentService: paymentService}
}

// InvoiceCallback handles hosted-invoice events. Unknown orders are
// acknowledged with 200 so the gateway stops retrying deliveries that can
// never succeed; amount mismatches are rejected so they stay visible.
func (h *WebhookHandler) InvoiceCallback(c *gin.Context) {
	var payload models.InvoiceWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.paymentService.HandleInvoiceWebhook(c.Request.Context(), &payload)
	h.respond(c, err, payload.ExternalID)
}

// VirtualAccountCallback handles direct bank-transfer confirmations
func (h *WebhookHandler) VirtualAccountCallback(c *gin.Context) {
	var payload models.VirtualAccountWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.paymentService.HandleVirtualAccountWebhook(c.Request.Context(), &payload)
	h.respond(c, err, payload.ExternalID)
}

func (h *WebhookHandler) respond(c *gin.Context, err error, externalID string) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, repository.ErrNotFound):
		log.Printf("[Webhook] Callback for unknown order %s, acknowledging", externalID)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	case errors.Is(err, service.ErrAmountMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
