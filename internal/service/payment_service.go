package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

// provisioner starts fulfillment once an order is paid.
type provisioner interface {
	Provision(ctx context.Context, orderID string) (*models.VPS, error)
}

// PaymentService reconciles gateway webhooks against orders
type PaymentService struct {
	orderRepo   orderStore
	provisioner provisioner
	now         func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(orderRepo orderStore, provisioner provisioner) *PaymentService {
	return &PaymentService{
		orderRepo:   orderRepo,
		provisioner: provisioner,
		now:         time.Now,
	}
}

// HandleInvoiceWebhook processes a hosted-invoice event. Delivery is
// at-least-once: a PAID event for an already-paid order is acknowledged
// without side effects. An amount mismatch is rejected so the gateway
// retries and the discrepancy stays visible.
func (s *PaymentService) HandleInvoiceWebhook(ctx context.Context, payload *models.InvoiceWebhook) error {
	order, err := s.orderRepo.GetByExternalID(ctx, payload.ExternalID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", payload.ExternalID, err)
	}

	switch payload.Status {
	case "PAID", "SETTLED":
		return s.settle(ctx, order, payload.Amount, payload.PaidAt)
	case "EXPIRED":
		if order.Status == models.OrderPendingPayment {
			log.Printf("[Payment] Order %s invoice expired", order.ID)
			return s.orderRepo.UpdateStatus(ctx, order.ID, models.OrderExpired)
		}
		return nil
	default:
		log.Printf("[Payment] Ignoring invoice status %s for order %s", payload.Status, order.ID)
		return nil
	}
}

// HandleVirtualAccountWebhook processes a direct bank-transfer confirmation.
// The gateway sends no status field; receipt of the callback is the payment.
func (s *PaymentService) HandleVirtualAccountWebhook(ctx context.Context, payload *models.VirtualAccountWebhook) error {
	order, err := s.orderRepo.GetByExternalID(ctx, payload.ExternalID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", payload.ExternalID, err)
	}
	return s.settle(ctx, order, payload.Amount, "")
}

func (s *PaymentService) settle(ctx context.Context, order *models.Order, amount int64, paidAt string) error {
	if order.Status == models.OrderPaid {
		log.Printf("[Payment] Order %s already paid, ignoring duplicate", order.ID)
		return nil
	}

	if amount != order.FinalPrice {
		return fmt.Errorf("%w: got %d, want %d for order %s", ErrAmountMismatch, amount, order.FinalPrice, order.ID)
	}

	when := s.now()
	if paidAt != "" {
		if parsed, err := time.Parse(time.RFC3339, paidAt); err == nil {
			when = parsed
		}
	}

	// Marks the order paid and consumes the promo in one transaction.
	if err := s.orderRepo.MarkPaid(ctx, order, when); err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}

	log.Printf("[Payment] Order %s paid (%d)", order.ID, amount)

	// Payment is already settled; a provisioning failure must not bounce the
	// webhook. Operators retry from the order record.
	if _, err := s.provisioner.Provision(ctx, order.ID); err != nil {
		log.Printf("[Payment] Provisioning failed for paid order %s: %v", order.ID, err)
	}

	return nil
}
